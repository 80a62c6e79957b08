// Package otel exposes fitauth engine metrics through an OpenTelemetry Meter.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and an
// Int64ObservableGauge per latency bucket. One callback reads
// [fitauth.Engine.MetricsSnapshot] on each collection cycle.
//
// The caller owns the MeterProvider.
package otel
