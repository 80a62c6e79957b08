// Package prometheus renders fitauth engine metrics in Prometheus text
// exposition format.
//
// Counters are named fitauth_*_total. The login and token-validation latency
// histograms are fitauth_login_latency_seconds and
// fitauth_validate_latency_seconds and appear only when latency histograms are
// enabled.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
