// Package security evaluates the security posture of an engine
// configuration and lists the settings that weaken it.
package security
