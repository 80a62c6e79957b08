// Package rate implements the per-key sliding-window limiter that gates every
// login attempt before a verifier runs.
//
// # Window semantics
//
// A key may record at most Limit attempts in any trailing Window. The attempt
// that would exceed the cap is rejected and not recorded. Successful logins do
// not reset the window.
//
// Two backends share the [Limiter] contract:
//   - [Window]: mutex-guarded map, state lost on restart (fail-open).
//   - [RedisWindow]: sorted set per key, check-and-add in one Lua script.
//
// Redis key prefix: rl:<key>.
//
// # What this package must NOT do
//
//   - Decide which key an attempt is charged to (the engine derives it).
//   - Be imported outside the fitauth module.
package rate
