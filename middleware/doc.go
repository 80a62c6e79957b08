// Package middleware adapts fitauth token validation to net/http.
//
// [Guard] reads the Authorization header, validates the bearer token through
// the engine and stores the resulting claims in the request context.
// [RequirePermission] then checks the caller's role against a
// [permission.Roles] table.
//
// The package makes no authentication decisions of its own. Token checks,
// session revocation and expiry all happen in the engine.
package middleware
