// Package httpapi exposes a fitauth engine as JSON endpoints on gin.
//
// Public routes cover login. Self-service routes require a bearer token.
// Administrative routes additionally check the caller's role against a
// [permission.Roles] table; [DefaultRoles] grants everything to "admin" and
// read access to "auditor".
package httpapi
