// Package permission maps role names onto 64-bit permission masks used to
// authorize administrative fitauth operations.
//
// A [Registry] assigns each permission name a stable bit. [Roles] composes
// those bits into one [Mask] per role. The top bit is reserved for a root
// permission that grants everything.
//
// This package does no I/O and does not import fitauth.
package permission
