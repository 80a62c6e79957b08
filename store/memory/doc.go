// Package memory provides in-process implementations of the fitauth
// collaborator interfaces: a user directory, a face profile store with
// Euclidean nearest-neighbour search, an indexed audit log and a
// notification outbox. They back tests and single-node development setups.
package memory
