// Package jwt issues and verifies the signed session tokens handed out after a
// successful login. A token embeds the identity snapshot and session id, so it
// can be validated without a round-trip to session storage.
package jwt
