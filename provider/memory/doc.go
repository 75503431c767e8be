// Package memory is an in-process identity provider with seeded users.
//
// Passwords are stored as bcrypt hashes. Users may require a one-time code
// delivered by email or SMS; codes are handed to a delivery hook instead of
// being sent anywhere. Signed-in sessions carry an HS256 ID token from
// package idtoken and an opaque access token that [Provider.Authorize]
// checks, so the provider can also back a test API server.
package memory
