// Package idtoken mints and verifies the OpenID Connect ID tokens that carry
// a user's email, role, and tenant.
//
// [Manager] signs tokens for in-process providers and verifies them locally.
// [Verifier] checks tokens issued by an external identity provider against a
// static or remote JSON Web Key Set. Both yield [Claims], which convert to
// the attributes the session engine builds an Identity from.
package idtoken
