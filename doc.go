// Package authcore implements the credential and session engine behind the
// campus portal: OTP-gated signup and login, a single persisted bearer
// session token per account, and single-use password-reset links.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the collaborator interfaces ([CredentialStore], [Mailer]), and value types.
// The credential store and the email channel are injected; the engine never
// opens its own database or SMTP connections. Transient challenge state (OTP
// challenges, reset codes) lives in Redis.
//
// # Session validity
//
// A session token has two independent axes of validity: the cryptographic
// one (signature and embedded expiry, checked by the token manager) and the
// logical one (the token must equal the value currently persisted on its
// account). [Engine.Logout] clears the persisted copy, so a token stops
// authorizing immediately even though its signature remains well-formed
// until expiry.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store internals, or challenge encodings in its
//     public API.
//   - Proceed with any account mutation after a failed OTP gate.
//   - Write the password field through any path that bypasses the shared
//     hash primitive.
package authcore
