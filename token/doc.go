// Package token wraps github.com/golang-jwt/jwt/v5 behind the engine's
// signing primitive: mint a signed {uid, iat, exp} token, verify one back
// into claims.
//
// A token that parses here is only cryptographically valid. Authorization
// additionally requires that it match the value persisted on its account,
// which the engine checks; logout relies on that second axis.
package token
