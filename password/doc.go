// Package password provides the Argon2id hash primitive used on every path
// that writes the password field: signup and password reset go through the
// same Hash call, login and reset verification through the same Verify.
package password
