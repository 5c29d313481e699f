package authcore

import "errors"

// Sentinel errors returned by Engine operations. Each maps to exactly one
// user-visible failure kind; flows classify collaborator errors onto these
// with errors.Is and never surface transport detail to callers.
var (
	// ErrDuplicateAccount is returned by Signup when the uid or email is
	// already taken.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrInvalidInput is returned when a request field is missing or
	// malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPasswordPolicy is returned when a password is shorter than the
	// configured minimum or longer than the maximum.
	ErrPasswordPolicy = errors.New("password policy violation")

	// ErrOTPNotFound means no active challenge exists for the email.
	ErrOTPNotFound = errors.New("otp challenge not found")
	// ErrOTPExpired means the challenge exists but its window has passed.
	ErrOTPExpired = errors.New("otp challenge expired")
	// ErrOTPInvalid means the submitted passcode does not match the active
	// challenge, or attempts were exhausted.
	ErrOTPInvalid = errors.New("otp invalid")

	// ErrInvalidCredentials is returned by Login on an unknown email or a
	// password mismatch, without distinguishing the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotFound is returned by account lookups for unknown uids or
	// emails.
	ErrAccountNotFound = errors.New("account not found")

	// ErrResetCodeInvalid means the reset code was never issued or has
	// already been consumed.
	ErrResetCodeInvalid = errors.New("reset code invalid")
	// ErrResetCodeExpired means the reset code exists but its window has
	// passed.
	ErrResetCodeExpired = errors.New("reset code expired")

	// ErrUnauthorized is returned by Authorize for any token that fails
	// signature, expiry, or persisted-match checks.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable wraps store or email-channel failures. The enclosing
	// operation may be retried as a whole.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrEngineNotReady is returned when an Engine method is called on an
	// engine missing a required dependency.
	ErrEngineNotReady = errors.New("engine not initialized")
)
