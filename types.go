package authcore

import (
	"context"
	"time"
)

// Account is the credential record persisted by the [CredentialStore].
// UID and Email are unique across all accounts. SessionToken holds the
// currently authoritative bearer token; empty means logged out.
type Account struct {
	UID          string
	RollNo       string
	Name         string
	Email        string
	Batch        string
	PasswordHash string
	SessionToken string
	CreatedAt    time.Time
}

// Sanitized returns a copy of the account safe to hand to callers: the
// password hash is never exposed outside the engine.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	return a
}

// CredentialStore is the persistence collaborator the engine writes accounts
// through. Implementations must enforce uid/email uniqueness atomically
// (CreateAccount returns [ErrDuplicateAccount] on conflict, with no partial
// write) and make UpdateSessionToken a single-row write so logout cannot race
// a concurrent login into resurrecting a cleared token.
//
// Lookup misses are reported as [ErrAccountNotFound]; any transport failure
// should be wrapped so callers can match it with errors.Is against the
// implementation's unavailability sentinel.
type CredentialStore interface {
	CreateAccount(ctx context.Context, account Account) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByUID(ctx context.Context, uid string) (Account, error)
	UpdatePasswordHash(ctx context.Context, uid, passwordHash string) error
	UpdateSessionToken(ctx context.Context, uid, token string) error
}

// MailKind selects the template an outbound message is rendered with.
type MailKind string

const (
	// MailOTP carries a login/signup passcode. Payload key: "code".
	MailOTP MailKind = "otp"
	// MailResetLink carries a password-reset code. Payload key: "code".
	MailResetLink MailKind = "reset_link"
)

// Mailer is the email channel collaborator. Send must be bounded by the
// caller's context; a failure is surfaced by the engine as [ErrUnavailable].
type Mailer interface {
	Send(ctx context.Context, to string, kind MailKind, payload map[string]string) error
}

// SignupRequest carries the fields of the signup flow. OTP must match the
// active challenge for Email or the flow stops before any mutation.
type SignupRequest struct {
	UID      string
	RollNo   string
	Name     string
	Email    string
	Batch    string
	Password string
	OTP      string
}

// AuthResult is returned by [Engine.Signup] and [Engine.Login]: the
// sanitized account plus the bearer session token the caller should present
// on subsequent requests.
type AuthResult struct {
	Account Account
	Token   string
}
