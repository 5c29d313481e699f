package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campusgate/authcore/password"
	"github.com/campusgate/authcore/token"
)

const (
	maxUIDLength   = 16
	maxEmailLength = 254
)

// Engine is the credential and session engine. Construct it through
// [Builder.Build]; the zero value is not usable.
//
// Every session token the engine hands out is valid on two axes: it carries
// a verifiable signature and expiry, and it matches the token persisted on
// its account. Authorize requires both; logout clears the persisted side,
// which is how tokens die before their embedded expiry.
type Engine struct {
	config Config

	store   CredentialStore
	mailer  Mailer
	otps    *otpStore
	resets  *resetStore
	tokens  *token.Manager
	hasher  *password.Hasher
	metrics *Metrics
}

// Metrics exposes the engine's counters for scraping.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.otps == nil || e.resets == nil ||
		e.tokens == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	return nil
}

// Login verifies the email challenge, the credentials, and returns the
// account's session token. If the persisted token is still cryptographically
// valid it is returned as-is, so concurrent logins converge on one session;
// otherwise a fresh token is minted and persisted.
//
// The passcode is consumed before credentials are checked: a wrong password
// burns the challenge.
func (e *Engine) Login(ctx context.Context, email, plainPassword, otp string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		e.metrics.Inc(MetricLoginFailure)
		return nil, err
	}
	if plainPassword == "" || otp == "" {
		e.metrics.Inc(MetricLoginFailure)
		return nil, fmt.Errorf("%w: missing password or passcode", ErrInvalidInput)
	}

	if err := e.VerifyOTP(ctx, email, otp); err != nil {
		e.metrics.Inc(MetricLoginFailure)
		return nil, err
	}

	account, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		e.metrics.Inc(MetricLoginFailure)
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ok, err := e.hasher.Verify(plainPassword, account.PasswordHash)
	if err != nil || !ok {
		e.metrics.Inc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	sessionToken, reused, err := e.ensureSession(ctx, &account)
	if err != nil {
		e.metrics.Inc(MetricLoginFailure)
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	if reused {
		e.metrics.Inc(MetricSessionReused)
	}

	return &AuthResult{
		Account: account.Sanitized(),
		Token:   sessionToken,
	}, nil
}

// ensureSession returns the account's authoritative token, minting and
// persisting a fresh one when the stored token is absent or no longer
// cryptographically valid.
func (e *Engine) ensureSession(ctx context.Context, account *Account) (string, bool, error) {
	if account.SessionToken != "" {
		if claims, err := e.tokens.Parse(account.SessionToken); err == nil && claims.UID == account.UID {
			return account.SessionToken, true, nil
		}
	}

	minted, err := e.tokens.Mint(account.UID)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := e.store.UpdateSessionToken(ctx, account.UID, minted); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	account.SessionToken = minted
	e.metrics.Inc(MetricSessionMinted)
	return minted, false, nil
}

// Authorize checks tokenStr on both validity axes and returns the uid it
// belongs to. Every failure is [ErrUnauthorized]; callers learn nothing about
// which check rejected the token.
func (e *Engine) Authorize(ctx context.Context, tokenStr string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))
	}()

	if tokenStr == "" {
		e.metrics.Inc(MetricAuthorizeFailure)
		return "", ErrUnauthorized
	}

	claims, err := e.tokens.Parse(tokenStr)
	if err != nil {
		e.metrics.Inc(MetricAuthorizeFailure)
		return "", ErrUnauthorized
	}

	account, err := e.store.FindByUID(ctx, claims.UID)
	if err != nil {
		e.metrics.Inc(MetricAuthorizeFailure)
		if errors.Is(err, ErrAccountNotFound) {
			return "", ErrUnauthorized
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if subtle.ConstantTimeCompare([]byte(account.SessionToken), []byte(tokenStr)) != 1 {
		e.metrics.Inc(MetricAuthorizeFailure)
		return "", ErrUnauthorized
	}

	e.metrics.Inc(MetricAuthorizeSuccess)
	return claims.UID, nil
}

// Logout clears the persisted session token for the account tokenStr belongs
// to. The token keeps verifying cryptographically until its embedded expiry,
// but Authorize rejects it the moment the persisted side is gone.
func (e *Engine) Logout(ctx context.Context, tokenStr string) error {
	uid, err := e.Authorize(ctx, tokenStr)
	if err != nil {
		return err
	}

	if err := e.store.UpdateSessionToken(ctx, uid, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metrics.Inc(MetricLogout)
	e.metrics.Inc(MetricSessionInvalidated)
	return nil
}

// GetAccount returns the sanitized account for uid.
func (e *Engine) GetAccount(ctx context.Context, uid string) (*Account, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if uid == "" || len(uid) > maxUIDLength {
		return nil, fmt.Errorf("%w: invalid uid", ErrInvalidInput)
	}

	account, err := e.store.FindByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sanitized := account.Sanitized()
	return &sanitized, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" || len(email) > maxEmailLength {
		return fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	at := strings.IndexByte(email, '@')
	if at < 1 || at == len(email)-1 {
		return fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return nil
}

func (e *Engine) validatePassword(plain string) error {
	if len(plain) < e.config.Password.MinLength {
		return fmt.Errorf("%w: password too short", ErrPasswordPolicy)
	}
	if len(plain) > e.config.Password.MaxLength {
		return fmt.Errorf("%w: password too long", ErrPasswordPolicy)
	}
	return nil
}
