package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Signup creates an account from req and logs it in. The request's passcode
// must match the active challenge for its email; the challenge is consumed
// before anything is written, so a rejected passcode leaves no trace.
//
// The session token is minted first and persisted inside the same account
// insert, so a created account is never observable without its session.
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	req.Email = normalizeEmail(req.Email)
	if err := validateSignupRequest(req); err != nil {
		e.metrics.Inc(MetricSignupFailure)
		return nil, err
	}
	if err := e.validatePassword(req.Password); err != nil {
		e.metrics.Inc(MetricSignupFailure)
		return nil, err
	}

	if err := e.VerifyOTP(ctx, req.Email, req.OTP); err != nil {
		e.metrics.Inc(MetricSignupFailure)
		return nil, err
	}

	passwordHash, err := e.hasher.Hash(req.Password)
	if err != nil {
		e.metrics.Inc(MetricSignupFailure)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sessionToken, err := e.tokens.Mint(req.UID)
	if err != nil {
		e.metrics.Inc(MetricSignupFailure)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	account := Account{
		UID:          req.UID,
		RollNo:       req.RollNo,
		Name:         req.Name,
		Email:        req.Email,
		Batch:        req.Batch,
		PasswordHash: passwordHash,
		SessionToken: sessionToken,
		CreatedAt:    time.Now().UTC(),
	}

	created, err := e.store.CreateAccount(ctx, account)
	if err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			e.metrics.Inc(MetricSignupDuplicate)
			return nil, ErrDuplicateAccount
		}
		e.metrics.Inc(MetricSignupFailure)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.metrics.Inc(MetricSignupSuccess)
	e.metrics.Inc(MetricSessionMinted)

	return &AuthResult{
		Account: created.Sanitized(),
		Token:   sessionToken,
	}, nil
}

func validateSignupRequest(req SignupRequest) error {
	if req.UID == "" || len(req.UID) > maxUIDLength {
		return fmt.Errorf("%w: invalid uid", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidInput)
	}
	if err := validateEmail(req.Email); err != nil {
		return err
	}
	if req.OTP == "" {
		return fmt.Errorf("%w: missing passcode", ErrInvalidInput)
	}
	if req.Password == "" {
		return fmt.Errorf("%w: missing password", ErrInvalidInput)
	}
	return nil
}
