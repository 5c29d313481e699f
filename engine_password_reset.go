package authcore

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/campusgate/authcore/internal"
)

// RequestPasswordReset issues a single-use reset code for the account behind
// email and dispatches it. For unknown addresses the call succeeds silently
// after a small random delay, so callers cannot probe which emails have
// accounts; set [ResetConfig.RevealAbsence] to get [ErrAccountNotFound]
// instead.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.mailer == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	if _, err := e.store.FindByEmail(ctx, email); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			if e.config.Reset.RevealAbsence {
				return ErrAccountNotFound
			}
			return sleepEnumerationDelay(ctx)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	code, id, secretHash, err := e.generateResetChallenge()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	record := &resetRecord{
		SecretHash: secretHash,
		ExpiresAt:  time.Now().Add(e.config.Reset.TTL).Unix(),
		Email:      email,
	}
	if err := e.resets.Save(ctx, id, record, e.config.Reset.TTL); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	payload := map[string]string{
		"code":    code,
		"minutes": fmt.Sprintf("%d", int(e.config.Reset.TTL.Minutes())),
	}
	if err := e.mailer.Send(ctx, email, MailResetLink, payload); err != nil {
		if delErr := e.resets.Delete(ctx, id); delErr != nil {
			log.Printf("authcore: failed to roll back undelivered reset code: %v", delErr)
		}
		return fmt.Errorf("%w: reset dispatch failed: %v", ErrUnavailable, err)
	}

	e.metrics.Inc(MetricResetRequested)
	return nil
}

// ResolveResetCode reports whether code is live and returns the email it was
// issued for, without consuming it. The portal uses this to render the reset
// form before the user submits a new password.
func (e *Engine) ResolveResetCode(ctx context.Context, code string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	id, providedHash, err := e.parseResetChallenge(code)
	if err != nil {
		return "", ErrResetCodeInvalid
	}

	record, err := e.resets.Get(ctx, id)
	if err != nil {
		return "", mapResetStoreError(err)
	}

	if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
		return "", ErrResetCodeInvalid
	}

	return record.Email, nil
}

// CompletePasswordReset consumes code and replaces the account's password.
// The code is deleted before the password is written, so it can never
// complete a second reset even if the write fails. All existing sessions for
// the account are invalidated.
func (e *Engine) CompletePasswordReset(ctx context.Context, code, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	if err := e.validatePassword(newPassword); err != nil {
		e.metrics.Inc(MetricResetFailure)
		return err
	}

	id, providedHash, err := e.parseResetChallenge(code)
	if err != nil {
		e.metrics.Inc(MetricResetFailure)
		return ErrResetCodeInvalid
	}

	record, err := e.resets.Consume(ctx, id, providedHash)
	if err != nil {
		e.metrics.Inc(MetricResetFailure)
		return mapResetStoreError(err)
	}

	account, err := e.store.FindByEmail(ctx, record.Email)
	if err != nil {
		e.metrics.Inc(MetricResetFailure)
		if errors.Is(err, ErrAccountNotFound) {
			return ErrResetCodeInvalid
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	passwordHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		e.metrics.Inc(MetricResetFailure)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := e.store.UpdatePasswordHash(ctx, account.UID, passwordHash); err != nil {
		e.metrics.Inc(MetricResetFailure)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := e.store.UpdateSessionToken(ctx, account.UID, ""); err != nil {
		e.metrics.Inc(MetricResetFailure)
		return fmt.Errorf("%w: session invalidation failed: %v", ErrUnavailable, err)
	}

	e.metrics.Inc(MetricResetCompleted)
	e.metrics.Inc(MetricSessionInvalidated)
	return nil
}

// generateResetChallenge returns the emailed code, the storage key and the
// hash to persist. Only the hash ever reaches Redis.
func (e *Engine) generateResetChallenge() (string, internal.ResetID, [32]byte, error) {
	switch e.config.Reset.Strategy {
	case ResetUUID:
		u := uuid.New()
		return u.String(), internal.ResetID(u), internal.HashBytes(u[:]), nil
	default:
		id, err := internal.NewResetID()
		if err != nil {
			return "", internal.ResetID{}, [32]byte{}, err
		}
		secret, err := internal.NewResetSecret()
		if err != nil {
			return "", internal.ResetID{}, [32]byte{}, err
		}
		code, err := internal.EncodeResetCode(id.String(), secret)
		if err != nil {
			return "", internal.ResetID{}, [32]byte{}, err
		}
		return code, id, internal.HashSecret(secret), nil
	}
}

func (e *Engine) parseResetChallenge(code string) (internal.ResetID, [32]byte, error) {
	switch e.config.Reset.Strategy {
	case ResetUUID:
		u, err := uuid.Parse(code)
		if err != nil {
			return internal.ResetID{}, [32]byte{}, err
		}
		return internal.ResetID(u), internal.HashBytes(u[:]), nil
	default:
		idStr, secret, err := internal.DecodeResetCode(code)
		if err != nil {
			return internal.ResetID{}, [32]byte{}, err
		}
		id, err := internal.ParseResetID(idStr)
		if err != nil {
			return internal.ResetID{}, [32]byte{}, err
		}
		return id, internal.HashSecret(secret), nil
	}
}

func mapResetStoreError(err error) error {
	switch {
	case errors.Is(err, errResetRecordNotFound), errors.Is(err, errResetSecretMismatch):
		return ErrResetCodeInvalid
	case errors.Is(err, errResetRecordExpired):
		return ErrResetCodeExpired
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func sleepEnumerationDelay(ctx context.Context) error {
	minMs := int64(20)
	maxMs := int64(40)
	span := maxMs - minMs + 1

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return err
	}

	delay := time.Duration(minMs+n.Int64()) * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
