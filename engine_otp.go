package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/campusgate/authcore/internal"
)

// RequestOTP issues a fresh passcode challenge for email and dispatches it.
// Any previously active challenge for the address is superseded, whether or
// not it was ever used.
//
// If the email cannot be dispatched the challenge is rolled back and the call
// fails with [ErrUnavailable]; a passcode the user never received must not
// stay redeemable.
func (e *Engine) RequestOTP(ctx context.Context, email string) error {
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

	code, err := internal.NewOTP(e.config.OTP.Digits, e.config.OTP.Alphanumeric)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	record := &otpRecord{
		CodeHash:  internal.HashBytes([]byte(code)),
		ExpiresAt: time.Now().Add(e.config.OTP.TTL).Unix(),
	}

	if err := e.otps.Save(ctx, email, record, e.config.OTP.TTL); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	payload := map[string]string{
		"code":    code,
		"minutes": fmt.Sprintf("%d", int(e.config.OTP.TTL.Minutes())),
	}
	if err := e.mailer.Send(ctx, email, MailOTP, payload); err != nil {
		if delErr := e.otps.Delete(ctx, email); delErr != nil {
			log.Printf("authcore: failed to roll back undelivered otp challenge: %v", delErr)
		}
		return fmt.Errorf("%w: otp dispatch failed: %v", ErrUnavailable, err)
	}

	e.metrics.Inc(MetricOTPIssued)
	return nil
}

// VerifyOTP consumes the active challenge for email if code matches it.
// Verification is one-shot: a matching code deletes the challenge, so the
// same code cannot be replayed into a second flow.
func (e *Engine) VerifyOTP(ctx context.Context, email, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if code == "" {
		return fmt.Errorf("%w: missing passcode", ErrInvalidInput)
	}

	err := e.otps.Consume(ctx, email, internal.HashBytes([]byte(code)), e.config.OTP.MaxAttempts)
	switch {
	case err == nil:
		e.metrics.Inc(MetricOTPVerified)
		return nil
	case errors.Is(err, errOTPRecordNotFound):
		e.metrics.Inc(MetricOTPRejected)
		return ErrOTPNotFound
	case errors.Is(err, errOTPRecordExpired):
		e.metrics.Inc(MetricOTPRejected)
		return ErrOTPExpired
	case errors.Is(err, errOTPAttemptsExceeded):
		e.metrics.Inc(MetricOTPRejected)
		e.metrics.Inc(MetricOTPAttemptsExceeded)
		return ErrOTPInvalid
	case errors.Is(err, errOTPMismatch):
		e.metrics.Inc(MetricOTPRejected)
		return ErrOTPInvalid
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
