package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func lastResetCode(t *testing.T, mailer *captureMailer) string {
	t.Helper()
	mailer.mu.Lock()
	defer mailer.mu.Unlock()
	for i := len(mailer.sent) - 1; i >= 0; i-- {
		if mailer.sent[i].Kind == MailResetLink {
			return mailer.sent[i].Payload["code"]
		}
	}
	t.Fatal("no reset mail was sent")
	return ""
}

func TestPasswordResetFlow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockStore()
	mailer := &captureMailer{}
	engine := newTestEngine(t, rdb, store, mailer, testConfig())
	ctx := context.Background()

	signup := signupTestAccount(t, engine, mailer, "alice@example.com")

	if err := engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	code := lastResetCode(t, mailer)

	email, err := engine.ResolveResetCode(ctx, code)
	if err != nil {
		t.Fatalf("ResolveResetCode failed: %v", err)
	}
	if email != "alice@example.com" {
		t.Fatalf("expected alice@example.com, got %q", email)
	}

	if err := engine.CompletePasswordReset(ctx, code, "new-password"); err != nil {
		t.Fatalf("CompletePasswordReset failed: %v", err)
	}

	// The new password is stored hashed, never in the clear.
	stored := store.get(signup.Account.UID)
	if stored.PasswordHash == "new-password" || !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Fatalf("password stored unhashed: %q", stored.PasswordHash)
	}

	// Old password is out, new one is in.
	otp := requestAndReadOTP(t, engine, mailer, "alice@example.com")
	if _, err := engine.Login(ctx, "alice@example.com", "correct-horse", otp); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should be rejected, got %v", err)
	}
	otp = requestAndReadOTP(t, engine, mailer, "alice@example.com")
	if _, err := engine.Login(ctx, "alice@example.com", "new-password", otp); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
}

func TestPasswordResetCodeIsSingleUse(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockStore()
	mailer := &captureMailer{}
	engine := newTestEngine(t, rdb, store, mailer, testConfig())
	ctx := context.Background()

	signupTestAccount(t, engine, mailer, "alice@example.com")

	if err := engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	code := lastResetCode(t, mailer)

	if err := engine.CompletePasswordReset(ctx, code, "new-password"); err != nil {
		t.Fatalf("first CompletePasswordReset failed: %v", err)
	}
	if err := engine.CompletePasswordReset(ctx, code, "other-password"); !errors.Is(err, ErrResetCodeInvalid) {
		t.Fatalf("second use: expected ErrResetCodeInvalid, got %v", err)
	}
	if _, err := engine.ResolveResetCode(ctx, code); !errors.Is(err, ErrResetCodeInvalid) {
		t.Fatalf("consumed code should not resolve, got %v", err)
	}
}

func TestPasswordResetInvalidatesSessions(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockStore()
	mailer := &captureMailer{}
	engine := newTestEngine(t, rdb, store, mailer, testConfig())
	ctx := context.Background()

	signup := signupTestAccount(t, engine, mailer, "alice@example.com")

	if err := engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if err := engine.CompletePasswordReset(ctx, lastResetCode(t, mailer), "new-password"); err != nil {
		t.Fatalf("CompletePasswordReset failed: %v", err)
	}

	if _, err := engine.Authorize(ctx, signup.Token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("pre-reset session should be dead, got %v", err)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	mailer := &captureMailer{}
	engine := newTestEngine(t, rdb, newMockStore(), mailer, testConfig())
	ctx := context.Background()

	if err := engine.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Fatal("no mail should be sent for an unknown address")
	}
}

func TestPasswordResetRevealAbsence(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := testConfig()
	cfg.Reset.RevealAbsence = true
	engine := newTestEngine(t, rdb, newMockStore(), &captureMailer{}, cfg)

	if err := engine.RequestPasswordReset(context.Background(), "ghost@example.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestPasswordResetExpiredCode(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockStore()
	mailer := &captureMailer{}
	engine := newTestEngine(t, rdb, store, mailer, testConfig())
	ctx := context.Background()

	signupTestAccount(t, engine, mailer, "alice@example.com")

	// Plant a code whose logical window has passed but whose key is still in
	// the grace period.
	code, id, secretHash, err := engine.generateResetChallenge()
	if err != nil {
		t.Fatalf("generateResetChallenge failed: %v", err)
	}
	record := &resetRecord{
		SecretHash: secretHash,
		ExpiresAt:  time.Now().Add(-time.Minute).Unix(),
		Email:      "alice@example.com",
	}
	if err := engine.resets.Save(ctx, id, record, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := engine.CompletePasswordReset(ctx, code, "new-password"); !errors.Is(err, ErrResetCodeExpired) {
		t.Fatalf("expected ErrResetCodeExpired, got %v", err)
	}
}

func TestPasswordResetRejectsWeakPasswordBeforeConsuming(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockStore()
	mailer := &captureMailer{}
	engine := newTestEngine(t, rdb, store, mailer, testConfig())
	ctx := context.Background()

	signupTestAccount(t, engine, mailer, "alice@example.com")

	if err := engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	code := lastResetCode(t, mailer)

	if err := engine.CompletePasswordReset(ctx, code, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	// The policy failure must not have burnt the code.
	if err := engine.CompletePasswordReset(ctx, code, "long-enough-pw"); err != nil {
		t.Fatalf("CompletePasswordReset after policy retry failed: %v", err)
	}
}

func TestPasswordResetUUIDStrategy(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := testConfig()
	cfg.Reset.Strategy = ResetUUID

	store := newMockStore()
	mailer := &captureMailer{}
	engine := newTestEngine(t, rdb, store, mailer, cfg)
	ctx := context.Background()

	signupTestAccount(t, engine, mailer, "alice@example.com")

	if err := engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	code := lastResetCode(t, mailer)

	if _, err := uuid.Parse(code); err != nil {
		t.Fatalf("expected a UUID code, got %q: %v", code, err)
	}
	if err := engine.CompletePasswordReset(ctx, code, "new-password"); err != nil {
		t.Fatalf("CompletePasswordReset failed: %v", err)
	}
}

func TestPasswordResetMailFailureRollsBack(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockStore()
	mailer := &captureMailer{}
	engine := newTestEngine(t, rdb, store, mailer, testConfig())
	ctx := context.Background()

	signupTestAccount(t, engine, mailer, "alice@example.com")

	mailer.fail = errors.New("smtp down")
	if err := engine.RequestPasswordReset(ctx, "alice@example.com"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	// Only the otp keys from signup may remain; no reset code survived.
	for _, key := range mr.Keys() {
		if strings.Contains(key, ":reset:") {
			t.Fatalf("reset key %q survived a failed dispatch", key)
		}
	}
}
