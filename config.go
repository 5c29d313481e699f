package authcore

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Configure once, pass to
// [Builder.WithConfig], and treat as immutable afterwards.
type Config struct {
	Token    TokenConfig
	OTP      OTPConfig
	Reset    ResetConfig
	Password PasswordConfig
	Metrics  MetricsConfig

	// RedisPrefix namespaces every key the engine writes.
	RedisPrefix string
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures the signed session token. The default TTL is three
// hours, matching the portal's original session lifetime.
type TokenConfig struct {
	TTL           time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig configures the one-time passcode challenge bound to an email
// address. At most one challenge is active per email; issuing a new one
// supersedes the old.
type OTPConfig struct {
	Digits       int
	Alphanumeric bool
	TTL          time.Duration
	MaxAttempts  int
}

// ResetStrategyType selects the wire shape of password-reset codes.
type ResetStrategyType int

const (
	// ResetToken codes are an opaque id+secret pair; only the secret's hash
	// is stored.
	ResetToken ResetStrategyType = iota
	// ResetUUID codes are plain UUID strings, matching the original portal's
	// emailed links.
	ResetUUID
)

/*
====================================
RESET CONFIG
====================================
*/

// ResetConfig configures single-use password-reset codes.
type ResetConfig struct {
	Strategy ResetStrategyType
	TTL      time.Duration

	// RevealAbsence makes RequestPasswordReset fail with ErrAccountNotFound
	// for unknown emails instead of silently succeeding. Off by default to
	// avoid account enumeration.
	RevealAbsence bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig carries the Argon2id cost parameters plus the portal's
// length policy.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength int
	MaxLength int
}

// MetricsConfig enables the in-process counters. Disabled counters are
// no-ops.
type MetricsConfig struct {
	Enabled bool

	// EnableLatencyHistograms additionally tracks Authorize latency in
	// coarse buckets. Requires Enabled.
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration [New] seeds a Builder with. The
// token signing keys are the only fields without a usable default.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			TTL:           3 * time.Hour,
			SigningMethod: "ed25519",
		},
		OTP: OTPConfig{
			Digits:      6,
			TTL:         5 * time.Minute,
			MaxAttempts: 5,
		},
		Reset: ResetConfig{
			Strategy:      ResetToken,
			TTL:           15 * time.Minute,
			RevealAbsence: false,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   7,
			MaxLength:   72,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		RedisPrefix: "ac",
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the engine cannot run safely with. Called
// from [Builder.Build].
func (c Config) Validate() error {
	if c.Token.TTL <= 0 {
		return errors.New("token TTL must be positive")
	}
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("otp digits must be between 4 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("otp TTL must be positive")
	}
	if c.OTP.MaxAttempts < 1 {
		return errors.New("otp max attempts must be >= 1")
	}
	if c.Reset.TTL <= 0 {
		return errors.New("reset TTL must be positive")
	}
	switch c.Reset.Strategy {
	case ResetToken, ResetUUID:
	default:
		return errors.New("unsupported reset strategy")
	}
	if c.Password.MinLength < 1 {
		return errors.New("password min length must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("password max length must be >= min length")
	}
	if c.RedisPrefix == "" {
		return errors.New("redis prefix must not be empty")
	}
	return nil
}
