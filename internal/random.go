package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

// ResetID is the public half of a reset code; it doubles as the storage key.
type ResetID [16]byte

const (
	resetSecretSize  = 32
	resetCodeRawSize = 16 + resetSecretSize

	otpAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

func NewResetID() (ResetID, error) {
	var rid ResetID
	_, err := rand.Read(rid[:])
	return rid, err
}

func (r ResetID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(r[:])
}

func ParseResetID(resetID string) (ResetID, error) {
	var rid ResetID

	raw, err := base64.RawURLEncoding.DecodeString(resetID)
	if err != nil {
		return rid, err
	}
	if len(raw) != len(rid) {
		return rid, errors.New("invalid reset id size")
	}

	copy(rid[:], raw)
	return rid, nil
}

func NewResetSecret() ([resetSecretSize]byte, error) {
	var secret [resetSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashSecret(secret [resetSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func HashBytes(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeResetCode packs the id and secret into the opaque code placed in the
// reset link.
func EncodeResetCode(resetID string, secret [resetSecretSize]byte) (string, error) {
	rid, err := ParseResetID(resetID)
	if err != nil {
		return "", err
	}

	var raw [resetCodeRawSize]byte
	copy(raw[:len(rid)], rid[:])
	copy(raw[len(rid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeResetCode(code string) (string, [resetSecretSize]byte, error) {
	var secret [resetSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != resetCodeRawSize {
		return "", secret, errors.New("invalid reset code size")
	}

	var rid ResetID
	copy(rid[:], raw[:len(rid)])
	copy(secret[:], raw[len(rid):])

	return rid.String(), secret, nil
}

// NewOTP generates a fixed-length passcode. Numeric by default; the
// alphanumeric alphabet drops easily confused characters (0/O, 1/I).
func NewOTP(digits int, alphanumeric bool) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	alphabet := "0123456789"
	if alphanumeric {
		alphabet = otpAlphabet
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}

	return b.String(), nil
}
