package authcore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const otpRecordVersionV1 = 1

// Keys outlive the logical expiry by this factor so a late verification can
// be answered "expired" rather than "not found".
const otpExpiryGrace = 2

var (
	errOTPRecordNotFound   = errors.New("otp record not found")
	errOTPRecordExpired    = errors.New("otp record expired")
	errOTPMismatch         = errors.New("otp secret mismatch")
	errOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	errOTPRedisUnavailable = errors.New("otp redis unavailable")
)

type otpRecord struct {
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
}

// otpStore keeps the active challenge per email. The key is the email
// itself, so issuing a new challenge overwrites any prior one: at most one
// challenge is active per address, last writer wins.
type otpStore struct {
	redis  *redis.Client
	prefix string
}

func newOTPStore(redisClient *redis.Client, prefix string) *otpStore {
	return &otpStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *otpStore) key(email string) string {
	return s.prefix + ":otp:" + strings.ToLower(email)
}

// Save issues a challenge, superseding whatever was active for the email.
func (s *otpStore) Save(ctx context.Context, email string, record *otpRecord, ttl time.Duration) error {
	encoded, err := encodeOTPRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(email), encoded, otpExpiryGrace*ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errOTPRedisUnavailable, err)
	}

	return nil
}

// Delete drops the active challenge, if any. Used to roll back an issuance
// whose email dispatch failed.
func (s *otpStore) Delete(ctx context.Context, email string) error {
	if err := s.redis.Del(ctx, s.key(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errOTPRedisUnavailable, err)
	}
	return nil
}

// Consume verifies providedHash against the active challenge and deletes the
// record on match, making verification one-shot. Mismatches burn an attempt;
// exhausting maxAttempts deletes the record too.
func (s *otpStore) Consume(ctx context.Context, email string, providedHash [32]byte, maxAttempts int) error {
	const maxRetries = 4
	key := s.key(email)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOTPRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return errOTPRecordExpired
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return errOTPAttemptsExceeded
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					if err := txDelete(ctx, tx, key); err != nil {
						return err
					}
					return errOTPRecordExpired
				}

				updated, err := encodeOTPRecord(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, otpExpiryGrace*ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errOTPMismatch
			}

			return txDelete(ctx, tx, key)
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return errOTPRecordNotFound
			case errors.Is(err, errOTPRecordExpired),
				errors.Is(err, errOTPMismatch),
				errors.Is(err, errOTPAttemptsExceeded):
				return err
			default:
				return fmt.Errorf("%w: %v", errOTPRedisUnavailable, err)
			}
		}

		return nil
	}

	return errOTPRecordNotFound
}

func txDelete(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeOTPRecord(record *otpRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(otpRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeOTPRecord(data []byte) (*otpRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpRecordVersionV1 {
		return nil, errors.New("invalid otp record version")
	}

	record := &otpRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := reader.Read(record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
