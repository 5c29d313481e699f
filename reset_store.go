package authcore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campusgate/authcore/internal"
)

const resetRecordVersionV1 = 1

const resetExpiryGrace = 2

var (
	errResetRecordNotFound   = errors.New("reset record not found")
	errResetRecordExpired    = errors.New("reset record expired")
	errResetSecretMismatch   = errors.New("reset secret mismatch")
	errResetRedisUnavailable = errors.New("reset redis unavailable")
)

type resetRecord struct {
	SecretHash [32]byte
	ExpiresAt  int64
	Email      string
}

// resetStore keeps outstanding password reset codes keyed by their public
// identifier. The secret half of the code is stored hashed, so a Redis dump
// never yields usable reset codes.
type resetStore struct {
	redis  *redis.Client
	prefix string
}

func newResetStore(redisClient *redis.Client, prefix string) *resetStore {
	return &resetStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *resetStore) key(id internal.ResetID) string {
	return s.prefix + ":reset:" + id.String()
}

func (s *resetStore) Save(ctx context.Context, id internal.ResetID, record *resetRecord, ttl time.Duration) error {
	encoded, err := encodeResetRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(id), encoded, resetExpiryGrace*ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
	}

	return nil
}

func (s *resetStore) Delete(ctx context.Context, id internal.ResetID) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
	}
	return nil
}

// Get reads the record without consuming it. Callers that only need to know
// whether a code is still live go through here; completing a reset goes
// through Consume.
func (s *resetStore) Get(ctx context.Context, id internal.ResetID) (*resetRecord, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errResetRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
	}

	record, err := decodeResetRecord(data)
	if err != nil {
		return nil, err
	}

	if time.Now().Unix() > record.ExpiresAt {
		if delErr := s.redis.Del(ctx, s.key(id)).Err(); delErr != nil {
			return nil, fmt.Errorf("%w: %v", errResetRedisUnavailable, delErr)
		}
		return nil, errResetRecordExpired
	}

	return record, nil
}

// Consume verifies providedHash against the stored secret hash and deletes
// the record on match. A consumed code can never complete a second reset,
// which is what makes the reset flow one-shot.
func (s *resetStore) Consume(ctx context.Context, id internal.ResetID, providedHash [32]byte) (*resetRecord, error) {
	const maxRetries = 4
	key := s.key(id)

	var consumed *resetRecord

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeResetRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return errResetRecordExpired
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				return errResetSecretMismatch
			}

			if err := txDelete(ctx, tx, key); err != nil {
				return err
			}

			consumed = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errResetRecordNotFound
			case errors.Is(err, errResetRecordExpired),
				errors.Is(err, errResetSecretMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
			}
		}

		return consumed, nil
	}

	return nil, errResetRecordNotFound
}

func encodeResetRecord(record *resetRecord) ([]byte, error) {
	if len(record.Email) > int(^uint16(0)) {
		return nil, errors.New("email too long")
	}

	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.SecretHash[:])
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Email))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Email)

	return buf.Bytes(), nil
}

func decodeResetRecord(data []byte) (*resetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	record := &resetRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	var emailLen uint16
	if err := binary.Read(reader, binary.BigEndian, &emailLen); err != nil {
		return nil, err
	}
	email := make([]byte, emailLen)
	if _, err := io.ReadFull(reader, email); err != nil {
		return nil, err
	}
	record.Email = string(email)

	return record, nil
}
