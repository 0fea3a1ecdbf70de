package stores

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
)

const (
	pinChallengeRecordVersion1 = 1

	// Records outlive their logical expiry by this margin so a late verify can
	// still be told "expired" rather than "no session".
	defaultExpiredGrace = time.Minute
)

var (
	ErrPinChallengeNotFound  = errors.New("pin challenge not found")
	ErrPinChallengeExpired   = errors.New("pin challenge expired")
	ErrPinChallengeExceeded  = errors.New("pin challenge attempts exceeded")
	ErrPinChallengeMismatch  = errors.New("pin challenge pin mismatch")
	ErrPinChallengeContended = errors.New("pin challenge update contended")
	ErrPinChallengeBackend   = errors.New("pin challenge backend unavailable")
)

// PinChallenge is the persisted state of one pending PIN challenge. Secrets
// are held only as SHA-256 digests.
type PinChallenge struct {
	Email            string
	SessionTokenHash [32]byte
	PINHash          [32]byte
	CreatedAt        int64 // unix millis
	ExpiresAt        int64 // unix millis
	Attempts         uint16
	MaxAttempts      uint16
}

// PinChallengeStore keeps at most one live challenge per email.
type PinChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	grace  time.Duration
}

func NewPinChallengeStore(redisClient redis.UniversalClient, prefix string) *PinChallengeStore {
	if prefix == "" {
		prefix = "ppc"
	}
	return &PinChallengeStore{
		redis:  redisClient,
		prefix: prefix,
		grace:  defaultExpiredGrace,
	}
}

func (s *PinChallengeStore) key(email string) string {
	return s.prefix + ":" + email
}

// Save writes record under its email, superseding any prior challenge.
func (s *PinChallengeStore) Save(ctx context.Context, record *PinChallenge, now time.Time) error {
	encoded, err := encodePinChallenge(record)
	if err != nil {
		return err
	}
	ttl := time.UnixMilli(record.ExpiresAt).Sub(now) + s.grace
	if ttl <= 0 {
		return errors.New("pin challenge already expired")
	}
	if err := s.redis.Set(ctx, s.key(record.Email), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPinChallengeBackend, err)
	}
	return nil
}

// Get loads the challenge for email without touching it.
func (s *PinChallengeStore) Get(ctx context.Context, email string) (*PinChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPinChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPinChallengeBackend, err)
	}
	return decodePinChallenge(data)
}

// Delete removes the challenge for email and reports whether one existed.
func (s *PinChallengeStore) Delete(ctx context.Context, email string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(email)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPinChallengeBackend, err)
	}
	return n > 0, nil
}

// Verify runs one attempt against the challenge for email as a single
// optimistic transaction. Outcomes:
//
//   - ErrPinChallengeNotFound: no record, or the session token does not match.
//     The record is left untouched.
//   - ErrPinChallengeExpired: now is past ExpiresAt. The record is deleted.
//   - ErrPinChallengeExceeded: the attempt cap was already reached, or this
//     wrong attempt reached it. The record is deleted.
//   - ErrPinChallengeMismatch: wrong PIN below the cap. Attempts is incremented.
//   - nil: PIN matched. The record is deleted and returned.
func (s *PinChallengeStore) Verify(
	ctx context.Context,
	email string,
	sessionTokenHash [32]byte,
	pinHash [32]byte,
	now time.Time,
) (*PinChallenge, error) {
	const maxRetries = 8
	key := s.key(email)

	for i := 0; i < maxRetries; i++ {
		var matched *PinChallenge
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePinChallenge(data)
			if err != nil {
				return err
			}
			if subtle.ConstantTimeCompare(record.SessionTokenHash[:], sessionTokenHash[:]) != 1 {
				return ErrPinChallengeNotFound
			}

			if now.UnixMilli() > record.ExpiresAt {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				return ErrPinChallengeExpired
			}
			if record.Attempts >= record.MaxAttempts {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				return ErrPinChallengeExceeded
			}

			if subtle.ConstantTimeCompare(record.PINHash[:], pinHash[:]) == 1 {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				matched = record
				return nil
			}

			record.Attempts++
			if record.Attempts >= record.MaxAttempts {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				return ErrPinChallengeExceeded
			}

			updated, err := encodePinChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
				return nil
			})
			if err != nil {
				return err
			}
			return ErrPinChallengeMismatch
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrPinChallengeNotFound
			case errors.Is(err, ErrPinChallengeNotFound),
				errors.Is(err, ErrPinChallengeExpired),
				errors.Is(err, ErrPinChallengeExceeded),
				errors.Is(err, ErrPinChallengeMismatch):
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrPinChallengeBackend, err)
		}
		return matched, nil
	}

	return nil, ErrPinChallengeContended
}

func deleteInTx(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodePinChallenge(record *PinChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(pinChallengeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.MaxAttempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.SessionTokenHash[:])
	buf.Write(record.PINHash[:])

	if len(record.Email) > 65535 {
		return nil, errors.New("pin challenge email length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Email))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Email)

	return buf.Bytes(), nil
}

func decodePinChallenge(data []byte) (*PinChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != pinChallengeRecordVersion1 {
		return nil, errors.New("invalid pin challenge version")
	}

	record := &PinChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.MaxAttempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.SessionTokenHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.PINHash[:]); err != nil {
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
