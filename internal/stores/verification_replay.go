package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrReplayBackend = errors.New("verification replay backend unavailable")

// VerificationReplayStore records consumed verification-token IDs so each
// token is accepted at most once during its lifetime.
type VerificationReplayStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewVerificationReplayStore(redisClient redis.UniversalClient, prefix string) *VerificationReplayStore {
	if prefix == "" {
		prefix = "pvr"
	}
	return &VerificationReplayStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// MarkUsed records jti and reports whether this call was the first to do so.
func (s *VerificationReplayStore) MarkUsed(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if jti == "" {
		return false, errors.New("empty token id")
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.redis.SetNX(ctx, s.prefix+":"+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrReplayBackend, err)
	}
	return ok, nil
}
