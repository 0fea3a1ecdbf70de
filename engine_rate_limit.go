package pjutsauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/pjuts-monitor/pjutsauth/internal/rate"
)

// Rate-limit actions. Keys are "<action>:<identity>".
const (
	actionLogin          = "login"
	actionShareCode      = "share-code"
	actionPasswordReset  = "password-reset"
	actionAdminShareCode = "admin-share-code"
)

// RateTierName selects one of the generic endpoint tiers.
type RateTierName string

const (
	TierStandard  RateTierName = "STANDARD"
	TierSearch    RateTierName = "SEARCH"
	TierSensitive RateTierName = "SENSITIVE"
)

func (t RateTier) policy() rate.Policy {
	return rate.Policy{Limit: t.Limit, Window: t.Window}
}

func (e *Engine) tier(name RateTierName) (RateTier, error) {
	switch name {
	case TierStandard:
		return e.config.RateLimit.Standard, nil
	case TierSearch:
		return e.config.RateLimit.Search, nil
	case TierSensitive:
		return e.config.RateLimit.Sensitive, nil
	default:
		return RateTier{}, fmt.Errorf("unknown rate tier %q", name)
	}
}

// CheckRateLimit reports whether action:identity still has budget under tier
// without counting this call. A blocked key yields a *RateLimitError.
func (e *Engine) CheckRateLimit(ctx context.Context, tier RateTierName, action, identity string) error {
	if err := e.ready(); err != nil {
		return err
	}
	t, err := e.tier(tier)
	if err != nil {
		return err
	}
	decision, err := e.limiter.Check(ctx, rate.Key(action, identity), t.policy())
	if err != nil {
		e.unavailable(ctx, "rate limit check failed", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !decision.Allowed {
		e.emitRateLimit(ctx, action, "")
		return &RateLimitError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

// IncrementRateLimit counts one failure against action:identity.
func (e *Engine) IncrementRateLimit(ctx context.Context, tier RateTierName, action, identity string) error {
	if err := e.ready(); err != nil {
		return err
	}
	t, err := e.tier(tier)
	if err != nil {
		return err
	}
	if _, err := e.limiter.Increment(ctx, rate.Key(action, identity), t.policy()); err != nil {
		e.unavailable(ctx, "rate limit increment failed", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// AllowRequest counts this call and rejects it once the tier budget is
// spent. Used for request-rate tiers where every call counts.
func (e *Engine) AllowRequest(ctx context.Context, tier RateTierName, action, identity string) error {
	if err := e.ready(); err != nil {
		return err
	}
	t, err := e.tier(tier)
	if err != nil {
		return err
	}
	return e.allow(ctx, rate.Key(action, identity), t)
}

func (e *Engine) allow(ctx context.Context, key string, t RateTier) error {
	decision, err := e.limiter.Allow(ctx, key, t.policy())
	if err != nil {
		e.unavailable(ctx, "rate limit allow failed", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !decision.Allowed {
		action, _, _ := strings.Cut(key, ":")
		e.emitRateLimit(ctx, action, "")
		return &RateLimitError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

// recordFailure counts a failed attempt on a best-effort basis; the caller
// has already decided the outcome.
func (e *Engine) recordFailure(ctx context.Context, key string, t RateTier) {
	if _, err := e.limiter.Increment(ctx, key, t.policy()); err != nil {
		e.unavailable(ctx, "rate limit increment failed", err)
	}
}
