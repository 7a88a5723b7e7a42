package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Window is the period each limit applies to.
const Window = time.Minute

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter that
// namespaces keys by scope (for example "signin" or "predict").
type Limiter struct {
	scope string
	store extratelimit.Limiter
}

// NewLimiter allows perMinute requests per subject within scope.
func NewLimiter(rdb *redis.Client, scope string, perMinute int) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(perMinute),
		extratelimit.WithWindow(Window),
	)
	return &Limiter{scope: scope, store: store}
}

func NewTestLimiter(scope string, store extratelimit.Limiter) *Limiter {
	return &Limiter{scope: scope, store: store}
}

func (l *Limiter) Scope() string { return l.scope }

func (l *Limiter) key(subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s", l.scope, subject)
}

// Allow consumes one request for subject.
func (l *Limiter) Allow(ctx context.Context, subject string) (bool, error) {
	res, err := l.store.Allow(ctx, l.key(subject))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
