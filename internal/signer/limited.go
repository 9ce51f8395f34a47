package signer

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"ephsign/go-backend/internal/platform/ratelimiter"
)

// RateLimited charges every Sign against the budget of backend for key and
// refuses calls over it with an error matching ErrRateLimited. A nil limiter
// lets everything through. PublicKey is never limited.
func RateLimited(next KeyedSigner, backend, key string, limiter *ratelimiter.KeyLimiter) KeyedSigner {
	return &limited{next: next, backend: backend, key: key, limiter: limiter, now: time.Now}
}

type limited struct {
	next    KeyedSigner
	backend string
	key     string
	limiter *ratelimiter.KeyLimiter
	now     func() time.Time
}

func (l *limited) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	if wait, ok := l.limiter.Reserve(l.backend, l.key, l.now()); !ok {
		return nil, fmt.Errorf("%w: retry in %s", ErrRateLimited, wait.Round(time.Millisecond))
	}
	return l.next.Sign(ctx, msg)
}

func (l *limited) PublicKey(ctx context.Context) (ed25519.PublicKey, error) {
	return l.next.PublicKey(ctx)
}
