package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Default request budgets per provider, requests per second. Providers
// with strict published limits (Zendesk, Notion) sit lower.
var defaultRates = map[Kind]rate.Limit{
	KindSlack:       1,
	KindConfluence:  5,
	KindNotion:      3,
	KindZendesk:     2,
	KindGitHub:      10,
	KindGoogleDrive: 10,
	KindWebcrawler:  1,
}

const defaultBurst = 5

// Limiter throttles outgoing provider calls per kind.
type Limiter struct {
	mu       sync.Mutex
	limiters map[Kind]*rate.Limiter
}

// NewLimiter creates a limiter with the default per-provider budgets.
func NewLimiter() *Limiter {
	return &Limiter{limiters: make(map[Kind]*rate.Limiter)}
}

// Wait blocks until the provider's budget admits one request or the
// context is done.
func (l *Limiter) Wait(ctx context.Context, kind Kind) error {
	return l.limiterFor(kind).Wait(ctx)
}

func (l *Limiter) limiterFor(kind Kind) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[kind]; ok {
		return lim
	}
	r, ok := defaultRates[kind]
	if !ok {
		r = 1
	}
	lim := rate.NewLimiter(r, defaultBurst)
	l.limiters[kind] = lim
	return lim
}
