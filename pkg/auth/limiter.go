package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// DefaultRPS and DefaultBurst apply when the rate_limit config section is
// absent or zero.
const (
	DefaultRPS   = 25
	DefaultBurst = 50
)

// limiterPool hands out one token bucket per caller, keyed by API key for
// authenticated requests and by remote IP otherwise.
type limiterPool struct {
	limit rate.Limit
	burst int

	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func newLimiterPool(cfg SecConfig) *limiterPool {
	rps := cfg.RPS
	if rps <= 0 {
		rps = DefaultRPS
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &limiterPool{
		limit: rate.Limit(rps),
		burst: burst,
		m:     make(map[string]*rate.Limiter),
	}
}

func (p *limiterPool) Allow(key string) bool {
	p.mu.Lock()
	l, ok := p.m[key]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.m[key] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
