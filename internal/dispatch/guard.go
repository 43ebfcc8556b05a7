package dispatch

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"workwatch/internal/model"
)

var ErrRateLimited = errors.New("sink rate limit exceeded")

// Guarded wraps a remote sink with a rate limiter and a circuit breaker.
// Deliveries over the limit are rejected, not delayed.
type Guarded struct {
	sink    Sink
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

// Guard limits s to perMinute deliveries (0 disables the limit) and opens
// the circuit after maxFailures consecutive failures.
func Guard(s Sink, perMinute int, maxFailures int, openTimeout time.Duration) *Guarded {
	g := &Guarded{sink: s, breaker: NewCircuitBreaker(maxFailures, openTimeout)}
	if perMinute > 0 {
		burst := perMinute / 6
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
	return g
}

func (g *Guarded) Name() string {
	return g.sink.Name()
}

func (g *Guarded) Breaker() *CircuitBreaker {
	return g.breaker
}

func (g *Guarded) Deliver(ctx context.Context, ep model.Episode) error {
	if g.limiter != nil && !g.limiter.Allow() {
		return ErrRateLimited
	}
	return g.breaker.Call(ctx, func(ctx context.Context) error {
		return g.sink.Deliver(ctx, ep)
	})
}
