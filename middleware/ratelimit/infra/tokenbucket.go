package infra

import (
	"context"
	"fmt"
	"time"

	"permit-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// TokenBucket adapta golang.org/x/time/rate.Limiter para domain.Limiter.
//
// Diferenças em relação ao PermitClock: o bucket começa cheio (burst) e a
// espera devolvida já inclui o custo da própria chamada. Pedidos maiores que
// o burst nunca são atendidos e devolvem domain.ErrExceedsCapacity.
type TokenBucket struct {
	lim *rate.Limiter
}

var _ domain.Limiter = (*TokenBucket)(nil)

func NewTokenBucket(rps float64, burst int) (*TokenBucket, error) {
	if err := validateRate(rps); err != nil {
		return nil, err
	}
	if burst <= 0 {
		return nil, fmt.Errorf("%w: burst must be greater than 0, got %d", domain.ErrInvalidArgument, burst)
	}
	return &TokenBucket{lim: rate.NewLimiter(rate.Limit(rps), burst)}, nil
}

func (b *TokenBucket) AcquireN(ctx context.Context, n int) (time.Duration, error) {
	if err := validatePermits(n); err != nil {
		return 0, err
	}
	if err := b.checkBurst(n); err != nil {
		return 0, err
	}
	start := time.Now()
	if err := b.lim.WaitN(ctx, n); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (b *TokenBucket) TryAcquireN(n int, timeout time.Duration) (bool, error) {
	r, err := b.TryReserveN(n, timeout)
	return r.OK, err
}

// TryReserveN usa ReserveN e devolve os tokens com CancelAt quando a espera
// passa de timeout, então uma recusa não afeta quem vem depois.
func (b *TokenBucket) TryReserveN(n int, timeout time.Duration) (domain.Reservation, error) {
	if err := validatePermits(n); err != nil {
		return domain.Reservation{}, err
	}
	if err := b.checkBurst(n); err != nil {
		return domain.Reservation{Permits: n}, err
	}
	if timeout < 0 {
		timeout = 0
	}

	now := time.Now()
	r := b.lim.ReserveN(now, n)
	if !r.OK() {
		return domain.Reservation{Permits: n}, nil
	}
	delay := r.DelayFrom(now)
	if delay > timeout {
		r.CancelAt(now)
		return domain.Reservation{Permits: n, Wait: delay}, nil
	}
	return domain.Reservation{OK: true, Permits: n, Wait: delay}, nil
}

func (b *TokenBucket) Rate() float64 { return float64(b.lim.Limit()) }

func (b *TokenBucket) SetRate(rps float64) error {
	if err := validateRate(rps); err != nil {
		return err
	}
	b.lim.SetLimit(rate.Limit(rps))
	return nil
}

func (b *TokenBucket) Burst() int { return b.lim.Burst() }

func (b *TokenBucket) checkBurst(n int) error {
	if burst := b.lim.Burst(); n > burst {
		return fmt.Errorf("%w: %d permits, burst is %d", domain.ErrExceedsCapacity, n, burst)
	}
	return nil
}
