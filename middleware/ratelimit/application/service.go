package application

import (
	"context"
	"errors"
	"time"

	"permit-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Store domain.LimiterStore
	// MaxWait é a maior espera aceita antes de recusar. 0 = só admite sem fila.
	MaxWait time.Duration
	// RetryAfter fixo para recusas. Se 0, é derivado da espera calculada.
	RetryAfter time.Duration
	Logger     *zap.Logger
}

// Decide tenta reservar permits para key sem bloquear.
//
// Se admitido, Decision.Wait diz quanto o chamador deve aguardar antes de
// seguir (a reserva já está feita). Se recusado, nada foi consumido.
func (s Service) Decide(key domain.Key, permits int) (domain.Decision, error) {
	if s.Store == nil {
		return domain.Decision{Allowed: true}, nil
	}

	lim := s.Store.Get(key)
	if lim == nil {
		return domain.Decision{Allowed: true}, nil
	}

	res, err := lim.TryReserveN(permits, s.MaxWait)
	if errors.Is(err, domain.ErrExceedsCapacity) {
		// nunca cabe: recusa sem Retry-After
		s.logger().Debug("request exceeds limiter capacity",
			zap.String("key", string(key)),
			zap.Int("permits", permits),
		)
		return domain.Decision{Allowed: false}, nil
	}
	if err != nil {
		return domain.Decision{}, err
	}
	if res.OK {
		return domain.Decision{Allowed: true, Wait: res.Wait}, nil
	}

	retry := s.retryAfter(res.Wait)
	s.logger().Debug("rate limited",
		zap.String("key", string(key)),
		zap.Int("permits", permits),
		zap.Duration("wait", res.Wait),
		zap.Duration("retry_after", retry),
	)
	return domain.Decision{Allowed: false, RetryAfter: retry}, nil
}

// Acquire bloqueia até os permits de key estarem disponíveis ou ctx acabar.
// Serve para quem despacha jobs em ritmo (sem recusa).
func (s Service) Acquire(ctx context.Context, key domain.Key, permits int) (time.Duration, error) {
	if s.Store == nil {
		return 0, nil
	}
	lim := s.Store.Get(key)
	if lim == nil {
		return 0, nil
	}
	return lim.AcquireN(ctx, permits)
}

// retryAfter: a espera recusada só cabe em MaxWait depois de (wait - MaxWait).
// Arredonda para cima em segundos inteiros, mínimo 1s.
func (s Service) retryAfter(wait time.Duration) time.Duration {
	if s.RetryAfter > 0 {
		return s.RetryAfter
	}
	d := wait - s.MaxWait
	if d <= time.Second {
		return time.Second
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}

func (s Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
