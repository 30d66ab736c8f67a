package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"time"
)

type Key string

// ErrInvalidArgument indica permits <= 0 ou rate <= 0.
// É erro de programação: nenhuma implementação tenta de novo nem altera estado.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrExceedsCapacity indica um pedido que nunca cabe no limiter (ex: n maior
// que o burst de um token bucket). Esperar não adianta.
var ErrExceedsCapacity = errors.New("request exceeds limiter capacity")

// Reservation é o resultado de uma tentativa limitada de reserva.
//
// Wait é quanto o chamador deve aguardar antes de usar os permits. No
// PermitClock é calculada ANTES de cobrar a própria chamada (reflete só
// capacidade já prometida); no TokenBucket já inclui o custo da chamada.
// Quando OK=false, Wait ainda é preenchido (útil para Retry-After).
type Reservation struct {
	OK      bool
	Permits int
	Wait    time.Duration
}

// Limiter é a capacidade de admissão por permits.
//
// Implementações: PermitClock (relógio de próximo-livre com permits guardados)
// e TokenBucket (golang.org/x/time/rate).
type Limiter interface {
	// AcquireN reserva n permits e bloqueia pela espera devolvida.
	// Se ctx terminar durante a espera, retorna ctx.Err(); a reserva continua valendo.
	AcquireN(ctx context.Context, n int) (time.Duration, error)

	// TryAcquireN reserva n permits só se a espera não passar de timeout.
	// Não bloqueia. Recusa não altera estado.
	TryAcquireN(n int, timeout time.Duration) (bool, error)

	// TryReserveN é como TryAcquireN, mas devolve a espera calculada.
	TryReserveN(n int, timeout time.Duration) (Reservation, error)

	Rate() float64
	SetRate(rate float64) error
}

// LimiterStore obtém um limiter por chave (ex: IP, API key, usuário).
// A implementação pode manter cache, TTL, etc.
type LimiterStore interface {
	Get(Key) Limiter
}

type Decision struct {
	Allowed bool
	// Wait é quanto a requisição admitida deve aguardar antes de seguir (pacing).
	Wait time.Duration
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
