package infra

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"permit-gateway/middleware/ratelimit/domain"
)

// PermitClock é um rate limiter de "próximo instante livre".
//
// O estado é o par (storedPermits, nextFreeMicros):
//   - storedPermits: permits acumulados enquanto o limiter ficou ocioso,
//     limitados a maxStoredPermits (burst). Consumi-los não custa tempo.
//   - nextFreeMicros: a partir de quando a próxima reserva começa a pagar
//     permits novos. Representa toda capacidade já prometida. Guarda a fração
//     de microssegundo (rates acima de 1e6/s custam menos de 1µs por permit)
//     e satura em maxWaitMicros.
//
// Não existe goroutine de fundo: cada operação primeiro sincroniza o estado
// com o "agora" (lazy). Um único mutex protege todos os campos e nunca é
// mantido durante o sleep de AcquireN.
//
// A ordem das reservas é a ordem de aquisição do lock, não a de chegada.
type PermitClock struct {
	mu sync.Mutex

	intervalMicros   float64
	maxStoredPermits float64
	storedPermits    float64
	nextFreeMicros   float64

	clock Clock
}

var _ domain.Limiter = (*PermitClock)(nil)

type PermitClockOption func(*PermitClock)

// WithClock troca a fonte de tempo (testes usam um relógio manual).
func WithClock(c Clock) PermitClockOption {
	return func(p *PermitClock) { p.clock = c }
}

// NewPermitClock cria um limiter com rate permits/segundo e teto de
// maxStoredPermits permits guardados. Começa sem permits guardados.
func NewPermitClock(rate, maxStoredPermits float64, opts ...PermitClockOption) (*PermitClock, error) {
	if err := validateRate(rate); err != nil {
		return nil, err
	}
	if !(maxStoredPermits >= 0) || math.IsInf(maxStoredPermits, 1) {
		return nil, fmt.Errorf("%w: max stored permits must be >= 0, got %v", domain.ErrInvalidArgument, maxStoredPermits)
	}

	p := &PermitClock{
		intervalMicros:   1e6 / rate,
		maxStoredPermits: maxStoredPermits,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.clock == nil {
		p.clock = NewSystemClock()
	}
	p.nextFreeMicros = float64(p.clock.NowMicros())
	return p, nil
}

func (p *PermitClock) Acquire(ctx context.Context) (time.Duration, error) {
	return p.AcquireN(ctx, 1)
}

// AcquireN reserva n permits e dorme (fora do lock) pela espera devolvida.
// Cancelar ctx interrompe apenas a espera; os permits continuam reservados.
func (p *PermitClock) AcquireN(ctx context.Context, n int) (time.Duration, error) {
	if err := validatePermits(n); err != nil {
		return 0, err
	}

	p.mu.Lock()
	wait := p.reserveLocked(float64(n), p.clock.NowMicros())
	p.mu.Unlock()

	d := microsToDuration(wait)
	if err := p.clock.Sleep(ctx, d); err != nil {
		return 0, err
	}
	return d, nil
}

func (p *PermitClock) TryAcquire(timeout time.Duration) bool {
	ok, _ := p.TryAcquireN(1, timeout)
	return ok
}

func (p *PermitClock) TryAcquireN(n int, timeout time.Duration) (bool, error) {
	r, err := p.TryReserveN(n, timeout)
	return r.OK, err
}

// TryReserveN reserva n permits se a espera atual (antes de cobrar esta
// chamada) couber em timeout. Não bloqueia: quem chama recebe uma reserva
// que pode começar no futuro. Recusa não altera storedPermits nem nextFree.
// Timeout negativo vale como zero.
func (p *PermitClock) TryReserveN(n int, timeout time.Duration) (domain.Reservation, error) {
	if err := validatePermits(n); err != nil {
		return domain.Reservation{}, err
	}
	if timeout < 0 {
		timeout = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.NowMicros()
	_, nextFree := p.syncedLocked(now)
	wait := microsToDuration(nextFree - float64(now))
	if wait > timeout {
		return domain.Reservation{Permits: n, Wait: wait}, nil
	}

	p.reserveLocked(float64(n), now)
	return domain.Reservation{OK: true, Permits: n, Wait: wait}, nil
}

func (p *PermitClock) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return 1e6 / p.intervalMicros
}

// SetRate vale só para reservas feitas depois da troca; esperas já
// prometidas foram calculadas com o intervalo antigo.
func (p *PermitClock) SetRate(rate float64) error {
	if err := validateRate(rate); err != nil {
		return err
	}
	p.mu.Lock()
	p.intervalMicros = 1e6 / rate
	p.mu.Unlock()
	return nil
}

// PermitState é uma cópia consistente do estado do PermitClock.
type PermitState struct {
	Rate             float64
	MaxStoredPermits float64
	StoredPermits    float64
	// NextFree é quanto falta, a partir de agora, para o próximo instante livre.
	NextFree time.Duration
}

// Snapshot devolve o estado como seria visto agora, sem alterá-lo.
func (p *PermitClock) Snapshot() PermitState {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.NowMicros()
	stored, nextFree := p.syncedLocked(now)
	return PermitState{
		Rate:             1e6 / p.intervalMicros,
		MaxStoredPermits: p.maxStoredPermits,
		StoredPermits:    stored,
		NextFree:         microsToDuration(nextFree - float64(now)),
	}
}

// syncedLocked calcula (stored, nextFree) sincronizados com now sem gravar.
// Se now passou de nextFree, o tempo ocioso vira permits guardados e
// nextFree avança até now; nunca volta e nunca passa de now.
func (p *PermitClock) syncedLocked(now int64) (float64, float64) {
	t := float64(now)
	if t <= p.nextFreeMicros {
		return p.storedPermits, p.nextFreeMicros
	}
	idle := (t - p.nextFreeMicros) / p.intervalMicros
	return math.Min(p.maxStoredPermits, p.storedPermits+idle), t
}

// reserveLocked é a única mutação de reserva. Devolve a espera causada por
// reservas anteriores; o custo dos permits novos desta chamada vira a espera
// da próxima.
func (p *PermitClock) reserveLocked(permits float64, now int64) float64 {
	p.storedPermits, p.nextFreeMicros = p.syncedLocked(now)

	wait := p.nextFreeMicros - float64(now)

	stored := math.Min(permits, p.storedPermits)
	fresh := permits - stored

	// satura: nextFree nunca volta, mesmo com rate minúsculo ou n enorme
	p.nextFreeMicros = math.Min(p.nextFreeMicros+fresh*p.intervalMicros, maxWaitMicros)
	p.storedPermits -= stored

	return wait
}

func validateRate(rate float64) error {
	if !(rate > 0) || math.IsInf(rate, 1) || math.IsInf(1e6/rate, 1) {
		return fmt.Errorf("%w: rate must be greater than 0, got %v", domain.ErrInvalidArgument, rate)
	}
	return nil
}

func validatePermits(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: permits must be greater than 0, got %d", domain.ErrInvalidArgument, n)
	}
	return nil
}

// maxWaitMicros é a maior espera representável em time.Duration.
var maxWaitMicros = float64(math.MaxInt64) / 1e3

// microsToDuration arredonda para cima em nanossegundos: uma fração de µs
// ainda é espera.
func microsToDuration(us float64) time.Duration {
	if us <= 0 {
		return 0
	}
	ns := math.Ceil(us * 1e3)
	if ns >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}
