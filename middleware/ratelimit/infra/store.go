package infra

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"permit-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// Strategy escolhe a implementação de domain.Limiter criada por chave.
type Strategy string

const (
	// StrategyPermitClock: relógio de próximo-livre, burst vem de permits
	// guardados durante ociosidade (começa vazio).
	StrategyPermitClock Strategy = "permitclock"
	// StrategyTokenBucket: golang.org/x/time/rate, começa com o bucket cheio.
	StrategyTokenBucket Strategy = "tokenbucket"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyPermitClock:
		return StrategyPermitClock, nil
	case StrategyTokenBucket:
		return StrategyTokenBucket, nil
	default:
		return "", fmt.Errorf("unknown rate strategy %q", s)
	}
}

// Store mantém um limiter por chave com limpeza periódica de chaves ociosas.
type Store struct {
	mu           sync.Mutex
	entries      map[string]*storeEntry
	rps          float64
	burst        int
	strategy     Strategy
	clock        Clock
	idleTTL      time.Duration
	cleanupEvery time.Duration
	logger       *zap.Logger
}

type storeEntry struct {
	lim      domain.Limiter
	lastSeen time.Time
}

type StoreOption func(*Store)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.cleanupEvery = d }
}

func WithStrategy(st Strategy) StoreOption {
	return func(s *Store) { s.strategy = st }
}

// WithStoreClock repassa o relógio para os PermitClocks criados pelo Store.
func WithStoreClock(c Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore valida rps/burst antes de aceitar qualquer chave.
func NewStore(rps float64, burst int, opts ...StoreOption) (*Store, error) {
	s := &Store{
		entries:      make(map[string]*storeEntry),
		rps:          rps,
		burst:        burst,
		strategy:     StrategyPermitClock,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.newLimiter(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) RPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rps
}

func (s *Store) Burst() int                  { return s.burst }
func (s *Store) Strategy() Strategy          { return s.strategy }
func (s *Store) CleanupEvery() time.Duration { return s.cleanupEvery }

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Get implementa domain.LimiterStore.
func (s *Store) Get(key domain.Key) domain.Limiter {
	now := time.Now()
	k := string(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[k]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	// rps/burst já foram validados em NewStore/SetRate.
	lim, err := s.newLimiter()
	if err != nil {
		s.logger.Error("limiter creation failed", zap.String("key", k), zap.Error(err))
		return nil
	}
	s.entries[k] = &storeEntry{lim: lim, lastSeen: now}
	return lim
}

// SetRate troca o rate de todas as chaves vivas e das que vierem.
// Reservas já feitas mantêm a espera prometida.
func (s *Store) SetRate(rps float64) error {
	if err := validateRate(rps); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rps = rps
	for k, ent := range s.entries {
		if err := ent.lim.SetRate(rps); err != nil {
			return fmt.Errorf("set rate for key %q: %w", k, err)
		}
	}
	s.logger.Info("rate changed", zap.Float64("rps", rps), zap.Int("keys", len(s.entries)))
	return nil
}

func (s *Store) newLimiter() (domain.Limiter, error) {
	switch s.strategy {
	case StrategyTokenBucket:
		return NewTokenBucket(s.rps, s.burst)
	case StrategyPermitClock:
		if s.burst < 0 {
			return nil, fmt.Errorf("%w: burst must be >= 0, got %d", domain.ErrInvalidArgument, s.burst)
		}
		var opts []PermitClockOption
		if s.clock != nil {
			opts = append(opts, WithClock(s.clock))
		}
		return NewPermitClock(s.rps, float64(s.burst), opts...)
	default:
		return nil, fmt.Errorf("unknown rate strategy %q", s.strategy)
	}
}

func (s *Store) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("idle limiters removed", zap.Int("removed", removed), zap.Int("remaining", len(s.entries)))
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *Store) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
// (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}
