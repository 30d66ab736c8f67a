package infra

import (
	"context"
	"sync"
	"time"

	"permit-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64
	Denied  int64
	// Permits concedidos (somente eventos permitidos).
	Permits int64
	// Waited soma as esperas de pacing dos eventos permitidos.
	Waited time.Duration
}

func (c *Counters) add(ev domain.StatsEvent) {
	if !ev.Allowed {
		c.Denied++
		return
	}
	c.Allowed++
	c.Permits += int64(ev.Permits)
	c.Waited += ev.Wait
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
	byKey   map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute: make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev)

	c := s.byRoute[route]
	c.add(ev)
	s.byRoute[route] = c

	if s.trackKeys {
		k := s.byKey[string(ev.Key)]
		k.add(ev)
		s.byKey[string(ev.Key)] = k
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}
