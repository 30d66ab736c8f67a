package infra

import (
	"context"
	"time"
)

// Clock é a fonte de tempo monotônico do PermitClock.
//
// Só diferenças importam; a época é arbitrária. Sleep deve respeitar ctx.
type Clock interface {
	NowMicros() int64
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock mede microssegundos desde a criação usando a leitura monotônica
// de time.Time, imune a ajustes do relógio de parede (NTP etc.).
type SystemClock struct {
	base time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{base: time.Now()}
}

func (c *SystemClock) NowMicros() int64 {
	return time.Since(c.base).Microseconds()
}

func (c *SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
