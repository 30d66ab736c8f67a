package infra

import (
	"context"
	"errors"

	"permit-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats exporta decisões como métricas.
//
// Não usa Key como label (cardinalidade); só o resultado.
type PrometheusStats struct {
	decisions *prometheus.CounterVec
	permits   prometheus.Counter
	wait      prometheus.Histogram
}

// NewPrometheusStats registra as métricas em reg. Namespace vazio vira "permit_gateway".
func NewPrometheusStats(reg prometheus.Registerer, namespace string) (*PrometheusStats, error) {
	if namespace == "" {
		namespace = "permit_gateway"
	}

	s := &PrometheusStats{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by result.",
		}, []string{"result"}),
		permits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "permits_granted_total",
			Help:      "Permits granted to admitted requests.",
		}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Pacing wait assigned to admitted requests.",
			Buckets:   []float64{0, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}

	for _, c := range []prometheus.Collector{s.decisions, s.permits, s.wait} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	if !ev.Allowed {
		s.decisions.WithLabelValues("denied").Inc()
		return nil
	}
	s.decisions.WithLabelValues("allowed").Inc()
	s.permits.Add(float64(ev.Permits))
	s.wait.Observe(ev.Wait.Seconds())
	return nil
}

// MultiStats repassa o evento para vários StatsStore e junta os erros.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
