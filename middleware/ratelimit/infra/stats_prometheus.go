package infra

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusStatsStore exporta as decisões como contadores.
// Labels de baixa cardinalidade apenas: tier, outcome e backend (nunca a chave).
type PrometheusStatsStore struct {
	Decisions *prometheus.CounterVec
}

// NewPrometheusStatsStore registra as métricas no registry informado.
func NewPrometheusStatsStore(reg prometheus.Registerer) *PrometheusStatsStore {
	return &PrometheusStatsStore{
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "admission",
				Name:      "decisions_total",
				Help:      "Total rate limit decisions",
			},
			[]string{"tier", "outcome", "backend"}, // outcome=admitted/rejected
		),
	}
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.Decisions.WithLabelValues(string(ev.Tier), ev.Outcome(), string(ev.Backend)).Inc()
	return nil
}

// MultiStatsStore repassa o evento para todos os stores.
// Continua mesmo se um falhar e devolve o primeiro erro.
type MultiStatsStore []domain.StatsStore

func (m MultiStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
