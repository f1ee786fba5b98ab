package application

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"
)

// RemoteStats repassa eventos a um coletor que usa o mesmo Redis do
// contador. Enquanto Health diz que o Redis caiu, o evento é descartado.
type RemoteStats struct {
	Store  domain.StatsStore
	Health *RemoteHealth
}

func (s RemoteStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s.Store == nil || s.Health.Down() {
		return nil
	}
	return s.Store.Record(ctx, ev)
}
