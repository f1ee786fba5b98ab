package infra

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"
)

// ChanPool é um semáforo baseado em channel. Limita chamadas simultâneas
// ao Redis para que um cache degradado não prenda todas as goroutines de request.
type ChanPool struct {
	sem chan struct{}
}

// NewChanPool cria um pool com capacidade `max` (mínimo 1).
func NewChanPool(max int) *ChanPool {
	if max <= 0 {
		max = 1
	}
	return &ChanPool{sem: make(chan struct{}, max)}
}

func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

// InFlight retorna quantas vagas estão ocupadas agora.
func (p *ChanPool) InFlight() int { return len(p.sem) }

func (p *ChanPool) Cap() int { return cap(p.sem) }

var _ domain.SlotPool = (*ChanPool)(nil)
