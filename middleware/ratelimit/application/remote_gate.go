package application

import (
	"context"
	"errors"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// errRemoteBusy: nenhuma vaga para chamar o remoto; não conta como falha de saúde.
var errRemoteBusy = errors.New("ratelimit: remote store busy")

// RemoteGate controla a entrada de chamadas ao backend remoto.
//
// Com o Redis lento, as chamadas em voo se acumulam; o gate limita quantas e
// por quanto tempo uma requisição espera por vaga antes de ir para o store local.
type RemoteGate struct {
	Pool domain.SlotPool
	// Wait é a espera máxima por vaga. <= 0 espera até o ctx da requisição.
	Wait time.Duration
}

// Enter devolve o release da vaga, ou errRemoteBusy se não houve vaga a tempo.
// Sem Pool o gate está sempre aberto.
func (g RemoteGate) Enter(ctx context.Context) (func(), error) {
	if g.Pool == nil {
		return func() {}, nil
	}

	if g.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Wait)
		defer cancel()
	}
	release, ok := g.Pool.Acquire(ctx)
	if !ok {
		return nil, errRemoteBusy
	}
	return release, nil
}
