package application

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RemoteHealth guarda se o backend remoto está respondendo.
//
// Enquanto está "down", o Service vai direto para o backend local e só
// tenta o remoto de novo uma vez a cada retryInterval. O primeiro
// sucesso volta o estado para "up". Métodos aceitam receiver nil (sempre up).
type RemoteHealth struct {
	mu    sync.Mutex
	down  bool
	retry *rate.Limiter

	// warn limita os logs de erro do remoto durante uma queda
	warn rate.Sometimes
}

func NewRemoteHealth(retryInterval time.Duration) *RemoteHealth {
	if retryInterval <= 0 {
		retryInterval = 5 * time.Second
	}
	return &RemoteHealth{
		retry: rate.NewLimiter(rate.Every(retryInterval), 1),
		warn:  rate.Sometimes{First: 1, Interval: retryInterval},
	}
}

// ShouldTry diz se esta chamada deve ir ao remoto.
func (h *RemoteHealth) ShouldTry(now time.Time) bool {
	if h == nil {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.down {
		return true
	}
	return h.retry.AllowN(now, 1)
}

// MarkDown registra uma falha. Retorna true na transição up -> down.
func (h *RemoteHealth) MarkDown(now time.Time) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return false
	}
	h.down = true
	// consome o token: a próxima tentativa só depois de retryInterval
	h.retry.AllowN(now, 1)
	return true
}

// MarkUp registra um sucesso. Retorna true na transição down -> up.
func (h *RemoteHealth) MarkUp() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.down {
		return false
	}
	h.down = false
	return true
}

func (h *RemoteHealth) Down() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.down
}

// Warn executa f respeitando o limite de frequência (nil: sempre executa).
func (h *RemoteHealth) Warn(f func()) {
	if h == nil {
		f()
		return
	}
	h.warn.Do(f)
}
