package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// MemoryWindowStore é a janela deslizante em memória (backend local).
//
// Um único mutex protege o mapa inteiro; a seção crítica é O(tamanho da janela).
// A limpeza roda de forma amortizada dentro de CountAndRecord a cada sweepEvery,
// sem goroutine dedicada. StartJanitor existe para quem preferir um ticker.
type MemoryWindowStore struct {
	mu         sync.Mutex
	entries    map[string][]time.Time
	sweepEvery time.Duration
	lastSweep  time.Time
	// maior janela já vista, usada pela limpeza do janitor
	window time.Duration
}

type MemoryWindowOption func(*MemoryWindowStore)

// WithSweepEvery define a cadência da limpeza. <= 0 desliga a limpeza amortizada.
func WithSweepEvery(d time.Duration) MemoryWindowOption {
	return func(s *MemoryWindowStore) { s.sweepEvery = d }
}

func NewMemoryWindowStore(opts ...MemoryWindowOption) *MemoryWindowStore {
	s := &MemoryWindowStore{
		entries:    make(map[string][]time.Time),
		sweepEvery: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CountAndRecord implementa domain.WindowStore. Nunca retorna erro.
func (s *MemoryWindowStore) CountAndRecord(_ context.Context, key domain.Key, window time.Duration, now time.Time) (domain.WindowResult, error) {
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	if window > s.window {
		s.window = window
	}
	if s.lastSweep.IsZero() {
		s.lastSweep = now
	} else if s.sweepEvery > 0 && now.Sub(s.lastSweep) >= s.sweepEvery {
		s.sweepLocked(cutoff)
		s.lastSweep = now
	}

	k := string(key)
	kept := keepAfter(s.entries[k], cutoff)
	kept = append(kept, now)
	s.entries[k] = kept

	oldest := kept[0]
	for _, ts := range kept[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}

	return domain.WindowResult{
		Count:      len(kept),
		RetryAfter: window - now.Sub(oldest),
	}, nil
}

// keepAfter filtra in-place os timestamps > cutoff.
func keepAfter(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// Sweep remove timestamps <= now-window e apaga chaves vazias.
// Retorna quantas chaves foram removidas.
func (s *MemoryWindowStore) Sweep(now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.sweepLocked(now.Add(-window))
	s.lastSweep = now
	return removed
}

func (s *MemoryWindowStore) sweepLocked(cutoff time.Time) int {
	removed := 0
	for k, ts := range s.entries {
		kept := keepAfter(ts, cutoff)
		if len(kept) == 0 {
			delete(s.entries, k)
			removed++
			continue
		}
		s.entries[k] = kept
	}
	return removed
}

// Size retorna o número de chaves rastreadas.
func (s *MemoryWindowStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente,
// usando a maior janela já vista. Pare cancelando o contexto.
func (s *MemoryWindowStore) StartJanitor(ctx DoneContext, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.mu.Lock()
				w := s.window
				s.mu.Unlock()
				if w > 0 {
					s.Sweep(now, w)
				}
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context no janitor.
type DoneContext interface {
	Done() <-chan struct{}
}

var _ domain.WindowStore = (*MemoryWindowStore)(nil)
