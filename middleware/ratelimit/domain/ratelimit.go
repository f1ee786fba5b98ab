package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"time"
)

// Key é a identidade opaca usada para contar requisições (ClientKey).
// Formato: hash(endereço) + ":" + fingerprint da credencial + ":" + tier.
type Key string

var (
	// ErrBackendUnavailable indica falha de transporte/protocolo no backend remoto.
	// Nunca chega ao cliente: o Service cai para o backend local.
	ErrBackendUnavailable = errors.New("ratelimit: backend unavailable")

	ErrInvalidTier  = errors.New("ratelimit: invalid tier")
	ErrInvalidLimit = errors.New("ratelimit: limit must be > 0")
)

// WindowResult é o estado derivado de uma janela após registrar a requisição atual.
type WindowResult struct {
	// Count inclui a requisição atual.
	Count int
	// RetryAfter = window - (now - timestamp mais antigo ainda na janela).
	// Só tem significado quando Count > limite.
	RetryAfter time.Duration
}

// WindowStore conta requisições de uma chave na janela deslizante.
//
// CountAndRecord precisa ser atômico do ponto de vista de quem chama: remove
// entradas <= now-window, registra now e devolve a contagem já com a atual.
// Ler e depois gravar em dois passos conta errado sob concorrência.
type WindowStore interface {
	CountAndRecord(ctx context.Context, key Key, window time.Duration, now time.Time) (WindowResult, error)
}

// SlotPool limita quantas chamadas ao backend remoto ficam em voo ao mesmo tempo.
// Acquire espera uma vaga até o ctx encerrar; release deve ser chamado uma única vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

// Backend identifica qual WindowStore respondeu a uma decisão.
type Backend string

const (
	BackendRemote Backend = "remote"
	BackendLocal  Backend = "local"
	// BackendNone: nenhum backend consultado (allow-list ou fail open).
	BackendNone Backend = "none"
)

type Decision struct {
	Key     Key
	Allowed bool
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação. Quando bloqueado é sempre >= 1s.
	RetryAfter time.Duration
	Tier       Tier
	Limit      int

	// Count é a contagem na janela (0 quando nenhum backend foi consultado).
	Count   int
	Backend Backend
	// At é o instante da decisão, base para X-RateLimit-Reset.
	At time.Time
}

// ResetAt é o instante a partir do qual o cliente pode tentar de novo.
func (d Decision) ResetAt() time.Time {
	return d.At.Add(d.RetryAfter)
}

// RetryAfterSeconds é o hint em segundos inteiros: 0 quando admitido, >= 1 quando bloqueado.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(d.RetryAfter / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
