package domain

import (
	"context"
	"strings"
	"time"
)

// StatsEvent é uma decisão de admissão já tomada, vista pelos coletores de estatística.
//
// Caminhos excluídos nunca geram evento. Key é o ClientKey (hash), nunca o endereço.
type StatsEvent struct {
	Key     Key
	Tier    Tier
	Allowed bool
	Backend Backend

	Method string
	Path   string

	At time.Time
}

// NewStatsEvent monta o evento a partir da decisão e da rota da requisição.
func NewStatsEvent(dec Decision, method, path string) StatsEvent {
	return StatsEvent{
		Key:     dec.Key,
		Tier:    dec.Tier,
		Allowed: dec.Allowed,
		Backend: dec.Backend,
		Method:  method,
		Path:    path,
		At:      dec.At,
	}
}

// Outcome: "admitted" ou "rejected".
func (e StatsEvent) Outcome() string {
	if e.Allowed {
		return "admitted"
	}
	return "rejected"
}

// Route é "METHOD /path", vazio quando os dois faltam.
func (e StatsEvent) Route() string {
	return strings.TrimSpace(strings.TrimSpace(e.Method) + " " + strings.TrimSpace(e.Path))
}

// StatsStore recebe cada evento. Gravar é best-effort: erro é logado e a
// requisição segue com a decisão já tomada.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
