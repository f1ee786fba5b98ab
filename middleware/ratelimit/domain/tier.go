package domain

import (
	"fmt"
	"strings"
)

// Tier é a classe de assinatura que define a cota do cliente.
type Tier string

const (
	TierFree      Tier = "free"
	TierBasic     Tier = "basic"
	TierPremium   Tier = "premium"
	TierUnlimited Tier = "unlimited"
)

// Tiers lista o conjunto fixo de tiers, do menor para o maior.
func Tiers() []Tier {
	return []Tier{TierFree, TierBasic, TierPremium, TierUnlimited}
}

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPremium, TierUnlimited:
		return true
	}
	return false
}

func (t Tier) String() string { return string(t) }

// ParseTier aceita o nome do tier sem diferenciar maiúsculas.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return t, nil
}

// TierLimits mapeia tier -> máximo de requisições por janela.
// Carregado uma vez no startup; não muda durante a vida do processo.
type TierLimits map[Tier]int

// Validate garante que todos os tiers conhecidos existem e têm limite > 0.
func (l TierLimits) Validate() error {
	for _, t := range Tiers() {
		n, ok := l[t]
		if !ok {
			return fmt.Errorf("%w: missing limit for tier %q", ErrInvalidTier, t)
		}
		if n <= 0 {
			return fmt.Errorf("%w: tier %q has %d", ErrInvalidLimit, t, n)
		}
	}
	for t := range l {
		if !t.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidTier, t)
		}
	}
	return nil
}

// TierResolver traduz uma API key em tier.
//
// É o ponto de extensão para um serviço real de lookup; ok=false mantém o tier atual.
type TierResolver interface {
	ResolveTier(apiKey string) (Tier, bool)
}
