package ratelimit

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"
)

type tierCtxKey struct{}

// WithTier grava no contexto o tier resolvido por um estágio de autenticação
// anterior. O middleware lê o valor quando a requisição traz um bearer token.
func WithTier(ctx context.Context, tier domain.Tier) context.Context {
	return context.WithValue(ctx, tierCtxKey{}, tier)
}

func TierFromContext(ctx context.Context) (domain.Tier, bool) {
	t, ok := ctx.Value(tierCtxKey{}).(domain.Tier)
	if !ok || !t.Valid() {
		return "", false
	}
	return t, true
}
