package application

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// fingerprintLen é o tamanho (em hex) dos fingerprints de endereço e credencial.
const fingerprintLen = 16

// Identifier deriva (ClientKey, Tier) a partir dos metadados da requisição.
//
// É uma função pura: sem I/O, sem estado compartilhado mutável, nunca falha.
// Entradas ausentes ou malformadas caem nos defaults.
type Identifier struct {
	allowList map[string]struct{}
	resolver  domain.TierResolver
}

// NewIdentifier monta o identificador. resolver nil usa a convenção de prefixos.
func NewIdentifier(allowList []string, resolver domain.TierResolver) Identifier {
	if resolver == nil {
		resolver = DefaultTierResolver()
	}
	set := make(map[string]struct{}, len(allowList))
	for _, a := range allowList {
		if a = strings.TrimSpace(a); a != "" {
			set[a] = struct{}{}
		}
	}
	return Identifier{allowList: set, resolver: resolver}
}

func (i Identifier) Identify(meta domain.RequestMeta) domain.Identity {
	addr := strings.TrimSpace(meta.Addr)
	if addr == "" {
		addr = "unknown"
	}
	addrHash := fingerprint(addr)

	tier := domain.TierFree
	credential := ""

	// O limiter não autentica: o token só vira um fingerprint grosseiro.
	// O tier "de verdade" vem de um estágio de auth anterior, se ele rodou.
	if token, ok := bearerToken(meta.Authorization); ok {
		credential = fingerprint(token)
		if meta.UpstreamTier.Valid() {
			tier = meta.UpstreamTier
		}
	}

	if apiKey := strings.TrimSpace(meta.APIKey); apiKey != "" && i.resolver != nil {
		if t, ok := i.resolver.ResolveTier(apiKey); ok && t.Valid() {
			tier = t
		}
	}

	_, allowListed := i.allowList[addr]
	if allowListed {
		tier = domain.TierUnlimited
	}

	return domain.Identity{
		Key:         domain.Key(addrHash + ":" + credential + ":" + string(tier)),
		Tier:        tier,
		AllowListed: allowListed,
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	h := strings.TrimSpace(header)
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

// fingerprint = prefixo hex do sha256. Irreversível; é o que vai para chaves e logs.
func fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// PrefixTierResolver mapeia prefixos de API key para tiers (ex: "premium_" -> premium).
//
// É uma convenção estática, não um lookup; troque por um domain.TierResolver real
// quando existir um serviço de API keys.
type PrefixTierResolver map[string]domain.Tier

func DefaultTierResolver() PrefixTierResolver {
	return PrefixTierResolver{
		"premium_": domain.TierPremium,
		"basic_":   domain.TierBasic,
	}
}

// ResolveTier usa o prefixo mais longo que casar.
func (r PrefixTierResolver) ResolveTier(apiKey string) (domain.Tier, bool) {
	best := ""
	var tier domain.Tier
	for prefix, t := range r {
		if strings.HasPrefix(apiKey, prefix) && len(prefix) > len(best) {
			best, tier = prefix, t
		}
	}
	return tier, best != ""
}
