// Package ratelimit fornece o adapter HTTP (net/http) de admission control:
// rate limit por janela deslizante com tiers de assinatura.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (identificação, decisão admit/reject, fallback remoto -> local)
//   - infra: implementações concretas (janela em memória, janela em Redis, semáforo, stats)
//   - ratelimit (este pacote): middleware HTTP + extração de endereço + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Ignora caminhos excluídos (health, docs, auth pública)
//  2. Monta os metadados da requisição (endereço, Authorization, X-API-Key, tier do contexto)
//  3. Chama a camada application para obter a decisão
//  4. Se bloqueado, responde 429 em JSON com Retry-After e X-RateLimit-*
//  5. Se permitido, anota X-RateLimit-Limit/X-RateLimit-Tier e chama o próximo handler
//
// Variáveis de ambiente dos binários (pacote config) controlam o comportamento,
// como RATE_LIMIT_WINDOW, RATE_LIMIT_TIER_FREE, RATE_LIMIT_IP_WHITELIST e REDIS_DISABLED.
package ratelimit
