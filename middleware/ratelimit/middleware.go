package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// AddrFunc extrai o endereço de rede do cliente (sem porta).
type AddrFunc func(r *http.Request) string

// Checker é o RateLimiter visto pelo middleware (application.Service implementa).
type Checker interface {
	Check(ctx context.Context, meta domain.RequestMeta) domain.Decision
}

type Options struct {
	Limiter Checker
	Stats   domain.StatsStore
	// StatsTimeout limita cada Record; padrão defaultStatsTimeout.
	StatsTimeout       time.Duration
	AddrFn             AddrFunc
	TrustXForwardedFor bool
	// APIKeyHeader padrão: X-API-Key.
	APIKeyHeader string
	// ExcludedPaths são prefixos que passam direto, sem identificação nem contagem.
	ExcludedPaths []string
	Logger        *slog.Logger
}

// DefaultExcludedPaths: health checks, documentação e o endpoint público de auth.
func DefaultExcludedPaths() []string {
	return []string{"/docs", "/redoc", "/openapi.json", "/health", "/favicon.ico", "/api/auth/public"}
}

const (
	rateLimitExceededDetail = "Rate limit exceeded"
	defaultStatsTimeout     = 250 * time.Millisecond
)

type rejection struct {
	Detail     string `json:"detail"`
	RetryAfter int    `json:"retry_after"`
	Tier       string `json:"tier"`
	Limit      int    `json:"limit"`
}

func DefaultAddrFunc(trustXFF bool) AddrFunc {
	return func(r *http.Request) string {
		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if ip := strings.TrimSpace(parts[0]); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware é o estágio de admission control.
//
// Por requisição: PENDING -> ADMITTED (chama next e anota headers) ou
// REJECTED (429 JSON, next nunca é chamado). Não há retry interno.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.AddrFn == nil {
		opts.AddrFn = DefaultAddrFunc(opts.TrustXForwardedFor)
	}
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = "X-API-Key"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StatsTimeout <= 0 {
		opts.StatsTimeout = defaultStatsTimeout
	}

	return func(next http.Handler) http.Handler {
		if opts.Limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded(r.URL.Path, opts.ExcludedPaths) {
				next.ServeHTTP(w, r)
				return
			}

			meta := domain.RequestMeta{
				Addr:          opts.AddrFn(r),
				Authorization: r.Header.Get("Authorization"),
				APIKey:        strings.TrimSpace(r.Header.Get(opts.APIKeyHeader)),
			}
			if tier, ok := TierFromContext(r.Context()); ok {
				meta.UpstreamTier = tier
			}

			dec := opts.Limiter.Check(r.Context(), meta)
			if opts.Stats != nil {
				recordStats(r.Context(), opts, domain.NewStatsEvent(dec, r.Method, r.URL.Path))
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
			h.Set("X-RateLimit-Tier", string(dec.Tier))

			if !dec.Allowed {
				opts.Logger.Info("rate limit exceeded",
					"key", string(dec.Key),
					"tier", string(dec.Tier),
					"limit", dec.Limit,
					"path", r.URL.Path,
					"retry_after", dec.RetryAfterSeconds())
				writeTooManyRequests(w, dec)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// recordStats não deixa um coletor lento segurar a requisição.
func recordStats(ctx context.Context, opts Options, ev domain.StatsEvent) {
	ctx, cancel := context.WithTimeout(ctx, opts.StatsTimeout)
	defer cancel()
	if err := opts.Stats.Record(ctx, ev); err != nil {
		opts.Logger.Debug("rate limit stats not recorded", "error", err)
	}
}

func excluded(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func writeTooManyRequests(w http.ResponseWriter, dec domain.Decision) {
	retry := dec.RetryAfterSeconds()
	at := dec.At
	if at.IsZero() {
		at = time.Now()
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Retry-After", formatInt(retry))
	h.Set("X-RateLimit-Reset", formatInt64(at.Add(time.Duration(retry)*time.Second).Unix()))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rejection{
		Detail:     rateLimitExceededDetail,
		RetryAfter: retry,
		Tier:       string(dec.Tier),
		Limit:      dec.Limit,
	})
}
