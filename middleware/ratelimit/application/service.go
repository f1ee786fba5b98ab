package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultLimit  = 100
)

// Service concentra a regra de aplicação do rate limit (RateLimiter).
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Tenta o Remote quando configurado e saudável; senão (ou em erro) usa o Local.
// Os dois nunca respondem pela mesma requisição. Se nenhum responder, admite
// (fail open): disponibilidade do serviço protegido vem antes da cota.
type Service struct {
	Identifier Identifier
	Limits     domain.TierLimits
	// DefaultLimit vale para tiers sem entrada em Limits.
	DefaultLimit int
	Window       time.Duration

	Local  domain.WindowStore
	Remote domain.WindowStore
	// RemoteTimeout é o deadline de cada chamada remota (bem menor que o do cliente).
	RemoteTimeout time.Duration
	// RemoteGate limita chamadas simultâneas ao remoto.
	RemoteGate RemoteGate
	Health     *RemoteHealth

	Now    func() time.Time
	Logger *slog.Logger
}

// Check decide se a requisição entra.
func (s Service) Check(ctx context.Context, meta domain.RequestMeta) domain.Decision {
	now := s.now()
	id := s.Identifier.Identify(meta)
	limit := s.LimitFor(id.Tier)

	dec := domain.Decision{
		Key:     id.Key,
		Allowed: true,
		Tier:    id.Tier,
		Limit:   limit,
		Backend: domain.BackendNone,
		At:      now,
	}
	if id.AllowListed {
		return dec
	}

	res, backend, err := s.countAndRecord(ctx, id.Key, now)
	if err != nil {
		s.logger().Error("rate limiter failing open",
			"key", string(id.Key),
			"tier", string(id.Tier),
			"error", err)
		return dec
	}

	dec.Count = res.Count
	dec.Backend = backend
	if res.Count > limit {
		dec.Allowed = false
		dec.RetryAfter = clampRetryAfter(res.RetryAfter)
	}
	return dec
}

// LimitFor retorna o limite do tier, ou DefaultLimit se o tier não for conhecido.
func (s Service) LimitFor(tier domain.Tier) int {
	if n, ok := s.Limits[tier]; ok && n > 0 {
		return n
	}
	if s.DefaultLimit > 0 {
		return s.DefaultLimit
	}
	return DefaultLimit
}

func (s Service) window() time.Duration {
	if s.Window <= 0 {
		return DefaultWindow
	}
	return s.Window
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s Service) countAndRecord(ctx context.Context, key domain.Key, now time.Time) (domain.WindowResult, domain.Backend, error) {
	if s.Remote != nil && s.Health.ShouldTry(now) {
		res, err := s.callRemote(ctx, key, now)
		if err == nil {
			if s.Health.MarkUp() {
				s.logger().Info("remote window store recovered")
			}
			return res, domain.BackendRemote, nil
		}

		// request cancelado pelo cliente ou pool cheio não dizem nada sobre o Redis
		if ctx.Err() == nil && !errors.Is(err, errRemoteBusy) {
			s.Health.MarkDown(now)
		}
		s.Health.Warn(func() {
			s.logger().Warn("remote window store unavailable, using local store",
				"error", err)
		})
	}

	if s.Local == nil {
		return domain.WindowResult{}, domain.BackendNone, domain.ErrBackendUnavailable
	}
	res, err := s.Local.CountAndRecord(ctx, key, s.window(), now)
	if err != nil {
		return domain.WindowResult{}, domain.BackendLocal, err
	}
	return res, domain.BackendLocal, nil
}

func (s Service) callRemote(ctx context.Context, key domain.Key, now time.Time) (domain.WindowResult, error) {
	release, err := s.RemoteGate.Enter(ctx)
	if err != nil {
		return domain.WindowResult{}, err
	}
	defer release()

	if s.RemoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.RemoteTimeout)
		defer cancel()
	}
	return s.Remote.CountAndRecord(ctx, key, s.window(), now)
}

// clampRetryAfter trunca para segundos inteiros e garante no mínimo 1s.
func clampRetryAfter(d time.Duration) time.Duration {
	secs := d / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
