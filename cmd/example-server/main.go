package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

func main() {
	// Exemplo: middleware montado direto no router do serviço (sem proxy), só store local
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	local := infra.NewMemoryWindowStore()
	local.StartJanitor(ctx, 5*time.Minute)

	svc := application.Service{
		Identifier: application.NewIdentifier(nil, nil),
		Limits: domain.TierLimits{
			domain.TierFree:      5,
			domain.TierBasic:     10,
			domain.TierPremium:   20,
			domain.TierUnlimited: 100,
		},
		Window: time.Minute,
		Local:  local,
		Logger: logger,
	}

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	logger.Info("example server listening", "addr", addr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}

func newRouter(limiter ratelimit.Checker, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(demoAuth)
	r.Use(ratelimit.Middleware(ratelimit.Options{
		Limiter:       limiter,
		ExcludedPaths: ratelimit.DefaultExcludedPaths(),
		Logger:        logger,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/api/hello", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello\n"))
	})
	return r
}

// demoAuth faz o papel do estágio de autenticação: tokens "demo-<tier>" carregam o tier.
// Sem validação nenhuma, só para exemplo.
func demoAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer demo-")
		if ok {
			if tier, err := domain.ParseTier(token); err == nil {
				r = r.WithContext(ratelimit.WithTier(r.Context(), tier))
			}
		}
		next.ServeHTTP(w, r)
	})
}
