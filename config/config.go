// Package config carrega a configuração do gateway a partir do ambiente
// (e de um .env opcional).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"
)

type Config struct {
	ListenAddr  string
	UpstreamURL string
	LogLevel    slog.Level

	RateLimit RateLimitConfig
	Redis     RedisConfig
	Stats     StatsConfig

	MetricsEnabled bool
}

type RateLimitConfig struct {
	Enabled bool
	Window  time.Duration
	// BaseLimit é o limite de quem não tem tier conhecido.
	BaseLimit     int
	Tiers         domain.TierLimits
	AllowList     []string
	ExcludedPaths []string
	SweepEvery    time.Duration
	TrustXFF      bool
	APIKeyHeader  string
}

type RedisConfig struct {
	Disabled      bool
	Host          string
	Port          int
	Password      string
	DB            int
	TLS           bool
	SocketTimeout time.Duration
	CallTimeout   time.Duration
	MaxInflight   int
	RetryInterval time.Duration
}

type StatsConfig struct {
	Enabled   bool
	Prefix    string
	TTL       time.Duration
	Bucket    string
	TrackKeys bool
	// TrackRoutes grava o path cru; paths com IDs crescem sem limite.
	TrackRoutes bool
}

// Load lê o .env (se existir) e depois o ambiente.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv monta e valida a configuração só a partir do ambiente atual.
func FromEnv() (Config, error) {
	var (
		cfg Config
		err error
	)
	p := parser{}

	cfg.ListenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.UpstreamURL = strings.TrimSpace(os.Getenv("UPSTREAM_URL"))
	cfg.MetricsEnabled = p.bool("METRICS_ENABLED", true)
	if cfg.LogLevel, err = parseLevel(getenvDefault("LOG_LEVEL", "info")); err != nil {
		p.errs = append(p.errs, err)
	}

	rl := &cfg.RateLimit
	rl.Enabled = p.bool("RATE_LIMIT_ENABLED", true)
	rl.Window = time.Duration(p.int("RATE_LIMIT_WINDOW", 60)) * time.Second
	rl.BaseLimit = p.int("RATE_LIMIT_PER_MINUTE", 100)
	rl.Tiers = domain.TierLimits{
		domain.TierFree:      p.int("RATE_LIMIT_TIER_FREE", 100),
		domain.TierBasic:     p.int("RATE_LIMIT_TIER_BASIC", 300),
		domain.TierPremium:   p.int("RATE_LIMIT_TIER_PREMIUM", 1000),
		domain.TierUnlimited: p.int("RATE_LIMIT_TIER_UNLIMITED", 5000),
	}
	rl.AllowList = splitList(os.Getenv("RATE_LIMIT_IP_WHITELIST"))
	rl.ExcludedPaths = append(ratelimit.DefaultExcludedPaths(), "/metrics")
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_EXCLUDED_PATHS")); v != "" {
		rl.ExcludedPaths = splitList(v)
	}
	rl.SweepEvery = p.duration("RATE_LIMIT_SWEEP_EVERY", 5*time.Minute)
	rl.TrustXFF = p.bool("TRUST_XFF", false)
	rl.APIKeyHeader = getenvDefault("API_KEY_HEADER", "X-API-Key")

	rc := &cfg.Redis
	rc.Disabled = p.bool("REDIS_DISABLED", false)
	rc.Host = getenvDefault("REDIS_HOST", "localhost")
	rc.Port = p.int("REDIS_PORT", 6379)
	rc.Password = os.Getenv("REDIS_PASSWORD")
	rc.DB = p.int("REDIS_DB", 0)
	rc.TLS = p.bool("REDIS_TLS", false)
	rc.SocketTimeout = p.duration("REDIS_SOCKET_TIMEOUT", 2*time.Second)
	rc.CallTimeout = p.duration("REDIS_CALL_TIMEOUT", time.Second)
	rc.MaxInflight = p.int("REDIS_MAX_INFLIGHT", 64)
	rc.RetryInterval = p.duration("REDIS_RETRY_INTERVAL", 5*time.Second)

	st := &cfg.Stats
	st.Enabled = p.bool("RATE_STATS_ENABLED", false)
	st.Prefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	st.TTL = p.duration("RATE_STATS_TTL", 24*time.Hour)
	st.Bucket = strings.ToLower(getenvDefault("RATE_STATS_BUCKET", "minute"))
	st.TrackKeys = p.bool("RATE_STATS_TRACK_KEYS", false)
	st.TrackRoutes = p.bool("RATE_STATS_TRACK_ROUTES", false)

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checa as regras que tornam a configuração inutilizável.
func (c Config) Validate() error {
	if c.RateLimit.Window <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.RateLimit.BaseLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE: %w", domain.ErrInvalidLimit)
	}
	if err := c.RateLimit.Tiers.Validate(); err != nil {
		return err
	}
	if c.Redis.MaxInflight <= 0 {
		return errors.New("REDIS_MAX_INFLIGHT must be > 0")
	}
	if c.Stats.Enabled && c.Redis.Disabled {
		return errors.New("RATE_STATS_ENABLED requires redis (REDIS_DISABLED=true)")
	}
	switch c.Stats.Bucket {
	case "minute", "hour", "none":
	default:
		return fmt.Errorf("RATE_STATS_BUCKET must be minute, hour or none, got %q", c.Stats.Bucket)
	}
	return nil
}

// RemoteEnabled diz se o backend Redis deve ser montado.
func (c Config) RemoteEnabled() bool { return !c.Redis.Disabled }

// parser acumula erros de conversão para reportar todos de uma vez.
type parser struct {
	errs []error
}

func (p *parser) int(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", k, err))
		return def
	}
	return i
}

func (p *parser) bool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", k, err))
		return def
	}
	return b
}

func (p *parser) duration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", k, err))
		return def
	}
	return d
}

func getenvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLevel(v string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
