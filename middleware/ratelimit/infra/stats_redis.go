package infra

import (
	"context"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore agrega as decisões em hashes compartilhados pela frota.
// Campos são "<dimensão>:<outcome>" com outcome admitted/rejected:
//
//	<prefix>:total                  admitted / rejected
//	<prefix>:<bucket>:<timestamp>   série por minuto ou hora (expira com ttl)
//	<prefix>:tier                   free:admitted, premium:rejected, ...
//	<prefix>:backend                remote:admitted, local:rejected, ...
//	<prefix>:route                  "GET:admitted"; com WithStatsTrackRoutes, "GET /api:admitted"
//	<prefix>:key:<ClientKey>        opcional (expira com ttl)
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl vale para série temporal e chaves por cliente; os agregados não expiram
	ttl       time.Duration
	bucket    string
	trackKeys bool
	// trackRoutes usa o path cru no campo de rota (cardinalidade aberta)
	trackRoutes bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket: "minute" (padrão), "hour" ou "none".
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

// WithStatsTrackRoutes inclui o path no campo de rota. Só faz sentido
// quando os paths não carregam IDs.
func WithStatsTrackRoutes(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackRoutes = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// bucketFormats: layout do timestamp de cada série.
var bucketFormats = map[string]string{
	"minute": "200601021504",
	"hour":   "2006010215",
}

type hincr struct {
	key, field string
	expire     bool
}

func (s *RedisStatsStore) increments(ev domain.StatsEvent) []hincr {
	out := ev.Outcome()
	incs := []hincr{{key: s.prefix + ":total", field: out}}

	if layout, ok := bucketFormats[s.bucket]; ok {
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		incs = append(incs, hincr{
			key:    s.prefix + ":" + s.bucket + ":" + at.UTC().Format(layout),
			field:  out,
			expire: true,
		})
	}
	if ev.Tier != "" {
		incs = append(incs, hincr{key: s.prefix + ":tier", field: string(ev.Tier) + ":" + out})
	}
	if ev.Backend != "" {
		incs = append(incs, hincr{key: s.prefix + ":backend", field: string(ev.Backend) + ":" + out})
	}
	route := strings.ToUpper(strings.TrimSpace(ev.Method))
	if s.trackRoutes {
		route = ev.Route()
	}
	if route != "" {
		incs = append(incs, hincr{key: s.prefix + ":route", field: route + ":" + out})
	}
	if s.trackKeys && ev.Key != "" {
		incs = append(incs, hincr{key: s.prefix + ":key:" + string(ev.Key), field: out, expire: true})
	}
	return incs
}

// Record grava tudo em um único pipeline.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, inc := range s.increments(ev) {
		pipe.HIncrBy(ctx, inc.key, inc.field, 1)
		if inc.expire && s.ttl > 0 {
			pipe.Expire(ctx, inc.key, s.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}
