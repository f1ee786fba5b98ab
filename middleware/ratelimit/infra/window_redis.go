package infra

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisWindowStore é a janela deslizante compartilhada (backend remoto),
// baseada em sorted set: membro único por requisição, score = timestamp em segundos.
//
// Tudo acontece em um único MULTI/EXEC (uma ida ao Redis):
//
//	ZREMRANGEBYSCORE key 0 now-window
//	ZADD key now member
//	ZCARD key                       (já inclui a atual)
//	EXPIRE key 2*window             (chaves de clientes inativos expiram)
//	ZRANGE key 0 0 WITHSCORES       (mais antigo, base do retry-after)
type RedisWindowStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisWindowOption func(*RedisWindowStore)

func WithWindowPrefix(prefix string) RedisWindowOption {
	return func(s *RedisWindowStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisWindowStore(rdb redis.UniversalClient, opts ...RedisWindowOption) *RedisWindowStore {
	s := &RedisWindowStore{
		rdb:    rdb,
		prefix: "rate_limit",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisWindowStore) redisKey(key domain.Key) string {
	return s.prefix + ":" + string(key)
}

// CountAndRecord implementa domain.WindowStore.
// Qualquer erro de transporte/protocolo volta embrulhado em domain.ErrBackendUnavailable.
func (s *RedisWindowStore) CountAndRecord(ctx context.Context, key domain.Key, window time.Duration, now time.Time) (domain.WindowResult, error) {
	if s == nil || s.rdb == nil {
		return domain.WindowResult{}, domain.ErrBackendUnavailable
	}

	k := s.redisKey(key)
	score := unixSeconds(now)
	minScore := unixSeconds(now.Add(-window))
	// o membro precisa ser único: duas requisições no mesmo microssegundo contam duas vezes
	member := strconv.FormatFloat(score, 'f', 6, 64) + "-" + uuid.NewString()

	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "0", strconv.FormatFloat(minScore, 'f', -1, 64))
		pipe.ZAdd(ctx, k, redis.Z{Score: score, Member: member})
		card = pipe.ZCard(ctx, k)
		pipe.Expire(ctx, k, 2*window)
		oldest = pipe.ZRangeWithScores(ctx, k, 0, 0)
		return nil
	})
	if err != nil {
		return domain.WindowResult{}, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}

	res := domain.WindowResult{Count: int(card.Val()), RetryAfter: window}
	if zs := oldest.Val(); len(zs) > 0 {
		// arredonda para microssegundo: floats em escala de epoch perdem precisão
		elapsed := time.Duration(math.Round((score-zs[0].Score)*1e6)) * time.Microsecond
		res.RetryAfter = window - elapsed
	}
	return res, nil
}

// Ping verifica a conexão com um timeout curto.
func (s *RedisWindowStore) Ping(ctx context.Context, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

// unixSeconds com precisão de microssegundo.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

var _ domain.WindowStore = (*RedisWindowStore)(nil)
