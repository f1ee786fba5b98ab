package infra

import (
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClientConfig são os parâmetros de conexão do backend remoto.
type RedisClientConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TLS      bool
	// SocketTimeout vale para dial, leitura e escrita.
	SocketTimeout time.Duration
	// PoolSize limita conexões abertas; 0 usa o padrão do go-redis.
	PoolSize int
}

func (c RedisClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewRedisClient cria o client sem testar conexão (veja RedisWindowStore.Ping).
func NewRedisClient(cfg RedisClientConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
		// sem retries: quem decide o fallback é o Service
		MaxRetries: -1,
		// o deadline do ctx vale também para leitura/escrita no socket
		ContextTimeoutEnabled: true,
	}
	if cfg.SocketTimeout > 0 {
		opts.DialTimeout = cfg.SocketTimeout
		opts.ReadTimeout = cfg.SocketTimeout
		opts.WriteTimeout = cfg.SocketTimeout
		opts.PoolTimeout = cfg.SocketTimeout
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.Host,
		}
	}
	return redis.NewClient(opts)
}
