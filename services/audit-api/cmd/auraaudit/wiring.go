package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"auraaudit/pkg/auth"
	"auraaudit/pkg/circuitbreaker"
	"auraaudit/pkg/database"
	"auraaudit/pkg/feed"
	"auraaudit/pkg/ratelimit"
	"auraaudit/services/audit-api/internal/store"
	"auraaudit/shared/config"
	"auraaudit/shared/eventbus"
	"auraaudit/shared/logging"
)

// backends are the external collaborators selected by configuration.
type backends struct {
	store     store.Store
	source    feed.Source
	publisher feed.Publisher
	redis     redis.UniversalClient
	closers   []func() error
}

func (b *backends) Close(logger *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("backend close", zap.Error(err))
		}
	}
}

func dbConfig(c config.DatabaseConfig) database.DBConfig {
	return database.DBConfig{
		Host:         c.Host,
		Port:         c.Port,
		User:         c.User,
		Password:     c.Password,
		DBName:       c.Name,
		SSLMode:      c.SSLMode,
		MaxOpenConns: c.MaxOpenConns,
	}
}

func newRedisClient(ctx context.Context, c config.RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(c.Addr, ","),
		Password: c.Password,
		DB:       c.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", c.Addr, err)
	}
	return client, nil
}

// openStream selects the feed source and publisher for stream.transport.
func openStream(cfg config.Config, b *backends) error {
	switch cfg.Stream.Transport {
	case "memory":
		bus := eventbus.NewBus(256)
		b.closers = append(b.closers, func() error { bus.Close(); return nil })
		b.source = feed.NewMemorySource(bus, 64)
		b.publisher = feed.NewMemoryPublisher(bus)
	case "redis":
		if b.redis == nil {
			return errors.New("stream.transport=redis requires redis.addr")
		}
		b.source = feed.NewRedisSource(b.redis)
		b.publisher = guardPublisher("redis", feed.NewRedisPublisher(b.redis))
	case "kafka":
		pub := feed.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		b.closers = append(b.closers, pub.Close)
		b.source = feed.NewKafkaSource(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		b.publisher = guardPublisher("kafka", pub)
	default:
		return fmt.Errorf("unsupported stream transport %q", cfg.Stream.Transport)
	}
	return nil
}

// guardPublisher trips after repeated publish failures.
func guardPublisher(name string, pub feed.Publisher) feed.Publisher {
	logger := logging.L()
	return feed.NewGuardedPublisher(pub, circuitbreaker.New("publish-"+name, circuitbreaker.Settings{
		FailureThreshold: 5,
		Timeout:          15 * time.Second,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			logger.Warn("publisher circuit changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	}))
}

func openBackends(ctx context.Context, cfg config.Config, autoMigrate bool) (*backends, error) {
	b := &backends{}
	ok := false
	defer func() {
		if !ok {
			b.Close(zap.NewNop())
		}
	}()

	if cfg.Redis.Addr != "" {
		client, err := newRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.redis = client
		b.closers = append(b.closers, client.Close)
	}

	switch cfg.Store.Driver {
	case "memory":
		b.store = store.NewMemory()
	case "postgres":
		dc := dbConfig(cfg.Database)
		if autoMigrate {
			if err := database.AutoMigrate(ctx, dc); err != nil {
				return nil, err
			}
		}
		db, err := database.Open(ctx, dc)
		if err != nil {
			return nil, err
		}
		b.store = store.NewPostgres(db)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	b.closers = append(b.closers, b.store.Close)

	if err := openStream(cfg, b); err != nil {
		return nil, err
	}
	ok = true
	return b, nil
}

func (b *backends) revokedStore() auth.RevokedTokenStore {
	if b.redis != nil {
		return auth.NewRedisRevokedStore(b.redis)
	}
	return auth.NewInMemoryRevokedStore()
}

func (b *backends) limiter(c config.RateLimitConfig) ratelimit.Limiter {
	if c.RPM <= 0 {
		return nil
	}
	if b.redis != nil {
		return ratelimit.NewRedisLimiter(b.redis, c.RPM, c.Burst)
	}
	return ratelimit.NewLocalLimiter(c.RPM, c.Burst)
}

// newJWTManager builds the token verifier. Without configured keys it generates an
// ephemeral pair that only lives as long as the process.
func newJWTManager(c config.AuthConfig, revoked auth.RevokedTokenStore, logger *zap.Logger) (*auth.JWTManager, error) {
	priv, pub := c.PrivateKeyPEM, c.PublicKeyPEM
	if priv == "" && pub == "" {
		var err error
		priv, pub, err = auth.GenerateKeyPair(2048)
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral key pair: %w", err)
		}
		logger.Warn("auth keys not configured; using an ephemeral key pair")
	}
	return auth.NewJWTManager(auth.JWTConfig{
		PrivateKeyPEM:     priv,
		PublicKeyPEM:      pub,
		TokenTTL:          c.TokenTTL,
		Issuer:            c.Issuer,
		RevokedTokenStore: revoked,
	})
}
