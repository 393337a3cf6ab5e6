package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gearshare/internal/config"
	"gearshare/internal/domain"
)

const (
	ledgerPrefix   = "gearshare:ledger:"
	ledgerInFlight = "in_flight"
	ledgerDone     = "done"
)

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// RedisOperationLedger keeps idempotency keys for gateway mutations in Redis.
// A key is written as in_flight before the gateway call and flipped to done
// once the gateway confirms; both values carry the same TTL.
type RedisOperationLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisOperationLedger(client *redis.Client, ttl time.Duration) *RedisOperationLedger {
	return &RedisOperationLedger{client: client, ttl: ttl}
}

func (l *RedisOperationLedger) Acquire(ctx context.Context, key string) (domain.LedgerState, error) {
	if l.client == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	ok, err := l.client.SetNX(ctx, ledgerPrefix+key, ledgerInFlight, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire ledger key %s: %w", key, err)
	}
	if ok {
		return domain.LedgerAcquired, nil
	}

	val, err := l.client.Get(ctx, ledgerPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// Ключ истек между SETNX и GET, пробуем еще раз.
		return l.Acquire(ctx, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read ledger key %s: %w", key, err)
	}
	if val == ledgerDone {
		return domain.LedgerDone, nil
	}
	return domain.LedgerInFlight, nil
}

func (l *RedisOperationLedger) Peek(ctx context.Context, key string) (domain.LedgerState, error) {
	if l.client == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	val, err := l.client.Get(ctx, ledgerPrefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return domain.LedgerAbsent, nil
	case err != nil:
		return "", fmt.Errorf("failed to read ledger key %s: %w", key, err)
	case val == ledgerDone:
		return domain.LedgerDone, nil
	default:
		return domain.LedgerInFlight, nil
	}
}

func (l *RedisOperationLedger) Complete(ctx context.Context, key string) error {
	if l.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := l.client.Set(ctx, ledgerPrefix+key, ledgerDone, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete ledger key %s: %w", key, err)
	}
	return nil
}

func (l *RedisOperationLedger) Release(ctx context.Context, key string) error {
	if l.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := l.client.Del(ctx, ledgerPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release ledger key %s: %w", key, err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
