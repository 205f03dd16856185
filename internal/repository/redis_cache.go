package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shulepay/shulepay/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	invoiceDetailKeyPrefix = "invoice:detail:" // cache for invoice status polling
	billingLockKeyPrefix   = "billing:run:"    // scheduler run-lock per billing day
)

// ErrCacheMiss is returned by the generic Get when the key is absent
var ErrCacheMiss = fmt.Errorf("cache miss")

// RedisCacheRepository implements domain.CacheRepository using Redis
type RedisCacheRepository struct {
	client *redis.Client
}

// NewRedisCacheRepository creates a new Redis cache repository
func NewRedisCacheRepository(client *redis.Client) *RedisCacheRepository {
	return &RedisCacheRepository{
		client: client,
	}
}

// SetInvoice caches an invoice snapshot for status polling with TTL
func (r *RedisCacheRepository) SetInvoice(ctx context.Context, invoice *domain.Invoice, ttl time.Duration) error {
	return r.Set(ctx, invoiceDetailKeyPrefix+invoice.ID, invoice, ttl)
}

// GetInvoice retrieves a cached invoice snapshot
// Returns nil if not found or expired
func (r *RedisCacheRepository) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := r.Get(ctx, invoiceDetailKeyPrefix+id, &invoice); err != nil {
		if err == ErrCacheMiss {
			return nil, nil // Cache miss, return nil
		}
		return nil, err
	}
	return &invoice, nil
}

// InvalidateInvoice removes the cached snapshot after a status change
func (r *RedisCacheRepository) InvalidateInvoice(ctx context.Context, id string) error {
	key := invoiceDetailKeyPrefix + id
	return r.client.Del(ctx, key).Err()
}

// AcquireBillingLock takes the scheduler run-lock for one billing day.
// SetNX means exactly one instance wins; the TTL guards against a crashed
// holder keeping the lock forever.
func (r *RedisCacheRepository) AcquireBillingLock(ctx context.Context, day string, ttl time.Duration) (bool, error) {
	key := billingLockKeyPrefix + day

	ok, err := r.client.SetNX(ctx, key, "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire billing lock: %w", err)
	}
	return ok, nil
}

// ReleaseBillingLock drops the run-lock early after a finished run
func (r *RedisCacheRepository) ReleaseBillingLock(ctx context.Context, day string) error {
	key := billingLockKeyPrefix + day
	return r.client.Del(ctx, key).Err()
}

// =============================================================================
// Generic Cache Operations with OpenTelemetry Tracing
// =============================================================================

// Get retrieves a value from cache by key with OTel tracing
func (r *RedisCacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	tracer := otel.Tracer("redis")
	ctx, span := tracer.Start(ctx, "redis.Get",
		trace.WithAttributes(attribute.String("cache.key", key)),
	)
	defer span.End()

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			span.SetAttributes(attribute.String("cache.result", "miss"))
			return ErrCacheMiss
		}
		span.RecordError(err)
		return fmt.Errorf("redis get error: %w", err)
	}

	span.SetAttributes(attribute.String("cache.result", "hit"))
	if err := json.Unmarshal(data, dest); err != nil {
		span.RecordError(err)
		return fmt.Errorf("unmarshal error: %w", err)
	}

	return nil
}

// Set stores a value in cache with TTL and OTel tracing
func (r *RedisCacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	tracer := otel.Tracer("redis")
	ctx, span := tracer.Start(ctx, "redis.Set",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.ttl_seconds", int64(ttl.Seconds())),
		),
	)
	defer span.End()

	data, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal error: %w", err)
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}
