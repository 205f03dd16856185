package domain

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations
type CacheRepository interface {
	// SetInvoice caches an invoice snapshot for status polling with TTL
	SetInvoice(ctx context.Context, invoice *Invoice, ttl time.Duration) error

	// GetInvoice retrieves a cached invoice snapshot.
	// Returns nil if not found or expired.
	GetInvoice(ctx context.Context, id string) (*Invoice, error)

	// InvalidateInvoice removes the cached snapshot after a status change
	InvalidateInvoice(ctx context.Context, id string) error

	// AcquireBillingLock takes the scheduler run-lock for the given billing
	// day. Returns false when another instance already holds it.
	AcquireBillingLock(ctx context.Context, day string, ttl time.Duration) (bool, error)

	// ReleaseBillingLock drops the run-lock early after a finished run
	ReleaseBillingLock(ctx context.Context, day string) error
}
