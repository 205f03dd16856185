package domain

import (
	"context"
	"time"
)

// Purchase/registration fulfillment statuses driven by the webhook dispatch
const (
	PurchaseStatusAwaitingPayment = "awaiting_payment"
	PurchaseStatusCompleted       = "completed"

	EventRegStatusAwaitingPayment = "awaiting_payment"
	EventRegStatusPaid            = "paid"
)

// BookPurchase is the fulfillment record for a book order paid through the
// gateway
type BookPurchase struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	OwnerID   string    `bson:"owner_id" json:"owner_id"`
	SchoolID  string    `bson:"school_id" json:"school_id"`
	BookID    string    `bson:"book_id" json:"book_id"`
	Amount    int64     `bson:"amount" json:"amount"`
	Status    string    `bson:"status" json:"status"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// EventRegistration is the fulfillment record for an event seat paid through
// the gateway
type EventRegistration struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	OwnerID   string    `bson:"owner_id" json:"owner_id"`
	SchoolID  string    `bson:"school_id" json:"school_id"`
	EventID   string    `bson:"event_id" json:"event_id"`
	Amount    int64     `bson:"amount" json:"amount"`
	Status    string    `bson:"status" json:"status"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// PurchaseRepository covers the webhook's kind-specific side effects
type PurchaseRepository interface {
	CreateBookPurchase(ctx context.Context, p *BookPurchase) error
	MarkBookPurchaseCompleted(ctx context.Context, id string) error
	CreateEventRegistration(ctx context.Context, r *EventRegistration) error
	MarkEventRegistrationPaid(ctx context.Context, id string) error
}
