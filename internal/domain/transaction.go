package domain

import (
	"context"
	"time"
)

// Transaction status constants
const (
	TransactionStatusPending    = "pending"
	TransactionStatusProcessing = "processing"
	TransactionStatusCompleted  = "completed"
	TransactionStatusFailed     = "failed"
	TransactionStatusCancelled  = "cancelled"
	TransactionStatusRefunded   = "refunded"
)

// Transaction kinds
const (
	KindBookPurchase      = "book_purchase"
	KindEventRegistration = "event_registration"
	KindMembershipFee     = "membership_fee"
)

// Transaction represents one attempt to move money through the external
// payment gateway. GatewayRef is unique and is the sole correlation key for
// webhook reconciliation; a transaction is mutated to a terminal status at
// most once.
type Transaction struct {
	ID            string     `bson:"_id,omitempty" json:"id"`
	OwnerID       string     `bson:"owner_id" json:"owner_id"`
	SchoolID      string     `bson:"school_id" json:"school_id"`
	Kind          string     `bson:"kind" json:"kind"`
	Amount        int64      `bson:"amount" json:"amount"`
	Currency      string     `bson:"currency" json:"currency"`
	GatewayRef    string     `bson:"gateway_ref" json:"gateway_ref"`
	ProviderRef   string     `bson:"provider_ref,omitempty" json:"provider_ref,omitempty"`
	Status        string     `bson:"status" json:"status"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	FailureReason string     `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	// Metadata pointing at the record the webhook side effect targets.
	// Exactly one of these is set depending on Kind.
	InvoiceID  string `bson:"invoice_id,omitempty" json:"invoice_id,omitempty"`
	PurchaseID string `bson:"purchase_id,omitempty" json:"purchase_id,omitempty"`
	EventRegID string `bson:"event_reg_id,omitempty" json:"event_reg_id,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

// TransactionRepository defines operations for managing gateway transactions
type TransactionRepository interface {
	Create(ctx context.Context, txn *Transaction) error
	GetByID(ctx context.Context, id string) (*Transaction, error)
	GetByGatewayRef(ctx context.Context, ref string) (*Transaction, error)
	// MarkProcessing moves pending → processing after the gateway accepted
	// the checkout request.
	MarkProcessing(ctx context.Context, id string) error
	// Complete atomically moves a not-yet-completed transaction to completed.
	// It returns false when the transaction was already completed, which is
	// how duplicate webhook deliveries are rejected.
	Complete(ctx context.Context, id, providerRef string, completedAt time.Time) (bool, error)
	// Fail records the terminal failure with the provider's reason.
	Fail(ctx context.Context, id, reason string) error
}
