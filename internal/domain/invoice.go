package domain

import (
	"context"
	"time"
)

// Invoice status constants
const (
	InvoiceStatusPending      = "pending"
	InvoiceStatusVerification = "verification"
	InvoiceStatusPaid         = "paid"
	InvoiceStatusOverdue      = "overdue" // derived on read, never persisted
	InvoiceStatusCancelled    = "cancelled"
)

// Invoice categories
const (
	InvoiceCategoryMembership = "membership_fee"
	InvoiceCategoryEvent      = "event_registration"
	InvoiceCategoryBook       = "book_purchase"
)

// Proof status constants
const (
	ProofStatusPending  = "pending"
	ProofStatusVerified = "verified"
	ProofStatusRejected = "rejected"
)

// PaymentProof is a manually submitted payment artifact embedded in an
// Invoice. It can only be attached while the invoice is pending.
type PaymentProof struct {
	FileURL         string     `bson:"file_url" json:"file_url"`
	TransactionRef  string     `bson:"transaction_ref" json:"transaction_ref"`
	Notes           string     `bson:"notes,omitempty" json:"notes,omitempty"`
	Status          string     `bson:"status" json:"status"` // pending, verified, rejected
	UploadedAt      time.Time  `bson:"uploaded_at" json:"uploaded_at"`
	ReviewerID      string     `bson:"reviewer_id,omitempty" json:"reviewer_id,omitempty"`
	ReviewedAt      *time.Time `bson:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`
	RejectionReason string     `bson:"rejection_reason,omitempty" json:"rejection_reason,omitempty"`
}

// Invoice identifies one billable obligation owed by a subscriber.
// InvoiceNumber is globally unique and immutable once assigned; Amount is
// fixed at creation and never mutated by later payment events. Invoices are
// never physically deleted, only cancelled.
type Invoice struct {
	ID            string        `bson:"_id,omitempty" json:"id"`
	OwnerID       string        `bson:"owner_id" json:"owner_id"`
	SchoolID      string        `bson:"school_id" json:"school_id"`
	InvoiceNumber string        `bson:"invoice_number" json:"invoice_number"`
	Category      string        `bson:"category" json:"category"`
	Description   string        `bson:"description,omitempty" json:"description"`
	Amount        int64         `bson:"amount" json:"amount"` // minor currency units
	Currency      string        `bson:"currency" json:"currency"`
	Status        string        `bson:"status" json:"status"`
	DueDate       time.Time     `bson:"due_date" json:"due_date"`
	PaidDate      *time.Time    `bson:"paid_date,omitempty" json:"paid_date,omitempty"`
	AcademicYear  string        `bson:"academic_year" json:"academic_year"`
	BillingPeriod string        `bson:"billing_period" json:"billing_period"` // YYYY-MM, idempotency key component
	Proof         *PaymentProof `bson:"proof,omitempty" json:"proof,omitempty"`
	CreatedAt     time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `bson:"updated_at" json:"updated_at"`
}

// EffectiveStatus returns the status with overdue derived from the due date.
// Overdue is a read-time view of a pending invoice, not a stored transition.
func (i *Invoice) EffectiveStatus(now time.Time) string {
	if i.Status == InvoiceStatusPending && now.After(i.DueDate) {
		return InvoiceStatusOverdue
	}
	return i.Status
}

// IsOpen reports whether the invoice still counts against the
// one-open-invoice-per-owner+category+period guard
func (i *Invoice) IsOpen() bool {
	return i.Status == InvoiceStatusPending || i.Status == InvoiceStatusVerification
}

// BillingPeriodOf formats a time as the billing-period key
func BillingPeriodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// InvoiceRepository defines operations for managing invoices.
//
// The conditional updates (AttachProof, MarkPaid, ResolveProof) carry the
// expected current status and must apply atomically: they return ErrNotFound
// when no invoice matched, ErrInvalidState when the invoice exists but its
// status changed underneath the caller. That compare-and-swap is the
// serialization point between a racing webhook and a proof review.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *Invoice) error
	GetByID(ctx context.Context, id string) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Invoice, error)
	// GetOpenByOwnerCategoryPeriod returns the pending/verification invoice
	// for the duplicate-billing guard, or ErrNotFound.
	GetOpenByOwnerCategoryPeriod(ctx context.Context, ownerID, category, period string) (*Invoice, error)
	// AttachProof sets the embedded proof and moves pending → verification.
	AttachProof(ctx context.Context, id string, proof *PaymentProof) error
	// MarkPaid moves an open (pending/verification) invoice to paid and sets
	// the paid date. Returns ErrAlreadyPaid when a racing path settled the
	// invoice first.
	MarkPaid(ctx context.Context, id string, paidAt time.Time) error
	// ResolveProof finalizes a review: approve moves verification → paid,
	// reject moves verification → pending and records the reason.
	ResolveProof(ctx context.Context, id string, approved bool, reviewerID, reason string, reviewedAt time.Time) error
	Cancel(ctx context.Context, id string) error
}
