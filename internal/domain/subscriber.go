package domain

import (
	"context"
	"time"
)

// BillingCycle is the fixed recurrence offset. Deliberately 30 days rather
// than calendar-month aware.
const BillingCycle = 30 * 24 * time.Hour

// Subscriber holds the billing state of one student. NextBillingDate is
// present iff the tier is recurring; it is only ever advanced forward, and
// only by the billing scheduler.
type Subscriber struct {
	ID              string           `bson:"_id,omitempty" json:"id"`
	Name            string           `bson:"name" json:"name"`
	Contact         string           `bson:"contact" json:"contact"` // phone, 2567XXXXXXXX
	SchoolID        string           `bson:"school_id" json:"school_id"`
	Tier            RegistrationTier `bson:"tier" json:"tier"`
	Active          bool             `bson:"active" json:"active"`
	Recurring       bool             `bson:"recurring" json:"recurring"`
	NextBillingDate *time.Time       `bson:"next_billing_date,omitempty" json:"next_billing_date,omitempty"`
	AcademicYear    string           `bson:"academic_year" json:"academic_year"`
	CreatedAt       time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `bson:"updated_at" json:"updated_at"`
}

// SubscriberRepository defines the billing scheduler's view of students
type SubscriberRepository interface {
	Create(ctx context.Context, sub *Subscriber) error
	GetByID(ctx context.Context, id string) (*Subscriber, error)
	// ListDue returns active recurring subscribers whose next billing date
	// is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*Subscriber, error)
	// AdvanceBillingDate moves the next billing date from its expected
	// current value to next. The guard keeps the date moving only forward:
	// a concurrent run that already advanced it makes this a no-op.
	AdvanceBillingDate(ctx context.Context, id string, expected, next time.Time) error
}
