package domain

import (
	"context"
	"math"
	"time"
)

// Commission rates by transaction kind. Kinds without an explicit entry use
// defaultCommissionRate.
var commissionRates = map[string]float64{
	KindBookPurchase:      0.15,
	KindEventRegistration: 0.10,
	KindMembershipFee:     0.05,
}

const defaultCommissionRate = 0.10

// CommissionRate returns the platform's cut for a transaction kind
func CommissionRate(kind string) float64 {
	if rate, ok := commissionRates[kind]; ok {
		return rate
	}
	return defaultCommissionRate
}

// ComputeCommission rounds amount × rate to the nearest minor unit
func ComputeCommission(amount int64, kind string) int64 {
	return int64(math.Round(float64(amount) * CommissionRate(kind)))
}

// RevenuePeriod locates a revenue row in time for reporting
type RevenuePeriod struct {
	Month   int `bson:"month" json:"month"`
	Year    int `bson:"year" json:"year"`
	Quarter int `bson:"quarter" json:"quarter"`
}

// PeriodOf derives the reporting period from a completion timestamp
func PeriodOf(t time.Time) RevenuePeriod {
	t = t.UTC()
	return RevenuePeriod{
		Month:   int(t.Month()),
		Year:    t.Year(),
		Quarter: (int(t.Month())-1)/3 + 1,
	}
}

// Revenue is the platform's derived bookkeeping of the commission/net split
// for one completed transaction. Rows are append-only; TransactionID is
// unique, which enforces at-most-once booking even when the webhook fires
// twice for the same payment.
type Revenue struct {
	ID            string        `bson:"_id,omitempty" json:"id"`
	TransactionID string        `bson:"transaction_id" json:"transaction_id"`
	Amount        int64         `bson:"amount" json:"amount"`
	Commission    int64         `bson:"commission" json:"commission"`
	NetAmount     int64         `bson:"net_amount" json:"net_amount"` // always amount - commission
	Category      string        `bson:"category" json:"category"`
	Period        RevenuePeriod `bson:"period" json:"period"`
	CreatedAt     time.Time     `bson:"created_at" json:"created_at"`
}

// RevenueRepository defines operations for the revenue ledger
type RevenueRepository interface {
	// Create persists a revenue row, returning ErrDuplicateRevenue when a
	// row for the same transaction already exists.
	Create(ctx context.Context, revenue *Revenue) error
	GetByTransactionID(ctx context.Context, transactionID string) (*Revenue, error)
}
