package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shulepay/shulepay/internal/domain"
)

// RevenueService books the platform's commission split for completed
// transactions. Rows are append-only and keyed by transaction ID, so
// recording the same transaction twice is a harmless no-op.
type RevenueService struct {
	revenueRepo domain.RevenueRepository
}

func NewRevenueService(revenueRepo domain.RevenueRepository) *RevenueService {
	return &RevenueService{revenueRepo: revenueRepo}
}

// Record derives and persists the revenue row for a completed transaction.
// The commission rate depends on the transaction kind; net amount is always
// gross minus commission.
func (s *RevenueService) Record(ctx context.Context, txn *domain.Transaction, completedAt time.Time) error {
	commission := domain.ComputeCommission(txn.Amount, txn.Kind)

	revenue := &domain.Revenue{
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		Commission:    commission,
		NetAmount:     txn.Amount - commission,
		Category:      txn.Kind,
		Period:        domain.PeriodOf(completedAt),
		CreatedAt:     time.Now().UTC(),
	}

	err := s.revenueRepo.Create(ctx, revenue)
	if errors.Is(err, domain.ErrDuplicateRevenue) {
		log.Printf("[Revenue] transaction %s already booked, skipping", txn.ID)
		return nil
	}
	if err != nil {
		return err
	}

	log.Printf("[Revenue] booked txn=%s amount=%d commission=%d net=%d kind=%s",
		txn.ID, revenue.Amount, revenue.Commission, revenue.NetAmount, txn.Kind)
	return nil
}

// GetByTransaction returns the revenue row booked for a transaction.
func (s *RevenueService) GetByTransaction(ctx context.Context, transactionID string) (*domain.Revenue, error) {
	return s.revenueRepo.GetByTransactionID(ctx, transactionID)
}
