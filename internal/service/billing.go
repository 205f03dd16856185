package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shulepay/shulepay/internal/domain"
)

// invoiceCacheTTL bounds staleness of the status-polling cache. Writes
// invalidate eagerly, the TTL only covers missed invalidations.
const invoiceCacheTTL = 5 * time.Minute

// invoiceDueIn is how long a freshly issued invoice stays payable before it
// reads as overdue.
const invoiceDueIn = domain.BillingCycle

// BillingService owns subscriber registration, the invoice ledger and the
// payment-proof review workflow.
type BillingService struct {
	invoiceRepo    domain.InvoiceRepository
	subscriberRepo domain.SubscriberRepository
	cache          domain.CacheRepository
	notifier       domain.Notifier
	reviewPolicy   domain.ReviewPolicy
}

func NewBillingService(
	invoiceRepo domain.InvoiceRepository,
	subscriberRepo domain.SubscriberRepository,
	cache domain.CacheRepository,
	notifier domain.Notifier,
	reviewPolicy domain.ReviewPolicy,
) *BillingService {
	return &BillingService{
		invoiceRepo:    invoiceRepo,
		subscriberRepo: subscriberRepo,
		cache:          cache,
		notifier:       notifier,
		reviewPolicy:   reviewPolicy,
	}
}

// Tiers returns the static pricing table.
func (s *BillingService) Tiers() []domain.TierPrice {
	return domain.AllTierPrices()
}

// RegisterSubscriber creates a subscriber on the given tier and issues the
// first membership invoice. Recurring tiers get a next billing date one
// cycle out; the scheduler takes over from there.
func (s *BillingService) RegisterSubscriber(ctx context.Context, name, contact, schoolID string, tier domain.RegistrationTier, academicYear string) (*domain.Subscriber, *domain.Invoice, error) {
	if name == "" {
		return nil, nil, domain.NewValidationError("name", "name is required")
	}
	if schoolID == "" {
		return nil, nil, domain.NewValidationError("school_id", "school_id is required")
	}
	price, ok := domain.PriceOf(tier)
	if !ok {
		return nil, nil, domain.NewValidationError("tier", fmt.Sprintf("unknown tier %q", tier))
	}

	now := time.Now().UTC()
	sub := &domain.Subscriber{
		Name:         name,
		Contact:      contact,
		SchoolID:     schoolID,
		Tier:         tier,
		Active:       true,
		Recurring:    price.Recurring,
		AcademicYear: academicYear,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if price.Recurring {
		next := now.Add(domain.BillingCycle)
		sub.NextBillingDate = &next
	}

	if err := s.subscriberRepo.Create(ctx, sub); err != nil {
		return nil, nil, fmt.Errorf("failed to create subscriber: %w", err)
	}

	desc := fmt.Sprintf("%s tier registration", tier)
	inv, _, err := s.CreateInvoice(ctx, sub, domain.InvoiceCategoryMembership, price.Amount, desc, now)
	if err != nil {
		return nil, nil, err
	}

	log.Printf("[Billing] registered subscriber %s tier=%s recurring=%t invoice=%s",
		sub.ID, tier, price.Recurring, inv.InvoiceNumber)
	return sub, inv, nil
}

// CreateInvoice issues one invoice to the subscriber for the billing period
// that contains issuedAt. The owner+category+period guard makes issuing
// idempotent: a second call for the same period returns the existing open
// invoice, with created=false so callers can tell the two apart.
func (s *BillingService) CreateInvoice(ctx context.Context, sub *domain.Subscriber, category string, amount int64, description string, issuedAt time.Time) (*domain.Invoice, bool, error) {
	if amount <= 0 {
		return nil, false, domain.NewValidationError("amount", "amount must be positive")
	}

	period := domain.BillingPeriodOf(issuedAt)

	if existing, err := s.invoiceRepo.GetOpenByOwnerCategoryPeriod(ctx, sub.ID, category, period); err == nil {
		log.Printf("[Billing] open invoice %s already exists for owner=%s category=%s period=%s",
			existing.InvoiceNumber, sub.ID, category, period)
		return existing, false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	inv := &domain.Invoice{
		OwnerID:       sub.ID,
		SchoolID:      sub.SchoolID,
		InvoiceNumber: "INV-" + ulid.Make().String(),
		Category:      category,
		Description:   description,
		Amount:        amount,
		Currency:      domain.DefaultCurrency,
		Status:        domain.InvoiceStatusPending,
		DueDate:       issuedAt.Add(invoiceDueIn),
		AcademicYear:  sub.AcademicYear,
		BillingPeriod: period,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.invoiceRepo.Create(ctx, inv); err != nil {
		// The partial unique index closes the race the read-before-write
		// guard leaves open; loser fetches the winner's invoice.
		if errors.Is(err, domain.ErrDuplicateInvoice) {
			winner, getErr := s.invoiceRepo.GetOpenByOwnerCategoryPeriod(ctx, sub.ID, category, period)
			return winner, false, getErr
		}
		return nil, false, fmt.Errorf("failed to create invoice: %w", err)
	}

	s.notifier.Notify(ctx, sub.ID, "New invoice",
		fmt.Sprintf("Invoice %s for %d %s is due %s", inv.InvoiceNumber, inv.Amount, inv.Currency, inv.DueDate.Format("2006-01-02")),
		domain.NotifyInvoiceCreated)

	return inv, true, nil
}

// GetInvoice returns one invoice with its overdue status derived. Students
// can only see their own invoices; reviewers can see invoices within their
// school.
func (s *BillingService) GetInvoice(ctx context.Context, caller domain.Caller, id string) (*domain.Invoice, error) {
	if cached, err := s.cache.GetInvoice(ctx, id); err == nil && cached != nil {
		if err := s.authorizeRead(caller, cached); err != nil {
			return nil, err
		}
		cached.Status = cached.EffectiveStatus(time.Now().UTC())
		return cached, nil
	}

	inv, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(caller, inv); err != nil {
		return nil, err
	}

	if err := s.cache.SetInvoice(ctx, inv, invoiceCacheTTL); err != nil {
		log.Printf("[Billing] cache set failed for invoice %s: %v", id, err)
	}

	inv.Status = inv.EffectiveStatus(time.Now().UTC())
	return inv, nil
}

// ListInvoices returns the caller's own invoices, overdue derived.
func (s *BillingService) ListInvoices(ctx context.Context, caller domain.Caller) ([]*domain.Invoice, error) {
	invoices, err := s.invoiceRepo.ListByOwner(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, inv := range invoices {
		inv.Status = inv.EffectiveStatus(now)
	}
	return invoices, nil
}

// ReviewProof approves or rejects a submitted payment proof. Approval
// settles the invoice; rejection reopens it with the reason recorded, and
// the reason is mandatory.
func (s *BillingService) ReviewProof(ctx context.Context, caller domain.Caller, invoiceID string, approved bool, reason string) (*domain.Invoice, error) {
	if !approved && strings.TrimSpace(reason) == "" {
		return nil, domain.NewValidationError("reason", "rejection reason is required")
	}

	inv, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !s.reviewPolicy.CanReviewProof(caller, inv) {
		return nil, domain.ErrForbidden
	}
	if inv.Proof == nil {
		return nil, domain.ErrMissingProof
	}

	reviewedAt := time.Now().UTC()
	if err := s.invoiceRepo.ResolveProof(ctx, invoiceID, approved, caller.UserID, reason, reviewedAt); err != nil {
		return nil, err
	}

	if err := s.cache.InvalidateInvoice(ctx, invoiceID); err != nil {
		log.Printf("[Billing] cache invalidate failed for invoice %s: %v", invoiceID, err)
	}

	verdict := "approved"
	body := fmt.Sprintf("Your payment proof for invoice %s was approved", inv.InvoiceNumber)
	if !approved {
		verdict = "rejected"
		body = fmt.Sprintf("Your payment proof for invoice %s was rejected: %s", inv.InvoiceNumber, reason)
	}
	log.Printf("[Billing] proof %s for invoice %s by reviewer %s", verdict, invoiceID, caller.UserID)
	s.notifier.Notify(ctx, inv.OwnerID, "Payment proof "+verdict, body, domain.NotifyProofReviewed)

	return s.invoiceRepo.GetByID(ctx, invoiceID)
}

// MarkPaidFromGateway settles an invoice after a confirmed gateway payment.
// ErrAlreadyPaid from a racing proof approval is reported to the caller,
// which treats it as already done.
func (s *BillingService) MarkPaidFromGateway(ctx context.Context, invoiceID string, paidAt time.Time) error {
	if err := s.invoiceRepo.MarkPaid(ctx, invoiceID, paidAt); err != nil {
		return err
	}
	if err := s.cache.InvalidateInvoice(ctx, invoiceID); err != nil {
		log.Printf("[Billing] cache invalidate failed for invoice %s: %v", invoiceID, err)
	}
	return nil
}

// CancelInvoice voids an open invoice. Paid invoices cannot be cancelled.
func (s *BillingService) CancelInvoice(ctx context.Context, caller domain.Caller, invoiceID string) error {
	inv, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if !s.reviewPolicy.CanReviewProof(caller, inv) {
		return domain.ErrForbidden
	}
	if err := s.invoiceRepo.Cancel(ctx, invoiceID); err != nil {
		return err
	}
	return s.cache.InvalidateInvoice(ctx, invoiceID)
}

func (s *BillingService) authorizeRead(caller domain.Caller, inv *domain.Invoice) error {
	if caller.UserID == inv.OwnerID {
		return nil
	}
	if s.reviewPolicy.CanReviewProof(caller, inv) {
		return nil
	}
	return domain.ErrForbidden
}
