package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shulepay/shulepay/internal/config"
	"github.com/shulepay/shulepay/internal/domain"
	"github.com/shulepay/shulepay/internal/infrastructure/tumapay"
)

// CheckoutResponse represents the response from a payment provider.
type CheckoutResponse struct {
	ProviderRef string
	SessionID   string
	PaymentURL  string
	ExpiresAt   time.Time
}

// CheckoutProvider defines the interface for payment gateway integrations.
type CheckoutProvider interface {
	// CreateCheckout opens a checkout session for the given reference and
	// amount on the requested channel.
	CreateCheckout(ctx context.Context, referenceID string, amount int64, currency, channel, payerName, payerEmail, payerPhone, comments string) (*CheckoutResponse, error)
	// VerifyWebhookSignature checks the signature on a gateway callback.
	VerifyWebhookSignature(referenceID, status, signature string) bool
}

// MockTumaPayClient is a mock implementation of CheckoutProvider for
// development.
type MockTumaPayClient struct{}

// TumaPayClientAdapter adapts the tumapay.Client to CheckoutProvider.
type TumaPayClientAdapter struct {
	client *tumapay.Client
}

// NewCheckoutProvider returns the appropriate CheckoutProvider based on
// gateway config. If no API key is configured, returns a mock client for
// development.
func NewCheckoutProvider(cfg config.GatewayConfig) CheckoutProvider {
	if cfg.APIKey == "" || cfg.MerchantCode == "" {
		log.Println("[Payment] Using mock TumaPay client (no credentials configured)")
		return &MockTumaPayClient{}
	}

	webhookURL := ""
	if cfg.NotifyURL != "" {
		webhookURL = cfg.NotifyURL + "/v1/payments/webhook/tumapay"
	}

	log.Printf("[Payment] Using real TumaPay client (base: %s, notify: %s)", cfg.BaseURL, webhookURL)
	client := tumapay.NewClient(tumapay.Config{
		MerchantCode: cfg.MerchantCode,
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		NotifyURL:    webhookURL,
	})
	return &TumaPayClientAdapter{client: client}
}

// CreateCheckout returns a mock checkout session.
func (m *MockTumaPayClient) CreateCheckout(_ context.Context, referenceID string, amount int64, currency, channel, _, _, _, _ string) (*CheckoutResponse, error) {
	sessionID := ulid.Make().String()
	log.Printf("[Payment] mock checkout ref=%s amount=%d %s channel=%s", referenceID, amount, currency, channel)
	return &CheckoutResponse{
		ProviderRef: "MOCK-" + sessionID[:10],
		SessionID:   sessionID,
		PaymentURL:  "https://checkout.tumapay.dev/mock/" + sessionID,
		ExpiresAt:   time.Now().UTC().Add(24 * time.Hour),
	}, nil
}

// VerifyWebhookSignature always accepts in mock mode.
func (m *MockTumaPayClient) VerifyWebhookSignature(_, _, _ string) bool { return true }

// CreateCheckout opens a real checkout session via the TumaPay API.
func (a *TumaPayClientAdapter) CreateCheckout(ctx context.Context, referenceID string, amount int64, currency, channel, payerName, payerEmail, payerPhone, comments string) (*CheckoutResponse, error) {
	resp, err := a.client.CreateCheckout(ctx, referenceID, amount, currency, tumapay.MapChannel(channel), payerName, payerEmail, payerPhone, comments)
	if err != nil {
		log.Printf("[Payment] TumaPay API error: %v", err)
		return nil, fmt.Errorf("payment provider error: %w", err)
	}
	return &CheckoutResponse{
		ProviderRef: resp.ProviderRef,
		SessionID:   resp.SessionID,
		PaymentURL:  resp.PaymentURL,
		ExpiresAt:   resp.ExpiresAt,
	}, nil
}

func (a *TumaPayClientAdapter) VerifyWebhookSignature(referenceID, status, signature string) bool {
	return a.client.VerifyWebhookSignature(referenceID, status, signature)
}

// Webhook status values sent by TumaPay.
const (
	CallbackStatusSuccess = "success"
	CallbackStatusFailed  = "failed"
)

// InitiateRequest carries everything needed to start one gateway payment.
type InitiateRequest struct {
	Caller     domain.Caller
	Kind       string
	Amount     int64
	Channel    string
	PayerName  string
	PayerEmail string
	PayerPhone string
	// Exactly one of these is set depending on Kind.
	BookID    string
	EventID   string
	InvoiceID string
}

// InitiateResponse is returned to the client to complete payment.
type InitiateResponse struct {
	TransactionID string    `json:"transaction_id"`
	GatewayRef    string    `json:"gateway_ref"`
	PaymentURL    string    `json:"payment_url"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// PaymentService drives the gateway transaction lifecycle: initiation on
// one side, webhook reconciliation on the other.
type PaymentService struct {
	txnRepo      domain.TransactionRepository
	purchaseRepo domain.PurchaseRepository
	provider     CheckoutProvider
	billing      *BillingService
	revenue      *RevenueService
	notifier     domain.Notifier
}

func NewPaymentService(
	txnRepo domain.TransactionRepository,
	purchaseRepo domain.PurchaseRepository,
	provider CheckoutProvider,
	billing *BillingService,
	revenue *RevenueService,
	notifier domain.Notifier,
) *PaymentService {
	return &PaymentService{
		txnRepo:      txnRepo,
		purchaseRepo: purchaseRepo,
		provider:     provider,
		billing:      billing,
		revenue:      revenue,
		notifier:     notifier,
	}
}

// Initiate creates the fulfillment record and pending transaction, then
// opens a gateway checkout. The gateway ref is generated here and is what
// the webhook uses to find its way back.
func (s *PaymentService) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if req.Amount <= 0 && req.Kind != domain.KindMembershipFee {
		return nil, domain.NewValidationError("amount", "amount must be positive")
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		OwnerID:    req.Caller.UserID,
		SchoolID:   req.Caller.SchoolID,
		Kind:       req.Kind,
		Amount:     req.Amount,
		Currency:   domain.DefaultCurrency,
		GatewayRef: "TP-" + ulid.Make().String(),
		Status:     domain.TransactionStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var comments string
	switch req.Kind {
	case domain.KindBookPurchase:
		if req.BookID == "" {
			return nil, domain.NewValidationError("book_id", "book_id is required")
		}
		purchase := &domain.BookPurchase{
			OwnerID:   req.Caller.UserID,
			SchoolID:  req.Caller.SchoolID,
			BookID:    req.BookID,
			Amount:    req.Amount,
			Status:    domain.PurchaseStatusAwaitingPayment,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.purchaseRepo.CreateBookPurchase(ctx, purchase); err != nil {
			return nil, fmt.Errorf("failed to create book purchase: %w", err)
		}
		txn.PurchaseID = purchase.ID
		comments = "Book purchase " + req.BookID

	case domain.KindEventRegistration:
		if req.EventID == "" {
			return nil, domain.NewValidationError("event_id", "event_id is required")
		}
		reg := &domain.EventRegistration{
			OwnerID:   req.Caller.UserID,
			SchoolID:  req.Caller.SchoolID,
			EventID:   req.EventID,
			Amount:    req.Amount,
			Status:    domain.EventRegStatusAwaitingPayment,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.purchaseRepo.CreateEventRegistration(ctx, reg); err != nil {
			return nil, fmt.Errorf("failed to create event registration: %w", err)
		}
		txn.EventRegID = reg.ID
		comments = "Event registration " + req.EventID

	case domain.KindMembershipFee:
		if req.InvoiceID == "" {
			return nil, domain.NewValidationError("invoice_id", "invoice_id is required")
		}
		inv, err := s.billing.GetInvoice(ctx, req.Caller, req.InvoiceID)
		if err != nil {
			return nil, err
		}
		if inv.Status == domain.InvoiceStatusPaid {
			return nil, domain.ErrAlreadyPaid
		}
		if !inv.IsOpen() && inv.Status != domain.InvoiceStatusOverdue {
			return nil, domain.ErrInvalidState
		}
		// The invoice amount wins over whatever the client sent.
		txn.Amount = inv.Amount
		txn.InvoiceID = inv.ID
		comments = "Invoice " + inv.InvoiceNumber

	default:
		return nil, domain.NewValidationError("kind", fmt.Sprintf("unknown payment kind %q", req.Kind))
	}

	if err := s.txnRepo.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	checkout, err := s.provider.CreateCheckout(ctx, txn.GatewayRef, txn.Amount, txn.Currency, req.Channel, req.PayerName, req.PayerEmail, req.PayerPhone, comments)
	if err != nil {
		if failErr := s.txnRepo.Fail(ctx, txn.ID, err.Error()); failErr != nil {
			log.Printf("[Payment] failed to mark txn %s failed: %v", txn.ID, failErr)
		}
		return nil, err
	}

	if err := s.txnRepo.MarkProcessing(ctx, txn.ID); err != nil {
		log.Printf("[Payment] failed to mark txn %s processing: %v", txn.ID, err)
	}

	log.Printf("[Payment] initiated kind=%s ref=%s amount=%d owner=%s", txn.Kind, txn.GatewayRef, txn.Amount, txn.OwnerID)
	return &InitiateResponse{
		TransactionID: txn.ID,
		GatewayRef:    txn.GatewayRef,
		PaymentURL:    checkout.PaymentURL,
		ExpiresAt:     checkout.ExpiresAt,
	}, nil
}

// HandleCallback reconciles one gateway webhook delivery. The transaction's
// terminal transition is a compare-and-swap, so redelivered webhooks become
// no-ops after the first: one revenue row, one fulfillment side effect.
func (s *PaymentService) HandleCallback(ctx context.Context, gatewayRef, status, providerRef, reason string) error {
	txn, err := s.txnRepo.GetByGatewayRef(ctx, gatewayRef)
	if err != nil {
		return fmt.Errorf("unknown gateway ref %s: %w", gatewayRef, err)
	}

	switch status {
	case CallbackStatusSuccess:
		return s.settleSuccess(ctx, txn, providerRef)
	case CallbackStatusFailed:
		if err := s.txnRepo.Fail(ctx, txn.ID, reason); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				log.Printf("[Payment] failure callback for settled txn %s, ignoring", txn.ID)
				return nil
			}
			return err
		}
		s.notifier.Notify(ctx, txn.OwnerID, "Payment failed",
			fmt.Sprintf("Your payment of %d %s could not be completed", txn.Amount, txn.Currency),
			domain.NotifyPaymentFailed)
		return nil
	default:
		return domain.NewValidationError("status", fmt.Sprintf("unknown callback status %q", status))
	}
}

func (s *PaymentService) settleSuccess(ctx context.Context, txn *domain.Transaction, providerRef string) error {
	completedAt := time.Now().UTC()

	won, err := s.txnRepo.Complete(ctx, txn.ID, providerRef, completedAt)
	if err != nil {
		return err
	}
	if !won {
		// Redelivery after the CAS already settled the transaction. The
		// settlement effects below are idempotent, so run them again in
		// case an earlier delivery failed partway through.
		log.Printf("[Payment] redelivered webhook for txn %s, re-running settlement", txn.ID)
		if txn.CompletedAt != nil {
			completedAt = *txn.CompletedAt
		}
	}

	// A failed effect here must surface to the handler as a retryable
	// error so the gateway redelivers; swallowing it would lose the
	// revenue row for a completed transaction.
	if err := s.revenue.Record(ctx, txn, completedAt); err != nil {
		return fmt.Errorf("revenue booking failed for txn %s: %w", txn.ID, err)
	}

	switch txn.Kind {
	case domain.KindBookPurchase:
		if err := s.purchaseRepo.MarkBookPurchaseCompleted(ctx, txn.PurchaseID); err != nil {
			return fmt.Errorf("failed to complete book purchase %s: %w", txn.PurchaseID, err)
		}
	case domain.KindEventRegistration:
		if err := s.purchaseRepo.MarkEventRegistrationPaid(ctx, txn.EventRegID); err != nil {
			return fmt.Errorf("failed to mark event registration %s paid: %w", txn.EventRegID, err)
		}
	case domain.KindMembershipFee:
		if err := s.billing.MarkPaidFromGateway(ctx, txn.InvoiceID, completedAt); err != nil {
			if errors.Is(err, domain.ErrAlreadyPaid) {
				log.Printf("[Payment] invoice %s already settled by another path", txn.InvoiceID)
			} else {
				return fmt.Errorf("failed to settle invoice %s: %w", txn.InvoiceID, err)
			}
		}
	}

	if !won {
		return nil // owner was notified on the first delivery
	}

	s.notifier.Notify(ctx, txn.OwnerID, "Payment received",
		fmt.Sprintf("Your payment of %d %s was received", txn.Amount, txn.Currency),
		domain.NotifyPaymentSuccess)

	log.Printf("[Payment] settled txn=%s ref=%s kind=%s", txn.ID, txn.GatewayRef, txn.Kind)
	return nil
}

// VerifySignature exposes signature checking to the webhook handler.
func (s *PaymentService) VerifySignature(referenceID, status, signature string) bool {
	return s.provider.VerifyWebhookSignature(referenceID, status, signature)
}

// GetTransaction returns one transaction for status polling. Owners only.
func (s *PaymentService) GetTransaction(ctx context.Context, caller domain.Caller, id string) (*domain.Transaction, error) {
	txn, err := s.txnRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.OwnerID != caller.UserID && !caller.HasRole(domain.RoleAdmin) {
		return nil, domain.ErrForbidden
	}
	return txn, nil
}
