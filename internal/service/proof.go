package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shulepay/shulepay/internal/domain"
)

// maxProofSize caps uploaded proof artifacts at 5 MB.
const maxProofSize = 5 << 20

// ProofService handles manual payment-proof submission against pending
// invoices.
type ProofService struct {
	invoiceRepo domain.InvoiceRepository
	fileRepo    domain.FileRepository
	cache       domain.CacheRepository
	notifier    domain.Notifier
}

func NewProofService(
	invoiceRepo domain.InvoiceRepository,
	fileRepo domain.FileRepository,
	cache domain.CacheRepository,
	notifier domain.Notifier,
) *ProofService {
	return &ProofService{
		invoiceRepo: invoiceRepo,
		fileRepo:    fileRepo,
		cache:       cache,
		notifier:    notifier,
	}
}

// SubmitProof uploads a payment artifact and attaches it to the caller's
// pending invoice, moving it to verification. A paid or cancelled invoice
// rejects the submission; the uploaded file is removed again when the
// attach step loses a race.
func (s *ProofService) SubmitProof(ctx context.Context, caller domain.Caller, invoiceID string, file []byte, filename, contentType, transactionRef, notes string) (*domain.Invoice, error) {
	if len(file) == 0 {
		return nil, domain.NewValidationError("file", "proof file is required")
	}
	if len(file) > maxProofSize {
		return nil, domain.NewValidationError("file", "proof file exceeds 5MB")
	}
	if strings.TrimSpace(transactionRef) == "" {
		return nil, domain.NewValidationError("transaction_ref", "transaction reference is required")
	}

	inv, err := s.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.OwnerID != caller.UserID {
		return nil, domain.ErrForbidden
	}
	switch inv.Status {
	case domain.InvoiceStatusPending:
		// attachable
	case domain.InvoiceStatusPaid:
		return nil, domain.ErrAlreadyPaid
	default:
		return nil, domain.ErrInvalidState
	}

	storedName := fmt.Sprintf("proofs/%s-%s", ulid.Make().String(), sanitizeFilename(filename))
	fileURL, err := s.fileRepo.Upload(ctx, file, storedName, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload proof: %w", err)
	}

	proof := &domain.PaymentProof{
		FileURL:        fileURL,
		TransactionRef: transactionRef,
		Notes:          notes,
		Status:         domain.ProofStatusPending,
		UploadedAt:     time.Now().UTC(),
	}

	if err := s.invoiceRepo.AttachProof(ctx, invoiceID, proof); err != nil {
		// Invoice was settled or cancelled between the read and the attach.
		// The artifact is orphaned, so drop it.
		if delErr := s.fileRepo.Delete(ctx, storedName); delErr != nil {
			log.Printf("[Proof] failed to delete orphaned proof file %s: %v", storedName, delErr)
		}
		return nil, err
	}

	if err := s.cache.InvalidateInvoice(ctx, invoiceID); err != nil {
		log.Printf("[Proof] cache invalidate failed for invoice %s: %v", invoiceID, err)
	}

	log.Printf("[Proof] proof attached to invoice %s by owner %s", invoiceID, caller.UserID)
	return s.invoiceRepo.GetByID(ctx, invoiceID)
}

// sanitizeFilename strips path separators from a client-supplied name so the
// stored object key stays flat.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" {
		name = "proof"
	}
	return name
}
