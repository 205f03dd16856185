package domain

import "context"

// Notification kinds
const (
	NotifyInvoiceCreated = "invoice_created"
	NotifyPaymentSuccess = "payment_success"
	NotifyPaymentFailed  = "payment_failed"
	NotifyProofReviewed  = "proof_reviewed"
)

// Notifier delivers a message to an owner. Delivery is best-effort and
// fire-and-forget: callers must never treat a notification failure as a
// failure of the invoice or payment operation that triggered it.
type Notifier interface {
	Notify(ctx context.Context, ownerID, title, body, kind string)
}
