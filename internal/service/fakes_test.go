package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shulepay/shulepay/internal/domain"
)

// In-memory fakes mirroring the Mongo repositories' conditional-update
// semantics, so the services can be exercised without a database.

type fakeInvoiceRepo struct {
	mu       sync.Mutex
	seq      int
	invoices map[string]*domain.Invoice
	// beforeAttach runs before AttachProof takes the lock, letting tests
	// interleave a concurrent settlement.
	beforeAttach func()
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{invoices: make(map[string]*domain.Invoice)}
}

func (r *fakeInvoiceRepo) Create(_ context.Context, inv *domain.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.invoices {
		if existing.OwnerID == inv.OwnerID && existing.Category == inv.Category &&
			existing.BillingPeriod == inv.BillingPeriod && existing.IsOpen() {
			return domain.ErrDuplicateInvoice
		}
	}
	r.seq++
	inv.ID = "inv-" + strconv.Itoa(r.seq)
	cp := *inv
	r.invoices[inv.ID] = &cp
	return nil
}

func (r *fakeInvoiceRepo) get(id string) (*domain.Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return inv, nil
}

func (r *fakeInvoiceRepo) GetByID(_ context.Context, id string) (*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, err := r.get(id)
	if err != nil {
		return nil, err
	}
	cp := *inv
	return &cp, nil
}

func (r *fakeInvoiceRepo) GetByNumber(_ context.Context, number string) (*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.InvoiceNumber == number {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeInvoiceRepo) ListByOwner(_ context.Context, ownerID string) ([]*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Invoice
	for _, inv := range r.invoices {
		if inv.OwnerID == ownerID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeInvoiceRepo) GetOpenByOwnerCategoryPeriod(_ context.Context, ownerID, category, period string) (*domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.OwnerID == ownerID && inv.Category == category && inv.BillingPeriod == period && inv.IsOpen() {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeInvoiceRepo) AttachProof(_ context.Context, id string, proof *domain.PaymentProof) error {
	if r.beforeAttach != nil {
		r.beforeAttach()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, err := r.get(id)
	if err != nil {
		return err
	}
	switch inv.Status {
	case domain.InvoiceStatusPending:
		inv.Proof = proof
		inv.Status = domain.InvoiceStatusVerification
		return nil
	case domain.InvoiceStatusPaid:
		return domain.ErrAlreadyPaid
	default:
		return domain.ErrInvalidState
	}
}

func (r *fakeInvoiceRepo) MarkPaid(_ context.Context, id string, paidAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, err := r.get(id)
	if err != nil {
		return err
	}
	switch inv.Status {
	case domain.InvoiceStatusPending, domain.InvoiceStatusVerification:
		inv.Status = domain.InvoiceStatusPaid
		inv.PaidDate = &paidAt
		return nil
	case domain.InvoiceStatusPaid:
		return domain.ErrAlreadyPaid
	default:
		return domain.ErrInvalidState
	}
}

func (r *fakeInvoiceRepo) ResolveProof(_ context.Context, id string, approved bool, reviewerID, reason string, reviewedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, err := r.get(id)
	if err != nil {
		return err
	}
	if inv.Status == domain.InvoiceStatusPaid {
		return domain.ErrAlreadyPaid
	}
	if inv.Status != domain.InvoiceStatusVerification {
		return domain.ErrInvalidState
	}
	if inv.Proof == nil {
		return domain.ErrMissingProof
	}
	inv.Proof.ReviewerID = reviewerID
	inv.Proof.ReviewedAt = &reviewedAt
	if approved {
		inv.Proof.Status = domain.ProofStatusVerified
		inv.Status = domain.InvoiceStatusPaid
		inv.PaidDate = &reviewedAt
	} else {
		inv.Proof.Status = domain.ProofStatusRejected
		inv.Proof.RejectionReason = reason
		inv.Status = domain.InvoiceStatusPending
	}
	return nil
}

func (r *fakeInvoiceRepo) Cancel(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, err := r.get(id)
	if err != nil {
		return err
	}
	if inv.Status == domain.InvoiceStatusPaid {
		return domain.ErrAlreadyPaid
	}
	inv.Status = domain.InvoiceStatusCancelled
	return nil
}

type fakeTxnRepo struct {
	mu   sync.Mutex
	seq  int
	txns map[string]*domain.Transaction
}

func newFakeTxnRepo() *fakeTxnRepo {
	return &fakeTxnRepo{txns: make(map[string]*domain.Transaction)}
}

func (r *fakeTxnRepo) Create(_ context.Context, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.txns {
		if existing.GatewayRef == txn.GatewayRef {
			return fmt.Errorf("duplicate gateway ref %s", txn.GatewayRef)
		}
	}
	r.seq++
	txn.ID = "txn-" + strconv.Itoa(r.seq)
	cp := *txn
	r.txns[txn.ID] = &cp
	return nil
}

func (r *fakeTxnRepo) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *txn
	return &cp, nil
}

func (r *fakeTxnRepo) GetByGatewayRef(_ context.Context, ref string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range r.txns {
		if txn.GatewayRef == ref {
			cp := *txn
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeTxnRepo) MarkProcessing(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[id]
	if !ok {
		return domain.ErrNotFound
	}
	if txn.Status != domain.TransactionStatusPending {
		return domain.ErrInvalidState
	}
	txn.Status = domain.TransactionStatusProcessing
	return nil
}

func (r *fakeTxnRepo) Complete(_ context.Context, id, providerRef string, completedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if txn.Status == domain.TransactionStatusCompleted {
		return false, nil
	}
	txn.Status = domain.TransactionStatusCompleted
	txn.ProviderRef = providerRef
	txn.CompletedAt = &completedAt
	return true, nil
}

func (r *fakeTxnRepo) Fail(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[id]
	if !ok {
		return domain.ErrNotFound
	}
	if txn.Status == domain.TransactionStatusCompleted {
		return domain.ErrInvalidState
	}
	txn.Status = domain.TransactionStatusFailed
	txn.FailureReason = reason
	return nil
}

type fakeRevenueRepo struct {
	mu       sync.Mutex
	seq      int
	rows     map[string]*domain.Revenue // keyed by transaction id
	failNext error                      // returned by the next Create, then cleared
}

func newFakeRevenueRepo() *fakeRevenueRepo {
	return &fakeRevenueRepo{rows: make(map[string]*domain.Revenue)}
}

func (r *fakeRevenueRepo) Create(_ context.Context, rev *domain.Revenue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	if _, ok := r.rows[rev.TransactionID]; ok {
		return domain.ErrDuplicateRevenue
	}
	r.seq++
	rev.ID = "rev-" + strconv.Itoa(r.seq)
	cp := *rev
	r.rows[rev.TransactionID] = &cp
	return nil
}

func (r *fakeRevenueRepo) GetByTransactionID(_ context.Context, transactionID string) (*domain.Revenue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rev, ok := r.rows[transactionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rev
	return &cp, nil
}

func (r *fakeRevenueRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type fakeSubscriberRepo struct {
	mu   sync.Mutex
	seq  int
	subs map[string]*domain.Subscriber
}

func newFakeSubscriberRepo() *fakeSubscriberRepo {
	return &fakeSubscriberRepo{subs: make(map[string]*domain.Subscriber)}
}

func (r *fakeSubscriberRepo) Create(_ context.Context, sub *domain.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	sub.ID = "sub-" + strconv.Itoa(r.seq)
	cp := *sub
	if sub.NextBillingDate != nil {
		d := *sub.NextBillingDate
		cp.NextBillingDate = &d
	}
	r.subs[sub.ID] = &cp
	return nil
}

func (r *fakeSubscriberRepo) GetByID(_ context.Context, id string) (*domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *fakeSubscriberRepo) ListDue(_ context.Context, now time.Time) ([]*domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscriber
	for _, sub := range r.subs {
		if sub.Active && sub.Recurring && sub.NextBillingDate != nil && !sub.NextBillingDate.After(now) {
			cp := *sub
			d := *sub.NextBillingDate
			cp.NextBillingDate = &d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSubscriberRepo) AdvanceBillingDate(_ context.Context, id string, expected, next time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if sub.NextBillingDate == nil || sub.NextBillingDate.After(expected) {
		return nil
	}
	sub.NextBillingDate = &next
	return nil
}

type fakePurchaseRepo struct {
	mu        sync.Mutex
	seq       int
	purchases map[string]*domain.BookPurchase
	regs      map[string]*domain.EventRegistration
}

func newFakePurchaseRepo() *fakePurchaseRepo {
	return &fakePurchaseRepo{
		purchases: make(map[string]*domain.BookPurchase),
		regs:      make(map[string]*domain.EventRegistration),
	}
}

func (r *fakePurchaseRepo) CreateBookPurchase(_ context.Context, p *domain.BookPurchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	p.ID = "bp-" + strconv.Itoa(r.seq)
	cp := *p
	r.purchases[p.ID] = &cp
	return nil
}

func (r *fakePurchaseRepo) MarkBookPurchaseCompleted(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.purchases[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = domain.PurchaseStatusCompleted
	return nil
}

func (r *fakePurchaseRepo) CreateEventRegistration(_ context.Context, reg *domain.EventRegistration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	reg.ID = "er-" + strconv.Itoa(r.seq)
	cp := *reg
	r.regs[reg.ID] = &cp
	return nil
}

func (r *fakePurchaseRepo) MarkEventRegistrationPaid(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	if !ok {
		return domain.ErrNotFound
	}
	reg.Status = domain.EventRegStatusPaid
	return nil
}

type fakeCache struct {
	mu       sync.Mutex
	invoices map[string]*domain.Invoice
	locks    map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		invoices: make(map[string]*domain.Invoice),
		locks:    make(map[string]bool),
	}
}

func (c *fakeCache) SetInvoice(_ context.Context, inv *domain.Invoice, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *inv
	c.invoices[inv.ID] = &cp
	return nil
}

func (c *fakeCache) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inv, ok := c.invoices[id]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (c *fakeCache) InvalidateInvoice(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.invoices, id)
	return nil
}

func (c *fakeCache) AcquireBillingLock(_ context.Context, day string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[day] {
		return false, nil
	}
	c.locks[day] = true
	return true, nil
}

func (c *fakeCache) ReleaseBillingLock(_ context.Context, day string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, day)
	return nil
}

type fakeFileRepo struct {
	mu      sync.Mutex
	stored  map[string][]byte
	deleted []string
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{stored: make(map[string][]byte)}
}

func (r *fakeFileRepo) Upload(_ context.Context, file []byte, filename, _ string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored[filename] = file
	return "https://files.test/" + filename, nil
}

func (r *fakeFileRepo) Delete(_ context.Context, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stored, filename)
	r.deleted = append(r.deleted, filename)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *recordingNotifier) Notify(_ context.Context, _, _, _, kind string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, k := range n.kinds {
		if k == kind {
			c++
		}
	}
	return c
}

type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	failWith error
}

func (p *fakeProvider) CreateCheckout(_ context.Context, referenceID string, _ int64, _, _, _, _, _, _ string) (*CheckoutResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failWith != nil {
		return nil, p.failWith
	}
	return &CheckoutResponse{
		ProviderRef: "prov-" + referenceID,
		SessionID:   "sess-" + referenceID,
		PaymentURL:  "https://checkout.test/" + referenceID,
		ExpiresAt:   time.Now().UTC().Add(24 * time.Hour),
	}, nil
}

func (p *fakeProvider) VerifyWebhookSignature(_, _, _ string) bool { return true }
