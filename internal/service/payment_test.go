package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shulepay/shulepay/internal/domain"
)

type paymentFixture struct {
	svc       *PaymentService
	billing   *BillingService
	txns      *fakeTxnRepo
	purchases *fakePurchaseRepo
	revenues  *fakeRevenueRepo
	invoices  *fakeInvoiceRepo
	subs      *fakeSubscriberRepo
	provider  *fakeProvider
	notifier  *recordingNotifier
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	f := &paymentFixture{
		txns:      newFakeTxnRepo(),
		purchases: newFakePurchaseRepo(),
		revenues:  newFakeRevenueRepo(),
		invoices:  newFakeInvoiceRepo(),
		subs:      newFakeSubscriberRepo(),
		provider:  &fakeProvider{},
		notifier:  &recordingNotifier{},
	}
	f.billing = NewBillingService(f.invoices, f.subs, newFakeCache(), f.notifier, domain.SchoolScopedReviewPolicy{})
	f.svc = NewPaymentService(f.txns, f.purchases, f.provider, f.billing, NewRevenueService(f.revenues), f.notifier)
	return f
}

func studentCaller(id string) domain.Caller {
	return domain.Caller{UserID: id, Roles: []string{domain.RoleStudent}, SchoolID: "school-1"}
}

func TestInitiateBookPurchase(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Initiate(ctx, InitiateRequest{
		Caller:  studentCaller("stu-1"),
		Kind:    domain.KindBookPurchase,
		Amount:  20000,
		Channel: "MTN",
		BookID:  "book-7",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.GatewayRef)
	assert.NotEmpty(t, resp.PaymentURL)

	txn, err := f.txns.GetByGatewayRef(ctx, resp.GatewayRef)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusProcessing, txn.Status)
	assert.NotEmpty(t, txn.PurchaseID)
}

func TestInitiateGatewayFailureMarksTransactionFailed(t *testing.T) {
	f := newPaymentFixture(t)
	f.provider.failWith = &domain.GatewayError{StatusCode: 502, Status: "Bad Gateway"}
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, InitiateRequest{
		Caller:  studentCaller("stu-1"),
		Kind:    domain.KindBookPurchase,
		Amount:  20000,
		Channel: "MTN",
		BookID:  "book-7",
	})
	require.Error(t, err)

	// The transaction exists and is terminally failed, not stuck pending.
	f.txns.mu.Lock()
	defer f.txns.mu.Unlock()
	require.Len(t, f.txns.txns, 1)
	for _, txn := range f.txns.txns {
		assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
	}
}

func TestInitiateValidation(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, InitiateRequest{
		Caller: studentCaller("stu-1"), Kind: domain.KindBookPurchase, Amount: 0, Channel: "MTN", BookID: "b",
	})
	assert.True(t, domain.IsValidation(err))

	_, err = f.svc.Initiate(ctx, InitiateRequest{
		Caller: studentCaller("stu-1"), Kind: "tuition", Amount: 100, Channel: "MTN",
	})
	assert.True(t, domain.IsValidation(err))

	_, err = f.svc.Initiate(ctx, InitiateRequest{
		Caller: studentCaller("stu-1"), Kind: domain.KindEventRegistration, Amount: 100, Channel: "MTN",
	})
	assert.True(t, domain.IsValidation(err))
}

func TestCallbackSuccessBooksRevenueOnce(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Initiate(ctx, InitiateRequest{
		Caller:  studentCaller("stu-1"),
		Kind:    domain.KindBookPurchase,
		Amount:  10000,
		Channel: "MTN",
		BookID:  "book-7",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleCallback(ctx, resp.GatewayRef, CallbackStatusSuccess, "prov-1", ""))

	// Redelivered webhook: no second revenue row, no second notification.
	require.NoError(t, f.svc.HandleCallback(ctx, resp.GatewayRef, CallbackStatusSuccess, "prov-1", ""))

	assert.Equal(t, 1, f.revenues.count())
	assert.Equal(t, 1, f.notifier.count(domain.NotifyPaymentSuccess))

	txn, err := f.txns.GetByGatewayRef(ctx, resp.GatewayRef)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, "prov-1", txn.ProviderRef)

	// Commission split for book purchases is 15%.
	rev, err := f.revenues.GetByTransactionID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), rev.Commission)
	assert.Equal(t, int64(8500), rev.NetAmount)

	// Fulfillment side effect fired.
	f.purchases.mu.Lock()
	defer f.purchases.mu.Unlock()
	for _, p := range f.purchases.purchases {
		assert.Equal(t, domain.PurchaseStatusCompleted, p.Status)
	}
}

func TestCallbackRedeliveryHealsFailedRevenue(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Initiate(ctx, InitiateRequest{
		Caller:  studentCaller("stu-1"),
		Kind:    domain.KindBookPurchase,
		Amount:  10000,
		Channel: "MTN",
		BookID:  "book-7",
	})
	require.NoError(t, err)

	// The first delivery completes the transaction but the revenue write
	// blips. The error must surface so the gateway redelivers.
	f.revenues.failNext = fmt.Errorf("datastore unavailable")
	err = f.svc.HandleCallback(ctx, resp.GatewayRef, CallbackStatusSuccess, "prov-1", "")
	require.Error(t, err)
	assert.Equal(t, 0, f.revenues.count())

	txn, err := f.txns.GetByGatewayRef(ctx, resp.GatewayRef)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)

	// Redelivery loses the CAS but re-runs the settlement effects and
	// books the missing revenue row.
	require.NoError(t, f.svc.HandleCallback(ctx, resp.GatewayRef, CallbackStatusSuccess, "prov-1", ""))
	assert.Equal(t, 1, f.revenues.count())

	rev, err := f.revenues.GetByTransactionID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), rev.Commission)
	assert.Equal(t, int64(8500), rev.NetAmount)
}

func TestCallbackSettlesInvoice(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	sub, inv, err := f.billing.RegisterSubscriber(ctx, "Asha N.", "256700000001", "school-1", domain.TierPremier, "2026")
	require.NoError(t, err)

	resp, err := f.svc.Initiate(ctx, InitiateRequest{
		Caller:    studentCaller(sub.ID),
		Kind:      domain.KindMembershipFee,
		Channel:   "AIRTEL",
		InvoiceID: inv.ID,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleCallback(ctx, resp.GatewayRef, CallbackStatusSuccess, "prov-9", ""))

	settled, err := f.invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, settled.Status)
	require.NotNil(t, settled.PaidDate)

	txn, err := f.txns.GetByGatewayRef(ctx, resp.GatewayRef)
	require.NoError(t, err)
	// Amount taken from the invoice, 5% membership commission.
	assert.Equal(t, int64(70000), txn.Amount)
	rev, err := f.revenues.GetByTransactionID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3500), rev.Commission)
}

func TestInitiateOnPaidInvoiceRejected(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	sub, inv, err := f.billing.RegisterSubscriber(ctx, "Asha N.", "256700000001", "school-1", domain.TierPremier, "2026")
	require.NoError(t, err)
	require.NoError(t, f.invoices.MarkPaid(ctx, inv.ID, inv.CreatedAt))

	_, err = f.svc.Initiate(ctx, InitiateRequest{
		Caller:    studentCaller(sub.ID),
		Kind:      domain.KindMembershipFee,
		Channel:   "MTN",
		InvoiceID: inv.ID,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)
}

func TestCallbackFailure(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Initiate(ctx, InitiateRequest{
		Caller:  studentCaller("stu-1"),
		Kind:    domain.KindEventRegistration,
		Amount:  5000,
		Channel: "MTN",
		EventID: "event-3",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleCallback(ctx, resp.GatewayRef, CallbackStatusFailed, "", "insufficient funds"))

	txn, err := f.txns.GetByGatewayRef(ctx, resp.GatewayRef)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
	assert.Equal(t, "insufficient funds", txn.FailureReason)
	assert.Equal(t, 0, f.revenues.count())
	assert.Equal(t, 1, f.notifier.count(domain.NotifyPaymentFailed))

	// A late failure callback after success must not clobber anything;
	// simulate by completing then failing another transaction.
	resp2, err := f.svc.Initiate(ctx, InitiateRequest{
		Caller:  studentCaller("stu-1"),
		Kind:    domain.KindEventRegistration,
		Amount:  5000,
		Channel: "MTN",
		EventID: "event-4",
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleCallback(ctx, resp2.GatewayRef, CallbackStatusSuccess, "prov-2", ""))
	require.NoError(t, f.svc.HandleCallback(ctx, resp2.GatewayRef, CallbackStatusFailed, "", "late failure"))

	txn2, err := f.txns.GetByGatewayRef(ctx, resp2.GatewayRef)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, txn2.Status)
}

func TestCallbackUnknownRef(t *testing.T) {
	f := newPaymentFixture(t)

	err := f.svc.HandleCallback(context.Background(), "TP-UNKNOWN", CallbackStatusSuccess, "prov", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
