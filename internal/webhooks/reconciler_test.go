package webhooks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/settlement/internal/ledger"
	"github.com/inaiurai/settlement/internal/models"
	"github.com/inaiurai/settlement/internal/services"
	"github.com/inaiurai/settlement/internal/testutil"
	"github.com/inaiurai/settlement/internal/wallet"
)

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	store *testutil.Store
	rec   *Reconciler
	user  models.User
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	store := testutil.NewStore()
	w := wallet.NewService(store.Wallets(), store.Transactions())
	l := ledger.NewService(store, store.Transactions(), w, nil)
	v, err := services.NewValidator()
	require.NoError(t, err)
	return &fixture{
		store: store,
		rec:   NewReconciler(store.Webhooks(), l, v, nil),
		user:  store.AddUser(models.User{Email: "payee@example.com"}, balance),
	}
}

// withdrawal seeds a PROCESSING debit whose amount has already left the wallet.
func (f *fixture) withdrawal(amount, before, after string) models.Transaction {
	return f.store.AddTransaction(models.Transaction{
		UserID:          f.user.ID,
		ExternalID:      uuid.NewString(),
		Type:            models.TransactionDebit,
		Stage:           models.StageProcessing,
		Category:        models.CategoryWithdrawal,
		Amount:          dec(amount),
		PreviousBalance: dec(before),
		CurrentBalance:  dec(after),
	})
}

func (f *fixture) funding(orderID, amount, balance string) models.Transaction {
	return f.store.AddTransaction(models.Transaction{
		UserID:          f.user.ID,
		ExternalID:      orderID,
		Type:            models.TransactionCredit,
		Stage:           models.StageProcessing,
		Category:        models.CategoryAmountFunding,
		Amount:          dec(amount),
		PreviousBalance: dec(balance),
		CurrentBalance:  dec(balance),
	})
}

func payoutEvent(t *testing.T, id, ref, status string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":            id,
		"event_type":    "PAYMENT.PAYOUTS-ITEM." + status,
		"resource_type": "payouts_item",
		"resource":      map[string]any{"sender_batch_id": ref, "transaction_status": status},
	})
	require.NoError(t, err)
	return b
}

func batchEvent(t *testing.T, id, ref, status string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":            id,
		"event_type":    "PAYMENT.PAYOUTSBATCH." + status,
		"resource_type": "payouts",
		"resource": map[string]any{"batch_header": map[string]any{
			"batch_status":        status,
			"sender_batch_header": map[string]any{"sender_batch_id": ref},
		}},
	})
	require.NoError(t, err)
	return b
}

func captureEvent(t *testing.T, id, orderID, status string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":         id,
		"event_type": "PAYMENT.CAPTURE." + status,
		"resource": map[string]any{
			"id":                 "CAP-" + id,
			"status":             status,
			"supplementary_data": map[string]any{"related_ids": map[string]any{"order_id": orderID}},
		},
	})
	require.NoError(t, err)
	return b
}

func orderEvent(t *testing.T, id, orderID, status string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":         id,
		"event_type": "CHECKOUT.ORDER." + status,
		"resource":   map[string]any{"id": orderID, "status": status},
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) stage(t *testing.T, id uuid.UUID) models.TransactionStage {
	t.Helper()
	txn, ok := f.store.Transaction(id)
	require.True(t, ok)
	return txn.Stage
}

// ---------------------------------------------------------------------------
// Payouts
// ---------------------------------------------------------------------------

func TestIngest_PayoutFailureRefundsOnce(t *testing.T) {
	f := newFixture(t, "60.00")
	txn := f.withdrawal("40.00", "100.00", "60.00")
	ctx := context.Background()

	e, err := f.rec.Ingest(ctx, payoutEvent(t, "WH-1", txn.ExternalID, "FAILED"))
	require.NoError(t, err)
	assert.Equal(t, RecordFailed, e.Outcome)
	assert.True(t, dec("100.00").Equal(f.store.Balance(f.user.ID)))
	assert.Equal(t, models.StageFailed, f.stage(t, txn.ID))

	// Redelivery of the same event.
	e, err = f.rec.Ingest(ctx, payoutEvent(t, "WH-1", txn.ExternalID, "FAILED"))
	require.NoError(t, err)
	assert.Equal(t, RecordFailed, e.Outcome)
	assert.True(t, dec("100.00").Equal(f.store.Balance(f.user.ID)))

	// A different event for the same payout finds nothing PROCESSING.
	e, err = f.rec.Ingest(ctx, payoutEvent(t, "WH-2", txn.ExternalID, "RETURNED"))
	require.NoError(t, err)
	assert.Equal(t, RecordNoop, e.Outcome)
	assert.True(t, dec("100.00").Equal(f.store.Balance(f.user.ID)))
	assert.Equal(t, 2, f.store.EventCount())
}

func TestIngest_PayoutSuccessKeepsBalance(t *testing.T) {
	f := newFixture(t, "60.00")
	txn := f.withdrawal("40.00", "100.00", "60.00")

	e, err := f.rec.Ingest(context.Background(), payoutEvent(t, "WH-1", txn.ExternalID, "SUCCESS"))
	require.NoError(t, err)
	assert.Equal(t, RecordSettled, e.Outcome)
	assert.Equal(t, models.StageSuccessful, f.stage(t, txn.ID))
	assert.True(t, dec("60.00").Equal(f.store.Balance(f.user.ID)))
}

func TestIngest_BatchSuccessLeavesItemToSettle(t *testing.T) {
	f := newFixture(t, "60.00")
	txn := f.withdrawal("40.00", "100.00", "60.00")
	ctx := context.Background()

	e, err := f.rec.Ingest(ctx, batchEvent(t, "WH-1", txn.ExternalID, "SUCCESS"))
	require.NoError(t, err)
	assert.Equal(t, RecordPending, e.Outcome)
	assert.Equal(t, models.StageProcessing, f.stage(t, txn.ID))

	e, err = f.rec.Ingest(ctx, payoutEvent(t, "WH-2", txn.ExternalID, "FAILED"))
	require.NoError(t, err)
	assert.Equal(t, RecordFailed, e.Outcome)
	assert.Equal(t, models.StageFailed, f.stage(t, txn.ID))
	assert.True(t, dec("100.00").Equal(f.store.Balance(f.user.ID)))
}

func TestIngest_BatchDeniedRefunds(t *testing.T) {
	f := newFixture(t, "60.00")
	txn := f.withdrawal("40.00", "100.00", "60.00")

	e, err := f.rec.Ingest(context.Background(), batchEvent(t, "WH-1", txn.ExternalID, "DENIED"))
	require.NoError(t, err)
	assert.Equal(t, RecordFailed, e.Outcome)
	assert.Equal(t, models.StageFailed, f.stage(t, txn.ID))
	assert.True(t, dec("100.00").Equal(f.store.Balance(f.user.ID)))
}

func TestIngest_UnknownStatusChangesNothing(t *testing.T) {
	f := newFixture(t, "60.00")
	txn := f.withdrawal("40.00", "100.00", "60.00")

	e, err := f.rec.Ingest(context.Background(), payoutEvent(t, "WH-1", txn.ExternalID, "MYSTERY"))
	require.NoError(t, err)
	assert.Equal(t, RecordUnknown, e.Outcome)
	assert.Equal(t, models.StageProcessing, f.stage(t, txn.ID))
	assert.True(t, dec("60.00").Equal(f.store.Balance(f.user.ID)))
}

func TestIngest_PendingStatusChangesNothing(t *testing.T) {
	f := newFixture(t, "60.00")
	txn := f.withdrawal("40.00", "100.00", "60.00")

	e, err := f.rec.Ingest(context.Background(), payoutEvent(t, "WH-1", txn.ExternalID, "UNCLAIMED"))
	require.NoError(t, err)
	assert.Equal(t, RecordPending, e.Outcome)
	assert.Equal(t, models.StageProcessing, f.stage(t, txn.ID))
}

func TestIngest_UnmatchedReferenceIsNoop(t *testing.T) {
	f := newFixture(t, "60.00")

	e, err := f.rec.Ingest(context.Background(), payoutEvent(t, "WH-1", "no-such-ref", "FAILED"))
	require.NoError(t, err)
	assert.Equal(t, RecordNoop, e.Outcome)
	assert.True(t, dec("60.00").Equal(f.store.Balance(f.user.ID)))
}

// ---------------------------------------------------------------------------
// Funding
// ---------------------------------------------------------------------------

func TestIngest_FundingFailureLeavesBalance(t *testing.T) {
	f := newFixture(t, "10.00")
	txn := f.funding("ORDER-1", "50.00", "10.00")

	e, err := f.rec.Ingest(context.Background(), orderEvent(t, "WH-1", "ORDER-1", "VOIDED"))
	require.NoError(t, err)
	assert.Equal(t, RecordFailed, e.Outcome)
	assert.Equal(t, models.StageFailed, f.stage(t, txn.ID))
	assert.True(t, dec("10.00").Equal(f.store.Balance(f.user.ID)))
}

func TestIngest_FundingSuccessDoesNotCredit(t *testing.T) {
	f := newFixture(t, "0.00")
	txn := f.funding("ORDER-NOT-PAID", "500.00", "0.00")
	ctx := context.Background()

	e, err := f.rec.Ingest(ctx, orderEvent(t, "WH-1", "ORDER-NOT-PAID", "COMPLETED"))
	require.NoError(t, err)
	assert.Equal(t, RecordPending, e.Outcome)

	e, err = f.rec.Ingest(ctx, captureEvent(t, "WH-2", "ORDER-NOT-PAID", "COMPLETED"))
	require.NoError(t, err)
	assert.Equal(t, RecordPending, e.Outcome)

	assert.True(t, f.store.Balance(f.user.ID).IsZero())
	assert.Equal(t, models.StageProcessing, f.stage(t, txn.ID))
}

// ---------------------------------------------------------------------------
// Envelope handling
// ---------------------------------------------------------------------------

func TestIngest_InvalidEnvelopeIsStored(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()

	e, err := f.rec.Ingest(ctx, []byte(`{"event_type":"PAYMENT.PAYOUTS-ITEM.FAILED"}`))
	require.NoError(t, err)
	assert.Equal(t, RecordInvalid, e.Outcome)
	assert.Contains(t, e.EventID, "sha256:")

	e, err = f.rec.Ingest(ctx, []byte("not json"))
	require.NoError(t, err)
	assert.Equal(t, RecordInvalid, e.Outcome)
	stored, ok := f.store.Event(e.EventID)
	require.True(t, ok)
	assert.True(t, json.Valid(stored.Payload))
	assert.Equal(t, 2, f.store.EventCount())
}

func TestIngest_IgnoredFamily(t *testing.T) {
	f := newFixture(t, "0")
	body := []byte(`{"id":"WH-9","event_type":"CUSTOMER.DISPUTE.CREATED","resource":{"id":"D-1"}}`)

	e, err := f.rec.Ingest(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, RecordIgnored, e.Outcome)
}

func TestIngest_PersistFailureIsReturned(t *testing.T) {
	f := newFixture(t, "0")
	f.store.FailNext("InsertEvent", testutil.ErrInjected)

	_, err := f.rec.Ingest(context.Background(), payoutEvent(t, "WH-1", "ref", "FAILED"))
	require.ErrorIs(t, err, testutil.ErrInjected)
	assert.Zero(t, f.store.EventCount())
}

// ---------------------------------------------------------------------------
// Retry paths
// ---------------------------------------------------------------------------

func TestIngest_SeenButUnprocessedRunsAgain(t *testing.T) {
	f := newFixture(t, "60.00")
	txn := f.withdrawal("40.00", "100.00", "60.00")
	ctx := context.Background()

	f.store.FailNext("Transition", testutil.ErrInjected)
	e, err := f.rec.Ingest(ctx, payoutEvent(t, "WH-1", txn.ExternalID, "FAILED"))
	require.NoError(t, err)
	assert.False(t, e.Processed())

	stored, _ := f.store.Event("WH-1")
	assert.Nil(t, stored.ProcessedAt)
	assert.Equal(t, 1, stored.Attempts)
	assert.Contains(t, stored.LastError, "injected")
	assert.True(t, dec("60.00").Equal(f.store.Balance(f.user.ID)))

	e, err = f.rec.Ingest(ctx, payoutEvent(t, "WH-1", txn.ExternalID, "FAILED"))
	require.NoError(t, err)
	assert.Equal(t, RecordFailed, e.Outcome)
	assert.True(t, dec("100.00").Equal(f.store.Balance(f.user.ID)))
}

func TestReprocess(t *testing.T) {
	f := newFixture(t, "60.00")
	txn := f.withdrawal("40.00", "100.00", "60.00")
	ctx := context.Background()

	f.store.FailNext("Transition", testutil.ErrInjected)
	_, err := f.rec.Ingest(ctx, payoutEvent(t, "WH-1", txn.ExternalID, "FAILED"))
	require.NoError(t, err)

	f.rec.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }
	n, err := f.rec.Reprocess(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := f.store.Event("WH-1")
	assert.True(t, stored.Processed())
	assert.Equal(t, RecordFailed, stored.Outcome)
	assert.True(t, dec("100.00").Equal(f.store.Balance(f.user.ID)))

	n, err = f.rec.Reprocess(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReprocess_SkipsRecentEvents(t *testing.T) {
	f := newFixture(t, "60.00")
	txn := f.withdrawal("40.00", "100.00", "60.00")
	ctx := context.Background()

	f.store.FailNext("Transition", testutil.ErrInjected)
	_, err := f.rec.Ingest(ctx, payoutEvent(t, "WH-1", txn.ExternalID, "FAILED"))
	require.NoError(t, err)

	f.rec.now = func() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) }
	n, err := f.rec.Reprocess(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.StageProcessing, f.stage(t, txn.ID))
}

func TestProcess_AlreadyProcessed(t *testing.T) {
	f := newFixture(t, "60.00")
	txn := f.withdrawal("40.00", "100.00", "60.00")
	ctx := context.Background()

	_, err := f.rec.Ingest(ctx, payoutEvent(t, "WH-1", txn.ExternalID, "FAILED"))
	require.NoError(t, err)

	record, err := f.rec.Process(ctx, "WH-1")
	require.NoError(t, err)
	assert.Equal(t, RecordFailed, record)
	assert.True(t, dec("100.00").Equal(f.store.Balance(f.user.ID)))

	_, err = f.rec.Process(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
