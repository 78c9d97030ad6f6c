package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type stubDocs struct {
	sale     integration.Sale
	purchase integration.Purchase
	err      error
}

func (s *stubDocs) CompleteSale(_ context.Context, sale integration.Sale) (integration.CompletedSale, error) {
	s.sale = sale
	if s.err != nil {
		return integration.CompletedSale{}, s.err
	}
	return integration.CompletedSale{Sale: sale, EntryID: 10, COGSEntryID: 11, COGSPosted: true, CostOfGoods: decimal.NewFromInt(74), BatchesTaken: 2}, nil
}

func (s *stubDocs) ReceivePurchase(_ context.Context, purchase integration.Purchase) (integration.ReceivedPurchase, error) {
	s.purchase = purchase
	if s.err != nil {
		return integration.ReceivedPurchase{}, s.err
	}
	return integration.ReceivedPurchase{EntryID: 20, BatchIDs: []int64{1, 2}}, nil
}

type stubEntries struct {
	err error
}

func (s stubEntries) Reverse(context.Context, int64, string, int64) (int64, error) {
	return 99, s.err
}

func (s stubEntries) GetAccountBalance(context.Context, int64) (decimal.Decimal, error) {
	return decimal.RequireFromString("119.004"), s.err
}

func run(fn func(IOOptions) int, input string) (int, string, string) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := fn(IOOptions{Input: strings.NewReader(input), Stdout: stdout, Stderr: stderr})
	return code, stdout.String(), stderr.String()
}

const saleDoc = `{
  "id": 1, "number": "S-1", "branch_id": 1, "warehouse_id": 2,
  "date": "2025-03-14T00:00:00Z",
  "subtotal": "100", "tax": "14", "discount": "10", "shipping": "5", "paid": true,
  "payments": [{"method": "cash", "amount": "109"}],
  "lines": [{"product_id": 5, "quantity": "7"}],
  "actor_id": 3
}`

func TestCompleteSaleCommand(t *testing.T) {
	docs := &stubDocs{}
	c := NewLedgerCLI(docs, stubEntries{})
	code, stdout, stderr := run(func(o IOOptions) int { return c.CompleteSaleCommand(context.Background(), o) }, saleDoc)

	require.Equal(t, 0, code, stderr)
	require.Equal(t, int64(2), docs.sale.WarehouseID)
	require.True(t, decimal.NewFromInt(109).Equal(docs.sale.Total()))
	require.Equal(t, integration.PaymentCash, docs.sale.Payments[0].Method)
	require.True(t, decimal.NewFromInt(7).Equal(docs.sale.Lines[0].Quantity))

	var result SaleResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	require.Equal(t, SaleResult{EntryID: 10, COGSEntryID: 11, CostOfGoods: "74.00", BatchesTaken: 2}, result)
}

func TestCompleteSaleCommandErrors(t *testing.T) {
	c := NewLedgerCLI(&stubDocs{}, stubEntries{})
	code, _, stderr := run(func(o IOOptions) int { return c.CompleteSaleCommand(context.Background(), o) }, "{")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "decode document")

	cases := []struct {
		err  error
		code int
	}{
		{accounting.ErrUnbalanced, 2},
		{integration.ErrInvalidDocument, 2},
		{accounting.ErrSourceAlreadyLinked, 3},
		{shared.NewIntegrityError("lock accounts", errors.New("account 4 missing")), 4},
		{errors.New("boom"), 1},
	}
	for _, tc := range cases {
		c := NewLedgerCLI(&stubDocs{err: tc.err}, stubEntries{})
		code, _, stderr := run(func(o IOOptions) int { return c.CompleteSaleCommand(context.Background(), o) }, saleDoc)
		require.Equal(t, tc.code, code, tc.err.Error())
		require.NotContains(t, stderr, "account 4 missing")
	}
}

func TestReceivePurchaseCommand(t *testing.T) {
	docs := &stubDocs{}
	c := NewLedgerCLI(docs, stubEntries{})
	doc := `{"id": 4, "number": "P-4", "branch_id": 1, "warehouse_id": 2, "subtotal": "90", "amount_paid": "40",
	  "lines": [{"product_id": 5, "quantity": "9", "unit_cost": "10", "batch_number": "LOT-9"}]}`
	code, stdout, stderr := run(func(o IOOptions) int { return c.ReceivePurchaseCommand(context.Background(), o) }, doc)

	require.Equal(t, 0, code, stderr)
	require.Equal(t, "LOT-9", docs.purchase.Lines[0].BatchNumber)
	require.True(t, decimal.NewFromInt(40).Equal(docs.purchase.AmountPaid))
	require.JSONEq(t, `{"entry_id":20,"batch_ids":[1,2]}`, stdout)
}

func TestReverseAndBalanceCommands(t *testing.T) {
	c := NewLedgerCLI(&stubDocs{}, stubEntries{})

	code, stdout, _ := run(func(o IOOptions) int { return c.ReverseCommand(context.Background(), 5, "typo", 1, o) }, "")
	require.Equal(t, 0, code)
	require.JSONEq(t, `{"reversal_id":99}`, stdout)

	code, _, stderr := run(func(o IOOptions) int { return c.ReverseCommand(context.Background(), 0, "", 1, o) }, "")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--id")

	failing := NewLedgerCLI(&stubDocs{}, stubEntries{err: accounting.ErrAlreadyReversed})
	code, _, _ = run(func(o IOOptions) int { return failing.ReverseCommand(context.Background(), 5, "", 1, o) }, "")
	require.Equal(t, 3, code)

	code, stdout, _ = run(func(o IOOptions) int { return c.BalanceCommand(context.Background(), 7, o) }, "")
	require.Equal(t, 0, code)
	require.Equal(t, "119.00\n", stdout)
}

type stubQueue struct {
	enqueued []*asynq.Task
	info     *asynq.QueueInfo
	closed   int
}

func (s *stubQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.enqueued = append(s.enqueued, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubQueue) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, nil
}

func (s *stubQueue) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "s1"}}, nil
}

func (s *stubQueue) Close() error {
	s.closed++
	return nil
}

func TestJobsCLITriggerAndInspect(t *testing.T) {
	q := &stubQueue{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Scheduled: 1, Failed: 2}}
	c := NewJobsCLIWith(q, q)
	c.now = func() time.Time { return time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	info, err := c.Trigger(ctx, jobs.TaskGLIntegrity)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskGLIntegrity, info.Type)

	_, err = c.Trigger(ctx, jobs.TaskInventoryValuation, 1, 2)
	require.NoError(t, err)
	var payload jobs.ValuationPayload
	require.NoError(t, json.Unmarshal(q.enqueued[1].Payload(), &payload))
	require.Equal(t, []int64{1, 2}, payload.BranchIDs)

	_, err = c.Trigger(ctx, "unknown")
	require.Error(t, err)

	stats, err := c.InspectQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 3, Scheduled: 1, Failed: 2}, stats)

	scheduled, err := c.ListScheduled(ctx, 0)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)

	require.NoError(t, c.Close())
	require.Equal(t, 2, q.closed)
}
