package inventory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/memdb"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type countingMetrics struct {
	consumed int
	resets   int
}

func (m *countingMetrics) BatchesConsumed(n int) { m.consumed += n }
func (m *countingMetrics) ZeroStockReset()       { m.resets++ }

type fixture struct {
	db      *memdb.DB
	engine  *inventory.Engine
	audit   *shared.MemoryAudit
	metrics *countingMetrics
}

var t0 = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, settings inventory.Settings) *fixture {
	t.Helper()
	db := memdb.New()
	audit := &shared.MemoryAudit{}
	metrics := &countingMetrics{}
	engine := inventory.NewEngine(inventory.EngineConfig{
		Repo:     db.Inventory(),
		Products: db,
		Settings: settings,
		Audit:    audit,
		Metrics:  metrics,
	})
	engine.WithNow(func() time.Time { return t0.Add(24 * time.Hour) })
	return &fixture{db: db, engine: engine, audit: audit, metrics: metrics}
}

// seedLayers stocks warehouse 1 with 5 @ 10 then 5 @ 12.
func (f *fixture) seedLayers(productID int64) (inventory.Batch, inventory.Batch) {
	b1 := f.db.AddBatch(inventory.Batch{ProductID: productID, WarehouseID: 1, BranchID: 1, BatchNumber: "B1", Quantity: dec("5"), UnitCost: dec("10"), CreatedAt: t0})
	b2 := f.db.AddBatch(inventory.Batch{ProductID: productID, WarehouseID: 1, BranchID: 1, BatchNumber: "B2", Quantity: dec("5"), UnitCost: dec("12"), CreatedAt: t0.Add(time.Hour)})
	return b1, b2
}

func TestComputeCostByMethod(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		method inventory.CostingMethod
		total  string
	}{
		{inventory.CostingFIFO, "74"},
		{inventory.CostingLIFO, "80"},
		{inventory.CostingWeightedAverage, "77"},
	}
	for _, tc := range cases {
		p := f.db.AddProduct(inventory.Product{CostingMethod: tc.method})
		f.seedLayers(p.ID)
		res, err := f.engine.ComputeCost(ctx, p.ID, 1, dec("7"))
		require.NoError(t, err)
		require.Equal(t, tc.method, res.Method)
		require.True(t, dec(tc.total).Equal(res.TotalCost), "%s: %s", tc.method, res.TotalCost)
	}

	wa := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingWeightedAverage})
	f.seedLayers(wa.ID)
	res, err := f.engine.ComputeCost(ctx, wa.ID, 1, dec("3"))
	require.NoError(t, err)
	require.True(t, dec("11").Equal(res.UnitCost))
	require.True(t, dec("33").Equal(res.TotalCost))
	require.Empty(t, res.BatchesUsed)
}

func TestComputeCostDoesNotMutate(t *testing.T) {
	f := newFixture(t, nil)
	p := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingFIFO})
	b1, _ := f.seedLayers(p.ID)

	_, err := f.engine.ComputeCost(context.Background(), p.ID, 1, dec("7"))
	require.NoError(t, err)
	got, ok := f.db.Batch(b1.ID)
	require.True(t, ok)
	require.True(t, dec("5").Equal(got.Quantity))
	require.Equal(t, inventory.BatchActive, got.Status)
}

func TestComputeCostRejectsNonPositive(t *testing.T) {
	f := newFixture(t, nil)
	p := f.db.AddProduct(inventory.Product{})
	_, err := f.engine.ComputeCost(context.Background(), p.ID, 1, decimal.Zero)
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = f.engine.ComputeCost(context.Background(), 99, 1, dec("1"))
	require.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestMethodFallback(t *testing.T) {
	ctx := context.Background()
	withDefault := newFixture(t, inventory.StaticSettings{Method: inventory.CostingLIFO})
	require.Equal(t, inventory.CostingLIFO, withDefault.engine.MethodFor(ctx, inventory.Product{}))
	require.Equal(t, inventory.CostingFIFO, withDefault.engine.MethodFor(ctx, inventory.Product{CostingMethod: inventory.CostingFIFO}))

	bare := newFixture(t, nil)
	require.Equal(t, inventory.CostingWeightedAverage, bare.engine.MethodFor(ctx, inventory.Product{}))
	require.Equal(t, inventory.CostingWeightedAverage, bare.engine.MethodFor(ctx, inventory.Product{CostingMethod: "bogus"}))
}

func TestStandardCostSkipsBatches(t *testing.T) {
	f := newFixture(t, nil)
	p := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingStandard, StandardCost: dec("8.25")})

	res, err := f.engine.ComputeCost(context.Background(), p.ID, 1, dec("4"))
	require.NoError(t, err)
	require.True(t, dec("33").Equal(res.TotalCost))
	commits, _ := f.db.Stats()
	require.Zero(t, commits)
}

func TestConsumeBatches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingFIFO})
	b1, b2 := f.seedLayers(p.ID)

	res, err := f.engine.ComputeCost(ctx, p.ID, 1, dec("7"))
	require.NoError(t, err)
	require.NoError(t, f.engine.ConsumeBatches(ctx, res.BatchesUsed))

	got1, _ := f.db.Batch(b1.ID)
	got2, _ := f.db.Batch(b2.ID)
	require.Equal(t, inventory.BatchDepleted, got1.Status)
	require.True(t, got1.Quantity.IsZero())
	require.Equal(t, inventory.BatchActive, got2.Status)
	require.True(t, dec("3").Equal(got2.Quantity))
	require.Equal(t, 2, f.metrics.consumed)

	next, err := f.engine.ComputeCost(ctx, p.ID, 1, dec("3"))
	require.NoError(t, err)
	require.True(t, dec("36").Equal(next.TotalCost))
	require.NoError(t, f.engine.ConsumeBatches(ctx, next.BatchesUsed))
	got2, _ = f.db.Batch(b2.ID)
	require.Equal(t, inventory.BatchDepleted, got2.Status)
}

func TestIssueStockByMethod(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, nil)
	fifo := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingFIFO})
	b1, b2 := f.seedLayers(fifo.ID)
	res, err := f.engine.IssueStock(ctx, fifo.ID, 1, dec("7"))
	require.NoError(t, err)
	require.True(t, dec("74").Equal(res.TotalCost))
	got1, _ := f.db.Batch(b1.ID)
	got2, _ := f.db.Batch(b2.ID)
	require.Equal(t, inventory.BatchDepleted, got1.Status)
	require.True(t, dec("3").Equal(got2.Quantity))
	require.True(t, dec("12").Equal(got2.UnitCost))
	require.Equal(t, 2, f.metrics.consumed)

	f = newFixture(t, nil)
	wa := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingWeightedAverage})
	b1, b2 = f.seedLayers(wa.ID)
	res, err = f.engine.IssueStock(ctx, wa.ID, 1, dec("3"))
	require.NoError(t, err)
	require.True(t, dec("11").Equal(res.UnitCost))
	require.True(t, dec("33").Equal(res.TotalCost))
	require.Len(t, res.BatchesUsed, 1)
	got1, _ = f.db.Batch(b1.ID)
	got2, _ = f.db.Batch(b2.ID)
	require.True(t, dec("2").Equal(got1.Quantity))
	require.True(t, dec("11").Equal(got1.UnitCost))
	require.True(t, dec("11").Equal(got2.UnitCost))
	v, err := f.engine.GetTotalInventoryValue(ctx, inventory.ValuationScope{WarehouseID: 1})
	require.NoError(t, err)
	require.True(t, dec("77").Equal(v.WarehouseValue))

	f = newFixture(t, nil)
	std := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingStandard, StandardCost: dec("8.25")})
	res, err = f.engine.IssueStock(ctx, std.ID, 1, dec("4"))
	require.NoError(t, err)
	require.True(t, dec("33").Equal(res.TotalCost))
	require.Empty(t, res.BatchesUsed)
}

func TestIssueStockShortfall(t *testing.T) {
	ctx := context.Background()
	for _, method := range []inventory.CostingMethod{inventory.CostingFIFO, inventory.CostingLIFO, inventory.CostingWeightedAverage} {
		f := newFixture(t, nil)
		empty := f.db.AddProduct(inventory.Product{CostingMethod: method})
		_, err := f.engine.IssueStock(ctx, empty.ID, 1, dec("1"))
		require.ErrorIs(t, err, inventory.ErrInsufficientStock, method)

		stocked := f.db.AddProduct(inventory.Product{CostingMethod: method})
		f.seedLayers(stocked.ID)
		_, err = f.engine.IssueStock(ctx, stocked.ID, 1, dec("10.5"))
		require.ErrorIs(t, err, inventory.ErrInsufficientStock, method)
		for _, b := range f.db.Batches(stocked.ID, 1) {
			require.True(t, dec("5").Equal(b.Quantity), method)
			require.Equal(t, inventory.BatchActive, b.Status, method)
		}
	}

	f := newFixture(t, nil)
	_, err := f.engine.IssueStock(ctx, 1, 1, decimal.Zero)
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestConsumeFloorsAtZero(t *testing.T) {
	f := newFixture(t, nil)
	p := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingFIFO})
	b1, _ := f.seedLayers(p.ID)

	err := f.engine.ConsumeBatches(context.Background(), []inventory.BatchUsage{{BatchID: b1.ID, Quantity: dec("8")}})
	require.NoError(t, err)
	got, _ := f.db.Batch(b1.ID)
	require.True(t, got.Quantity.IsZero())
	require.Equal(t, inventory.BatchDepleted, got.Status)
}

func TestConsumeRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	p := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingFIFO})
	b1, b2 := f.seedLayers(p.ID)

	boom := errors.New("connection reset")
	f.db.FailOn("UpdateBatch", boom)
	used := []inventory.BatchUsage{{BatchID: b2.ID, Quantity: dec("2")}, {BatchID: b1.ID, Quantity: dec("5")}}
	require.ErrorIs(t, f.engine.ConsumeBatches(context.Background(), used), boom)

	got1, _ := f.db.Batch(b1.ID)
	got2, _ := f.db.Batch(b2.ID)
	require.True(t, dec("5").Equal(got1.Quantity))
	require.True(t, dec("5").Equal(got2.Quantity))
	require.Zero(t, f.metrics.consumed)
}

func TestConsumeMissingBatchIsIntegrityFailure(t *testing.T) {
	f := newFixture(t, nil)
	p := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingFIFO})
	b1, b2 := f.seedLayers(p.ID)
	f.db.RemoveBatch(b2.ID)

	err := f.engine.ConsumeBatches(context.Background(), []inventory.BatchUsage{
		{BatchID: b1.ID, Quantity: dec("1")},
		{BatchID: b2.ID, Quantity: dec("1")},
	})
	require.ErrorIs(t, err, shared.ErrDataIntegrity)
	require.ErrorIs(t, err, inventory.ErrBatchNotFound)
	got1, _ := f.db.Batch(b1.ID)
	require.True(t, dec("5").Equal(got1.Quantity))
}

func TestReceiptMergesByWeightedAverage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingFIFO})

	first, err := f.engine.AddOrUpdateBatch(ctx, inventory.ReceiptInput{ProductID: p.ID, WarehouseID: 1, BranchID: 1, Quantity: dec("10"), UnitCost: dec("100000"), BatchNumber: "LOT-1"})
	require.NoError(t, err)
	merged, err := f.engine.AddOrUpdateBatch(ctx, inventory.ReceiptInput{ProductID: p.ID, WarehouseID: 1, BranchID: 1, Quantity: dec("5"), UnitCost: dec("120000"), BatchNumber: "LOT-1"})
	require.NoError(t, err)

	require.Equal(t, first.ID, merged.ID)
	require.True(t, dec("15").Equal(merged.Quantity))
	require.True(t, dec("106666.6667").Equal(merged.UnitCost))
	require.Len(t, f.db.Batches(p.ID, 1), 1)
	require.Equal(t, []string{"inventory.receipt", "inventory.receipt"}, f.audit.Actions())
}

func TestReceiptWithoutNumberCreatesBatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.db.AddProduct(inventory.Product{})

	a, err := f.engine.AddOrUpdateBatch(ctx, inventory.ReceiptInput{ProductID: p.ID, WarehouseID: 1, BranchID: 1, Quantity: dec("2"), UnitCost: dec("3")})
	require.NoError(t, err)
	b, err := f.engine.AddOrUpdateBatch(ctx, inventory.ReceiptInput{ProductID: p.ID, WarehouseID: 1, BranchID: 1, Quantity: dec("2"), UnitCost: dec("3")})
	require.NoError(t, err)
	require.NotEqual(t, a.BatchNumber, b.BatchNumber)
	require.Contains(t, a.BatchNumber, "BATCH-")
}

func TestReceiptValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.AddOrUpdateBatch(ctx, inventory.ReceiptInput{ProductID: 1, WarehouseID: 1, BranchID: 1, Quantity: decimal.Zero, UnitCost: dec("1")})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	_, err = f.engine.AddOrUpdateBatch(ctx, inventory.ReceiptInput{ProductID: 1, WarehouseID: 1, BranchID: 1, Quantity: dec("1"), UnitCost: dec("-1")})
	require.ErrorIs(t, err, inventory.ErrInvalidUnitCost)
	_, err = f.engine.AddOrUpdateBatch(ctx, inventory.ReceiptInput{WarehouseID: 1, BranchID: 1, Quantity: dec("1")})
	require.Error(t, err)
}

func TestZeroStockResetBeforeReceipt(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingWeightedAverage})
	stale := f.db.AddBatch(inventory.Batch{ProductID: p.ID, WarehouseID: 1, BranchID: 1, BatchNumber: "OLD", Quantity: dec("0.00004"), UnitCost: dec("999"), CreatedAt: t0})

	_, err := f.engine.AddOrUpdateBatch(ctx, inventory.ReceiptInput{ProductID: p.ID, WarehouseID: 1, BranchID: 1, Quantity: dec("10"), UnitCost: dec("20")})
	require.NoError(t, err)

	old, _ := f.db.Batch(stale.ID)
	require.Equal(t, inventory.BatchDepleted, old.Status)
	require.True(t, old.Quantity.IsZero())
	require.Equal(t, 1, f.metrics.resets)

	res, err := f.engine.ComputeCost(ctx, p.ID, 1, dec("1"))
	require.NoError(t, err)
	require.True(t, dec("20").Equal(res.UnitCost))
}

func TestResetCostOnZeroStock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.db.AddProduct(inventory.Product{})
	f.db.AddBatch(inventory.Batch{ProductID: p.ID, WarehouseID: 1, Quantity: dec("3"), UnitCost: dec("2")})

	reset, err := f.engine.ResetCostOnZeroStock(ctx, p.ID, 1)
	require.NoError(t, err)
	require.False(t, reset)

	reset, err = f.engine.ResetCostOnZeroStock(ctx, p.ID, 2)
	require.NoError(t, err)
	require.False(t, reset)
}

func TestSweepZeroStock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	empty := f.db.AddProduct(inventory.Product{})
	stocked := f.db.AddProduct(inventory.Product{})
	dust := f.db.AddBatch(inventory.Batch{ProductID: empty.ID, WarehouseID: 1, Quantity: dec("0.00003"), UnitCost: dec("5")})
	f.db.AddBatch(inventory.Batch{ProductID: stocked.ID, WarehouseID: 1, Quantity: dec("5"), UnitCost: dec("5")})

	n, err := f.engine.SweepZeroStock(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	got, _ := f.db.Batch(dust.ID)
	require.Equal(t, inventory.BatchDepleted, got.Status)

	n, err = f.engine.SweepZeroStock(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTransferPreservesValue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingWeightedAverage})
	f.seedLayers(p.ID)
	branch := inventory.ValuationScope{BranchID: 1}

	before, err := f.engine.GetTotalInventoryValue(ctx, branch)
	require.NoError(t, err)
	require.True(t, dec("110").Equal(before.TotalValue))

	records, err := f.engine.DispatchTransfer(ctx, inventory.TransferInput{ProductID: p.ID, FromWarehouseID: 1, ToWarehouseID: 2, BranchID: 1, Quantity: dec("7"), ActorID: 3})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.True(t, dec("10").Equal(records[0].UnitCost))
	require.True(t, dec("5").Equal(records[0].Quantity))
	require.True(t, dec("12").Equal(records[1].UnitCost))
	require.True(t, dec("2").Equal(records[1].Quantity))

	mid, err := f.engine.GetTotalInventoryValue(ctx, branch)
	require.NoError(t, err)
	require.True(t, dec("36").Equal(mid.WarehouseValue))
	require.True(t, dec("74").Equal(mid.TransitValue))
	require.True(t, dec("110").Equal(mid.TotalValue))
	require.True(t, dec("10").Equal(mid.Quantities.Total))

	dest, err := f.engine.GetTotalInventoryValue(ctx, inventory.ValuationScope{WarehouseID: 2})
	require.NoError(t, err)
	require.True(t, dest.WarehouseValue.IsZero())
	require.True(t, dec("74").Equal(dest.TransitValue))

	for _, rec := range records {
		_, err := f.engine.ReceiveTransfer(ctx, rec.ID, "", 3)
		require.NoError(t, err)
	}
	after, err := f.engine.GetTotalInventoryValue(ctx, branch)
	require.NoError(t, err)
	require.True(t, after.TransitValue.IsZero())
	require.True(t, dec("110").Equal(after.TotalValue))
	require.Len(t, f.db.Batches(p.ID, 2), 2)

	_, err = f.engine.ReceiveTransfer(ctx, records[0].ID, "", 3)
	require.ErrorIs(t, err, inventory.ErrTransitNotOpen)
	_, err = f.engine.ReceiveTransfer(ctx, 999, "", 3)
	require.ErrorIs(t, err, inventory.ErrTransitNotFound)
}

func TestLIFOTransferDrawsNewest(t *testing.T) {
	f := newFixture(t, nil)
	p := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingLIFO})
	f.seedLayers(p.ID)

	records, err := f.engine.DispatchTransfer(context.Background(), inventory.TransferInput{ProductID: p.ID, FromWarehouseID: 1, ToWarehouseID: 2, BranchID: 1, Quantity: dec("3")})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, dec("12").Equal(records[0].UnitCost))
}

func TestTransferRejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.db.AddProduct(inventory.Product{CostingMethod: inventory.CostingFIFO})
	b1, _ := f.seedLayers(p.ID)

	_, err := f.engine.DispatchTransfer(ctx, inventory.TransferInput{ProductID: p.ID, FromWarehouseID: 1, ToWarehouseID: 2, BranchID: 1, Quantity: dec("11")})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Empty(t, f.db.TransitRecords())
	got, _ := f.db.Batch(b1.ID)
	require.True(t, dec("5").Equal(got.Quantity))

	_, err = f.engine.DispatchTransfer(ctx, inventory.TransferInput{ProductID: p.ID, FromWarehouseID: 1, ToWarehouseID: 1, BranchID: 1, Quantity: dec("1")})
	require.Error(t, err)

	f.db.FailOn("InsertTransit", errors.New("boom"))
	_, err = f.engine.DispatchTransfer(ctx, inventory.TransferInput{ProductID: p.ID, FromWarehouseID: 1, ToWarehouseID: 2, BranchID: 1, Quantity: dec("2")})
	require.Error(t, err)
	got, _ = f.db.Batch(b1.ID)
	require.True(t, dec("5").Equal(got.Quantity))
}

func TestRecordValuationSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	p := f.db.AddProduct(inventory.Product{})
	f.seedLayers(p.ID)

	snap, err := f.engine.RecordValuationSnapshot(context.Background(), inventory.ValuationScope{BranchID: 1})
	require.NoError(t, err)
	require.NotZero(t, snap.ID)
	require.True(t, dec("110").Equal(snap.Valuation.TotalValue))
	require.True(t, t0.Add(24*time.Hour).Equal(snap.CapturedAt))
	require.Len(t, f.db.Snapshots(), 1)
}
