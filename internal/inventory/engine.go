package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts repository usage for the engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes batch and transit storage inside one unit of work.
// Methods ending in ForUpdate, and the Lock methods, hold exclusive row locks
// until the unit of work ends.
type TxRepository interface {
	ListActiveBatches(ctx context.Context, productID, warehouseID int64) ([]Batch, error)
	LockActiveBatches(ctx context.Context, productID, warehouseID int64) ([]Batch, error)
	LockBatches(ctx context.Context, ids []int64) (map[int64]Batch, error)
	FindActiveBatchByNumberForUpdate(ctx context.Context, productID, warehouseID int64, number string) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (Batch, error)
	UpdateBatch(ctx context.Context, batch Batch) error
	SumActiveBatches(ctx context.Context, scope ValuationScope) (StockTotals, error)
	SumInTransit(ctx context.Context, scope ValuationScope) (StockTotals, error)
	InsertTransit(ctx context.Context, rec TransitRecord) (TransitRecord, error)
	GetTransitForUpdate(ctx context.Context, id int64) (TransitRecord, error)
	MarkTransitReceived(ctx context.Context, id int64, at time.Time) error
	ListZeroStockCandidates(ctx context.Context) ([]StockKey, error)
	InsertValuationSnapshot(ctx context.Context, snap ValuationSnapshot) (ValuationSnapshot, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics receives costing side effects.
type Metrics interface {
	BatchesConsumed(n int)
	ZeroStockReset()
}

type nopMetrics struct{}

func (nopMetrics) BatchesConsumed(int) {}
func (nopMetrics) ZeroStockReset()     {}

// Engine computes inventory cost and owns every batch mutation.
type Engine struct {
	repo       RepositoryPort
	products   ProductCatalog
	settings   Settings
	audit      AuditPort
	logger     *slog.Logger
	metrics    Metrics
	validate   *validator.Validate
	strategies map[CostingMethod]Strategy
	now        func() time.Time
}

// EngineConfig groups the engine collaborators.
type EngineConfig struct {
	Repo     RepositoryPort
	Products ProductCatalog
	Settings Settings
	Audit    AuditPort
	Logger   *slog.Logger
	Metrics  Metrics
}

// NewEngine builds the costing engine.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		repo:       cfg.Repo,
		products:   cfg.Products,
		settings:   cfg.Settings,
		audit:      cfg.Audit,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		validate:   validator.New(),
		strategies: Strategies(),
		now:        time.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.settings == nil {
		e.settings = StaticSettings{}
	}
	return e
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// MethodFor returns the product's method, else the configured default, else weighted average.
func (e *Engine) MethodFor(ctx context.Context, product Product) CostingMethod {
	if product.CostingMethod.Valid() {
		return product.CostingMethod
	}
	if m := e.settings.DefaultCostingMethod(ctx); m.Valid() {
		return m
	}
	return CostingWeightedAverage
}

// ComputeCost values qty of a product at a warehouse. It reads batches but
// never mutates them; pass BatchesUsed to ConsumeBatches to apply the draw.
func (e *Engine) ComputeCost(ctx context.Context, productID, warehouseID int64, qty decimal.Decimal) (CostResult, error) {
	if !qty.IsPositive() {
		return CostResult{}, fmt.Errorf("%w: %s", ErrInvalidQuantity, qty)
	}
	product, err := e.products.GetProduct(ctx, productID)
	if err != nil {
		return CostResult{}, err
	}
	method := e.MethodFor(ctx, product)
	strategy := e.strategies[method]

	var batches []Batch
	if method != CostingStandard {
		err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			batches, err = tx.ListActiveBatches(ctx, productID, warehouseID)
			return err
		})
		if err != nil {
			return CostResult{}, err
		}
	}
	return strategy.Allocate(product, batches, qty), nil
}

// ConsumeBatches decrements the batches named in used, joining the caller's
// unit of work. Quantities floor at zero and a batch whose remainder is within
// tolerance becomes depleted. Each touched (product, warehouse) then gets the
// zero-stock reset.
func (e *Engine) ConsumeBatches(ctx context.Context, used []BatchUsage) error {
	if len(used) == 0 {
		return nil
	}
	var touched int
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		touched, err = e.consume(ctx, tx, used)
		return err
	})
	if err != nil {
		return err
	}
	e.metrics.BatchesConsumed(touched)
	return nil
}

// IssueStock takes qty of a product out of a warehouse for a sale and returns
// its cost. The active batches are locked first and any shortfall fails with
// ErrInsufficientStock. FIFO and LIFO draw their own layers. Weighted average
// draws oldest first at the blended cost, and the remaining batches are
// restamped at that cost so the stock value follows the cost of goods.
// Standard cost issues touch no batches.
func (e *Engine) IssueStock(ctx context.Context, productID, warehouseID int64, qty decimal.Decimal) (CostResult, error) {
	if !qty.IsPositive() {
		return CostResult{}, fmt.Errorf("%w: %s", ErrInvalidQuantity, qty)
	}
	product, err := e.products.GetProduct(ctx, productID)
	if err != nil {
		return CostResult{}, err
	}
	method := e.MethodFor(ctx, product)
	if method == CostingStandard {
		return e.strategies[CostingStandard].Allocate(product, nil, qty), nil
	}

	var result CostResult
	var touched int
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batches, err := tx.LockActiveBatches(ctx, productID, warehouseID)
		if err != nil {
			return err
		}
		result = e.strategies[method].Allocate(product, batches, qty)
		if result.Shortfall.IsPositive() {
			return fmt.Errorf("%w: product %d requested %s available %s",
				ErrInsufficientStock, productID, result.Quantity, result.AllocatedQuantity)
		}
		if method == CostingWeightedAverage {
			for i, b := range batches {
				if b.UnitCost.Equal(result.UnitCost) {
					continue
				}
				b.UnitCost = result.UnitCost
				b.UpdatedAt = e.now()
				if err := tx.UpdateBatch(ctx, b); err != nil {
					return err
				}
				batches[i] = b
			}
			result.BatchesUsed = e.strategies[CostingFIFO].Allocate(product, batches, qty).BatchesUsed
		}
		touched, err = e.consume(ctx, tx, result.BatchesUsed)
		return err
	})
	if err != nil {
		return CostResult{}, err
	}
	e.metrics.BatchesConsumed(touched)
	return result, nil
}

func (e *Engine) consume(ctx context.Context, tx TxRepository, used []BatchUsage) (int, error) {
	ids := make([]int64, 0, len(used))
	seen := make(map[int64]struct{}, len(used))
	for _, u := range used {
		if !u.Quantity.IsPositive() {
			return 0, fmt.Errorf("%w: batch %d draw %s", ErrInvalidQuantity, u.BatchID, u.Quantity)
		}
		if _, ok := seen[u.BatchID]; ok {
			continue
		}
		seen[u.BatchID] = struct{}{}
		ids = append(ids, u.BatchID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	locked, err := tx.LockBatches(ctx, ids)
	if err != nil {
		return 0, err
	}
	var keys []StockKey
	keySeen := make(map[StockKey]struct{})
	for _, u := range used {
		b, ok := locked[u.BatchID]
		if !ok {
			return 0, e.integrity(ctx, "consume batches", fmt.Errorf("%w: %d", ErrBatchNotFound, u.BatchID))
		}
		remaining := b.Quantity.Sub(u.Quantity)
		if remaining.IsNegative() {
			e.logger.WarnContext(ctx, "batch draw exceeds available quantity",
				slog.Int64("batch_id", b.ID),
				slog.String("available", b.Quantity.String()),
				slog.String("drawn", u.Quantity.String()),
			)
			remaining = decimal.Zero
		}
		if remaining.LessThanOrEqual(money.QuantityTolerance) {
			remaining = decimal.Zero
			b.Status = BatchDepleted
		}
		b.Quantity = money.Internal(remaining)
		locked[b.ID] = b

		key := StockKey{ProductID: b.ProductID, WarehouseID: b.WarehouseID}
		if _, ok := keySeen[key]; !ok {
			keySeen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	for _, id := range ids {
		if err := tx.UpdateBatch(ctx, locked[id]); err != nil {
			return 0, err
		}
	}
	for _, key := range keys {
		if _, err := e.resetOnZero(ctx, tx, key); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// AddOrUpdateBatch books a stock receipt. A receipt matching an active batch
// number is merged at the weighted average cost; otherwise a new batch is
// created. Stock that had run out is reset first so no stale cost carries over.
func (e *Engine) AddOrUpdateBatch(ctx context.Context, in ReceiptInput) (Batch, error) {
	if err := e.validateReceipt(in); err != nil {
		return Batch{}, err
	}
	var batch Batch
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = e.receive(ctx, tx, in)
		return err
	})
	if err != nil {
		return Batch{}, err
	}
	e.record(ctx, in.ActorID, "inventory.receipt", "inventory_batch", batch.ID, map[string]any{
		"batch_number": batch.BatchNumber,
		"product_id":   batch.ProductID,
		"warehouse_id": batch.WarehouseID,
		"quantity":     in.Quantity.String(),
		"unit_cost":    in.UnitCost.String(),
	})
	return batch, nil
}

func (e *Engine) validateReceipt(in ReceiptInput) error {
	if err := e.validate.Struct(in); err != nil {
		return fmt.Errorf("inventory: invalid receipt: %w", err)
	}
	if !in.Quantity.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidQuantity, in.Quantity)
	}
	if in.UnitCost.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidUnitCost, in.UnitCost)
	}
	return nil
}

func (e *Engine) receive(ctx context.Context, tx TxRepository, in ReceiptInput) (Batch, error) {
	key := StockKey{ProductID: in.ProductID, WarehouseID: in.WarehouseID}
	if _, err := e.resetOnZero(ctx, tx, key); err != nil {
		return Batch{}, err
	}
	qty := money.Internal(in.Quantity)
	cost := money.Internal(in.UnitCost)
	if in.BatchNumber != "" {
		existing, err := tx.FindActiveBatchByNumberForUpdate(ctx, in.ProductID, in.WarehouseID, in.BatchNumber)
		switch {
		case err == nil:
			existing.UnitCost = money.WeightedAverage(existing.Quantity, existing.UnitCost, qty, cost)
			existing.Quantity = existing.Quantity.Add(qty)
			existing.Status = BatchActive
			existing.UpdatedAt = e.now()
			if err := tx.UpdateBatch(ctx, existing); err != nil {
				return Batch{}, err
			}
			return existing, nil
		case !errors.Is(err, ErrBatchNotFound):
			return Batch{}, err
		}
	}
	number := in.BatchNumber
	if number == "" {
		number = "BATCH-" + uuid.NewString()
	}
	now := e.now()
	return tx.InsertBatch(ctx, Batch{
		ProductID:   in.ProductID,
		WarehouseID: in.WarehouseID,
		BranchID:    in.BranchID,
		BatchNumber: number,
		Quantity:    qty,
		UnitCost:    cost,
		Status:      BatchActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// ResetCostOnZeroStock depletes every active batch of the pair when their
// total quantity is below tolerance. It reports whether a reset happened.
func (e *Engine) ResetCostOnZeroStock(ctx context.Context, productID, warehouseID int64) (bool, error) {
	var reset bool
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		reset, err = e.resetOnZero(ctx, tx, StockKey{ProductID: productID, WarehouseID: warehouseID})
		return err
	})
	return reset, err
}

func (e *Engine) resetOnZero(ctx context.Context, tx TxRepository, key StockKey) (bool, error) {
	batches, err := tx.LockActiveBatches(ctx, key.ProductID, key.WarehouseID)
	if err != nil {
		return false, err
	}
	if len(batches) == 0 {
		return false, nil
	}
	total := decimal.Zero
	for _, b := range batches {
		total = total.Add(b.Quantity)
	}
	if !money.IsZeroQuantity(total) {
		return false, nil
	}
	now := e.now()
	for _, b := range batches {
		b.Quantity = decimal.Zero
		b.Status = BatchDepleted
		b.UpdatedAt = now
		if err := tx.UpdateBatch(ctx, b); err != nil {
			return false, err
		}
	}
	e.metrics.ZeroStockReset()
	e.logger.InfoContext(ctx, "inventory cost reset on zero stock",
		slog.Int64("product_id", key.ProductID),
		slog.Int64("warehouse_id", key.WarehouseID),
		slog.Int("batches", len(batches)),
	)
	return true, nil
}

// GetTotalInventoryValue sums active batches and open transit for the scope.
// Values are rounded to two decimals here and nowhere earlier.
func (e *Engine) GetTotalInventoryValue(ctx context.Context, scope ValuationScope) (Valuation, error) {
	var v Valuation
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		v, err = valuation(ctx, tx, scope)
		return err
	})
	return v, err
}

func valuation(ctx context.Context, tx TxRepository, scope ValuationScope) (Valuation, error) {
	onHand, err := tx.SumActiveBatches(ctx, scope)
	if err != nil {
		return Valuation{}, err
	}
	transit, err := tx.SumInTransit(ctx, scope)
	if err != nil {
		return Valuation{}, err
	}
	return Valuation{
		WarehouseValue: money.Round(onHand.Value),
		TransitValue:   money.Round(transit.Value),
		TotalValue:     money.Round(onHand.Value.Add(transit.Value)),
		Quantities: Quantities{
			Warehouse: onHand.Quantity,
			Transit:   transit.Quantity,
			Total:     onHand.Quantity.Add(transit.Quantity),
		},
	}, nil
}

// RecordValuationSnapshot stores the current valuation of scope.
func (e *Engine) RecordValuationSnapshot(ctx context.Context, scope ValuationScope) (ValuationSnapshot, error) {
	var snap ValuationSnapshot
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := valuation(ctx, tx, scope)
		if err != nil {
			return err
		}
		snap, err = tx.InsertValuationSnapshot(ctx, ValuationSnapshot{Scope: scope, Valuation: v, CapturedAt: e.now()})
		return err
	})
	return snap, err
}

// DispatchTransfer moves stock out of the source warehouse into transit at
// the cost actually drawn, one transit record per drawn batch. LIFO products
// draw newest first; every other method draws oldest first.
func (e *Engine) DispatchTransfer(ctx context.Context, in TransferInput) ([]TransitRecord, error) {
	if err := e.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("inventory: invalid transfer: %w", err)
	}
	if !in.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, in.Quantity)
	}
	product, err := e.products.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	draw := e.strategies[CostingFIFO]
	if e.MethodFor(ctx, product) == CostingLIFO {
		draw = e.strategies[CostingLIFO]
	}
	var records []TransitRecord
	var touched int
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batches, err := tx.LockActiveBatches(ctx, in.ProductID, in.FromWarehouseID)
		if err != nil {
			return err
		}
		result := draw.Allocate(product, batches, money.Internal(in.Quantity))
		if result.Shortfall.IsPositive() {
			return fmt.Errorf("%w: product %d warehouse %d requested %s available %s",
				ErrInsufficientStock, in.ProductID, in.FromWarehouseID, result.Quantity, result.AllocatedQuantity)
		}
		if touched, err = e.consume(ctx, tx, result.BatchesUsed); err != nil {
			return err
		}
		now := e.now()
		for _, u := range result.BatchesUsed {
			rec, err := tx.InsertTransit(ctx, TransitRecord{
				ProductID:       in.ProductID,
				FromWarehouseID: in.FromWarehouseID,
				ToWarehouseID:   in.ToWarehouseID,
				BranchID:        in.BranchID,
				Quantity:        u.Quantity,
				UnitCost:        u.UnitCost,
				Status:          TransitOpen,
				CreatedBy:       in.ActorID,
				DispatchedAt:    now,
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.BatchesConsumed(touched)
	for _, rec := range records {
		e.record(ctx, in.ActorID, "inventory.transfer_dispatch", "inventory_transit", rec.ID, map[string]any{
			"product_id":        rec.ProductID,
			"from_warehouse_id": rec.FromWarehouseID,
			"to_warehouse_id":   rec.ToWarehouseID,
			"quantity":          rec.Quantity.String(),
			"unit_cost":         rec.UnitCost.String(),
		})
	}
	return records, nil
}

// ReceiveTransfer books an open transit record into its destination warehouse.
func (e *Engine) ReceiveTransfer(ctx context.Context, transitID int64, batchNumber string, actorID int64) (Batch, error) {
	var batch Batch
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetTransitForUpdate(ctx, transitID)
		if err != nil {
			return err
		}
		if rec.Status != TransitOpen {
			return fmt.Errorf("%w: %d", ErrTransitNotOpen, rec.ID)
		}
		in := ReceiptInput{
			ProductID:   rec.ProductID,
			WarehouseID: rec.ToWarehouseID,
			BranchID:    rec.BranchID,
			Quantity:    rec.Quantity,
			UnitCost:    rec.UnitCost,
			BatchNumber: batchNumber,
			ActorID:     actorID,
		}
		if err := e.validateReceipt(in); err != nil {
			return err
		}
		if batch, err = e.receive(ctx, tx, in); err != nil {
			return err
		}
		return tx.MarkTransitReceived(ctx, rec.ID, e.now())
	})
	if err != nil {
		return Batch{}, err
	}
	e.record(ctx, actorID, "inventory.transfer_receive", "inventory_transit", transitID, map[string]any{
		"batch_id":     batch.ID,
		"batch_number": batch.BatchNumber,
	})
	return batch, nil
}

// SweepZeroStock applies the zero-stock reset to every pair whose active
// quantity is below tolerance. Each pair is reset in its own unit of work.
func (e *Engine) SweepZeroStock(ctx context.Context) (int, error) {
	var keys []StockKey
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		keys, err = tx.ListZeroStockCandidates(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		reset, err := e.ResetCostOnZeroStock(ctx, key.ProductID, key.WarehouseID)
		if err != nil {
			return count, err
		}
		if reset {
			count++
		}
	}
	return count, nil
}

func (e *Engine) integrity(ctx context.Context, op string, cause error) error {
	err := shared.NewIntegrityError(op, cause)
	e.logger.ErrorContext(ctx, "inventory data integrity failure",
		slog.String("op", op),
		slog.String("detail", err.Detail()),
	)
	return err
}

func (e *Engine) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       e.now(),
	}); err != nil {
		e.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
