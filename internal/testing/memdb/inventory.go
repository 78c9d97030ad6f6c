package memdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// AddProduct seeds a product.
func (d *DB) AddProduct(p inventory.Product) inventory.Product {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.ID == 0 {
		p.ID = d.nextID("products")
	} else if p.ID > d.ids["products"] {
		d.ids["products"] = p.ID
	}
	d.products[p.ID] = p
	return p
}

// GetProduct implements inventory.ProductCatalog.
func (d *DB) GetProduct(_ context.Context, productID int64) (inventory.Product, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.products[productID]
	if !ok {
		return inventory.Product{}, fmt.Errorf("%w: %d", inventory.ErrProductNotFound, productID)
	}
	return p, nil
}

// AddBatch seeds an active batch. A zero CreatedAt is stamped with time.Now.
func (d *DB) AddBatch(b inventory.Batch) inventory.Batch {
	d.mu.Lock()
	defer d.mu.Unlock()
	b.ID = d.nextID("batches")
	if b.Status == "" {
		b.Status = inventory.BatchActive
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.UpdatedAt = b.CreatedAt
	d.batches[b.ID] = b
	return b
}

// Batch returns the committed state of a batch.
func (d *DB) Batch(id int64) (inventory.Batch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.batches[id]
	return b, ok
}

// Batches lists the batches of a (product, warehouse) ordered by id.
func (d *DB) Batches(productID, warehouseID int64) []inventory.Batch {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []inventory.Batch
	for _, b := range d.batches {
		if b.ProductID == productID && b.WarehouseID == warehouseID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveBatch deletes a batch, simulating a vanished row.
func (d *DB) RemoveBatch(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.batches, id)
}

// TransitRecords lists every transit record ordered by id.
func (d *DB) TransitRecords() []inventory.TransitRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]inventory.TransitRecord, 0, len(d.transit))
	for _, r := range d.transit {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshots lists stored valuation snapshots.
func (d *DB) Snapshots() []inventory.ValuationSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]inventory.ValuationSnapshot(nil), d.snapshots...)
}

// Inventory returns the inventory repository view.
func (d *DB) Inventory() *InventoryRepo {
	return &InventoryRepo{db: d}
}

// InventoryRepo implements inventory.RepositoryPort.
type InventoryRepo struct {
	db *DB
}

// WithTx implements inventory.RepositoryPort.
func (r *InventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		return fn(ctx, &inventoryTx{db: r.db, t: current(ctx)})
	})
}

type inventoryTx struct {
	db *DB
	t  *tx
}

func (x *inventoryTx) activeIDs(productID, warehouseID int64) []int64 {
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []int64
	for id, b := range d.batches {
		if b.ProductID == productID && b.WarehouseID == warehouseID && b.Status == inventory.BatchActive {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (x *inventoryTx) ListActiveBatches(_ context.Context, productID, warehouseID int64) ([]inventory.Batch, error) {
	ids := x.activeIDs(productID, warehouseID)
	out := make([]inventory.Batch, 0, len(ids))
	for _, id := range ids {
		if b, ok := x.db.Batch(id); ok && b.Status == inventory.BatchActive {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (x *inventoryTx) LockActiveBatches(ctx context.Context, productID, warehouseID int64) ([]inventory.Batch, error) {
	ids := x.activeIDs(productID, warehouseID)
	for _, id := range ids {
		if err := x.t.lock(ctx, BatchKey(id)); err != nil {
			return nil, err
		}
	}
	out := make([]inventory.Batch, 0, len(ids))
	for _, id := range ids {
		if b, ok := x.db.Batch(id); ok && b.Status == inventory.BatchActive {
			out = append(out, b)
		}
	}
	return out, nil
}

func (x *inventoryTx) LockBatches(ctx context.Context, ids []int64) (map[int64]inventory.Batch, error) {
	if err := x.db.fault("LockBatches"); err != nil {
		return nil, err
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, id := range sorted {
		if err := x.t.lock(ctx, BatchKey(id)); err != nil {
			return nil, err
		}
	}
	out := make(map[int64]inventory.Batch, len(ids))
	for _, id := range sorted {
		if b, ok := x.db.Batch(id); ok {
			out[id] = b
		}
	}
	return out, nil
}

func (x *inventoryTx) FindActiveBatchByNumberForUpdate(ctx context.Context, productID, warehouseID int64, number string) (inventory.Batch, error) {
	for _, id := range x.activeIDs(productID, warehouseID) {
		b, ok := x.db.Batch(id)
		if !ok || b.BatchNumber != number {
			continue
		}
		if err := x.t.lock(ctx, BatchKey(id)); err != nil {
			return inventory.Batch{}, err
		}
		b, ok = x.db.Batch(id)
		if ok && b.Status == inventory.BatchActive {
			return b, nil
		}
	}
	return inventory.Batch{}, inventory.ErrBatchNotFound
}

func (x *inventoryTx) InsertBatch(_ context.Context, b inventory.Batch) (inventory.Batch, error) {
	if err := x.db.fault("InsertBatch"); err != nil {
		return inventory.Batch{}, err
	}
	if b.Quantity.IsNegative() {
		return inventory.Batch{}, fmt.Errorf("memdb: check violation, negative batch quantity")
	}
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, other := range d.batches {
		if other.Status == inventory.BatchActive && b.Status == inventory.BatchActive &&
			other.ProductID == b.ProductID && other.WarehouseID == b.WarehouseID && other.BatchNumber == b.BatchNumber {
			return inventory.Batch{}, fmt.Errorf("memdb: duplicate active batch number %s", b.BatchNumber)
		}
	}
	b.ID = d.nextID("batches")
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	d.batches[b.ID] = b
	id := b.ID
	x.t.onUndo(func() { delete(d.batches, id) })
	return b, nil
}

func (x *inventoryTx) UpdateBatch(_ context.Context, b inventory.Batch) error {
	if err := x.db.fault("UpdateBatch"); err != nil {
		return err
	}
	if b.Quantity.IsNegative() {
		return fmt.Errorf("memdb: check violation, negative batch quantity")
	}
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	previous, ok := d.batches[b.ID]
	if !ok {
		return fmt.Errorf("%w: %d", inventory.ErrBatchNotFound, b.ID)
	}
	next := previous
	next.Quantity, next.UnitCost, next.Status, next.UpdatedAt = b.Quantity, b.UnitCost, b.Status, time.Now()
	d.batches[b.ID] = next
	x.t.onUndo(func() { d.batches[previous.ID] = previous })
	return nil
}

func (x *inventoryTx) SumActiveBatches(_ context.Context, scope inventory.ValuationScope) (inventory.StockTotals, error) {
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	t := inventory.StockTotals{Quantity: decimal.Zero, Value: decimal.Zero}
	for _, b := range d.batches {
		if b.Status != inventory.BatchActive {
			continue
		}
		if scope.BranchID != 0 && b.BranchID != scope.BranchID {
			continue
		}
		if scope.WarehouseID != 0 && b.WarehouseID != scope.WarehouseID {
			continue
		}
		t.Quantity = t.Quantity.Add(b.Quantity)
		t.Value = t.Value.Add(b.Quantity.Mul(b.UnitCost))
	}
	return t, nil
}

func (x *inventoryTx) SumInTransit(_ context.Context, scope inventory.ValuationScope) (inventory.StockTotals, error) {
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	t := inventory.StockTotals{Quantity: decimal.Zero, Value: decimal.Zero}
	for _, r := range d.transit {
		if r.Status != inventory.TransitOpen {
			continue
		}
		if scope.BranchID != 0 && r.BranchID != scope.BranchID {
			continue
		}
		if scope.WarehouseID != 0 && r.ToWarehouseID != scope.WarehouseID {
			continue
		}
		t.Quantity = t.Quantity.Add(r.Quantity)
		t.Value = t.Value.Add(r.Quantity.Mul(r.UnitCost))
	}
	return t, nil
}

func (x *inventoryTx) InsertTransit(_ context.Context, rec inventory.TransitRecord) (inventory.TransitRecord, error) {
	if err := x.db.fault("InsertTransit"); err != nil {
		return inventory.TransitRecord{}, err
	}
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	rec.ID = d.nextID("transit")
	d.transit[rec.ID] = rec
	id := rec.ID
	x.t.onUndo(func() { delete(d.transit, id) })
	return rec, nil
}

func (x *inventoryTx) GetTransitForUpdate(ctx context.Context, id int64) (inventory.TransitRecord, error) {
	if err := x.t.lock(ctx, TransitKey(id)); err != nil {
		return inventory.TransitRecord{}, err
	}
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.transit[id]
	if !ok {
		return inventory.TransitRecord{}, fmt.Errorf("%w: %d", inventory.ErrTransitNotFound, id)
	}
	return rec, nil
}

func (x *inventoryTx) MarkTransitReceived(_ context.Context, id int64, at time.Time) error {
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.transit[id]
	if !ok || rec.Status != inventory.TransitOpen {
		return fmt.Errorf("%w: %d", inventory.ErrTransitNotOpen, id)
	}
	previous := rec
	rec.Status = inventory.TransitReceived
	rec.ReceivedAt = &at
	d.transit[id] = rec
	x.t.onUndo(func() { d.transit[id] = previous })
	return nil
}

func (x *inventoryTx) ListZeroStockCandidates(context.Context) ([]inventory.StockKey, error) {
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	totals := make(map[inventory.StockKey]decimal.Decimal)
	for _, b := range d.batches {
		if b.Status != inventory.BatchActive {
			continue
		}
		key := inventory.StockKey{ProductID: b.ProductID, WarehouseID: b.WarehouseID}
		totals[key] = totals[key].Add(b.Quantity)
	}
	var out []inventory.StockKey
	for key, qty := range totals {
		if money.IsZeroQuantity(qty) {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].WarehouseID < out[j].WarehouseID
	})
	return out, nil
}

func (x *inventoryTx) InsertValuationSnapshot(_ context.Context, snap inventory.ValuationSnapshot) (inventory.ValuationSnapshot, error) {
	d := x.db
	d.mu.Lock()
	defer d.mu.Unlock()
	snap.ID = d.nextID("snapshots")
	d.snapshots = append(d.snapshots, snap)
	n := len(d.snapshots)
	x.t.onUndo(func() { d.snapshots = d.snapshots[:n-1] })
	return snap, nil
}

var (
	_ inventory.RepositoryPort = (*InventoryRepo)(nil)
	_ inventory.TxRepository   = (*inventoryTx)(nil)
	_ inventory.ProductCatalog = (*DB)(nil)
)
