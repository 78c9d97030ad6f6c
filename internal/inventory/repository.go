package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Repository provides Postgres persistence for inventory costing.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates repository instance.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps operations inside a transaction, joining one carried by ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetProduct implements ProductCatalog.
func (r *Repository) GetProduct(ctx context.Context, productID int64) (Product, error) {
	var (
		p      Product
		method *string
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, costing_method, standard_cost, cost_price FROM products WHERE id=$1`, productID).
		Scan(&p.ID, &method, &p.StandardCost, &p.CostPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: %d", ErrProductNotFound, productID)
		}
		return Product{}, err
	}
	if method != nil {
		p.CostingMethod = CostingMethod(*method)
	}
	return p, nil
}

const batchColumns = `id, product_id, warehouse_id, branch_id, batch_number, quantity, unit_cost, status, created_at, updated_at`

func scanBatches(rows pgx.Rows) ([]Batch, error) {
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var status string
	if err := row.Scan(&b.ID, &b.ProductID, &b.WarehouseID, &b.BranchID, &b.BatchNumber, &b.Quantity, &b.UnitCost, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Batch{}, err
	}
	b.Status = BatchStatus(status)
	return b, nil
}

func (r *txRepo) ListActiveBatches(ctx context.Context, productID, warehouseID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE product_id=$1 AND warehouse_id=$2 AND status='active' ORDER BY created_at, id`, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	return scanBatches(rows)
}

func (r *txRepo) LockActiveBatches(ctx context.Context, productID, warehouseID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE product_id=$1 AND warehouse_id=$2 AND status='active' ORDER BY id FOR UPDATE`, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	return scanBatches(rows)
}

func (r *txRepo) LockBatches(ctx context.Context, ids []int64) (map[int64]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	batches, err := scanBatches(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Batch, len(batches))
	for _, b := range batches {
		out[b.ID] = b
	}
	return out, nil
}

func (r *txRepo) FindActiveBatchByNumberForUpdate(ctx context.Context, productID, warehouseID int64, number string) (Batch, error) {
	b, err := scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM inventory_batches
WHERE product_id=$1 AND warehouse_id=$2 AND batch_number=$3 AND status='active' FOR UPDATE`, productID, warehouseID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

func (r *txRepo) InsertBatch(ctx context.Context, b Batch) (Batch, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_batches (product_id, warehouse_id, branch_id, batch_number, quantity, unit_cost, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`, b.ProductID, b.WarehouseID, b.BranchID, b.BatchNumber, b.Quantity, b.UnitCost, string(b.Status), b.CreatedAt, b.UpdatedAt).
		Scan(&b.ID)
	return b, err
}

func (r *txRepo) UpdateBatch(ctx context.Context, b Batch) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_batches SET quantity=$2, unit_cost=$3, status=$4, updated_at=NOW() WHERE id=$1`,
		b.ID, b.Quantity, b.UnitCost, string(b.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrBatchNotFound, b.ID)
	}
	return nil
}

func (r *txRepo) SumActiveBatches(ctx context.Context, scope ValuationScope) (StockTotals, error) {
	var t StockTotals
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity),0), COALESCE(SUM(quantity * unit_cost),0)
FROM inventory_batches
WHERE status='active' AND ($1::bigint = 0 OR branch_id=$1) AND ($2::bigint = 0 OR warehouse_id=$2)`, scope.BranchID, scope.WarehouseID).
		Scan(&t.Quantity, &t.Value)
	return t, err
}

func (r *txRepo) SumInTransit(ctx context.Context, scope ValuationScope) (StockTotals, error) {
	var t StockTotals
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity),0), COALESCE(SUM(quantity * unit_cost),0)
FROM inventory_transit
WHERE status='in_transit' AND ($1::bigint = 0 OR branch_id=$1) AND ($2::bigint = 0 OR to_warehouse_id=$2)`, scope.BranchID, scope.WarehouseID).
		Scan(&t.Quantity, &t.Value)
	return t, err
}

func (r *txRepo) InsertTransit(ctx context.Context, rec TransitRecord) (TransitRecord, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transit (product_id, from_warehouse_id, to_warehouse_id, branch_id, quantity, unit_cost, status, created_by, dispatched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`, rec.ProductID, rec.FromWarehouseID, rec.ToWarehouseID, rec.BranchID,
		rec.Quantity, rec.UnitCost, string(rec.Status), nullInt(rec.CreatedBy), rec.DispatchedAt).Scan(&rec.ID)
	return rec, err
}

func (r *txRepo) GetTransitForUpdate(ctx context.Context, id int64) (TransitRecord, error) {
	var (
		rec       TransitRecord
		status    string
		createdBy *int64
	)
	err := r.tx.QueryRow(ctx, `SELECT id, product_id, from_warehouse_id, to_warehouse_id, branch_id, quantity, unit_cost, status, created_by, dispatched_at, received_at
FROM inventory_transit WHERE id=$1 FOR UPDATE`, id).
		Scan(&rec.ID, &rec.ProductID, &rec.FromWarehouseID, &rec.ToWarehouseID, &rec.BranchID, &rec.Quantity, &rec.UnitCost, &status, &createdBy, &rec.DispatchedAt, &rec.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TransitRecord{}, fmt.Errorf("%w: %d", ErrTransitNotFound, id)
		}
		return TransitRecord{}, err
	}
	rec.Status = TransitStatus(status)
	if createdBy != nil {
		rec.CreatedBy = *createdBy
	}
	return rec, nil
}

func (r *txRepo) MarkTransitReceived(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_transit SET status='received', received_at=$2 WHERE id=$1 AND status='in_transit'`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrTransitNotOpen, id)
	}
	return nil
}

func (r *txRepo) ListZeroStockCandidates(ctx context.Context) ([]StockKey, error) {
	rows, err := r.tx.Query(ctx, `SELECT product_id, warehouse_id FROM inventory_batches
WHERE status='active' GROUP BY product_id, warehouse_id HAVING SUM(quantity) < $1 ORDER BY product_id, warehouse_id`,
		money.QuantityTolerance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockKey
	for rows.Next() {
		var k StockKey
		if err := rows.Scan(&k.ProductID, &k.WarehouseID); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertValuationSnapshot(ctx context.Context, snap ValuationSnapshot) (ValuationSnapshot, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_valuation_snapshots (branch_id, warehouse_id, warehouse_value, transit_value, total_value, captured_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, nullInt(snap.Scope.BranchID), nullInt(snap.Scope.WarehouseID), snap.Valuation.WarehouseValue, snap.Valuation.TransitValue,
		snap.Valuation.TotalValue, snap.CapturedAt).Scan(&snap.ID)
	return snap, err
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
