package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CostingMethod selects how issued stock is valued.
type CostingMethod string

const (
	CostingFIFO            CostingMethod = "fifo"
	CostingLIFO            CostingMethod = "lifo"
	CostingWeightedAverage CostingMethod = "weighted_average"
	CostingStandard        CostingMethod = "standard"
)

// Valid reports whether m is a supported method.
func (m CostingMethod) Valid() bool {
	switch m {
	case CostingFIFO, CostingLIFO, CostingWeightedAverage, CostingStandard:
		return true
	}
	return false
}

// ParseCostingMethod validates a configured method name.
func ParseCostingMethod(s string) (CostingMethod, error) {
	m := CostingMethod(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCostingMethod, s)
	}
	return m, nil
}

// BatchStatus enumerates batch states.
type BatchStatus string

const (
	BatchActive   BatchStatus = "active"
	BatchDepleted BatchStatus = "depleted"
)

// Batch is a costed lot of stock for a product at a warehouse.
type Batch struct {
	ID          int64
	ProductID   int64
	WarehouseID int64
	BranchID    int64
	BatchNumber string
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	Status      BatchStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BatchUsage records how much was drawn from one batch.
type BatchUsage struct {
	BatchID     int64
	ProductID   int64
	WarehouseID int64
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	LineCost    decimal.Decimal
}

// CostResult is the outcome of a cost computation. Shortfall is the requested
// quantity that active batches could not cover.
type CostResult struct {
	Method            CostingMethod
	Quantity          decimal.Decimal
	AllocatedQuantity decimal.Decimal
	Shortfall         decimal.Decimal
	UnitCost          decimal.Decimal
	TotalCost         decimal.Decimal
	BatchesUsed       []BatchUsage
}

// Product is the costing view of a catalog product. An empty CostingMethod
// defers to the system default.
type Product struct {
	ID            int64
	CostingMethod CostingMethod
	StandardCost  decimal.Decimal
	CostPrice     decimal.Decimal
}

// ProductCatalog supplies product costing attributes.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID int64) (Product, error)
}

// Settings supplies system wide costing configuration.
type Settings interface {
	DefaultCostingMethod(ctx context.Context) CostingMethod
}

// StaticSettings is a fixed Settings value.
type StaticSettings struct {
	Method CostingMethod
}

// DefaultCostingMethod implements Settings.
func (s StaticSettings) DefaultCostingMethod(context.Context) CostingMethod {
	return s.Method
}

// ReceiptInput describes stock coming into a warehouse.
type ReceiptInput struct {
	ProductID   int64 `validate:"required,gt=0"`
	WarehouseID int64 `validate:"required,gt=0"`
	BranchID    int64 `validate:"required,gt=0"`
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	BatchNumber string `validate:"omitempty,max=64"`
	ActorID     int64
}

// TransferInput describes stock leaving one warehouse for another.
type TransferInput struct {
	ProductID       int64 `validate:"required,gt=0"`
	FromWarehouseID int64 `validate:"required,gt=0"`
	ToWarehouseID   int64 `validate:"required,gt=0,nefield=FromWarehouseID"`
	BranchID        int64 `validate:"required,gt=0"`
	Quantity        decimal.Decimal
	ActorID         int64
}

// TransitStatus enumerates transit states.
type TransitStatus string

const (
	TransitOpen     TransitStatus = "in_transit"
	TransitReceived TransitStatus = "received"
)

// TransitRecord is stock dispatched but not yet received.
type TransitRecord struct {
	ID              int64
	ProductID       int64
	FromWarehouseID int64
	ToWarehouseID   int64
	BranchID        int64
	Quantity        decimal.Decimal
	UnitCost        decimal.Decimal
	Status          TransitStatus
	CreatedBy       int64
	DispatchedAt    time.Time
	ReceivedAt      *time.Time
}

// ValuationScope filters aggregate valuation. Zero fields do not filter.
// A warehouse scope counts transit destined to that warehouse.
type ValuationScope struct {
	BranchID    int64
	WarehouseID int64
}

// StockTotals is a quantity and Σ(quantity × unit cost) pair.
type StockTotals struct {
	Quantity decimal.Decimal
	Value    decimal.Decimal
}

// Quantities splits on-hand and in-transit quantity.
type Quantities struct {
	Warehouse decimal.Decimal
	Transit   decimal.Decimal
	Total     decimal.Decimal
}

// Valuation is the inventory asset value for a scope.
type Valuation struct {
	WarehouseValue decimal.Decimal
	TransitValue   decimal.Decimal
	TotalValue     decimal.Decimal
	Quantities     Quantities
}

// ValuationSnapshot is a stored Valuation.
type ValuationSnapshot struct {
	ID         int64
	Scope      ValuationScope
	Valuation  Valuation
	CapturedAt time.Time
}

// StockKey identifies the (product, warehouse) pair batches belong to.
type StockKey struct {
	ProductID   int64
	WarehouseID int64
}

var (
	// ErrInvalidQuantity indicates qty must be positive.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates unit cost invalid.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be non-negative")
	// ErrInsufficientStock indicates active batches do not cover a physical draw.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrBatchNotFound indicates a missing batch.
	ErrBatchNotFound = errors.New("inventory: batch not found")
	// ErrTransitNotFound indicates a missing transit record.
	ErrTransitNotFound = errors.New("inventory: transit record not found")
	// ErrTransitNotOpen rejects receiving a transfer twice.
	ErrTransitNotOpen = errors.New("inventory: transit record already received")
	// ErrProductNotFound indicates a missing product.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrUnknownCostingMethod indicates an unsupported method name.
	ErrUnknownCostingMethod = errors.New("inventory: unknown costing method")
)
