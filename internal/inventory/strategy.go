package inventory

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// Strategy values a requested quantity against the active batches of one
// (product, warehouse). Implementations never mutate their inputs.
type Strategy interface {
	Method() CostingMethod
	Allocate(product Product, batches []Batch, qty decimal.Decimal) CostResult
}

// Strategies returns the built-in strategy for each method.
func Strategies() map[CostingMethod]Strategy {
	return map[CostingMethod]Strategy{
		CostingFIFO:            layerStrategy{method: CostingFIFO},
		CostingLIFO:            layerStrategy{method: CostingLIFO, newestFirst: true},
		CostingWeightedAverage: weightedAverageStrategy{},
		CostingStandard:        standardStrategy{},
	}
}

// layerStrategy drains batches in creation order, oldest first for FIFO and
// newest first for LIFO. Batch id breaks creation time ties.
type layerStrategy struct {
	method      CostingMethod
	newestFirst bool
}

func (s layerStrategy) Method() CostingMethod { return s.method }

func (s layerStrategy) Allocate(_ Product, batches []Batch, qty decimal.Decimal) CostResult {
	ordered := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if b.Status == BatchActive && b.Quantity.IsPositive() {
			ordered = append(ordered, b)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if s.newestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if s.newestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})

	remaining := qty
	total := decimal.Zero
	used := make([]BatchUsage, 0, len(ordered))
	for _, b := range ordered {
		if !remaining.IsPositive() {
			break
		}
		drawn := decimal.Min(remaining, b.Quantity)
		lineCost := money.Mul(drawn, b.UnitCost)
		used = append(used, BatchUsage{
			BatchID:     b.ID,
			ProductID:   b.ProductID,
			WarehouseID: b.WarehouseID,
			Quantity:    drawn,
			UnitCost:    b.UnitCost,
			LineCost:    lineCost,
		})
		total = total.Add(lineCost)
		remaining = remaining.Sub(drawn)
	}
	allocated := qty.Sub(remaining)
	return CostResult{
		Method:            s.method,
		Quantity:          qty,
		AllocatedQuantity: allocated,
		Shortfall:         remaining,
		UnitCost:          money.Div(total, allocated),
		TotalCost:         total,
		BatchesUsed:       used,
	}
}

type weightedAverageStrategy struct{}

func (weightedAverageStrategy) Method() CostingMethod { return CostingWeightedAverage }

func (weightedAverageStrategy) Allocate(_ Product, batches []Batch, qty decimal.Decimal) CostResult {
	totalQty, totalValue := decimal.Zero, decimal.Zero
	for _, b := range batches {
		if b.Status != BatchActive {
			continue
		}
		totalQty = totalQty.Add(b.Quantity)
		totalValue = totalValue.Add(b.Quantity.Mul(b.UnitCost))
	}
	result := CostResult{
		Method:      CostingWeightedAverage,
		Quantity:    qty,
		UnitCost:    decimal.Zero,
		TotalCost:   decimal.Zero,
		BatchesUsed: []BatchUsage{},
	}
	if money.IsZeroQuantity(totalQty) {
		result.AllocatedQuantity = decimal.Zero
		result.Shortfall = qty
		return result
	}
	result.UnitCost = money.Div(totalValue, totalQty)
	result.TotalCost = money.Mul(result.UnitCost, qty)
	result.AllocatedQuantity = decimal.Min(qty, totalQty)
	result.Shortfall = qty.Sub(result.AllocatedQuantity)
	return result
}

type standardStrategy struct{}

func (standardStrategy) Method() CostingMethod { return CostingStandard }

func (standardStrategy) Allocate(product Product, _ []Batch, qty decimal.Decimal) CostResult {
	unit := money.Internal(product.StandardCost)
	return CostResult{
		Method:            CostingStandard,
		Quantity:          qty,
		AllocatedQuantity: qty,
		Shortfall:         decimal.Zero,
		UnitCost:          unit,
		TotalCost:         money.Mul(unit, qty),
		BatchesUsed:       []BatchUsage{},
	}
}
