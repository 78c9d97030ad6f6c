package integration

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// lineBuilder collects journal lines for one branch. A role without a mapping
// is skipped and remembered so a posting failure can name it.
type lineBuilder struct {
	ctx     context.Context
	lookup  mappings.Lookup
	branch  int64
	lines   []accounting.LineInput
	missing []mappings.Key
	err     error
}

func newLineBuilder(ctx context.Context, lookup mappings.Lookup, branchID int64) *lineBuilder {
	return &lineBuilder{ctx: ctx, lookup: lookup, branch: branchID}
}

func (b *lineBuilder) debit(module mappings.Module, role mappings.Role, amount decimal.Decimal, description string) {
	b.add(module, role, amount, description, true)
}

func (b *lineBuilder) credit(module mappings.Module, role mappings.Role, amount decimal.Decimal, description string) {
	b.add(module, role, amount, description, false)
}

func (b *lineBuilder) add(module mappings.Module, role mappings.Role, amount decimal.Decimal, description string, debit bool) {
	if b.err != nil {
		return
	}
	amount = money.Round(amount)
	if !amount.IsPositive() {
		return
	}
	if b.lookup == nil {
		b.err = fmt.Errorf("%w: account mappings", ErrNotConfigured)
		return
	}
	ref, err := b.lookup.Resolve(b.ctx, module, role, b.branch)
	if err != nil {
		b.err = fmt.Errorf("resolve %s/%s: %w", module, role, err)
		return
	}
	id, ok := ref.Get()
	if !ok {
		b.missing = append(b.missing, mappings.Key{Module: module, Role: role, BranchID: b.branch})
		return
	}
	if debit {
		b.lines = append(b.lines, accounting.Debit(id, amount, description))
	} else {
		b.lines = append(b.lines, accounting.Credit(id, amount, description))
	}
}

func (b *lineBuilder) missingError() error {
	if len(b.missing) == 0 {
		return nil
	}
	return &mappings.MissingMappingError{Keys: b.missing}
}

// saleLines applies the sale policy: payments split by method, receivable
// for any shortfall, then revenue, tax, discount and shipping.
func saleLines(b *lineBuilder, sale Sale) {
	total := sale.Total()
	if len(sale.Payments) > 0 {
		order := make([]PaymentMethod, 0, len(sale.Payments))
		byMethod := make(map[PaymentMethod]decimal.Decimal, len(sale.Payments))
		received := decimal.Zero
		for _, p := range sale.Payments {
			if _, ok := byMethod[p.Method]; !ok {
				order = append(order, p.Method)
				byMethod[p.Method] = decimal.Zero
			}
			byMethod[p.Method] = byMethod[p.Method].Add(p.Amount)
			received = received.Add(p.Amount)
		}
		for _, m := range order {
			b.debit(mappings.ModuleSales, m.Role(), byMethod[m], fmt.Sprintf("Sale %s payment (%s)", sale.Number, m))
		}
		if received.LessThan(total) {
			b.debit(mappings.ModuleSales, mappings.RoleAccountsReceivable, total.Sub(received), fmt.Sprintf("Sale %s receivable", sale.Number))
		}
	} else if sale.Paid {
		b.debit(mappings.ModuleSales, mappings.RoleCash, total, fmt.Sprintf("Sale %s cash", sale.Number))
	} else {
		b.debit(mappings.ModuleSales, mappings.RoleAccountsReceivable, total, fmt.Sprintf("Sale %s receivable", sale.Number))
	}

	b.credit(mappings.ModuleSales, mappings.RoleSalesRevenue, sale.Subtotal, fmt.Sprintf("Sale %s revenue", sale.Number))
	b.credit(mappings.ModuleSales, mappings.RoleTaxPayable, sale.Tax, fmt.Sprintf("Sale %s tax", sale.Number))
	b.debit(mappings.ModuleSales, mappings.RoleSalesDiscount, sale.Discount, fmt.Sprintf("Sale %s discount", sale.Number))
	b.credit(mappings.ModuleSales, mappings.RoleShippingIncome, sale.Shipping, fmt.Sprintf("Sale %s shipping", sale.Number))
}

// purchaseLines books stock, recoverable tax and freight against cash paid
// and the payable remainder.
func purchaseLines(b *lineBuilder, p Purchase) {
	b.debit(mappings.ModuleInventory, mappings.RoleInventory, p.Subtotal, fmt.Sprintf("Purchase %s inventory", p.Number))
	b.debit(mappings.ModulePurchases, mappings.RoleTaxReceivable, p.Tax, fmt.Sprintf("Purchase %s tax", p.Number))
	b.debit(mappings.ModulePurchases, mappings.RoleShippingExpense, p.Shipping, fmt.Sprintf("Purchase %s shipping", p.Number))
	b.credit(mappings.ModulePurchases, mappings.RolePurchaseDiscount, p.Discount, fmt.Sprintf("Purchase %s discount", p.Number))
	b.credit(mappings.ModulePurchases, mappings.RoleCash, p.AmountPaid, fmt.Sprintf("Purchase %s payment", p.Number))
	if remainder := p.Total().Sub(p.AmountPaid); remainder.IsPositive() {
		b.credit(mappings.ModulePurchases, mappings.RoleAccountsPayable, remainder, fmt.Sprintf("Purchase %s payable", p.Number))
	}
}

func cogsLines(b *lineBuilder, sale Sale, cost decimal.Decimal) {
	b.debit(mappings.ModuleInventory, mappings.RoleCOGS, cost, fmt.Sprintf("Sale %s cost of goods", sale.Number))
	b.credit(mappings.ModuleInventory, mappings.RoleInventory, cost, fmt.Sprintf("Sale %s inventory", sale.Number))
}
