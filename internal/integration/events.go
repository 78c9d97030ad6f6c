package integration

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// PaymentMethod is the tender type of a sale payment.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCard         PaymentMethod = "card"
	PaymentEWallet      PaymentMethod = "e_wallet"
	PaymentCheque       PaymentMethod = "cheque"
)

// Role maps the method to the account that receives the money. Every
// non-cash, non-cheque tender settles through the bank.
func (m PaymentMethod) Role() mappings.Role {
	switch m {
	case PaymentCash:
		return mappings.RoleCash
	case PaymentCheque:
		return mappings.RoleCheque
	default:
		return mappings.RoleBank
	}
}

// Source types linking generated entries back to their documents.
const (
	SourceTypeSale     = "sale"
	SourceTypeSaleCOGS = "sale_cogs"
	SourceTypePurchase = "purchase"
)

// Sale is a completed sales document.
type Sale struct {
	ID          int64           `json:"id" validate:"required,gt=0"`
	Number      string          `json:"number" validate:"required,max=64"`
	BranchID    int64           `json:"branch_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id"`
	Date        time.Time       `json:"date"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Discount    decimal.Decimal `json:"discount"`
	Shipping    decimal.Decimal `json:"shipping"`
	Paid        bool            `json:"paid"`
	Payments    []SalePayment   `json:"payments" validate:"dive"`
	Lines       []SaleLine      `json:"lines" validate:"dive"`
	ActorID     int64           `json:"actor_id"`
}

// Total is subtotal + tax - discount + shipping.
func (s Sale) Total() decimal.Decimal {
	return s.Subtotal.Add(s.Tax).Sub(s.Discount).Add(s.Shipping)
}

// SalePayment is money received against a sale.
type SalePayment struct {
	Method PaymentMethod   `json:"method" validate:"required,oneof=cash bank_transfer card e_wallet cheque"`
	Amount decimal.Decimal `json:"amount"`
}

// SaleLine is one sold product. CostPrice and CostTotal are the cost
// snapshots taken when stock was issued.
type SaleLine struct {
	ProductID int64               `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal     `json:"quantity"`
	CostPrice decimal.NullDecimal `json:"cost_price"`
	CostTotal decimal.NullDecimal `json:"cost_total"`
}

// Purchase is a received purchase document.
type Purchase struct {
	ID          int64           `json:"id" validate:"required,gt=0"`
	Number      string          `json:"number" validate:"required,max=64"`
	BranchID    int64           `json:"branch_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id"`
	Date        time.Time       `json:"date"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Shipping    decimal.Decimal `json:"shipping"`
	Discount    decimal.Decimal `json:"discount"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Lines       []PurchaseLine  `json:"lines" validate:"dive"`
	ActorID     int64           `json:"actor_id"`
}

// Total is subtotal + tax + shipping - discount.
func (p Purchase) Total() decimal.Decimal {
	return p.Subtotal.Add(p.Tax).Add(p.Shipping).Sub(p.Discount)
}

// PurchaseLine is one received product.
type PurchaseLine struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	BatchNumber string          `json:"batch_number,omitempty" validate:"omitempty,max=64"`
}

// CompletedSale is the outcome of CompleteSale.
type CompletedSale struct {
	Sale         Sale
	EntryID      int64
	COGSEntryID  int64
	COGSPosted   bool
	CostOfGoods  decimal.Decimal
	BatchesTaken int
}

// ReceivedPurchase is the outcome of ReceivePurchase.
type ReceivedPurchase struct {
	EntryID  int64
	BatchIDs []int64
}

var (
	// ErrInvalidDocument indicates a business document failed validation.
	ErrInvalidDocument = errors.New("integration: invalid document")
	// ErrNotConfigured indicates hooks were built without a required collaborator.
	ErrNotConfigured = errors.New("integration: hooks not configured")
)

func negative(values ...decimal.Decimal) bool {
	for _, v := range values {
		if v.IsNegative() {
			return true
		}
	}
	return false
}

func lineCost(qty, unit decimal.Decimal) decimal.Decimal {
	return money.Mul(qty, unit)
}
