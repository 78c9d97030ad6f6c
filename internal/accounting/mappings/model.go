package mappings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Module identifies the business area that owns a mapping.
type Module string

const (
	ModuleSales     Module = "sales"
	ModulePurchases Module = "purchases"
	ModuleInventory Module = "inventory"
)

// Role is the semantic purpose of an account inside a module.
type Role string

const (
	RoleCash               Role = "cash"
	RoleBank               Role = "bank"
	RoleCheque             Role = "cheque"
	RoleAccountsReceivable Role = "accounts_receivable"
	RoleSalesRevenue       Role = "sales_revenue"
	RoleTaxPayable         Role = "tax_payable"
	RoleSalesDiscount      Role = "sales_discount"
	RoleShippingIncome     Role = "shipping_income"
	RoleCOGS               Role = "cogs"
	RoleInventory          Role = "inventory"
	RoleAccountsPayable    Role = "accounts_payable"
	RoleTaxReceivable      Role = "tax_receivable"
	RoleShippingExpense    Role = "shipping_expense"
	RolePurchaseDiscount   Role = "purchase_discount"
)

// DefaultBranch marks a mapping that applies to every branch without its own row.
const DefaultBranch int64 = 0

// AccountMapping links a module role to a ledger account for a branch.
type AccountMapping struct {
	Module    Module
	Role      Role
	BranchID  int64
	AccountID int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountRef is the result of a lookup. The zero value is "not configured".
type AccountRef struct {
	id int64
	ok bool
}

// Configured wraps a resolved account id.
func Configured(id int64) AccountRef {
	return AccountRef{id: id, ok: id > 0}
}

// NotConfigured is the absent mapping.
func NotConfigured() AccountRef {
	return AccountRef{}
}

// Get returns the account id and whether a mapping exists.
func (r AccountRef) Get() (int64, bool) {
	return r.id, r.ok
}

// IsConfigured reports whether the mapping exists.
func (r AccountRef) IsConfigured() bool {
	return r.ok
}

// Lookup resolves (module, role, branch) to an account.
type Lookup interface {
	Resolve(ctx context.Context, module Module, role Role, branchID int64) (AccountRef, error)
}

// Key names one mapping slot.
type Key struct {
	Module   Module
	Role     Role
	BranchID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@branch:%d", k.Module, k.Role, k.BranchID)
}

// ErrMappingNotFound matches every MissingMappingError.
var ErrMappingNotFound = shared.ErrMappingNotFound

// MissingMappingError lists the mappings skipped while building an entry.
type MissingMappingError struct {
	Keys []Key
}

func (e *MissingMappingError) Error() string {
	names := make([]string, 0, len(e.Keys))
	for _, k := range e.Keys {
		names = append(names, k.String())
	}
	return "accounting: account mapping not configured: " + strings.Join(names, ", ")
}

// Is matches shared.ErrMappingNotFound.
func (e *MissingMappingError) Is(target error) bool {
	return target == ErrMappingNotFound
}
