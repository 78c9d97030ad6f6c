package mappings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

func TestTableBranchOverridesDefault(t *testing.T) {
	table := NewTable().
		Set(ModuleSales, RoleCash, DefaultBranch, 100).
		Set(ModuleSales, RoleCash, 7, 700)

	ref, err := table.Resolve(context.Background(), ModuleSales, RoleCash, 7)
	require.NoError(t, err)
	id, ok := ref.Get()
	require.True(t, ok)
	require.Equal(t, int64(700), id)

	ref, err = table.Resolve(context.Background(), ModuleSales, RoleCash, 3)
	require.NoError(t, err)
	id, ok = ref.Get()
	require.True(t, ok)
	require.Equal(t, int64(100), id)
}

func TestTableNotConfigured(t *testing.T) {
	table := NewTable().Set(ModuleSales, RoleCash, DefaultBranch, 100)
	ref, err := table.Resolve(context.Background(), ModuleSales, RoleSalesDiscount, 1)
	require.NoError(t, err)
	require.False(t, ref.IsConfigured())

	table.Unset(ModuleSales, RoleCash, DefaultBranch)
	ref, err = table.Resolve(context.Background(), ModuleSales, RoleCash, 1)
	require.NoError(t, err)
	require.False(t, ref.IsConfigured())
}

func TestAccountRefZeroValue(t *testing.T) {
	var ref AccountRef
	_, ok := ref.Get()
	require.False(t, ok)
	require.False(t, Configured(0).IsConfigured())
}

func TestMissingMappingError(t *testing.T) {
	err := error(&MissingMappingError{Keys: []Key{
		{Module: ModuleSales, Role: RoleTaxPayable, BranchID: 2},
		{Module: ModuleSales, Role: RoleShippingIncome, BranchID: 2},
	}})
	require.True(t, errors.Is(err, shared.ErrMappingNotFound))
	require.Equal(t, "accounting: account mapping not configured: sales/tax_payable@branch:2, sales/shipping_income@branch:2", err.Error())
}
