//go:build integration

package e2e

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, db.MigrateUp(dsn, nil))

	pool, err := db.New(ctx, dsn, 20)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

type chart struct {
	cash, revenue, tax, discount, shipping, cogs, inventory int64
}

func seedAccount(t *testing.T, pool *pgxpool.Pool, code, name, typ string) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO accounts (branch_id, code, name, type) VALUES (1, $1, $2, $3) RETURNING id`,
		code, name, typ).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedMapping(t *testing.T, pool *pgxpool.Pool, module mappings.Module, role mappings.Role, accountID int64) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO account_mappings (module, role, branch_id, account_id) VALUES ($1, $2, NULL, $3)`,
		string(module), string(role), accountID)
	require.NoError(t, err)
}

func seedChart(t *testing.T, pool *pgxpool.Pool) chart {
	c := chart{
		cash:      seedAccount(t, pool, "1101", "Cash", "asset"),
		inventory: seedAccount(t, pool, "1301", "Inventory", "asset"),
		tax:       seedAccount(t, pool, "2101", "Tax Payable", "liability"),
		revenue:   seedAccount(t, pool, "4101", "Sales Revenue", "revenue"),
		shipping:  seedAccount(t, pool, "4201", "Shipping Income", "revenue"),
		discount:  seedAccount(t, pool, "5201", "Sales Discount", "expense"),
		cogs:      seedAccount(t, pool, "5101", "Cost of Goods Sold", "expense"),
	}
	seedMapping(t, pool, mappings.ModuleSales, mappings.RoleCash, c.cash)
	seedMapping(t, pool, mappings.ModuleSales, mappings.RoleSalesRevenue, c.revenue)
	seedMapping(t, pool, mappings.ModuleSales, mappings.RoleTaxPayable, c.tax)
	seedMapping(t, pool, mappings.ModuleSales, mappings.RoleSalesDiscount, c.discount)
	seedMapping(t, pool, mappings.ModuleSales, mappings.RoleShippingIncome, c.shipping)
	seedMapping(t, pool, mappings.ModuleSales, mappings.RoleCOGS, c.cogs)
	seedMapping(t, pool, mappings.ModuleInventory, mappings.RoleInventory, c.inventory)
	return c
}

func newLedger(pool *pgxpool.Pool) *app.Ledger {
	return app.NewLedger(&app.Config{FiscalCalendarFallback: true, CostingDefaultMethod: "fifo"}, app.LedgerDeps{Pool: pool})
}

func cashSale(c chart, amount string) []accounting.LineInput {
	return []accounting.LineInput{
		accounting.Debit(c.cash, dec(amount), "cash"),
		accounting.Credit(c.revenue, dec(amount), "revenue"),
	}
}

func balance(t *testing.T, ledger *app.Ledger, accountID int64) decimal.Decimal {
	t.Helper()
	b, err := ledger.Accounting.GetAccountBalance(context.Background(), accountID)
	require.NoError(t, err)
	return b
}

func TestConcurrentPostingWaitsForRowLock(t *testing.T) {
	pool := startPostgres(t)
	c := seedChart(t, pool)
	ledger := newLedger(pool)
	ctx := context.Background()

	holder, err := pool.Begin(ctx)
	require.NoError(t, err)
	_, err = holder.Exec(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, c.cash)
	require.NoError(t, err)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := ledger.Accounting.CreateAndPost(ctx, accounting.EntryHeader{BranchID: 1, Date: time.Now()}, cashSale(c, "10.00"), 1)
			errs <- err
		}()
	}

	require.Eventually(t, func() bool {
		var waiting int
		err := pool.QueryRow(ctx, `SELECT count(*) FROM pg_stat_activity WHERE wait_event_type = 'Lock' AND datname = current_database()`).Scan(&waiting)
		return err == nil && waiting >= 2
	}, 15*time.Second, 50*time.Millisecond)

	require.NoError(t, holder.Commit(ctx))
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}

	require.True(t, dec("20").Equal(balance(t, ledger, c.cash)))
	require.True(t, dec("20").Equal(balance(t, ledger, c.revenue)))
}

func TestConcurrentPostingNoLostUpdate(t *testing.T) {
	pool := startPostgres(t)
	c := seedChart(t, pool)
	ledger := newLedger(pool)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Accounting.CreateAndPost(ctx, accounting.EntryHeader{BranchID: 1, Date: time.Now()}, cashSale(c, "2.50"), 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.True(t, dec("40").Equal(balance(t, ledger, c.cash)))

	report, err := jobs.NewGLIntegrityJob(ledger.Journal, nil, nil).Run(ctx)
	require.NoError(t, err)
	require.True(t, report.Clean())
}

func TestCompleteSaleAgainstPostgres(t *testing.T) {
	pool := startPostgres(t)
	c := seedChart(t, pool)
	ledger := newLedger(pool)
	ctx := context.Background()

	var productID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO products (code, name, costing_method) VALUES ('W-1', 'Widget', 'fifo') RETURNING id`).Scan(&productID))
	t1 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	for i, cost := range []string{"10", "12"} {
		_, err := pool.Exec(ctx,
			`INSERT INTO inventory_batches (product_id, warehouse_id, branch_id, batch_number, quantity, unit_cost, status, created_at)
			 VALUES ($1, 1, 1, $2, 5, $3, 'active', $4)`,
			productID, "LOT-"+cost, cost, t1.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	sale := integration.Sale{
		ID: 1, Number: "S-0001", BranchID: 1, WarehouseID: 1, Date: time.Now(),
		Subtotal: dec("100"), Tax: dec("14"), Discount: dec("10"), Shipping: dec("5"), Paid: true,
		Lines:   []integration.SaleLine{{ProductID: productID, Quantity: dec("7")}},
		ActorID: 1,
	}
	done, err := ledger.Hooks.CompleteSale(ctx, sale)
	require.NoError(t, err)
	require.True(t, done.COGSPosted)
	require.True(t, dec("74").Equal(done.CostOfGoods))

	require.True(t, dec("109").Equal(balance(t, ledger, c.cash)))
	require.True(t, dec("100").Equal(balance(t, ledger, c.revenue)))
	require.True(t, dec("14").Equal(balance(t, ledger, c.tax)))
	require.True(t, dec("10").Equal(balance(t, ledger, c.discount)))
	require.True(t, dec("5").Equal(balance(t, ledger, c.shipping)))
	require.True(t, dec("74").Equal(balance(t, ledger, c.cogs)))
	require.True(t, dec("-74").Equal(balance(t, ledger, c.inventory)))

	_, err = ledger.Hooks.CompleteSale(ctx, sale)
	require.ErrorIs(t, err, accounting.ErrSourceAlreadyLinked)

	snapshots, err := jobs.NewValuationJob(ledger.Inventory, nil, nil).Run(ctx, []int64{1})
	require.NoError(t, err)
	require.True(t, dec("36").Equal(snapshots[0].Valuation.WarehouseValue))

	value, err := ledger.Inventory.GetTotalInventoryValue(ctx, inventory.ValuationScope{BranchID: 1})
	require.NoError(t, err)
	require.True(t, dec("36").Equal(value.TotalValue))
}
