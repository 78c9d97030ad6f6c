package app

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// LedgerDeps carries the infrastructure the ledger core runs on. Redis is
// optional; without it mappings are read straight from Postgres and source
// documents are not locked across processes.
type LedgerDeps struct {
	Pool    *pgxpool.Pool
	Redis   redis.UniversalClient
	Logger  *slog.Logger
	Metrics *observability.LedgerMetrics
}

// Ledger is the assembled ledger and costing core.
type Ledger struct {
	Accounting *accounting.Service
	Journal    *accounting.Repository
	Inventory  *inventory.Engine
	Stock      *inventory.Repository
	Periods    *periods.Service
	Mappings   mappings.Lookup
	Hooks      *integration.Hooks
}

// NewLedger wires repositories, engines and business hooks onto one pool.
func NewLedger(cfg *Config, deps LedgerDeps) *Ledger {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fallback := true
	method := inventory.CostingFIFO
	if cfg != nil {
		fallback = cfg.FiscalCalendarFallback
		method = cfg.CostingMethod()
	}

	audit := shared.NewAuditLogger(deps.Pool)
	journal := accounting.NewRepository(deps.Pool)
	periodSvc := periods.NewService(periods.NewRepository(deps.Pool), fallback)
	ledgerSvc := accounting.NewService(journal, periodSvc, audit, logger)
	if deps.Metrics != nil {
		ledgerSvc.WithMetrics(deps.Metrics)
	}

	stock := inventory.NewRepository(deps.Pool)
	engineCfg := inventory.EngineConfig{
		Repo:     stock,
		Products: stock,
		Settings: inventory.StaticSettings{Method: method},
		Audit:    audit,
		Logger:   logger,
	}
	if deps.Metrics != nil {
		engineCfg.Metrics = deps.Metrics
	}
	engine := inventory.NewEngine(engineCfg)

	var lookup mappings.Lookup = mappings.NewRepository(deps.Pool)
	hooksCfg := integration.Config{
		Ledger:   ledgerSvc,
		Costing:  engine,
		Products: stock,
		UoW:      db.NewTransactor(deps.Pool),
		Logger:   logger,
	}
	if deps.Redis != nil {
		lookup = mappings.NewCachedLookup(lookup, deps.Redis, cfg.cacheTTL(), logger)
		hooksCfg.Locker = shared.NewSourceLocker(deps.Redis, cfg.lockTTL())
	}
	hooksCfg.Mappings = lookup

	return &Ledger{
		Accounting: ledgerSvc,
		Journal:    journal,
		Inventory:  engine,
		Stock:      stock,
		Periods:    periodSvc,
		Mappings:   lookup,
		Hooks:      integration.NewHooks(hooksCfg),
	}
}

func (c *Config) cacheTTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.MappingCacheTTL
}

func (c *Config) lockTTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.SourceLockTTL
}
