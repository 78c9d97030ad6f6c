package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/odyssey-erp/odyssey-ledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  migrate up                       apply pending migrations
  migrate down -steps N            roll back N migrations
  jobs trigger <task> [-branches]  enqueue a background job
  jobs stats                       show default queue state
  jobs scheduled [-size N]         list scheduled tasks
  sale complete [-file F]          complete a sale document (JSON)
  purchase receive [-file F]       receive a purchase document (JSON)
  entry reverse -id N -user N      reverse a posted journal entry
  balance -account N               print an account balance
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	if len(args) < 1 {
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 1
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	switch args[0] {
	case "migrate":
		return runMigrate(cfg, logger, args[1:])
	case "jobs":
		return runJobs(ctx, cfg, args[1:])
	case "sale", "purchase", "entry", "balance":
		return runLedger(ctx, cfg, logger, args)
	default:
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 1
	}
}

func runMigrate(cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) < 1 {
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 1
	}
	fs := flag.NewFlagSet("migrate "+args[0], flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	var err error
	switch args[0] {
	case "up":
		err = db.MigrateUp(cfg.PGDSN, logger)
	case "down":
		err = db.MigrateDown(cfg.PGDSN, *steps, logger)
	default:
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 1
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "migrate %s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) < 1 {
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 1
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() {
		_ = jobsCLI.Close()
	}()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			_, _ = fmt.Fprintln(os.Stderr, "jobs trigger: task name required")
			return 1
		}
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		branches := fs.String("branches", "", "comma separated branch ids for valuation snapshots")
		if err := fs.Parse(args[2:]); err != nil {
			return 1
		}
		ids, err := parseIDs(*branches)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		info, err := jobsCLI.Trigger(ctx, args[1], ids...)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(os.Stdout, "enqueued %s as %s\n", info.Type, info.ID)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		_ = json.NewEncoder(os.Stdout).Encode(stats)
	case "scheduled":
		fs := flag.NewFlagSet("jobs scheduled", flag.ContinueOnError)
		size := fs.Int("size", 10, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		tasks, err := jobsCLI.ListScheduled(ctx, *size)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs scheduled: %v\n", err)
			return 1
		}
		for _, task := range tasks {
			_, _ = fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", task.ID, task.Type, task.NextProcessAt.Format("2006-01-02 15:04:05"))
		}
	default:
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 1
	}
	return 0
}

func runLedger(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "connect database: %v\n", err)
		return 1
	}
	defer pool.Close()

	deps := app.LedgerDeps{Pool: pool, Logger: logger}
	if rdb, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, running without mapping cache and source locks", slog.Any("error", err))
	} else {
		defer func() {
			_ = rdb.Close()
		}()
		deps.Redis = rdb
	}
	ledger := app.NewLedger(cfg, deps)
	ledgerCLI := cli.NewLedgerCLI(ledger.Hooks, ledger.Accounting)

	fs := flag.NewFlagSet(strings.Join(args[:min(2, len(args))], " "), flag.ContinueOnError)
	file := fs.String("file", "", "document path, stdin when empty")
	id := fs.Int64("id", 0, "journal entry id")
	user := fs.Int64("user", 0, "acting user id")
	reason := fs.String("reason", "", "reversal reason")
	account := fs.Int64("account", 0, "account id")

	sub := ""
	rest := args[1:]
	if args[0] != "balance" {
		if len(rest) < 1 {
			_, _ = fmt.Fprint(os.Stderr, usage)
			return 1
		}
		sub, rest = rest[0], rest[1:]
	}
	if err := fs.Parse(rest); err != nil {
		return 1
	}

	switch args[0] + " " + sub {
	case "sale complete", "purchase receive":
		input, closeInput, err := openInput(*file)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "%s %s: %v\n", args[0], sub, err)
			return 1
		}
		defer closeInput()
		opts := cli.IOOptions{Input: input}
		if args[0] == "sale" {
			return ledgerCLI.CompleteSaleCommand(ctx, opts)
		}
		return ledgerCLI.ReceivePurchaseCommand(ctx, opts)
	case "entry reverse":
		return ledgerCLI.ReverseCommand(ctx, *id, *reason, *user, cli.IOOptions{})
	case "balance ":
		return ledgerCLI.BalanceCommand(ctx, *account, cli.IOOptions{})
	default:
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 1
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func parseIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid branch id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
