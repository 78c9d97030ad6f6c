package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// DocumentPoster turns business documents into ledger and stock effects.
type DocumentPoster interface {
	CompleteSale(ctx context.Context, sale integration.Sale) (integration.CompletedSale, error)
	ReceivePurchase(ctx context.Context, purchase integration.Purchase) (integration.ReceivedPurchase, error)
}

// EntryService is the part of the ledger the CLI drives directly.
type EntryService interface {
	Reverse(ctx context.Context, entryID int64, reason string, userID int64) (int64, error)
	GetAccountBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
}

// LedgerCLI posts documents and inspects balances from the command line.
type LedgerCLI struct {
	docs    DocumentPoster
	entries EntryService
}

// NewLedgerCLI constructs the helper.
func NewLedgerCLI(docs DocumentPoster, entries EntryService) *LedgerCLI {
	return &LedgerCLI{docs: docs, entries: entries}
}

// IOOptions carries the streams of one command.
type IOOptions struct {
	Input  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (o *IOOptions) defaults() {
	if o.Input == nil {
		o.Input = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// SaleResult is the JSON summary printed by sale complete.
type SaleResult struct {
	EntryID      int64  `json:"entry_id"`
	COGSEntryID  int64  `json:"cogs_entry_id,omitempty"`
	CostOfGoods  string `json:"cost_of_goods"`
	BatchesTaken int    `json:"batches_taken"`
}

// PurchaseResult is the JSON summary printed by purchase receive.
type PurchaseResult struct {
	EntryID  int64   `json:"entry_id"`
	BatchIDs []int64 `json:"batch_ids"`
}

// CompleteSaleCommand reads a sale document as JSON and completes it.
func (c *LedgerCLI) CompleteSaleCommand(ctx context.Context, opts IOOptions) int {
	opts.defaults()
	var sale integration.Sale
	if err := json.NewDecoder(opts.Input).Decode(&sale); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "sale complete: decode document: %v\n", err)
		return 1
	}
	done, err := c.docs.CompleteSale(ctx, sale)
	if err != nil {
		return reportError(opts.Stderr, "sale complete", err)
	}
	return writeJSON(opts, "sale complete", SaleResult{
		EntryID:      done.EntryID,
		COGSEntryID:  done.COGSEntryID,
		CostOfGoods:  money.Format(done.CostOfGoods),
		BatchesTaken: done.BatchesTaken,
	})
}

// ReceivePurchaseCommand reads a purchase document as JSON and receives it.
func (c *LedgerCLI) ReceivePurchaseCommand(ctx context.Context, opts IOOptions) int {
	opts.defaults()
	var purchase integration.Purchase
	if err := json.NewDecoder(opts.Input).Decode(&purchase); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "purchase receive: decode document: %v\n", err)
		return 1
	}
	done, err := c.docs.ReceivePurchase(ctx, purchase)
	if err != nil {
		return reportError(opts.Stderr, "purchase receive", err)
	}
	return writeJSON(opts, "purchase receive", PurchaseResult{EntryID: done.EntryID, BatchIDs: done.BatchIDs})
}

// ReverseCommand reverses a posted entry.
func (c *LedgerCLI) ReverseCommand(ctx context.Context, entryID int64, reason string, userID int64, opts IOOptions) int {
	opts.defaults()
	if entryID <= 0 || userID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "entry reverse: --id and --user are required and must be positive")
		return 1
	}
	id, err := c.entries.Reverse(ctx, entryID, reason, userID)
	if err != nil {
		return reportError(opts.Stderr, "entry reverse", err)
	}
	return writeJSON(opts, "entry reverse", map[string]int64{"reversal_id": id})
}

// BalanceCommand prints the stored balance of an account.
func (c *LedgerCLI) BalanceCommand(ctx context.Context, accountID int64, opts IOOptions) int {
	opts.defaults()
	if accountID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "balance: --account is required and must be positive")
		return 1
	}
	balance, err := c.entries.GetAccountBalance(ctx, accountID)
	if err != nil {
		return reportError(opts.Stderr, "balance", err)
	}
	_, _ = fmt.Fprintln(opts.Stdout, money.Format(balance))
	return 0
}

// reportError prints err and maps it to an exit code: 2 for rejected input,
// 3 for ledger state conflicts, 4 for integrity failures, 1 otherwise.
func reportError(w io.Writer, cmd string, err error) int {
	var integrity *shared.IntegrityError
	switch {
	case errors.As(err, &integrity):
		_, _ = fmt.Fprintf(w, "%s: %s\n", cmd, integrity.Error())
		return 4
	case errors.Is(err, accounting.ErrUnbalanced),
		errors.Is(err, accounting.ErrTooFewLines),
		errors.Is(err, accounting.ErrInvalidLine),
		errors.Is(err, integration.ErrInvalidDocument):
		_, _ = fmt.Fprintf(w, "%s: %v\n", cmd, err)
		return 2
	case errors.Is(err, accounting.ErrAlreadyPosted),
		errors.Is(err, accounting.ErrAlreadyReversed),
		errors.Is(err, accounting.ErrNotReversible),
		errors.Is(err, accounting.ErrNotPosted),
		errors.Is(err, accounting.ErrSourceAlreadyLinked),
		errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, shared.ErrSourceBusy):
		_, _ = fmt.Fprintf(w, "%s: %v\n", cmd, err)
		return 3
	default:
		_, _ = fmt.Fprintf(w, "%s: %v\n", cmd, err)
		return 1
	}
}

func writeJSON(opts IOOptions, cmd string, v any) int {
	if err := json.NewEncoder(opts.Stdout).Encode(v); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "%s: encode json: %v\n", cmd, err)
		return 1
	}
	return 0
}
