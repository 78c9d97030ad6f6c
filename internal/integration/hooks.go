package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Ledger exposes journal posting operations required by integrations.
type Ledger interface {
	CreateAndPost(ctx context.Context, header accounting.EntryHeader, lines []accounting.LineInput, approverID int64) (accounting.JournalEntry, error)
	FindBySource(ctx context.Context, ref accounting.SourceRef) (accounting.JournalEntry, error)
}

// Costing exposes the inventory operations a sale or purchase drives.
type Costing interface {
	IssueStock(ctx context.Context, productID, warehouseID int64, qty decimal.Decimal) (inventory.CostResult, error)
	AddOrUpdateBatch(ctx context.Context, in inventory.ReceiptInput) (inventory.Batch, error)
}

// UnitOfWork opens a transaction that the ledger and costing repositories join.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(context.Context) error) error
}

// Locker serialises work on one source document across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Config groups the hook collaborators. Locker is optional.
type Config struct {
	Ledger   Ledger
	Mappings mappings.Lookup
	Costing  Costing
	Products inventory.ProductCatalog
	UoW      UnitOfWork
	Locker   Locker
	Logger   *slog.Logger
}

// Hooks wires business documents into the general ledger and the costing engine.
type Hooks struct {
	ledger   Ledger
	mappings mappings.Lookup
	costing  Costing
	products inventory.ProductCatalog
	uow      UnitOfWork
	locker   Locker
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHooks constructs integration hooks.
func NewHooks(cfg Config) *Hooks {
	h := &Hooks{
		ledger:   cfg.Ledger,
		mappings: cfg.Mappings,
		costing:  cfg.Costing,
		products: cfg.Products,
		uow:      cfg.UoW,
		locker:   cfg.Locker,
		logger:   cfg.Logger,
		validate: validator.New(),
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// GenerateFromSale posts the revenue entry of a sale. A sale that already has
// an entry returns the existing id.
func (h *Hooks) GenerateFromSale(ctx context.Context, sale Sale) (int64, error) {
	if err := h.checkSale(sale); err != nil {
		return 0, err
	}
	var id int64
	err := h.withSourceLock(ctx, mappings.ModuleSales, SourceTypeSale, sale.ID, func(ctx context.Context) error {
		var err error
		id, err = h.generateFromSale(ctx, sale)
		return err
	})
	return id, err
}

func (h *Hooks) generateFromSale(ctx context.Context, sale Sale) (int64, error) {
	b := newLineBuilder(ctx, h.mappings, sale.BranchID)
	saleLines(b, sale)
	header := accounting.EntryHeader{
		BranchID:      sale.BranchID,
		Date:          sale.Date,
		Description:   fmt.Sprintf("Sale %s", sale.Number),
		Source:        accounting.SourceRef{Module: string(mappings.ModuleSales), Type: SourceTypeSale, ID: sale.ID},
		AutoGenerated: true,
		CreatedBy:     sale.ActorID,
	}
	return h.post(ctx, header, b, sale.ActorID)
}

// GenerateFromPurchase posts the entry of a received purchase.
func (h *Hooks) GenerateFromPurchase(ctx context.Context, purchase Purchase) (int64, error) {
	if err := h.checkPurchase(purchase); err != nil {
		return 0, err
	}
	var id int64
	err := h.withSourceLock(ctx, mappings.ModulePurchases, SourceTypePurchase, purchase.ID, func(ctx context.Context) error {
		var err error
		id, err = h.generateFromPurchase(ctx, purchase)
		return err
	})
	return id, err
}

func (h *Hooks) generateFromPurchase(ctx context.Context, purchase Purchase) (int64, error) {
	b := newLineBuilder(ctx, h.mappings, purchase.BranchID)
	purchaseLines(b, purchase)
	header := accounting.EntryHeader{
		BranchID:      purchase.BranchID,
		Date:          purchase.Date,
		Description:   fmt.Sprintf("Purchase %s", purchase.Number),
		Source:        accounting.SourceRef{Module: string(mappings.ModulePurchases), Type: SourceTypePurchase, ID: purchase.ID},
		AutoGenerated: true,
		CreatedBy:     purchase.ActorID,
	}
	return h.post(ctx, header, b, purchase.ActorID)
}

// RecordCOGS posts the cost of goods entry of a sale. It reports false when
// the sale carries no cost and nothing was posted.
func (h *Hooks) RecordCOGS(ctx context.Context, sale Sale) (int64, bool, error) {
	if err := h.checkSale(sale); err != nil {
		return 0, false, err
	}
	var (
		id     int64
		posted bool
	)
	err := h.withSourceLock(ctx, mappings.ModuleSales, SourceTypeSaleCOGS, sale.ID, func(ctx context.Context) error {
		var err error
		id, posted, err = h.recordCOGS(ctx, sale)
		return err
	})
	return id, posted, err
}

func (h *Hooks) recordCOGS(ctx context.Context, sale Sale) (int64, bool, error) {
	cost, err := h.costOfSale(ctx, sale)
	if err != nil {
		return 0, false, err
	}
	if !cost.IsPositive() {
		return 0, false, nil
	}
	b := newLineBuilder(ctx, h.mappings, sale.BranchID)
	cogsLines(b, sale, cost)
	header := accounting.EntryHeader{
		BranchID:      sale.BranchID,
		Date:          sale.Date,
		Description:   fmt.Sprintf("COGS for sale %s", sale.Number),
		Source:        accounting.SourceRef{Module: string(mappings.ModuleSales), Type: SourceTypeSaleCOGS, ID: sale.ID},
		AutoGenerated: true,
		CreatedBy:     sale.ActorID,
	}
	id, err := h.post(ctx, header, b, sale.ActorID)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// costOfSale sums each line's explicit cost total, else its cost price
// snapshot times quantity, else the product cost price times quantity.
func (h *Hooks) costOfSale(ctx context.Context, sale Sale) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, line := range sale.Lines {
		switch {
		case line.CostTotal.Valid:
			total = total.Add(line.CostTotal.Decimal)
		case line.CostPrice.Valid:
			total = total.Add(lineCost(line.Quantity, line.CostPrice.Decimal))
		default:
			if h.products == nil {
				return decimal.Zero, fmt.Errorf("%w: product catalog", ErrNotConfigured)
			}
			product, err := h.products.GetProduct(ctx, line.ProductID)
			if err != nil {
				return decimal.Zero, err
			}
			total = total.Add(lineCost(line.Quantity, product.CostPrice))
		}
	}
	return money.Round(total), nil
}

// CompleteSale issues the sold stock and posts the revenue and COGS entries
// in one unit of work. The returned sale carries the cost snapshots.
func (h *Hooks) CompleteSale(ctx context.Context, sale Sale) (CompletedSale, error) {
	if err := h.checkSale(sale); err != nil {
		return CompletedSale{}, err
	}
	if h.costing == nil || h.uow == nil {
		return CompletedSale{}, fmt.Errorf("%w: costing engine", ErrNotConfigured)
	}
	var out CompletedSale
	err := h.withSourceLock(ctx, mappings.ModuleSales, SourceTypeSale, sale.ID, func(ctx context.Context) error {
		return h.uow.InTx(ctx, func(ctx context.Context) error {
			if existing, err := h.existing(ctx, mappings.ModuleSales, SourceTypeSale, sale.ID); err != nil || existing != 0 {
				if err == nil {
					err = fmt.Errorf("%w: sale %s", accounting.ErrSourceAlreadyLinked, sale.Number)
				}
				return err
			}
			costed := sale
			costed.Lines = append([]SaleLine(nil), sale.Lines...)
			taken := 0
			for i, line := range costed.Lines {
				res, err := h.costing.IssueStock(ctx, line.ProductID, sale.WarehouseID, line.Quantity)
				if err != nil {
					return err
				}
				taken += len(res.BatchesUsed)
				costed.Lines[i].CostPrice = decimal.NewNullDecimal(res.UnitCost)
				costed.Lines[i].CostTotal = decimal.NewNullDecimal(res.TotalCost)
			}
			entryID, err := h.generateFromSale(ctx, costed)
			if err != nil {
				return err
			}
			cogsID, posted, err := h.recordCOGS(ctx, costed)
			if err != nil {
				return err
			}
			cost, err := h.costOfSale(ctx, costed)
			if err != nil {
				return err
			}
			out = CompletedSale{
				Sale:         costed,
				EntryID:      entryID,
				COGSEntryID:  cogsID,
				COGSPosted:   posted,
				CostOfGoods:  cost,
				BatchesTaken: taken,
			}
			return nil
		})
	})
	if err != nil {
		return CompletedSale{}, err
	}
	h.logger.InfoContext(ctx, "sale completed",
		slog.Int64("sale_id", sale.ID),
		slog.Int64("entry_id", out.EntryID),
		slog.Int64("cogs_entry_id", out.COGSEntryID),
		slog.String("cost_of_goods", money.Format(out.CostOfGoods)),
	)
	return out, nil
}

// ReceivePurchase books a batch per purchase line and posts the purchase
// entry in one unit of work.
func (h *Hooks) ReceivePurchase(ctx context.Context, purchase Purchase) (ReceivedPurchase, error) {
	if err := h.checkPurchase(purchase); err != nil {
		return ReceivedPurchase{}, err
	}
	if h.costing == nil || h.uow == nil {
		return ReceivedPurchase{}, fmt.Errorf("%w: costing engine", ErrNotConfigured)
	}
	var out ReceivedPurchase
	err := h.withSourceLock(ctx, mappings.ModulePurchases, SourceTypePurchase, purchase.ID, func(ctx context.Context) error {
		return h.uow.InTx(ctx, func(ctx context.Context) error {
			if existing, err := h.existing(ctx, mappings.ModulePurchases, SourceTypePurchase, purchase.ID); err != nil || existing != 0 {
				if err == nil {
					err = fmt.Errorf("%w: purchase %s", accounting.ErrSourceAlreadyLinked, purchase.Number)
				}
				return err
			}
			ids := make([]int64, 0, len(purchase.Lines))
			for _, line := range purchase.Lines {
				batch, err := h.costing.AddOrUpdateBatch(ctx, inventory.ReceiptInput{
					ProductID:   line.ProductID,
					WarehouseID: purchase.WarehouseID,
					BranchID:    purchase.BranchID,
					Quantity:    line.Quantity,
					UnitCost:    line.UnitCost,
					BatchNumber: line.BatchNumber,
					ActorID:     purchase.ActorID,
				})
				if err != nil {
					return err
				}
				ids = append(ids, batch.ID)
			}
			entryID, err := h.generateFromPurchase(ctx, purchase)
			if err != nil {
				return err
			}
			out = ReceivedPurchase{EntryID: entryID, BatchIDs: ids}
			return nil
		})
	})
	if err != nil {
		return ReceivedPurchase{}, err
	}
	return out, nil
}

// post creates and posts the entry unless the source already has one.
func (h *Hooks) post(ctx context.Context, header accounting.EntryHeader, b *lineBuilder, approverID int64) (int64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if id, err := h.existing(ctx, mappings.Module(header.Source.Module), header.Source.Type, header.Source.ID); err != nil || id != 0 {
		return id, err
	}
	if len(b.missing) > 0 {
		h.logger.WarnContext(ctx, "journal lines skipped for missing account mapping",
			slog.String("source", fmt.Sprintf("%s/%s#%d", header.Source.Module, header.Source.Type, header.Source.ID)),
			slog.Any("error", b.missingError()),
		)
	}
	entry, err := h.ledger.CreateAndPost(ctx, header, b.lines, approverID)
	if err != nil {
		if errors.Is(err, accounting.ErrSourceAlreadyLinked) {
			if id, lookupErr := h.existing(ctx, mappings.Module(header.Source.Module), header.Source.Type, header.Source.ID); lookupErr == nil && id != 0 {
				return id, nil
			}
		}
		if missing := b.missingError(); missing != nil {
			err = errors.Join(err, missing)
		}
		return 0, err
	}
	return entry.ID, nil
}

func (h *Hooks) existing(ctx context.Context, module mappings.Module, sourceType string, id int64) (int64, error) {
	if h.ledger == nil {
		return 0, fmt.Errorf("%w: ledger", ErrNotConfigured)
	}
	entry, err := h.ledger.FindBySource(ctx, accounting.SourceRef{Module: string(module), Type: sourceType, ID: id})
	if errors.Is(err, accounting.ErrEntryNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return entry.ID, nil
}

func (h *Hooks) withSourceLock(ctx context.Context, module mappings.Module, sourceType string, id int64, fn func(context.Context) error) error {
	if h.locker == nil {
		return fn(ctx)
	}
	return h.locker.WithLock(ctx, shared.SourceLockKey(string(module), sourceType, id), fn)
}

func (h *Hooks) checkSale(sale Sale) error {
	if err := h.validate.Struct(sale); err != nil {
		return fmt.Errorf("%w: sale: %v", ErrInvalidDocument, err)
	}
	if negative(sale.Subtotal, sale.Tax, sale.Discount, sale.Shipping) {
		return fmt.Errorf("%w: sale %s has a negative amount", ErrInvalidDocument, sale.Number)
	}
	for _, p := range sale.Payments {
		if !p.Amount.IsPositive() {
			return fmt.Errorf("%w: sale %s payment must be positive", ErrInvalidDocument, sale.Number)
		}
	}
	for _, l := range sale.Lines {
		if !l.Quantity.IsPositive() {
			return fmt.Errorf("%w: sale %s line quantity must be positive", ErrInvalidDocument, sale.Number)
		}
	}
	return nil
}

func (h *Hooks) checkPurchase(p Purchase) error {
	if err := h.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: purchase: %v", ErrInvalidDocument, err)
	}
	if negative(p.Subtotal, p.Tax, p.Shipping, p.Discount, p.AmountPaid) {
		return fmt.Errorf("%w: purchase %s has a negative amount", ErrInvalidDocument, p.Number)
	}
	for _, l := range p.Lines {
		if !l.Quantity.IsPositive() || l.UnitCost.IsNegative() {
			return fmt.Errorf("%w: purchase %s line quantity or cost invalid", ErrInvalidDocument, p.Number)
		}
	}
	return nil
}

var _ Locker = (*shared.SourceLocker)(nil)
