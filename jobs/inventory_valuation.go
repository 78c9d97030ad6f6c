package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

const valuationConcurrency = 4

// Valuator captures valuation snapshots.
type Valuator interface {
	RecordValuationSnapshot(ctx context.Context, scope inventory.ValuationScope) (inventory.ValuationSnapshot, error)
}

// ValuationJob snapshots inventory value per branch.
type ValuationJob struct {
	Valuator Valuator
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewValuationJob constructs the job handler.
func NewValuationJob(valuator Valuator, logger *slog.Logger, metrics *jobmetrics.Metrics) *ValuationJob {
	return &ValuationJob{Valuator: valuator, Logger: logger, Metrics: metrics}
}

// Handle executes the valuation snapshot job.
func (j *ValuationJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload ValuationPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.BranchIDs)
	return err
}

// Run captures one snapshot per branch concurrently. No branches means a
// single company wide snapshot.
func (j *ValuationJob) Run(ctx context.Context, branchIDs []int64) (snapshots []inventory.ValuationSnapshot, resultErr error) {
	if j == nil || j.Valuator == nil {
		return nil, errors.New("inventory valuation: valuator not configured")
	}
	tracker := j.metrics().Track(TaskInventoryValuation)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	branches := uniqueBranches(branchIDs)
	snapshots = make([]inventory.ValuationSnapshot, len(branches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(valuationConcurrency)
	for i, branchID := range branches {
		g.Go(func() error {
			snap, err := j.Valuator.RecordValuationSnapshot(gctx, inventory.ValuationScope{BranchID: branchID})
			if err != nil {
				j.log().Error("record valuation snapshot", slog.Int64("branch_id", branchID), slog.Any("error", err))
				return err
			}
			snapshots[i] = snap
			j.metrics().SetInventoryValue(branchID, "warehouse", snap.Valuation.WarehouseValue.InexactFloat64())
			j.metrics().SetInventoryValue(branchID, "transit", snap.Valuation.TransitValue.InexactFloat64())
			j.metrics().SetInventoryValue(branchID, "total", snap.Valuation.TotalValue.InexactFloat64())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	j.log().Info("captured inventory valuation", slog.Int("branches", len(branches)))
	return snapshots, nil
}

func uniqueBranches(ids []int64) []int64 {
	if len(ids) == 0 {
		return []int64{0}
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func (j *ValuationJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ValuationJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventoryValuation))
	}
	return slog.Default().With(slog.String("job", TaskInventoryValuation))
}
