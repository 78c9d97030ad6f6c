package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// Sweeper resets the cost of depleted stock.
type Sweeper interface {
	SweepZeroStock(ctx context.Context) (int, error)
}

// ZeroStockSweepJob runs the zero-stock reset across all warehouses.
type ZeroStockSweepJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewZeroStockSweepJob constructs the job handler.
func NewZeroStockSweepJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *ZeroStockSweepJob {
	return &ZeroStockSweepJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep.
func (j *ZeroStockSweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload ZeroStockSweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx)
	return err
}

// Run resets every depleted (product, warehouse) pair and returns how many were reset.
func (j *ZeroStockSweepJob) Run(ctx context.Context) (reset int, resultErr error) {
	if j == nil || j.Sweeper == nil {
		return 0, errors.New("zero stock sweep: sweeper not configured")
	}
	tracker := j.metrics().Track(TaskZeroStockSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	reset, err := j.Sweeper.SweepZeroStock(ctx)
	if err != nil {
		j.log().Error("sweep zero stock", slog.Int("reset", reset), slog.Any("error", err))
		return reset, err
	}
	j.log().Info("zero stock sweep executed", slog.Int("reset", reset))
	return reset, nil
}

func (j *ZeroStockSweepJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ZeroStockSweepJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskZeroStockSweep))
	}
	return slog.Default().With(slog.String("job", TaskZeroStockSweep))
}
