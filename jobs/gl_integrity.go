package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

const (
	checkUnbalancedEntry = "unbalanced_entry"
	checkBalanceDrift    = "balance_drift"
)

// IntegrityReport summarises one GL integrity run.
type IntegrityReport struct {
	Unbalanced []accounting.UnbalancedEntry
	Drift      []accounting.BalanceDrift
}

// Clean reports whether the run found nothing.
func (r IntegrityReport) Clean() bool {
	return len(r.Unbalanced) == 0 && len(r.Drift) == 0
}

// GLIntegrityJob reports ledger inconsistencies. It never modifies the ledger.
type GLIntegrityJob struct {
	Reader  accounting.IntegrityReader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob constructs the job handler.
func NewGLIntegrityJob(reader accounting.IntegrityReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Reader: reader, Logger: logger, Metrics: metrics}
}

// Handle executes the integrity scan for an Asynq task.
func (j *GLIntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload GLIntegrityPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx)
	return err
}

// Run scans every posted entry and account. Findings are not errors; the run
// fails only when the ledger cannot be read.
func (j *GLIntegrityJob) Run(ctx context.Context) (report IntegrityReport, resultErr error) {
	if j == nil || j.Reader == nil {
		return report, errors.New("gl integrity: reader not configured")
	}
	tracker := j.metrics().Track(TaskGLIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	unbalanced, err := j.Reader.FindUnbalancedEntries(ctx)
	if err != nil {
		j.log().Error("find unbalanced entries", slog.Any("error", err))
		return report, err
	}
	for _, entry := range unbalanced {
		j.log().Error("unbalanced journal entry",
			slog.Int64("entry_id", entry.EntryID),
			slog.String("reference", entry.Reference),
			slog.String("debit", money.Format(entry.Debit)),
			slog.String("credit", money.Format(entry.Credit)))
	}
	j.metrics().AddFindings(checkUnbalancedEntry, len(unbalanced))

	drift, err := j.Reader.FindBalanceDrift(ctx)
	if err != nil {
		j.log().Error("find balance drift", slog.Any("error", err))
		return report, err
	}
	for _, d := range drift {
		j.log().Error("account balance drift",
			slog.Int64("account_id", d.AccountID),
			slog.String("code", d.Code),
			slog.String("stored", money.Format(d.Stored)),
			slog.String("expected", money.Format(d.Expected)))
	}
	j.metrics().AddFindings(checkBalanceDrift, len(drift))

	report = IntegrityReport{Unbalanced: unbalanced, Drift: drift}
	j.log().Info("gl integrity check executed",
		slog.Int("unbalanced", len(unbalanced)),
		slog.Int("drift", len(drift)))
	return report, nil
}

func (j *GLIntegrityJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GLIntegrityJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskGLIntegrity))
}
