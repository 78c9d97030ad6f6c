package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrity scans the ledger for unbalanced entries and balance drift.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskInventoryValuation stores inventory valuation snapshots.
	TaskInventoryValuation = "inventory:valuation_snapshot"
	// TaskZeroStockSweep resets the cost of stock that has run out.
	TaskZeroStockSweep = "inventory:zero_stock_sweep"
)

// TaskTypes lists every task the worker handles.
func TaskTypes() []string {
	return []string{TaskGLIntegrity, TaskInventoryValuation, TaskZeroStockSweep}
}

// GLIntegrityPayload carries scheduling metadata.
type GLIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// ValuationPayload selects the branches to snapshot. An empty list captures
// one company wide snapshot.
type ValuationPayload struct {
	BranchIDs []int64 `json:"branch_ids,omitempty"`
}

// ZeroStockSweepPayload carries scheduling metadata.
type ZeroStockSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewGLIntegrityTask constructs an Asynq task for the GL integrity scan.
func NewGLIntegrityTask(at time.Time) (*asynq.Task, error) {
	return newTask(TaskGLIntegrity, GLIntegrityPayload{ScheduledFor: at})
}

// NewValuationTask constructs an Asynq task for valuation snapshots.
func NewValuationTask(branchIDs ...int64) (*asynq.Task, error) {
	return newTask(TaskInventoryValuation, ValuationPayload{BranchIDs: branchIDs})
}

// NewZeroStockSweepTask constructs an Asynq task for the zero-stock sweep.
func NewZeroStockSweepTask(at time.Time) (*asynq.Task, error) {
	return newTask(TaskZeroStockSweep, ZeroStockSweepPayload{ScheduledFor: at})
}

// NewTask builds a task of the given type with its default payload.
func NewTask(taskType string, at time.Time) (*asynq.Task, error) {
	switch taskType {
	case TaskGLIntegrity:
		return NewGLIntegrityTask(at)
	case TaskInventoryValuation:
		return NewValuationTask()
	case TaskZeroStockSweep:
		return NewZeroStockSweepTask(at)
	default:
		return nil, fmt.Errorf("jobs: unknown task type %q", taskType)
	}
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}
