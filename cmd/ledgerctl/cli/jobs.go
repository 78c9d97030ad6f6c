package cli

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Enqueuer submits tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Inspector reads queue state. *asynq.Inspector satisfies it.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
	now       func() time.Time
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return NewJobsCLIWith(asynq.NewClient(opts), asynq.NewInspector(opts)), nil
}

// NewJobsCLIWith builds the helpers on existing collaborators.
func NewJobsCLIWith(client Enqueuer, inspector Inspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector, now: func() time.Time { return time.Now().UTC() }}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name with default payload. Valuation
// accepts optional branch ids.
func (c *JobsCLI) Trigger(ctx context.Context, name string, branchIDs ...int64) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	if name == jobs.TaskInventoryValuation {
		task, err = jobs.NewValuationTask(branchIDs...)
	} else {
		task, err = jobs.NewTask(name, c.now())
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Failed = info.Failed
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
