package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate checks the mandatory audit fields.
func (l AuditLog) Validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

// AuditLogger writes records into audit_logs. A record made while ctx carries
// a transaction is written inside it and shares its fate.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	if log.Meta == nil {
		log.Meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	var actor *int64
	if log.ActorID != 0 {
		actor = &log.ActorID
	}
	_, err = db.Conn(ctx, l.pool).Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, actor, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// MemoryAudit keeps audit logs in memory. Used by tests and dry runs.
type MemoryAudit struct {
	Logs []AuditLog
}

// Record appends the log entry.
func (m *MemoryAudit) Record(_ context.Context, log AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	m.Logs = append(m.Logs, log)
	return nil
}

// Actions lists the recorded actions in order.
func (m *MemoryAudit) Actions() []string {
	out := make([]string, 0, len(m.Logs))
	for _, l := range m.Logs {
		out = append(out, l.Action)
	}
	return out
}
