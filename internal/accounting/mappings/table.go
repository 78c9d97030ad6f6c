package mappings

import (
	"context"
	"sync"
)

// Table is an in-memory Lookup. Branch specific rows win over DefaultBranch rows.
type Table struct {
	mu   sync.RWMutex
	rows map[Key]int64
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{rows: make(map[Key]int64)}
}

// Set configures a mapping. Use DefaultBranch for the fallback row.
func (t *Table) Set(module Module, role Role, branchID, accountID int64) *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[Key{Module: module, Role: role, BranchID: branchID}] = accountID
	return t
}

// Unset removes a mapping.
func (t *Table) Unset(module Module, role Role, branchID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, Key{Module: module, Role: role, BranchID: branchID})
}

// Resolve implements Lookup.
func (t *Table) Resolve(_ context.Context, module Module, role Role, branchID int64) (AccountRef, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id, ok := t.rows[Key{Module: module, Role: role, BranchID: branchID}]; ok {
		return Configured(id), nil
	}
	if id, ok := t.rows[Key{Module: module, Role: role, BranchID: DefaultBranch}]; ok {
		return Configured(id), nil
	}
	return NotConfigured(), nil
}
