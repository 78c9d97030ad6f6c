// Package memdb is an in-memory store implementing the accounting and
// inventory repositories for tests. It honours the parts of the Postgres
// contract the engines rely on: exclusive row locks held until the outermost
// unit of work ends, rollback of every mutation on error, and nested units of
// work joining the one carried by the context.
package memdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// DB holds every table.
type DB struct {
	mu        sync.Mutex
	ids       map[string]int64
	seq       int64
	accounts  map[int64]accounting.Account
	entries   map[int64]accounting.JournalEntry
	batches   map[int64]inventory.Batch
	transit   map[int64]inventory.TransitRecord
	products  map[int64]inventory.Product
	snapshots []inventory.ValuationSnapshot
	locks     map[string]chan struct{}
	waiting   map[string]int
	faults    map[string]error
	commits   int
	rollbacks int
}

// New returns an empty store.
func New() *DB {
	return &DB{
		ids:      make(map[string]int64),
		accounts: make(map[int64]accounting.Account),
		entries:  make(map[int64]accounting.JournalEntry),
		batches:  make(map[int64]inventory.Batch),
		transit:  make(map[int64]inventory.TransitRecord),
		products: make(map[int64]inventory.Product),
		locks:    make(map[string]chan struct{}),
		waiting:  make(map[string]int),
		faults:   make(map[string]error),
	}
}

// AccountKey names the row lock of an account.
func AccountKey(id int64) string { return fmt.Sprintf("account:%d", id) }

// EntryKey names the row lock of a journal entry.
func EntryKey(id int64) string { return fmt.Sprintf("entry:%d", id) }

// BatchKey names the row lock of an inventory batch.
func BatchKey(id int64) string { return fmt.Sprintf("batch:%d", id) }

// TransitKey names the row lock of a transit record.
func TransitKey(id int64) string { return fmt.Sprintf("transit:%d", id) }

type txKey struct{}

type tx struct {
	db      *DB
	held    []string
	heldSet map[string]struct{}
	undo    []func()
}

// InTx runs fn as one unit of work. A context that already carries a unit of
// work joins it; commit and rollback are then left to the outer call.
func (d *DB) InTx(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{db: d, heldSet: make(map[string]struct{})}
	defer t.release()
	txCtx, hooks := db.WithCommitHooks(context.WithValue(ctx, txKey{}, t))
	if err := fn(txCtx); err != nil {
		t.rollback()
		return err
	}
	d.mu.Lock()
	d.commits++
	d.mu.Unlock()
	hooks.Run()
	return nil
}

// Lock takes the named row lock for the unit of work carried by ctx.
func (d *DB) Lock(ctx context.Context, key string) error {
	t, ok := ctx.Value(txKey{}).(*tx)
	if !ok {
		return fmt.Errorf("memdb: lock %s outside a unit of work", key)
	}
	return t.lock(ctx, key)
}

// Waiters reports how many units of work are blocked on key.
func (d *DB) Waiters(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waiting[key]
}

// FailOn makes the next call of op fail with err.
func (d *DB) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = err
}

// Stats returns the number of committed and rolled back units of work.
func (d *DB) Stats() (commits, rollbacks int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits, d.rollbacks
}

func (d *DB) fault(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err, ok := d.faults[op]
	if !ok {
		return nil
	}
	delete(d.faults, op)
	return err
}

func (d *DB) nextID(table string) int64 {
	d.ids[table]++
	return d.ids[table]
}

func current(ctx context.Context) *tx {
	t, ok := ctx.Value(txKey{}).(*tx)
	if !ok {
		panic("memdb: repository used outside a unit of work")
	}
	return t
}

func (t *tx) lock(ctx context.Context, key string) error {
	if _, ok := t.heldSet[key]; ok {
		return nil
	}
	d := t.db
	d.mu.Lock()
	ch, ok := d.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		d.locks[key] = ch
	}
	d.waiting[key]++
	d.mu.Unlock()

	var err error
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		err = ctx.Err()
	}

	d.mu.Lock()
	d.waiting[key]--
	d.mu.Unlock()
	if err != nil {
		return err
	}
	t.heldSet[key] = struct{}{}
	t.held = append(t.held, key)
	return nil
}

// onUndo must be called with d.mu held.
func (t *tx) onUndo(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *tx) rollback() {
	d := t.db
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	d.rollbacks++
}

func (t *tx) release() {
	d := t.db
	for i := len(t.held) - 1; i >= 0; i-- {
		d.mu.Lock()
		ch := d.locks[t.held[i]]
		d.mu.Unlock()
		<-ch
	}
	t.held = nil
}
