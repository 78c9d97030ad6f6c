package db

import (
	"context"
	"sync"
)

type commitHooksKey struct{}

// CommitHooks collects callbacks to run once the outermost unit of work
// commits. They are dropped on rollback.
type CommitHooks struct {
	mu  sync.Mutex
	fns []func()
}

// WithCommitHooks binds a fresh hook list to ctx unless one is already bound.
// The returned hooks are nil when ctx joins an outer unit of work.
func WithCommitHooks(ctx context.Context) (context.Context, *CommitHooks) {
	if _, ok := ctx.Value(commitHooksKey{}).(*CommitHooks); ok {
		return ctx, nil
	}
	hooks := &CommitHooks{}
	return context.WithValue(ctx, commitHooksKey{}, hooks), hooks
}

// AfterCommit defers fn until the unit of work carried by ctx commits. Outside
// a unit of work fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	hooks, ok := ctx.Value(commitHooksKey{}).(*CommitHooks)
	if !ok {
		fn()
		return
	}
	hooks.mu.Lock()
	hooks.fns = append(hooks.fns, fn)
	hooks.mu.Unlock()
}

// Run calls the collected callbacks in registration order. Nil hooks are a no-op.
func (h *CommitHooks) Run() {
	if h == nil {
		return
	}
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
