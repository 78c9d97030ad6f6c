package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAfterCommitOutsideUnitOfWorkRunsNow(t *testing.T) {
	var ran bool
	AfterCommit(context.Background(), func() { ran = true })
	require.True(t, ran)
}

func TestCommitHooksRunInOrderOnce(t *testing.T) {
	ctx, hooks := WithCommitHooks(context.Background())
	require.NotNil(t, hooks)

	inner, nested := WithCommitHooks(ctx)
	require.Nil(t, nested)

	var order []int
	AfterCommit(ctx, func() { order = append(order, 1) })
	AfterCommit(inner, func() { order = append(order, 2) })
	require.Empty(t, order)

	nested.Run()
	require.Empty(t, order)

	hooks.Run()
	require.Equal(t, []int{1, 2}, order)
	hooks.Run()
	require.Equal(t, []int{1, 2}, order)
}
