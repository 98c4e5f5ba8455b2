package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockExcludesSecondHolder(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	lock, err := c.AcquireLock(ctx, "incident:inc-1", time.Minute)
	require.NoError(t, err)

	_, err = c.AcquireLock(ctx, "incident:inc-1", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	// A different incident is unaffected.
	other, err := c.AcquireLock(ctx, "incident:inc-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))

	// Released, so re-acquirable.
	lock2, err := c.AcquireLock(ctx, "incident:inc-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lock2.Release(ctx))
}

func TestLockReleaseByStaleHolderFails(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	stale, err := c.AcquireLock(ctx, "incident:inc-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, stale.Release(ctx))

	fresh, err := c.AcquireLock(ctx, "incident:inc-1", time.Minute)
	require.NoError(t, err)

	// The stale holder can neither release nor refresh the new holder's lock.
	assert.Error(t, stale.Release(ctx))
	assert.Error(t, stale.Refresh(ctx))

	require.NoError(t, fresh.Refresh(ctx))
	require.NoError(t, fresh.Release(ctx))
}
