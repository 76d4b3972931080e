// SPDX-License-Identifier: MIT

package capacity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventkiosk/cardforge/internal/config"
)

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadgerStore(dir)
	require.NoError(t, err)

	c := NewController(store, Config{})
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		ok, err := c.Admit(ctx, id)
		require.NoError(t, err)
		require.True(t, ok, "admission %d", i)
		_, err = c.Complete(ctx, id, OutcomeSuccess)
		require.NoError(t, err)
	}
	st, err := c.Snapshot(ctx)
	require.NoError(t, err)
	learned := st.AvailableSlots
	successes := st.TotalSuccesses
	require.NoError(t, store.Close())

	// Learned capacity must survive a restart.
	store, err = OpenBadgerStore(dir)
	require.NoError(t, err)
	defer store.Close()

	c = NewController(store, Config{})
	st, err = c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, learned, st.AvailableSlots)
	assert.Equal(t, successes, st.TotalSuccesses)
}

func TestBadgerStoreLoadEmpty(t *testing.T) {
	store, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st, "missing state should load as nil without error")
}

func TestBadgerStoreUpdateRollbackOnError(t *testing.T) {
	store, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.Update(ctx, func(st *State) error {
		st.AvailableSlots = 7
		return assert.AnError
	})
	require.Error(t, err)

	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, st, "failed update must not persist")
}

func TestNewStoreFactory(t *testing.T) {
	s, err := NewStore(config.BackendMemory, "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewStore(config.BackendBadger, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewStore("postgres", "")
	assert.Error(t, err)
}
