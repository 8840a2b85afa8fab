package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbound-dev/mailindex/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "objectstore.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEnabledStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	err := store.WriteEnabled(ctx, domain.EnabledState{
		Enabled:         true,
		ExcludedListIDs: []domain.GeneratedID{"list-spam"},
	})
	require.NoError(t, err)

	state, err := store.ReadEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, state.Enabled)
	assert.Equal(t, []domain.GeneratedID{"list-spam"}, state.ExcludedListIDs)
}

func TestReadGroupDefaultsToNothingIndexed(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	data, err := store.ReadGroup(ctx, "group-unknown")
	require.NoError(t, err)
	assert.Equal(t, domain.NothingIndexed, data.IndexTimestamp)
}

func TestWriteGroupUpsert(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.WriteGroup(ctx, domain.GroupData{MailGroupID: "g1", IndexTimestamp: 1000}))
	require.NoError(t, store.WriteGroup(ctx, domain.GroupData{MailGroupID: "g1", IndexTimestamp: 500}))

	data, err := store.ReadGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), data.IndexTimestamp)
}

func TestElementDataLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	missing, err := store.ReadElement(ctx, "enc-key-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.WriteElement(ctx, domain.ElementData{EncInstanceKey: "enc-key-1", CurrentListID: "list-a"}))

	found, err := store.ReadElement(ctx, "enc-key-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.GeneratedID("list-a"), found.CurrentListID)

	require.NoError(t, store.DeleteElement(ctx, "enc-key-1"))

	gone, err := store.ReadElement(ctx, "enc-key-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDeleteAllClearsEverything(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.WriteEnabled(ctx, domain.EnabledState{Enabled: true}))
	require.NoError(t, store.WriteGroup(ctx, domain.GroupData{MailGroupID: "g1", IndexTimestamp: 500}))
	require.NoError(t, store.WriteElement(ctx, domain.ElementData{EncInstanceKey: "k", CurrentListID: "l"}))

	require.NoError(t, store.DeleteAll(ctx))

	state, err := store.ReadEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, state.Enabled)

	data, err := store.ReadGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, domain.NothingIndexed, data.IndexTimestamp)

	el, err := store.ReadElement(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, el)
}
