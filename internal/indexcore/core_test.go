package indexcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbound-dev/mailindex/internal/cryptoindex"
	"github.com/northbound-dev/mailindex/internal/domain"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cipher := cryptoindex.NewKeyCipher([]byte("test database key, 32+ bytes!!!"))
	core, err := Open("", cipher)
	require.NoError(t, err)
	t.Cleanup(func() { core.Close() })
	return core
}

func TestCreateIndexEntriesSplitsWords(t *testing.T) {
	core := newTestCore(t)

	entries := core.CreateIndexEntries(domain.AttrSubject, "group-1:elem-1", "Hello, World! 2026")
	require.Len(t, entries, 3)
	assert.Equal(t, "Hello", string(entries[0].EncToken))
	assert.Equal(t, "World", string(entries[1].EncToken))
	assert.Equal(t, "2026", string(entries[2].EncToken))
	assert.Equal(t, "group-1:elem-1", entries[0].InstanceKey)
}

func TestEncryptEntriesSealsTokens(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	entries := core.CreateIndexEntries(domain.AttrSubject, "group-1:elem-1", "secret plan")
	update := domain.NewIndexUpdate("group-1")

	require.NoError(t, core.EncryptEntries(ctx, "elem-1", "group-1", entries, update))
	require.Len(t, update.Postings, 2)
	for _, p := range update.Postings {
		assert.NotContains(t, string(p.EncToken), "secret")
		assert.NotContains(t, string(p.EncToken), "plan")
		assert.NotEmpty(t, p.InstanceKey)
	}
}

func TestWriteIndexUpdateThenDeleteRemovesPostings(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	entries := core.CreateIndexEntries(domain.AttrSubject, "group-1:elem-1", "invoice attached")
	update := domain.NewIndexUpdate("group-1")
	require.NoError(t, core.EncryptEntries(ctx, "elem-1", "group-1", entries, update))
	require.NoError(t, core.WriteIndexUpdate(ctx, update))

	count, err := core.index.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	instanceKey := update.Postings[0].InstanceKey
	deleteUpdate := domain.NewIndexUpdate("group-1")
	core.ProcessDeleted(instanceKey, deleteUpdate)
	require.NoError(t, core.WriteIndexUpdate(ctx, deleteUpdate))

	count, err = core.index.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestWriteIndexUpdateEmptyIsNoop(t *testing.T) {
	core := newTestCore(t)
	require.NoError(t, core.WriteIndexUpdate(context.Background(), domain.NewIndexUpdate("group-1")))
}

func TestWriteGateSerializesBackfillAndApplier(t *testing.T) {
	core := newTestCore(t)

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	core.Queue()
	record("backfill-start")

	done := make(chan struct{})
	go func() {
		core.Queue() // blocks until backfill calls ProcessNext
		record("applier-turn")
		core.ProcessNext()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	record("backfill-end")
	core.ProcessNext()

	<-done
	assert.Equal(t, []string{"backfill-start", "backfill-end", "applier-turn"}, order)
}
