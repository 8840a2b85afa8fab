package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbound-dev/mailindex/internal/backfill"
	"github.com/northbound-dev/mailindex/internal/cryptoindex"
	"github.com/northbound-dev/mailindex/internal/domain"
	"github.com/northbound-dev/mailindex/internal/folder"
	"github.com/northbound-dev/mailindex/internal/progress"
)

func testCipher() *cryptoindex.KeyCipher {
	return cryptoindex.NewKeyCipher([]byte("lifecycle test database key, 32+"))
}

type fakeFetcher struct {
	mailbox domain.Mailbox
}

func (f *fakeFetcher) LoadMail(ctx context.Context, listID, elementID domain.GeneratedID) (*domain.Mail, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeFetcher) LoadBody(ctx context.Context, bodyID domain.GeneratedID) (*domain.MailBody, error) {
	return &domain.MailBody{}, nil
}
func (f *fakeFetcher) LoadFiles(ctx context.Context, fileIDs []domain.GeneratedID) ([]domain.File, error) {
	return nil, nil
}
func (f *fakeFetcher) LoadMailbox(ctx context.Context, groupID string) (*domain.Mailbox, error) {
	mb := f.mailbox
	return &mb, nil
}
func (f *fakeFetcher) LoadMailRange(ctx context.Context, listID, startID domain.GeneratedID, count int) ([]domain.Mail, error) {
	return nil, nil
}

type fakeCore struct{}

func (c *fakeCore) Queue()       {}
func (c *fakeCore) ProcessNext() {}
func (c *fakeCore) CreateIndexEntries(schema domain.AttributeTag, instanceKey, value string) []domain.Posting {
	return nil
}
func (c *fakeCore) EncryptEntries(ctx context.Context, id domain.GeneratedID, group string, entries []domain.Posting, update *domain.IndexUpdate) error {
	return nil
}
func (c *fakeCore) ProcessDeleted(encInstanceKey string, update *domain.IndexUpdate) {}
func (c *fakeCore) WriteIndexUpdate(ctx context.Context, update *domain.IndexUpdate) error {
	return nil
}
func (c *fakeCore) IndexingSupported() bool { return true }
func (c *fakeCore) PrintStatus()            {}

type fakeObjectStore struct {
	enabled domain.EnabledState
	groups  map[string]domain.GroupData
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{groups: map[string]domain.GroupData{}}
}

func (s *fakeObjectStore) ReadEnabled(ctx context.Context) (domain.EnabledState, error) { return s.enabled, nil }
func (s *fakeObjectStore) WriteEnabled(ctx context.Context, state domain.EnabledState) error {
	s.enabled = state
	return nil
}
func (s *fakeObjectStore) ReadGroup(ctx context.Context, groupID string) (domain.GroupData, error) {
	if d, ok := s.groups[groupID]; ok {
		return d, nil
	}
	return domain.GroupData{MailGroupID: groupID, IndexTimestamp: domain.NothingIndexed}, nil
}
func (s *fakeObjectStore) WriteGroup(ctx context.Context, data domain.GroupData) error {
	s.groups[data.MailGroupID] = data
	return nil
}
func (s *fakeObjectStore) ReadElement(ctx context.Context, key string) (*domain.ElementData, error) {
	return nil, nil
}
func (s *fakeObjectStore) WriteElement(ctx context.Context, data domain.ElementData) error { return nil }
func (s *fakeObjectStore) DeleteElement(ctx context.Context, key string) error             { return nil }
func (s *fakeObjectStore) DeleteAll(ctx context.Context) error {
	s.groups = map[string]domain.GroupData{}
	s.enabled = domain.EnabledState{}
	return nil
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEnableExcludesSpamAndBackfills(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{mailbox: domain.Mailbox{
		GroupID: "g1",
		SystemFolders: []domain.MailFolder{
			{Type: domain.FolderInbox, MailListID: "list-inbox"},
			{Type: domain.FolderSpam, MailListID: "list-spam"},
		},
	}}
	backing := newFakeObjectStore()
	store := progress.New(backing)
	engine := backfill.New(fetcher, &fakeCore{}, store, testCipher())
	controller := New(fetcher, store, engine)

	require.NoError(t, controller.Enable(ctx, []string{"g1"}))

	state, err := store.ReadEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, state.Enabled)
	assert.Equal(t, []domain.GeneratedID{"list-spam"}, state.ExcludedListIDs)

	waitUntil(t, 500*time.Millisecond, func() bool {
		data, _ := store.ReadGroup(ctx, "g1")
		return data.IndexTimestamp == domain.FullIndexed
	})
}

func TestEnableWithoutSpamFolderFails(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{mailbox: domain.Mailbox{GroupID: "g1", SystemFolders: []domain.MailFolder{
		{Type: domain.FolderInbox, MailListID: "list-inbox"},
	}}}
	backing := newFakeObjectStore()
	store := progress.New(backing)
	engine := backfill.New(fetcher, &fakeCore{}, store, testCipher())
	controller := New(fetcher, store, engine)

	err := controller.Enable(ctx, []string{"g1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoSpamFolder)

	state, err := store.ReadEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, state.Enabled)
}

func TestEnableTwiceOnlyReloadsExcluded(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{mailbox: domain.Mailbox{GroupID: "g1", SystemFolders: []domain.MailFolder{
		{Type: domain.FolderSpam, MailListID: "list-spam"},
	}}}
	backing := newFakeObjectStore()
	store := progress.New(backing)
	engine := backfill.New(fetcher, &fakeCore{}, store, testCipher())
	controller := New(fetcher, store, engine)

	require.NoError(t, controller.Enable(ctx, []string{"g1"}))
	waitUntil(t, 200*time.Millisecond, func() bool {
		data, _ := store.ReadGroup(ctx, "g1")
		return data.IndexTimestamp == domain.FullIndexed
	})

	require.NoError(t, store.WriteGroup(ctx, domain.GroupData{MailGroupID: "g1", IndexTimestamp: 12345}))
	require.NoError(t, controller.Enable(ctx, []string{"g1"}))

	data, err := store.ReadGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), data.IndexTimestamp)
}

func TestEnableRefreshesFolderCache(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{mailbox: domain.Mailbox{
		GroupID: "g1",
		SystemFolders: []domain.MailFolder{
			{Type: domain.FolderInbox, MailListID: "list-inbox"},
			{Type: domain.FolderSpam, MailListID: "list-spam"},
		},
	}}
	backing := newFakeObjectStore()
	store := progress.New(backing)
	engine := backfill.New(fetcher, &fakeCore{}, store, testCipher())

	cache, err := folder.OpenCache(filepath.Join(t.TempDir(), "folders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	controller := New(fetcher, store, engine, WithFolderCache(cache))
	require.NoError(t, controller.Enable(ctx, []string{"g1"}))

	ids, err := cache.Get("g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"list-inbox", "list-spam"}, ids)
}

func TestDisableClearsEverything(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{mailbox: domain.Mailbox{GroupID: "g1", SystemFolders: []domain.MailFolder{
		{Type: domain.FolderSpam, MailListID: "list-spam"},
	}}}
	backing := newFakeObjectStore()
	store := progress.New(backing)
	engine := backfill.New(fetcher, &fakeCore{}, store, testCipher())
	controller := New(fetcher, store, engine)

	require.NoError(t, controller.Enable(ctx, []string{"g1"}))
	waitUntil(t, 200*time.Millisecond, func() bool {
		state, _ := store.ReadEnabled(ctx)
		return state.Enabled
	})

	require.NoError(t, controller.Disable(ctx))

	state, err := store.ReadEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, state.Enabled)
}
