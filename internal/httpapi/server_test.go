package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbound-dev/mailindex/internal/backfill"
	"github.com/northbound-dev/mailindex/internal/cryptoindex"
	"github.com/northbound-dev/mailindex/internal/domain"
	"github.com/northbound-dev/mailindex/internal/lifecycle"
	"github.com/northbound-dev/mailindex/internal/progress"
)

type fakeFetcher struct{}

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
	return &domain.Mailbox{GroupID: groupID, SystemFolders: []domain.MailFolder{
		{Type: domain.FolderSpam, MailListID: "list-spam"},
	}}, nil
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
}

func (s *fakeObjectStore) ReadEnabled(ctx context.Context) (domain.EnabledState, error) {
	return s.enabled, nil
}
func (s *fakeObjectStore) WriteEnabled(ctx context.Context, state domain.EnabledState) error {
	s.enabled = state
	return nil
}
func (s *fakeObjectStore) ReadGroup(ctx context.Context, groupID string) (domain.GroupData, error) {
	return domain.GroupData{MailGroupID: groupID, IndexTimestamp: domain.NothingIndexed}, nil
}
func (s *fakeObjectStore) WriteGroup(ctx context.Context, data domain.GroupData) error { return nil }
func (s *fakeObjectStore) ReadElement(ctx context.Context, key string) (*domain.ElementData, error) {
	return nil, nil
}
func (s *fakeObjectStore) WriteElement(ctx context.Context, data domain.ElementData) error { return nil }
func (s *fakeObjectStore) DeleteElement(ctx context.Context, key string) error             { return nil }
func (s *fakeObjectStore) DeleteAll(ctx context.Context) error                             { return nil }

func newTestServer(t *testing.T) (*Server, *fakeObjectStore, *[]appliedCall) {
	t.Helper()
	fetcher := &fakeFetcher{}
	backing := &fakeObjectStore{}
	store := progress.New(backing)
	cipher := cryptoindex.NewKeyCipher([]byte("httpapi test database key, 32+!!"))
	engine := backfill.New(fetcher, &fakeCore{}, store, cipher)
	controller := lifecycle.New(fetcher, store, engine)

	var calls []appliedCall
	apply := func(ctx context.Context, groupID string, events []domain.MutationEvent) error {
		calls = append(calls, appliedCall{groupID: groupID, events: events})
		return nil
	}

	return NewServer(controller, apply, nil), backing, &calls
}

type appliedCall struct {
	groupID string
	events  []domain.MutationEvent
}

func TestHandleEnableReturnsAccepted(t *testing.T) {
	server, backing, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/groups/g1/enable", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, backing.enabled.Enabled)
}

func TestHandleStatusReturnsZeroValueForUnknownGroup(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/groups/g1/status", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["running"])
}

func TestHandleEventsForwardsToApplier(t *testing.T) {
	server, _, calls := newTestServer(t)

	body := `{"events":[{"Type":"CREATE","ListID":"list-1","ElementID":"elem-1"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/groups/g1/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, *calls, 1)
	assert.Equal(t, "g1", (*calls)[0].groupID)
}

func TestHandleDisableReturnsOK(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/groups/g1/disable", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCancelReturnsNoContent(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/groups/g1/cancel", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
