package tokenizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbound-dev/mailindex/internal/domain"
)

// fakeCore is a minimal IndexerCore double: CreateIndexEntries returns
// one unencrypted posting per call, EncryptEntries just copies it in
// (prefixed so tests can see it went through "encryption").
type fakeCore struct {
	created []domain.AttributeTag
}

func (f *fakeCore) Queue()       {}
func (f *fakeCore) ProcessNext() {}

func (f *fakeCore) CreateIndexEntries(schema domain.AttributeTag, instanceKey, value string) []domain.Posting {
	f.created = append(f.created, schema)
	return []domain.Posting{{Attribute: schema, EncElementID: []byte(instanceKey)}}
}

func (f *fakeCore) EncryptEntries(ctx context.Context, id domain.GeneratedID, group string, entries []domain.Posting, update *domain.IndexUpdate) error {
	for _, e := range entries {
		e.EncToken = []byte("enc:" + string(e.Attribute))
		update.AddPostings(e)
	}
	return nil
}

func (f *fakeCore) ProcessDeleted(encInstanceKey string, update *domain.IndexUpdate) {
	update.AddDeletion(domain.Deletion{EncInstanceKey: encInstanceKey})
}

func (f *fakeCore) WriteIndexUpdate(ctx context.Context, update *domain.IndexUpdate) error { return nil }
func (f *fakeCore) IndexingSupported() bool                                                { return true }
func (f *fakeCore) PrintStatus()                                                           {}

func TestApplySkipsEmptyAttributes(t *testing.T) {
	core := &fakeCore{}
	update := domain.NewIndexUpdate("group-1")

	triple := Triple{
		Mail: domain.Mail{
			ListID:     "list-1",
			ElementID:  "elem-1",
			OwnerGroup: "group-1",
			Subject:    "hello world",
			Sender:     domain.Recipient{},
		},
	}

	require.NoError(t, Apply(context.Background(), core, triple, update))

	assert.Equal(t, []domain.AttributeTag{domain.AttrSubject}, core.created)
	assert.Len(t, update.Postings, 1)
}

func TestApplyStripsHTMLBody(t *testing.T) {
	core := &fakeCore{}
	update := domain.NewIndexUpdate("group-1")

	triple := Triple{
		Mail: domain.Mail{ListID: "list-1", ElementID: "elem-1", OwnerGroup: "group-1"},
		Body: &domain.MailBody{HTML: true, Text: "<p>Hello <b>World</b></p>"},
	}

	require.NoError(t, Apply(context.Background(), core, triple, update))
	require.Contains(t, core.created, domain.AttrBody)
}

func TestJoinRecipientsFormatting(t *testing.T) {
	got := joinRecipients([]domain.Recipient{
		{Name: "Ada Lovelace", Address: "ada@example.com"},
		{Address: "bare@example.com"},
	})
	assert.Equal(t, "Ada Lovelace <ada@example.com>, bare@example.com", got)
}
