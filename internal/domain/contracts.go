package domain

import "context"

// EntityFetcher is the async key/range-to-record service the indexer
// drives but does not own. Implementations talk to a remote mail store
// (an IMAP-like API, Gmail, Outlook, ...). Range loads return records
// strictly older than startID, descending, at most count of them.
type EntityFetcher interface {
	LoadMail(ctx context.Context, listID, elementID GeneratedID) (*Mail, error)
	LoadBody(ctx context.Context, bodyID GeneratedID) (*MailBody, error)
	LoadFiles(ctx context.Context, fileIDs []GeneratedID) ([]File, error)
	LoadMailbox(ctx context.Context, groupID string) (*Mailbox, error)
	LoadMailRange(ctx context.Context, listID GeneratedID, startID GeneratedID, count int) ([]Mail, error)
}

// ObjectStore is the transactional multi-store key/value facade backing
// MetaDataOS, GroupDataOS and ElementDataOS. Every method runs inside
// its own transaction, scoped to a single read-or-commit.
type ObjectStore interface {
	ReadEnabled(ctx context.Context) (EnabledState, error)
	WriteEnabled(ctx context.Context, state EnabledState) error

	ReadGroup(ctx context.Context, groupID string) (GroupData, error)
	WriteGroup(ctx context.Context, data GroupData) error

	ReadElement(ctx context.Context, encInstanceKey string) (*ElementData, error)
	WriteElement(ctx context.Context, data ElementData) error
	DeleteElement(ctx context.Context, encInstanceKey string) error

	// DeleteAll wipes every named store, used by lifecycle disable.
	DeleteAll(ctx context.Context) error
}

// WriteGate is the single-slot mutual-exclusion gate between backfill
// writes and event-applier drains described in the concurrency model:
// Queue closes it, ProcessNext reopens it and drains anything pending.
type WriteGate interface {
	Queue()
	ProcessNext()
}

// IndexerCore is the low-level indexer this component drives but does
// not own: attribute extraction, posting-list encryption and the
// storage-layer write batching live behind it.
type IndexerCore interface {
	WriteGate

	CreateIndexEntries(schema AttributeTag, mailInstanceKey string, value string) []Posting
	EncryptEntries(ctx context.Context, entityID GeneratedID, ownerGroup string, entries []Posting, update *IndexUpdate) error
	ProcessDeleted(encInstanceKey string, update *IndexUpdate)
	WriteIndexUpdate(ctx context.Context, update *IndexUpdate) error

	IndexingSupported() bool
	PrintStatus()
}

// EventType enumerates the entity-mutation kinds the event applier
// translates into index mutations.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// MutationEvent is one ordered entry of a live entity-mutation batch.
type MutationEvent struct {
	Type      EventType
	ListID    GeneratedID
	ElementID GeneratedID
}
