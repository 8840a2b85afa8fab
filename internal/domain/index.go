package domain

// AttributeTag names the logical mail field a token was extracted from.
type AttributeTag string

const (
	AttrSubject     AttributeTag = "subject"
	AttrTo          AttributeTag = "toRecipients"
	AttrCc          AttributeTag = "ccRecipients"
	AttrBcc         AttributeTag = "bccRecipients"
	AttrSender      AttributeTag = "sender"
	AttrBody        AttributeTag = "body"
	AttrAttachments AttributeTag = "attachments"
)

// Posting is one (token, mail, attribute, position) quadruple, already
// encrypted by the time it reaches an IndexUpdate.
type Posting struct {
	EncToken     []byte
	EncElementID []byte
	InstanceKey  string
	Attribute    AttributeTag
	Position     int
}

// Move records that an already-indexed instance now lives in a
// different list; postings are left untouched.
type Move struct {
	EncInstanceKey string
	NewListID      GeneratedID
}

// Deletion marks one instance's postings for removal.
type Deletion struct {
	EncInstanceKey string
}

// IndexUpdate is the in-memory accumulator scoped to one commit: the
// postings, moves and deletions produced while processing one backfill
// page or one event batch for a single group.
type IndexUpdate struct {
	GroupID   string
	Postings  []Posting
	Moves     []Move
	Deletions []Deletion
}

// NewIndexUpdate starts a fresh accumulator for the given group.
func NewIndexUpdate(groupID string) *IndexUpdate {
	return &IndexUpdate{GroupID: groupID}
}

// AddPostings appends encrypted postings produced for one mail instance.
func (u *IndexUpdate) AddPostings(postings ...Posting) {
	u.Postings = append(u.Postings, postings...)
}

// AddMove appends a move record.
func (u *IndexUpdate) AddMove(m Move) {
	u.Moves = append(u.Moves, m)
}

// AddDeletion appends a deletion record.
func (u *IndexUpdate) AddDeletion(d Deletion) {
	u.Deletions = append(u.Deletions, d)
}

// IsEmpty reports whether the update carries no work at all, used by
// callers that want to skip a commit entirely.
func (u *IndexUpdate) IsEmpty() bool {
	return len(u.Postings) == 0 && len(u.Moves) == 0 && len(u.Deletions) == 0
}
