package folder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northbound-dev/mailindex/internal/domain"
)

func buildMailbox() domain.Mailbox {
	return domain.Mailbox{
		GroupID: "group-1",
		SystemFolders: []domain.MailFolder{
			{
				Type:       domain.FolderInbox,
				MailListID: "list-inbox",
				SubFolders: []domain.MailFolder{
					{MailListID: "list-inbox-work"},
				},
			},
			{Type: domain.FolderSpam, MailListID: "list-spam"},
			{Type: domain.FolderSent, MailListID: "list-sent"},
		},
	}
}

func TestLoadMailListIDsExcludesSpam(t *testing.T) {
	mailbox := buildMailbox()

	ids := LoadMailListIDs(mailbox, []domain.GeneratedID{"list-spam"})

	assert.Equal(t, []domain.GeneratedID{"list-inbox", "list-inbox-work", "list-sent"}, ids)
}

func TestLoadMailListIDsNoExclusions(t *testing.T) {
	mailbox := buildMailbox()

	ids := LoadMailListIDs(mailbox, nil)

	assert.Equal(t, []domain.GeneratedID{"list-inbox", "list-inbox-work", "list-spam", "list-sent"}, ids)
}

func TestGetSpamFolderFound(t *testing.T) {
	mailbox := buildMailbox()

	spam, err := GetSpamFolder(mailbox)

	require.NoError(t, err)
	assert.Equal(t, domain.GeneratedID("list-spam"), spam.MailListID)
}

func TestGetSpamFolderMissing(t *testing.T) {
	mailbox := domain.Mailbox{GroupID: "group-2"}

	_, err := GetSpamFolder(mailbox)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoSpamFolder)
}
