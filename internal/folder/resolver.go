// Package folder enumerates a mailbox's indexable mail lists and locates
// its spam folder.
package folder

import (
	"fmt"

	"github.com/northbound-dev/mailindex/internal/domain"
)

// LoadMailListIDs walks the mailbox's system folders, in order, skipping
// any folder whose mail list is excluded, and for every folder it keeps
// also descends into its subfolders to collect their lists. The result
// preserves traversal order; duplicates are not expected but are kept as
// encountered since the store's range queries are idempotent per list.
func LoadMailListIDs(mailbox domain.Mailbox, excluded []domain.GeneratedID) []domain.GeneratedID {
	excludedSet := toSet(excluded)

	var ids []domain.GeneratedID
	for _, f := range mailbox.SystemFolders {
		collect(f, excludedSet, &ids)
	}
	return ids
}

func collect(f domain.MailFolder, excluded map[domain.GeneratedID]struct{}, out *[]domain.GeneratedID) {
	if _, isExcluded := excluded[f.MailListID]; isExcluded {
		return
	}

	*out = append(*out, f.MailListID)
	for _, sub := range f.SubFolders {
		collectSubfolder(sub, out)
	}
}

// collectSubfolder adds every subfolder's list unconditionally: only the
// top-level system folder's own exclusion is checked, matching the
// resolver contract which excludes by system folder, not by subfolder.
func collectSubfolder(f domain.MailFolder, out *[]domain.GeneratedID) {
	*out = append(*out, f.MailListID)
	for _, sub := range f.SubFolders {
		collectSubfolder(sub, out)
	}
}

// GetSpamFolder locates the mailbox's unique SPAM system folder.
func GetSpamFolder(mailbox domain.Mailbox) (*domain.MailFolder, error) {
	for i := range mailbox.SystemFolders {
		if mailbox.SystemFolders[i].Type == domain.FolderSpam {
			return &mailbox.SystemFolders[i], nil
		}
	}
	return nil, fmt.Errorf("group %s: %w", mailbox.GroupID, domain.ErrNoSpamFolder)
}

func toSet(ids []domain.GeneratedID) map[domain.GeneratedID]struct{} {
	set := make(map[domain.GeneratedID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
