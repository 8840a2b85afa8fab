package domain

import "errors"

// Sentinel errors the fetcher and store contracts surface, matched with
// errors.Is at call sites per the error disposition table.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrNotAuthorized = errors.New("not authorized")
	ErrCancelled     = errors.New("indexing cancelled")
	ErrNoSpamFolder  = errors.New("mailbox has no spam folder")
)
