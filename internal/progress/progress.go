// Package progress is the durable progress store (C4): per-group index
// cursors, the excluded-list set and the global enabled flag, all read
// and written through a domain.ObjectStore.
package progress

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/northbound-dev/mailindex/internal/domain"
	"github.com/northbound-dev/mailindex/internal/logging"
)

// Store wraps a domain.ObjectStore with the logging and bookkeeping the
// mail indexer needs around it. It owns none of the durable state
// itself; every read or write is delegated to the underlying store in
// one transaction.
type Store struct {
	os  domain.ObjectStore
	log *logrus.Logger
}

// New wraps an ObjectStore as a progress store.
func New(os domain.ObjectStore) *Store {
	return &Store{os: os, log: logging.For(logging.Progress)}
}

// ReadEnabled reads the global enabled flag and excluded-list set.
func (s *Store) ReadEnabled(ctx context.Context) (domain.EnabledState, error) {
	state, err := s.os.ReadEnabled(ctx)
	if err != nil {
		return domain.EnabledState{}, fmt.Errorf("progress: read enabled: %w", err)
	}
	return state, nil
}

// WriteEnabled writes the global enabled flag and excluded-list set
// atomically.
func (s *Store) WriteEnabled(ctx context.Context, state domain.EnabledState) error {
	if err := s.os.WriteEnabled(ctx, state); err != nil {
		return fmt.Errorf("progress: write enabled: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"enabled":  state.Enabled,
		"excluded": len(state.ExcludedListIDs),
	}).Info("indexing enabled state updated")
	return nil
}

// ReadGroup reads one group's progress cursor, defaulting to
// NothingIndexed when the group has never been written.
func (s *Store) ReadGroup(ctx context.Context, groupID string) (domain.GroupData, error) {
	data, err := s.os.ReadGroup(ctx, groupID)
	if err != nil {
		return domain.GroupData{}, fmt.Errorf("progress: read group %s: %w", groupID, err)
	}
	return data, nil
}

// WriteGroup persists a group's progress cursor. Per the timestamp
// monotonicity invariant, callers must never move indexTimestamp
// upward except to NothingIndexed on disable.
func (s *Store) WriteGroup(ctx context.Context, data domain.GroupData) error {
	if err := s.os.WriteGroup(ctx, data); err != nil {
		return fmt.Errorf("progress: write group %s: %w", data.MailGroupID, err)
	}
	s.log.WithFields(logrus.Fields{
		"group":          data.MailGroupID,
		"indexTimestamp": data.IndexTimestamp,
	}).Debug("group progress updated")
	return nil
}

// ReadElement performs the read-only ElementData lookup move handling
// relies on. encInstanceKey is already encrypted by the caller;
// this store never sees plaintext instance identifiers.
func (s *Store) ReadElement(ctx context.Context, encInstanceKey string) (*domain.ElementData, error) {
	data, err := s.os.ReadElement(ctx, encInstanceKey)
	if err != nil {
		return nil, fmt.Errorf("progress: read element: %w", err)
	}
	return data, nil
}

// WriteElement persists that an instance has been indexed and which
// list it currently lives in.
func (s *Store) WriteElement(ctx context.Context, data domain.ElementData) error {
	if err := s.os.WriteElement(ctx, data); err != nil {
		return fmt.Errorf("progress: write element: %w", err)
	}
	return nil
}

// DeleteElement removes an instance's ElementData row, e.g. on a
// processed deletion.
func (s *Store) DeleteElement(ctx context.Context, encInstanceKey string) error {
	if err := s.os.DeleteElement(ctx, encInstanceKey); err != nil {
		return fmt.Errorf("progress: delete element: %w", err)
	}
	return nil
}

// DisableAndClear flips the enabled flag off and wipes every named
// store, the durable-state half of a lifecycle disable.
func (s *Store) DisableAndClear(ctx context.Context) error {
	if err := s.os.DeleteAll(ctx); err != nil {
		return fmt.Errorf("progress: clear stores: %w", err)
	}
	if err := s.os.WriteEnabled(ctx, domain.EnabledState{}); err != nil {
		return fmt.Errorf("progress: write disabled state: %w", err)
	}
	s.log.Info("indexing disabled, all progress cleared")
	return nil
}

// CurrentIndexTimestamp recomputes the host-visible progress floor as
// the maximum indexTimestamp across the given groups: the sentinel
// semantics make this the newest still-unindexed horizon, i.e. the
// most-lagging group's progress.
func (s *Store) CurrentIndexTimestamp(ctx context.Context, groupIDs []string) (int64, error) {
	max := domain.NothingIndexed
	for _, g := range groupIDs {
		data, err := s.ReadGroup(ctx, g)
		if err != nil {
			return 0, err
		}
		if data.IndexTimestamp > max {
			max = data.IndexTimestamp
		}
	}
	return max, nil
}
