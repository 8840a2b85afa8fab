// Package backfill drives paginated historical indexing per (group,
// mail-list) until a cutoff, honoring cancellation and the indexer
// core's single-slot write gate.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/northbound-dev/mailindex/internal/clock"
	"github.com/northbound-dev/mailindex/internal/cryptoindex"
	"github.com/northbound-dev/mailindex/internal/domain"
	"github.com/northbound-dev/mailindex/internal/folder"
	"github.com/northbound-dev/mailindex/internal/logging"
	"github.com/northbound-dev/mailindex/internal/progress"
	"github.com/northbound-dev/mailindex/internal/tokenizer"
)

const (
	// PageSize bounds one range load.
	PageSize = 500
	// FetchConcurrency bounds in-flight body/attachment loads per page.
	FetchConcurrency = 5
)

// ErrCancelled is returned (and swallowed by the caller) when a
// backfill observes cancellation at one of its checkpoints.
var ErrCancelled = domain.ErrCancelled

// Progress is one emitted progress notification.
type Progress struct {
	Running               bool
	CurrentIndexTimestamp int64
}

// GroupMembership names one mail group this host belongs to.
type GroupMembership struct {
	GroupID string
}

// Engine runs the backfill algorithm for one user across all of their
// mail group memberships.
type Engine struct {
	fetcher domain.EntityFetcher
	core    domain.IndexerCore
	store   *progress.Store
	cipher  *cryptoindex.KeyCipher
	log     *logrus.Logger
}

// New builds a backfill engine.
func New(fetcher domain.EntityFetcher, core domain.IndexerCore, store *progress.Store, cipher *cryptoindex.KeyCipher) *Engine {
	return &Engine{fetcher: fetcher, core: core, store: store, cipher: cipher, log: logging.For(logging.Backfill)}
}

// Run brings every group in memberships at least as old as
// endTimestamp, reporting progress through onProgress. Once the first
// {Running: true} notification is sent, a terminal {Running: false}
// notification follows on every path, including error and cancellation.
// When indexing is disabled it returns without any notification.
func (e *Engine) Run(ctx context.Context, memberships []GroupMembership, endTimestamp int64, onProgress func(Progress)) error {
	enabled, err := e.store.ReadEnabled(ctx)
	if err != nil {
		return fmt.Errorf("backfill: read enabled: %w", err)
	}
	if !enabled.Enabled {
		return nil
	}

	onProgress(Progress{Running: true})

	e.core.Queue()
	defer func() {
		e.core.ProcessNext()
		ts, tsErr := e.currentIndexTimestamp(ctx, memberships)
		if tsErr != nil {
			e.log.WithError(tsErr).Warn("could not recompute current index timestamp")
		}
		e.core.PrintStatus()
		onProgress(Progress{Running: false, CurrentIndexTimestamp: ts})
	}()

	for _, membership := range memberships {
		if err := ctx.Err(); err != nil {
			e.log.Info("backfill cancelled between groups")
			return nil
		}
		if err := e.runGroup(ctx, membership.GroupID, endTimestamp, enabled.ExcludedListIDs); err != nil {
			if errors.Is(err, ErrCancelled) {
				e.log.Info("backfill cancelled mid-group")
				return nil
			}
			return fmt.Errorf("backfill: group %s: %w", membership.GroupID, err)
		}
	}

	return nil
}

func (e *Engine) runGroup(ctx context.Context, groupID string, endTimestamp int64, excluded []domain.GeneratedID) error {
	mailbox, err := e.fetcher.LoadMailbox(ctx, groupID)
	if err != nil {
		return fmt.Errorf("could not load mailbox: %w", err)
	}
	listIDs := folder.LoadMailListIDs(*mailbox, excluded)

	groupData, err := e.store.ReadGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("could not read group progress: %w", err)
	}

	startID := clock.GeneratedMaxID
	if groupData.IndexTimestamp != domain.NothingIndexed {
		startID = clock.TimestampToID(time.UnixMilli(groupData.IndexTimestamp))
	}
	endID := clock.TimestampToID(time.UnixMilli(endTimestamp))

	allDrained := true
	for _, listID := range listIDs {
		drained, err := e.indexMailList(ctx, groupID, listID, startID, endID)
		if err != nil {
			return err
		}
		if !drained {
			allDrained = false
		}
	}

	if allDrained {
		groupData.IndexTimestamp = domain.FullIndexed
	} else {
		groupData.IndexTimestamp = endTimestamp
	}
	groupData.MailGroupID = groupID
	return e.store.WriteGroup(ctx, groupData)
}

// indexMailList runs §4.6.1's paginated loop for one (group, list).
func (e *Engine) indexMailList(ctx context.Context, groupID string, listID, startID, endID domain.GeneratedID) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return false, ErrCancelled
		}

		raw, err := e.fetcher.LoadMailRange(ctx, listID, startID, PageSize)
		if err != nil {
			return false, fmt.Errorf("could not load mail range: %w", err)
		}

		if err := ctx.Err(); err != nil {
			return false, ErrCancelled
		}

		filtered := filterNewerThan(raw, endID)

		triples, err := e.loadTriples(ctx, groupID, filtered)
		if err != nil {
			return false, err
		}

		update := domain.NewIndexUpdate(groupID)
		for _, t := range triples {
			if err := tokenizer.Apply(ctx, e.core, t, update); err != nil {
				return false, fmt.Errorf("could not tokenize mail: %w", err)
			}
		}
		if err := e.core.WriteIndexUpdate(ctx, update); err != nil {
			return false, fmt.Errorf("could not write index update: %w", err)
		}
		if err := e.recordIndexed(ctx, groupID, triples); err != nil {
			return false, err
		}

		if len(raw) == PageSize {
			startID = raw[len(raw)-1].ElementID
			continue
		}
		return len(filtered) == len(raw), nil
	}
}

// recordIndexed persists ElementData for every mail just indexed, so
// later move handling has a baseline to read instead of always taking
// the new-mail fallback path.
func (e *Engine) recordIndexed(ctx context.Context, groupID string, triples []tokenizer.Triple) error {
	for _, t := range triples {
		encKey, err := e.cipher.EncryptIndexKeyBase64(groupID + ":" + string(t.Mail.ElementID))
		if err != nil {
			return fmt.Errorf("could not encrypt instance key: %w", err)
		}
		if err := e.store.WriteElement(ctx, domain.ElementData{EncInstanceKey: encKey, CurrentListID: t.Mail.ListID}); err != nil {
			return fmt.Errorf("could not record element data: %w", err)
		}
	}
	return nil
}

func (e *Engine) loadTriples(ctx context.Context, groupID string, mails []domain.Mail) ([]tokenizer.Triple, error) {
	triples := make([]tokenizer.Triple, len(mails))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(FetchConcurrency)

	for i, mail := range mails {
		i, mail := i, mail
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return ErrCancelled
			}

			mail.OwnerGroup = groupID
			body, err := e.fetcher.LoadBody(groupCtx, mail.BodyID)
			if err != nil {
				return fmt.Errorf("could not load body: %w", err)
			}
			files, err := e.fetcher.LoadFiles(groupCtx, mail.AttachmentIDs)
			if err != nil {
				return fmt.Errorf("could not load files: %w", err)
			}
			triples[i] = tokenizer.Triple{Mail: mail, Body: body, Files: files}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return triples, nil
}

func filterNewerThan(mails []domain.Mail, endID domain.GeneratedID) []domain.Mail {
	out := make([]domain.Mail, 0, len(mails))
	for _, m := range mails {
		if m.ElementID > endID {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) currentIndexTimestamp(ctx context.Context, memberships []GroupMembership) (int64, error) {
	ids := make([]string, len(memberships))
	for i, m := range memberships {
		ids[i] = m.GroupID
	}
	return e.store.CurrentIndexTimestamp(ctx, ids)
}
