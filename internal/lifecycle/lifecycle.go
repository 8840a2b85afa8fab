// Package lifecycle implements the cancellation and enable/disable
// controller (C7): it arbitrates whether a backfill may run, serializes
// conflicting operations per group, and surfaces indexing state to the
// host, keeping one cancel func per group's running backfill.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/northbound-dev/mailindex/internal/backfill"
	"github.com/northbound-dev/mailindex/internal/clock"
	"github.com/northbound-dev/mailindex/internal/domain"
	"github.com/northbound-dev/mailindex/internal/folder"
	"github.com/northbound-dev/mailindex/internal/logging"
	"github.com/northbound-dev/mailindex/internal/progress"
)

// InitialBackfillDays is the default cutoff horizon for a fresh enable.
const InitialBackfillDays = 28

// Controller owns the enable/disable/cancel state machine for one
// user's mail indexing.
type Controller struct {
	fetcher domain.EntityFetcher
	store   *progress.Store
	engine  *backfill.Engine
	cache   *folder.Cache
	log     *logrus.Logger

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	statuses map[string]Status
}

// Status is the host-visible snapshot of one group's indexing state.
type Status struct {
	Running               bool
	CurrentIndexTimestamp int64
}

// Option configures optional Controller behavior.
type Option func(*Controller)

// WithFolderCache attaches a mailbox-list-id cache that Enable refreshes
// with each group's resolved mail lists. The controller never reads the
// cache back: every Enable loads each group's mailbox from the fetcher.
func WithFolderCache(cache *folder.Cache) Option {
	return func(c *Controller) { c.cache = cache }
}

// New builds a lifecycle controller.
func New(fetcher domain.EntityFetcher, store *progress.Store, engine *backfill.Engine, opts ...Option) *Controller {
	c := &Controller{
		fetcher:  fetcher,
		store:    store,
		engine:   engine,
		log:      logging.For(logging.Lifecycle),
		cancels:  make(map[string]context.CancelFunc),
		statuses: make(map[string]Status),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enable turns indexing on for the given groups. If indexing is
// already enabled it only reloads the excluded-list set; otherwise it
// computes the excluded spam lists, persists the enabled state, and
// kicks off a 28-day backfill in the background without awaiting it.
func (c *Controller) Enable(ctx context.Context, groupIDs []string) error {
	state, err := c.store.ReadEnabled(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: read enabled: %w", err)
	}

	excluded, err := c.resolveExcludedLists(ctx, groupIDs)
	if err != nil {
		return fmt.Errorf("lifecycle: resolve excluded lists: %w", err)
	}

	alreadyEnabled := state.Enabled
	if err := c.store.WriteEnabled(ctx, domain.EnabledState{Enabled: true, ExcludedListIDs: excluded}); err != nil {
		return fmt.Errorf("lifecycle: write enabled: %w", err)
	}

	if alreadyEnabled {
		c.log.Info("indexing already enabled, excluded lists reloaded")
		return nil
	}

	c.startBackfill(groupIDs, clock.StartOfDayShifted(time.Now(), -InitialBackfillDays))
	return nil
}

// resolveExcludedLists gathers every group's spam-folder mail lists,
// and when a folder cache is attached, also refreshes its resolved
// mail-list snapshot for that group.
func (c *Controller) resolveExcludedLists(ctx context.Context, groupIDs []string) ([]domain.GeneratedID, error) {
	var excluded []domain.GeneratedID
	for _, groupID := range groupIDs {
		mailbox, err := c.fetcher.LoadMailbox(ctx, groupID)
		if err != nil {
			return nil, fmt.Errorf("could not load mailbox for %s: %w", groupID, err)
		}

		if c.cache != nil {
			allLists := folder.LoadMailListIDs(*mailbox, nil)
			listStrings := make([]string, len(allLists))
			for i, id := range allLists {
				listStrings[i] = string(id)
			}
			if err := c.cache.Put(groupID, listStrings, time.Now().Unix()); err != nil {
				c.log.WithError(err).WithField("group", groupID).Warn("could not refresh folder cache")
			}
		}

		spam, err := folder.GetSpamFolder(*mailbox)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", groupID, err)
		}
		excluded = append(excluded, spam.MailListID)
	}
	return excluded, nil
}

// startBackfill launches a backfill run for groupIDs on a detached
// context this controller owns, so Cancel can stop it cooperatively.
func (c *Controller) startBackfill(groupIDs []string, cutoff time.Time) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	for _, g := range groupIDs {
		if existing, ok := c.cancels[g]; ok {
			existing()
		}
		c.cancels[g] = cancel
	}
	c.mu.Unlock()

	memberships := make([]backfill.GroupMembership, len(groupIDs))
	for i, g := range groupIDs {
		memberships[i] = backfill.GroupMembership{GroupID: g}
	}

	go func() {
		defer func() {
			c.mu.Lock()
			for _, g := range groupIDs {
				delete(c.cancels, g)
			}
			c.mu.Unlock()
		}()

		err := c.engine.Run(ctx, memberships, cutoff.UnixMilli(), func(p backfill.Progress) {
			c.mu.Lock()
			for _, g := range groupIDs {
				c.statuses[g] = Status{Running: p.Running, CurrentIndexTimestamp: p.CurrentIndexTimestamp}
			}
			c.mu.Unlock()
		})
		if err != nil {
			c.log.WithError(err).Error("backfill failed")
		}
	}()
}

// Disable clears in-memory state and wipes all durable progress. The
// next enable rebuilds from scratch.
func (c *Controller) Disable(ctx context.Context) error {
	c.mu.Lock()
	for g, cancel := range c.cancels {
		cancel()
		delete(c.cancels, g)
	}
	c.statuses = make(map[string]Status)
	c.mu.Unlock()

	if err := c.store.DisableAndClear(ctx); err != nil {
		return fmt.Errorf("lifecycle: disable: %w", err)
	}
	return nil
}

// Cancel stops any in-flight backfill for groupID. Indexing already
// committed remains durable; indexTimestamp simply is not advanced.
func (c *Controller) Cancel(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.cancels[groupID]; ok {
		cancel()
		delete(c.cancels, groupID)
	}
}

// Status returns the last known status for groupID.
func (c *Controller) Status(groupID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[groupID]
}
