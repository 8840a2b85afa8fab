// Package applier consumes ordered entity-mutation batches and
// translates create/update/delete/move into index mutations, as
// described by the mail-indexer's event applier (C6).
package applier

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/northbound-dev/mailindex/internal/cryptoindex"
	"github.com/northbound-dev/mailindex/internal/domain"
	"github.com/northbound-dev/mailindex/internal/logging"
	"github.com/northbound-dev/mailindex/internal/progress"
	"github.com/northbound-dev/mailindex/internal/tokenizer"
)

// Applier holds the collaborators one group's event batches are
// applied through.
type Applier struct {
	fetcher domain.EntityFetcher
	core    domain.IndexerCore
	store   *progress.Store
	cipher  *cryptoindex.KeyCipher
	log     *logrus.Logger
}

// New builds an Applier.
func New(fetcher domain.EntityFetcher, core domain.IndexerCore, store *progress.Store, cipher *cryptoindex.KeyCipher) *Applier {
	return &Applier{fetcher: fetcher, core: core, store: store, cipher: cipher, log: logging.For(logging.Applier)}
}

// Apply processes one ordered batch for groupID into a single commit.
// It is a no-op if indexing is disabled. The excluded-list set is
// never accepted from the caller: the mail indexer exclusively owns it
// via its own enabled state, the same source backfill reads from.
func (a *Applier) Apply(ctx context.Context, groupID string, events []domain.MutationEvent) error {
	enabled, err := a.store.ReadEnabled(ctx)
	if err != nil {
		return fmt.Errorf("applier: read enabled: %w", err)
	}
	if !enabled.Enabled {
		return nil
	}

	batchID := uuid.NewString()
	log := a.log.WithField("batchId", batchID).WithField("group", groupID)

	created, deleted := indexByID(events)
	update := domain.NewIndexUpdate(groupID)
	excludedSet := toSet(enabled.ExcludedListIDs)

	a.core.Queue()
	defer a.core.ProcessNext()

	for _, event := range events {
		switch event.Type {
		case domain.EventCreate:
			if _, wasDeleted := deleted[event.ElementID]; wasDeleted {
				if err := a.handleMove(ctx, groupID, event.ListID, event.ElementID, excludedSet, update); err != nil {
					return err
				}
				continue
			}
			if err := a.handleCreate(ctx, groupID, event.ListID, event.ElementID, excludedSet, update); err != nil {
				return err
			}

		case domain.EventUpdate:
			if err := a.handleUpdate(ctx, groupID, event.ListID, event.ElementID, excludedSet, update); err != nil {
				return err
			}

		case domain.EventDelete:
			if _, wasCreated := created[event.ElementID]; wasCreated {
				continue // the create half of the move already handled this
			}
			encKey, err := a.instanceKey(groupID, event.ElementID)
			if err != nil {
				return err
			}
			a.core.ProcessDeleted(encKey, update)
			if err := a.store.DeleteElement(ctx, encKey); err != nil {
				return fmt.Errorf("applier: delete element data: %w", err)
			}
		}
	}

	if update.IsEmpty() {
		log.Debug("batch produced no index mutations")
		return nil
	}

	if err := a.core.WriteIndexUpdate(ctx, update); err != nil {
		return fmt.Errorf("applier: write index update: %w", err)
	}
	log.WithField("postings", len(update.Postings)).Debug("batch committed")
	return nil
}

func (a *Applier) handleCreate(ctx context.Context, groupID string, listID, elementID domain.GeneratedID, excluded map[domain.GeneratedID]struct{}, update *domain.IndexUpdate) error {
	if _, isExcluded := excluded[listID]; isExcluded {
		return nil
	}

	mail, err := a.fetcher.LoadMail(ctx, listID, elementID)
	if err != nil {
		if isSwallowed(err) {
			a.log.WithError(err).Debug("mail vanished or became unauthorized, skipping create")
			return nil
		}
		return fmt.Errorf("could not load mail: %w", err)
	}
	mail.OwnerGroup = groupID

	return a.indexMail(ctx, *mail, update)
}

func (a *Applier) handleUpdate(ctx context.Context, groupID string, listID, elementID domain.GeneratedID, excluded map[domain.GeneratedID]struct{}, update *domain.IndexUpdate) error {
	mail, err := a.fetcher.LoadMail(ctx, listID, elementID)
	if err != nil {
		if isSwallowed(err) {
			a.log.WithError(err).Debug("mail vanished on update, skipping")
			return nil
		}
		return fmt.Errorf("could not load mail: %w", err)
	}
	mail.OwnerGroup = groupID

	if mail.State != domain.StateDraft {
		return nil
	}

	encKey, err := a.instanceKey(groupID, elementID)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.core.ProcessDeleted(encKey, update)
		return nil
	})
	group.Go(func() error {
		return a.indexMailExcludable(groupCtx, *mail, listID, excluded, update)
	})
	return group.Wait()
}

func (a *Applier) indexMailExcludable(ctx context.Context, mail domain.Mail, listID domain.GeneratedID, excluded map[domain.GeneratedID]struct{}, update *domain.IndexUpdate) error {
	if _, isExcluded := excluded[listID]; isExcluded {
		return nil
	}
	return a.indexMail(ctx, mail, update)
}

func (a *Applier) indexMail(ctx context.Context, mail domain.Mail, update *domain.IndexUpdate) error {
	body, err := a.fetcher.LoadBody(ctx, mail.BodyID)
	if err != nil {
		return fmt.Errorf("could not load body: %w", err)
	}
	files, err := a.fetcher.LoadFiles(ctx, mail.AttachmentIDs)
	if err != nil {
		return fmt.Errorf("could not load files: %w", err)
	}

	triple := tokenizer.Triple{Mail: mail, Body: body, Files: files}
	if err := tokenizer.Apply(ctx, a.core, triple, update); err != nil {
		return fmt.Errorf("could not tokenize mail: %w", err)
	}

	encKey, err := a.instanceKey(mail.OwnerGroup, mail.ElementID)
	if err != nil {
		return err
	}
	if err := a.store.WriteElement(ctx, domain.ElementData{EncInstanceKey: encKey, CurrentListID: mail.ListID}); err != nil {
		return fmt.Errorf("could not record element data: %w", err)
	}
	return nil
}

// handleMove applies the move semantics: if ElementData exists for the
// instance, either emit a move record or, if the destination list is
// excluded, a deletion. If no ElementData exists the instance was
// never indexed, so it falls back to the new-mail path.
func (a *Applier) handleMove(ctx context.Context, groupID string, newListID, elementID domain.GeneratedID, excluded map[domain.GeneratedID]struct{}, update *domain.IndexUpdate) error {
	encKey, err := a.instanceKey(groupID, elementID)
	if err != nil {
		return err
	}

	existing, err := a.store.ReadElement(ctx, encKey)
	if err != nil {
		return fmt.Errorf("could not read element data: %w", err)
	}

	if existing == nil {
		return a.handleCreate(ctx, groupID, newListID, elementID, excluded, update)
	}

	if _, isExcluded := excluded[newListID]; isExcluded {
		a.core.ProcessDeleted(encKey, update)
		return a.store.DeleteElement(ctx, encKey)
	}

	update.AddMove(domain.Move{EncInstanceKey: encKey, NewListID: newListID})
	return a.store.WriteElement(ctx, domain.ElementData{EncInstanceKey: encKey, CurrentListID: newListID})
}

func (a *Applier) instanceKey(groupID string, elementID domain.GeneratedID) (string, error) {
	key, err := a.cipher.EncryptIndexKeyBase64(groupID + ":" + string(elementID))
	if err != nil {
		return "", fmt.Errorf("could not encrypt instance key: %w", err)
	}
	return key, nil
}

func isSwallowed(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrNotAuthorized)
}

func indexByID(events []domain.MutationEvent) (created, deleted map[domain.GeneratedID]struct{}) {
	created = map[domain.GeneratedID]struct{}{}
	deleted = map[domain.GeneratedID]struct{}{}
	for _, e := range events {
		switch e.Type {
		case domain.EventCreate:
			created[e.ElementID] = struct{}{}
		case domain.EventDelete:
			deleted[e.ElementID] = struct{}{}
		}
	}
	return created, deleted
}

func toSet(ids []domain.GeneratedID) map[domain.GeneratedID]struct{} {
	set := make(map[domain.GeneratedID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
