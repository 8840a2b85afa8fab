// Package eventstream delivers ordered entity-mutation batches from
// NATS JetStream into the event applier: subjects are
// "group.<groupId>.mutations", one durable consumer per group, with
// strictly ordered per-group delivery via JetStream's per-consumer
// sequencing.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/northbound-dev/mailindex/internal/domain"
	"github.com/northbound-dev/mailindex/internal/logging"
)

const (
	streamName       = "MAIL_MUTATIONS"
	defaultFetchWait = 5 * time.Second
)

// Batch is the wire shape of one ordered entity-mutation batch. The
// excluded-list set is never carried on the wire: the mail indexer
// exclusively owns it via its own enabled state, the same as backfill.
type Batch struct {
	GroupID string                 `json:"groupId"`
	Events  []domain.MutationEvent `json:"events"`
}

// Handler applies one decoded batch.
type Handler func(ctx context.Context, batch Batch) error

// Consumer subscribes to group mutation subjects and drains them
// in order into a Handler.
type Consumer struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *logrus.Logger
}

// NewConsumer connects to NATS and ensures the mutation stream exists.
func NewConsumer(url string) (*Consumer, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("could not get JetStream context: %w", err)
	}

	c := &Consumer{nc: nc, js: js, log: logging.For(logging.Eventbus)}
	if err := c.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) ensureStream() error {
	if _, err := c.js.StreamInfo(streamName); err == nil {
		return nil
	}

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"group.*.mutations"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("could not create mutation stream: %w", err)
	}
	return nil
}

// Subscribe starts a durable, per-group ordered pull consumer and
// drains it into handle until ctx is cancelled.
func (c *Consumer) Subscribe(ctx context.Context, groupID string, handle Handler) error {
	subject := fmt.Sprintf("group.%s.mutations", groupID)
	durable := fmt.Sprintf("mailindex-%s", groupID)

	sub, err := c.js.PullSubscribe(subject, durable, nats.AckExplicit(), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("could not create pull subscription for %s: %w", groupID, err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(defaultFetchWait))
		if err != nil {
			if err == nats.ErrTimeout || err == context.DeadlineExceeded {
				continue
			}
			return fmt.Errorf("could not fetch mutation batch: %w", err)
		}

		for _, msg := range msgs {
			var batch Batch
			if err := json.Unmarshal(msg.Data, &batch); err != nil {
				c.log.WithError(err).Error("could not decode mutation batch, skipping")
				_ = msg.Ack()
				continue
			}

			if err := handle(ctx, batch); err != nil {
				c.log.WithError(err).WithField("group", batch.GroupID).Error("could not apply mutation batch")
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}
}

// Close closes the underlying NATS connection.
func (c *Consumer) Close() {
	c.nc.Close()
}

// ApplierFunc is the shape of applier.Applier.Apply, kept as an
// interface seam so this package does not import applier directly.
type ApplierFunc func(ctx context.Context, groupID string, events []domain.MutationEvent) error

// RunGroup subscribes to groupID's mutation subject and applies every
// batch through apply until ctx is cancelled.
func (c *Consumer) RunGroup(ctx context.Context, groupID string, apply ApplierFunc) error {
	return c.Subscribe(ctx, groupID, toHandler(apply))
}

// toHandler adapts an ApplierFunc into a Handler, kept separate from
// Consumer so the translation can be unit tested without a broker.
func toHandler(apply ApplierFunc) Handler {
	return func(ctx context.Context, batch Batch) error {
		return apply(ctx, batch.GroupID, batch.Events)
	}
}
