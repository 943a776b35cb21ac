// Package activity drains board events from the activity queue into the
// per-project activity log.
package activity

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"tandem/domain"
	"tandem/storage"
)

// Queue is the source of board events.
type Queue interface {
	Dequeue(ctx context.Context, max int32, visibility time.Duration) ([]storage.QueuedEvent, error)
	Delete(ctx context.Context, messageID, popReceipt string) error
}

// Log is the destination of board events.
type Log interface {
	Append(ctx context.Context, ev domain.BoardEvent) error
}

type Worker struct {
	queue      Queue
	log        Log
	batch      int32
	visibility time.Duration
	idle       time.Duration
}

// NewWorker returns a worker fetching batch messages at a time and sleeping
// for idle when the queue is empty or unreachable.
func NewWorker(q Queue, l Log, batch int32, visibility, idle time.Duration) *Worker {
	if batch <= 0 || batch > 32 {
		batch = 16
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	if idle <= 0 {
		idle = time.Second
	}
	return &Worker{queue: q, log: l, batch: batch, visibility: visibility, idle: idle}
}

// Run processes messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		n, err := w.Poll(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.WithError(err).Error("activity dequeue failed")
		}
		if err != nil || n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.idle):
			}
		}
	}
}

// Poll handles one batch and returns the number of messages received.
// Undecodable messages are dropped; failed appends stay on the queue and
// reappear after the visibility timeout.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	msgs, err := w.queue.Dequeue(ctx, w.batch, w.visibility)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		if m.Event.ID == "" || m.Event.ProjectID == "" {
			log.WithField("message", m.MessageID).Warn("dropping malformed activity message")
			w.delete(ctx, m)
			continue
		}
		if err := w.log.Append(ctx, m.Event); err != nil {
			log.WithFields(log.Fields{"event": m.Event.ID, "project": m.Event.ProjectID}).WithError(err).Error("activity append failed")
			continue
		}
		w.delete(ctx, m)
	}
	return len(msgs), nil
}

func (w *Worker) delete(ctx context.Context, m storage.QueuedEvent) {
	if err := w.queue.Delete(ctx, m.MessageID, m.PopReceipt); err != nil {
		log.WithField("message", m.MessageID).WithError(err).Warn("activity delete failed")
	}
}
