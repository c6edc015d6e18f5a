// Package queue implements the durable sync queue: pending mutations are
// persisted before Enqueue returns and carry their own retry bookkeeping.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/calebrowe/shop_sync/internal/logging"
	"github.com/calebrowe/shop_sync/internal/store"
)

// DefaultMaxAttempts bounds delivery attempts when the caller passes 0.
const DefaultMaxAttempts = 3

// ErrRetryExhausted marks an item removed after reaching its attempt bound.
var ErrRetryExhausted = errors.New("queue: retry attempts exhausted")

// Queue owns the pending-item partition of the durable store.
type Queue struct {
	store       *store.Store
	logger      *logging.Logger
	maxAttempts int
}

// New creates a Queue on top of the given store.
func New(st *store.Store, logger *logging.Logger) *Queue {
	if logger == nil {
		logger = logging.New("shopsync-queue")
	}
	return &Queue{store: st, logger: logger, maxAttempts: DefaultMaxAttempts}
}

// SetDefaultMaxAttempts overrides the attempt bound applied when Enqueue is
// called with 0. Values <= 0 are ignored.
func (q *Queue) SetDefaultMaxAttempts(n int) {
	if n > 0 {
		q.maxAttempts = n
	}
}

// Enqueue persists a new item and returns its id. The payload must be one of
// the typed payload structs for the kind. Enqueue never performs network I/O;
// the write is durable before the id is returned.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, payload any, target Target, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}

	raw, err := EncodePayload(payload)
	if err != nil {
		return "", err
	}

	item := Item{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     raw,
		Target:      target,
		EnqueuedAt:  time.Now().UTC(),
		Attempts:    0,
		MaxAttempts: maxAttempts,
	}

	if err := q.putItem(ctx, item); err != nil {
		return "", err
	}

	q.logger.Plain().WithItem(item.ID).WithKind(string(item.Kind)).Info("enqueued")
	return item.ID, nil
}

// PeekPending returns a snapshot of all unresolved items in FIFO order by
// EnqueuedAt, ties broken by id.
func (q *Queue) PeekPending(ctx context.Context) ([]Item, error) {
	entries, err := q.store.GetAll(ctx, store.PartitionQueue)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		var item Item
		if err := json.Unmarshal(e.Value, &item); err != nil {
			// A corrupt entry must not wedge the whole queue.
			q.logger.Plain().WithItem(e.Key).WithError(err).Error("dropping undecodable queue item")
			_ = q.store.Delete(ctx, store.PartitionQueue, e.Key)
			continue
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].EnqueuedAt.Equal(items[j].EnqueuedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].EnqueuedAt.Before(items[j].EnqueuedAt)
	})

	return items, nil
}

// ResolveSuccess removes a delivered item from the store.
func (q *Queue) ResolveSuccess(ctx context.Context, id string) error {
	return q.store.Delete(ctx, store.PartitionQueue, id)
}

// ResolveFailure records a transient delivery failure. The item is
// re-persisted with attempts+1 and the given not-before time unless the
// attempt bound is reached, in which case it is removed, dead-lettered, and
// OutcomeExhausted is returned.
func (q *Queue) ResolveFailure(ctx context.Context, item Item, httpStatus int, cause error, notBefore time.Time) (Outcome, error) {
	item.Attempts++
	item.LastError = errString(cause)

	if item.Attempts >= item.MaxAttempts {
		dl := NewDeadLetter(item, httpStatus, item.LastError,
			fmt.Sprintf("max attempts reached (%d)", item.Attempts))
		if err := q.deadLetter(ctx, item.ID, dl); err != nil {
			return OutcomeRetrying, err
		}
		q.logger.Plain().WithItem(item.ID).WithKind(string(item.Kind)).
			WithField("attempts", item.Attempts).Warn("retries exhausted, dead-lettered")
		return OutcomeExhausted, nil
	}

	item.NotBefore = notBefore
	if err := q.putItem(ctx, item); err != nil {
		return OutcomeRetrying, err
	}
	return OutcomeRetrying, nil
}

// ResolveRejected removes an item terminally after a permanent (4xx)
// rejection; retrying would not help.
func (q *Queue) ResolveRejected(ctx context.Context, item Item, httpStatus int, cause error) error {
	item.Attempts++
	item.LastError = errString(cause)
	dl := NewDeadLetter(item, httpStatus, item.LastError, "permanently rejected by remote")
	if err := q.deadLetter(ctx, item.ID, dl); err != nil {
		return err
	}
	q.logger.Plain().WithItem(item.ID).WithKind(string(item.Kind)).
		WithField("http_status", httpStatus).Warn("permanently rejected, dead-lettered")
	return nil
}

// PurgeDead drops every dead-lettered item. Pending items and cached records
// are untouched.
func (q *Queue) PurgeDead(ctx context.Context) error {
	if err := q.store.Clear(ctx, store.PartitionDLQ); err != nil {
		return err
	}
	q.logger.Plain().Info("dead letters purged")
	return nil
}

// Depth returns the number of pending items.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.store.Count(ctx, store.PartitionQueue)
}

// DeadCount returns the number of dead-lettered items.
func (q *Queue) DeadCount(ctx context.Context) (int, error) {
	return q.store.Count(ctx, store.PartitionDLQ)
}

// DeadLetters returns all dead-lettered items, newest last.
func (q *Queue) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	entries, err := q.store.GetAll(ctx, store.PartitionDLQ)
	if err != nil {
		return nil, err
	}
	letters := make([]DeadLetter, 0, len(entries))
	for _, e := range entries {
		var dl DeadLetter
		if err := json.Unmarshal(e.Value, &dl); err != nil {
			continue
		}
		letters = append(letters, dl)
	}
	sort.Slice(letters, func(i, j int) bool { return letters[i].At < letters[j].At })
	return letters, nil
}

func (q *Queue) putItem(ctx context.Context, item Item) error {
	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	return q.store.Put(ctx, store.PartitionQueue, item.ID, b)
}

// deadLetter removes the item from the queue partition and records the dead
// letter. Partition writes are not atomic across partitions; the dlq write
// happens first so a crash in between leaves the item visible in both, never
// silently dropped.
func (q *Queue) deadLetter(ctx context.Context, id string, dl DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := q.store.Put(ctx, store.PartitionDLQ, id, b); err != nil {
		return err
	}
	return q.store.Delete(ctx, store.PartitionQueue, id)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
