// Package agent wires the durable store, sync queue, processor, connectivity
// monitor and reconciliation layer into the single facade the rest of the
// application talks to. The Agent is owned by the composition root; there is
// no package-level instance.
package agent

import (
	"context"
	"time"

	"github.com/calebrowe/shop_sync/internal/connectivity"
	"github.com/calebrowe/shop_sync/internal/logging"
	"github.com/calebrowe/shop_sync/internal/metrics"
	"github.com/calebrowe/shop_sync/internal/queue"
	"github.com/calebrowe/shop_sync/internal/records"
	"github.com/calebrowe/shop_sync/internal/store"
	"github.com/calebrowe/shop_sync/internal/syncer"
)

// SyncState is the process-wide sync status surfaced to callers.
type SyncState struct {
	Connectivity string    `json:"connectivity"` // online | offline
	QueueDepth   int       `json:"queue_depth"`
	DeadCount    int       `json:"dead_count"`
	LastSyncAt   time.Time `json:"last_sync_at,omitzero"`
	InProgress   bool      `json:"in_progress"`
}

// Agent is the exposed offline-sync facade.
type Agent struct {
	store      *store.Store
	queue      *queue.Queue
	processor  *syncer.Processor
	monitor    *connectivity.Monitor
	reconciler *records.Reconciler
	logger     *logging.Logger
}

// New assembles an Agent and registers the online-transition drain trigger.
// Call Start to begin connectivity monitoring and Close on shutdown.
func New(st *store.Store, q *queue.Queue, proc *syncer.Processor, mon *connectivity.Monitor, rec *records.Reconciler, logger *logging.Logger) *Agent {
	if logger == nil {
		logger = logging.New("shopsync-agent")
	}
	a := &Agent{
		store:      st,
		queue:      q,
		processor:  proc,
		monitor:    mon,
		reconciler: rec,
		logger:     logger,
	}
	if mon != nil {
		mon.OnOnline(func() {
			if _, err := proc.DrainOnce(context.Background()); err != nil {
				logger.Plain().WithError(err).Error("drain on reconnect failed")
			}
		})
	}

	// A delivered upsert confirms the remote has the record: flip its cached
	// origin so the next reconcile treats the remote copy as authoritative.
	proc.OnDelivered(func(ctx context.Context, item queue.Item) {
		if item.Kind != queue.KindRecordUpsert {
			return
		}
		payload, err := queue.DecodePayload(item.Kind, item.Payload)
		if err != nil {
			logger.WithContext(ctx).WithItem(item.ID).WithError(err).Error("decoding delivered upsert failed")
			return
		}
		up := payload.(queue.RecordUpsert)
		if err := rec.MarkSynced(ctx, up.Collection, up.RecordID); err != nil {
			logger.WithContext(ctx).WithRecord(up.RecordID).WithError(err).Warn("marking delivered record synced failed")
		}
	})
	return a
}

// Start begins connectivity monitoring and primes the queue-depth gauge.
func (a *Agent) Start(ctx context.Context) {
	if depth, err := a.queue.Depth(ctx); err == nil {
		metrics.UpdateQueueDepth(float64(depth))
	}
	if a.monitor != nil {
		a.monitor.Start(ctx)
	}
}

// Close stops monitoring and makes one final flush attempt so a clean
// shutdown does not strand deliverable items.
func (a *Agent) Close() {
	if a.monitor != nil {
		a.monitor.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := a.processor.DrainOnce(ctx); err != nil {
		a.logger.Plain().WithError(err).Warn("final flush failed")
	}
}

// Enqueue persists a mutation and, when online and idle, triggers an
// asynchronous drain. It returns the item id without waiting on network I/O.
func (a *Agent) Enqueue(ctx context.Context, kind queue.Kind, payload any, target queue.Target, maxAttempts int) (string, error) {
	id, err := a.queue.Enqueue(ctx, kind, payload, target, maxAttempts)
	if err != nil {
		return "", err
	}

	metrics.EnqueuedTotal.WithLabelValues(string(kind)).Inc()
	if depth, derr := a.queue.Depth(ctx); derr == nil {
		metrics.UpdateQueueDepth(float64(depth))
	}

	a.maybeTriggerDrain()
	return id, nil
}

// SyncStatus assembles the current SyncState.
func (a *Agent) SyncStatus(ctx context.Context) (SyncState, error) {
	depth, err := a.queue.Depth(ctx)
	if err != nil {
		return SyncState{}, err
	}
	dead, err := a.queue.DeadCount(ctx)
	if err != nil {
		return SyncState{}, err
	}

	state := SyncState{
		Connectivity: "offline",
		QueueDepth:   depth,
		DeadCount:    dead,
		InProgress:   a.processor.InProgress(),
	}
	if a.monitor != nil && a.monitor.IsOnline() {
		state.Connectivity = "online"
	}

	if b, err := a.store.Get(ctx, store.PartitionMeta, syncer.LastSyncKey); err == nil {
		if ts, perr := time.Parse(time.RFC3339Nano, string(b)); perr == nil {
			state.LastSyncAt = ts
		}
	}

	return state, nil
}

// Records returns the reconciled record view for a collection.
func (a *Agent) Records(ctx context.Context, collection string) ([]records.Record, error) {
	return a.reconciler.Records(ctx, collection)
}

// SaveRecordOffline caches a record locally with origin=local and enqueues
// the matching upsert mutation. Returns the stored record and the queue item
// id.
func (a *Agent) SaveRecordOffline(ctx context.Context, collection string, rec records.Record) (records.Record, string, error) {
	saved, err := a.reconciler.SaveLocal(ctx, collection, rec)
	if err != nil {
		return records.Record{}, "", err
	}

	payload := queue.RecordUpsert{
		Collection:   collection,
		RecordID:     saved.ID,
		LastModified: saved.LastModified,
		Data:         saved.Data,
	}
	target := queue.Target{Method: "POST", Path: "/records/" + collection}

	id, err := a.Enqueue(ctx, queue.KindRecordUpsert, payload, target, 0)
	if err != nil {
		return records.Record{}, "", err
	}
	return saved, id, nil
}

// PendingItems returns the FIFO snapshot of unresolved queue items.
func (a *Agent) PendingItems(ctx context.Context) ([]queue.Item, error) {
	return a.queue.PeekPending(ctx)
}

// DeadLetters returns all dead-lettered items.
func (a *Agent) DeadLetters(ctx context.Context) ([]queue.DeadLetter, error) {
	return a.queue.DeadLetters(ctx)
}

// PurgeDeadLetters drops the dead-letter partition after an operator has
// inspected it.
func (a *Agent) PurgeDeadLetters(ctx context.Context) error {
	return a.queue.PurgeDead(ctx)
}

// DrainOnce runs one drain pass. Exposed so background-trigger facilities
// and the admin API can force a flush.
func (a *Agent) DrainOnce(ctx context.Context) ([]syncer.ItemOutcome, error) {
	return a.processor.DrainOnce(ctx)
}

// SetOnline is the push-style connectivity hook.
func (a *Agent) SetOnline(online bool) {
	if a.monitor != nil {
		a.monitor.SetOnline(online)
	}
}

// ClearAll wipes every partition. Used for logout/reset.
func (a *Agent) ClearAll(ctx context.Context) error {
	if err := a.store.ClearAll(ctx); err != nil {
		return err
	}
	metrics.UpdateQueueDepth(0)
	a.logger.Plain().Warn("all local data cleared")
	return nil
}

func (a *Agent) maybeTriggerDrain() {
	if a.monitor == nil || !a.monitor.IsOnline() || a.processor.InProgress() {
		return
	}
	go func() {
		if _, err := a.processor.DrainOnce(context.Background()); err != nil {
			a.logger.Plain().WithError(err).Error("triggered drain failed")
		}
	}()
}
