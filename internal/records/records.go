// Package records is the reconciliation layer: it overlays locally created
// and locally modified domain records on top of the remote authority's view,
// so reads keep working offline and offline edits are never merged away.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/calebrowe/shop_sync/internal/logging"
	"github.com/calebrowe/shop_sync/internal/metrics"
	"github.com/calebrowe/shop_sync/internal/store"
)

// Origin marks where a record came from.
type Origin string

const (
	// OriginLocal marks a record created offline, not yet confirmed received
	// by the remote authority.
	OriginLocal Origin = "local"
	// OriginRemote marks a record adopted from the remote authority.
	OriginRemote Origin = "remote"
)

// Record is a cached business entity, e.g. a booking.
type Record struct {
	ID           string          `json:"id"`
	Origin       Origin          `json:"origin"`
	LastModified time.Time       `json:"last_modified"`
	Data         json.RawMessage `json:"data"`
}

// Fetcher reads the authoritative record list for a collection. Best-effort:
// a failure degrades reads to the local view.
type Fetcher interface {
	FetchAll(ctx context.Context, collection string) ([]Record, error)
}

// Reconciler owns the merged view of domain records.
type Reconciler struct {
	store   *store.Store
	fetcher Fetcher
	online  func() bool
	logger  *logging.Logger

	// mu spans every load-merge-persist window and every cache write. A save
	// landing mid-merge must either be part of the merge or stay untouched.
	mu sync.Mutex
}

// New creates a Reconciler. online reports current connectivity; when it
// returns false the remote fetch is skipped entirely.
func New(st *store.Store, fetcher Fetcher, online func() bool, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.New("shopsync-records")
	}
	return &Reconciler{store: st, fetcher: fetcher, online: online, logger: logger}
}

// Records returns the reconciled view of a collection, ordered by id.
//
// Offline, or when the remote fetch fails, the last-persisted local view is
// returned without error. Online, remote records are merged in (greater
// LastModified wins; local-origin records without a remote counterpart are
// always kept) and the merged view is persisted back for later offline reads.
func (r *Reconciler) Records(ctx context.Context, collection string) ([]Record, error) {
	if r.online == nil || !r.online() {
		local, err := r.loadLocal(ctx, collection)
		if err != nil {
			return nil, err
		}
		metrics.ReconcileTotal.WithLabelValues("local_only").Inc()
		return sorted(local), nil
	}

	// Fetch outside the lock: a slow remote must not block saves.
	remote, err := r.fetcher.FetchAll(ctx, collection)
	if err != nil {
		// Non-fatal: an offline read must never be blocked by connectivity.
		r.logger.Plain().WithPartition(collection).WithError(err).Warn("remote fetch failed, serving local view")
		local, lerr := r.loadLocal(ctx, collection)
		if lerr != nil {
			return nil, lerr
		}
		metrics.ReconcileTotal.WithLabelValues("local_only").Inc()
		return sorted(local), nil
	}

	// The local read, merge and persist happen under the lock so a record
	// saved during the fetch is included in the merge rather than overwritten.
	r.mu.Lock()
	defer r.mu.Unlock()

	local, err := r.loadLocal(ctx, collection)
	if err != nil {
		return nil, err
	}
	merged := Merge(local, remote)

	if err := r.persist(ctx, collection, local, merged); err != nil {
		// The merged result is still correct; only the cache write failed.
		r.logger.Plain().WithPartition(collection).WithError(err).Error("persisting merged view failed")
	}

	metrics.ReconcileTotal.WithLabelValues("merged").Inc()
	return sorted(merged), nil
}

// SaveLocal writes a record into the collection cache with Origin set to
// local, stamping LastModified when the caller left it zero.
func (r *Reconciler) SaveLocal(ctx context.Context, collection string, rec Record) (Record, error) {
	if rec.ID == "" {
		return Record{}, fmt.Errorf("records: save: missing id")
	}
	rec.Origin = OriginLocal
	if rec.LastModified.IsZero() {
		rec.LastModified = time.Now().UTC()
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("records: marshal %s: %w", rec.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Put(ctx, store.RecordPartition(collection), rec.ID, b); err != nil {
		return Record{}, err
	}

	r.logger.Plain().WithPartition(collection).WithRecord(rec.ID).Info("saved offline record")
	return rec, nil
}

// MarkSynced flips a local record to remote origin once its mutation has made
// the round trip through the sync queue.
func (r *Reconciler) MarkSynced(ctx context.Context, collection, id string) error {
	partition := store.RecordPartition(collection)

	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.store.Get(ctx, partition, id)
	if err != nil {
		return err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return fmt.Errorf("records: unmarshal %s: %w", id, err)
	}
	rec.Origin = OriginRemote
	nb, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("records: marshal %s: %w", id, err)
	}
	return r.store.Put(ctx, partition, id, nb)
}

// Merge reconciles local and remote copies of one collection.
//
// Exactly one record per id survives: present in both, the greater
// LastModified wins; local-only with Origin=local is always retained (the
// server has never seen it); remote-only is adopted as non-local.
func Merge(local, remote []Record) []Record {
	byID := make(map[string]Record, len(local)+len(remote))

	for _, rec := range remote {
		rec.Origin = OriginRemote
		byID[rec.ID] = rec
	}

	for _, rec := range local {
		existing, ok := byID[rec.ID]
		if !ok {
			if rec.Origin == OriginLocal {
				// Not yet round-tripped through the queue; never merge away.
				byID[rec.ID] = rec
			}
			// Local non-local records absent remotely were deleted upstream.
			continue
		}
		if rec.LastModified.After(existing.LastModified) {
			byID[rec.ID] = rec
		}
	}

	merged := make([]Record, 0, len(byID))
	for _, rec := range byID {
		merged = append(merged, rec)
	}
	return merged
}

func (r *Reconciler) loadLocal(ctx context.Context, collection string) ([]Record, error) {
	entries, err := r.store.GetAll(ctx, store.RecordPartition(collection))
	if err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(entries))
	for _, e := range entries {
		var rec Record
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			r.logger.Plain().WithPartition(collection).WithRecord(e.Key).WithError(err).Error("dropping undecodable cached record")
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// persist writes the merged view back, deleting only the ids the merge
// dropped. Rows outside prev and merged are left alone.
func (r *Reconciler) persist(ctx context.Context, collection string, prev, merged []Record) error {
	partition := store.RecordPartition(collection)

	keep := make(map[string]struct{}, len(merged))
	for _, rec := range merged {
		keep[rec.ID] = struct{}{}
	}
	for _, rec := range prev {
		if _, ok := keep[rec.ID]; ok {
			continue
		}
		if err := r.store.Delete(ctx, partition, rec.ID); err != nil {
			return err
		}
	}

	for _, rec := range merged {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("records: marshal %s: %w", rec.ID, err)
		}
		if err := r.store.Put(ctx, partition, rec.ID, b); err != nil {
			return err
		}
	}
	return nil
}

func sorted(recs []Record) []Record {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs
}
