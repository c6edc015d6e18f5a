// Package syncer drains the sync queue when connectivity allows. Each drain
// processes a fixed snapshot of pending items in FIFO order, one at a time,
// and reports a per-item outcome list.
package syncer

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/calebrowe/shop_sync/internal/deadletter"
	"github.com/calebrowe/shop_sync/internal/logging"
	"github.com/calebrowe/shop_sync/internal/metrics"
	"github.com/calebrowe/shop_sync/internal/queue"
	"github.com/calebrowe/shop_sync/internal/store"
	"github.com/calebrowe/shop_sync/internal/tracing"
	"github.com/calebrowe/shop_sync/internal/transport"
)

// LastSyncKey is the meta-partition key recording the last completed drain.
const LastSyncKey = "last_sync_at"

// Options tune retry pacing and per-submission timeouts.
type Options struct {
	BackoffSchedule []time.Duration
	JitterPercent   float64
	SubmitTimeout   time.Duration
}

// ItemOutcome is the result of one item within a drain pass.
type ItemOutcome struct {
	ID         string        `json:"id"`
	Kind       queue.Kind    `json:"kind"`
	Outcome    queue.Outcome `json:"outcome"`
	Attempts   int           `json:"attempts"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Processor executes drain cycles. At most one drain runs at a time,
// enforced by an atomic compare-and-swap; a DrainOnce that loses the race is
// a no-op so concurrent triggers coalesce.
type Processor struct {
	queue     *queue.Queue
	store     *store.Store
	submitter transport.Submitter
	online    func() bool
	dlq       deadletter.Publisher
	logger    *logging.Logger
	opts      Options

	draining    atomic.Bool
	now         func() time.Time
	onDelivered func(ctx context.Context, item queue.Item)
}

// New creates a Processor. online gates drains; dlq may be nil to disable
// topic publication.
func New(q *queue.Queue, st *store.Store, submitter transport.Submitter, online func() bool, dlq deadletter.Publisher, logger *logging.Logger, opts Options) *Processor {
	if logger == nil {
		logger = logging.New("shopsync-syncer")
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 30 * time.Second
	}
	if dlq == nil {
		dlq = deadletter.NopPublisher{}
	}
	return &Processor{
		queue:     q,
		store:     st,
		submitter: submitter,
		online:    online,
		dlq:       dlq,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// OnDelivered registers a hook fired after an item is confirmed delivered and
// removed from the queue. Register before the first drain.
func (p *Processor) OnDelivered(fn func(ctx context.Context, item queue.Item)) {
	p.onDelivered = fn
}

// InProgress reports whether a drain is currently active.
func (p *Processor) InProgress() bool {
	return p.draining.Load()
}

// DrainOnce performs one drain pass and returns per-item outcomes.
//
// It returns an empty result immediately when offline or when another drain
// is already running. Items enqueued while the pass runs are picked up by
// the next pass, not this one: the snapshot keeps each pass bounded.
func (p *Processor) DrainOnce(ctx context.Context) ([]ItemOutcome, error) {
	if p.online != nil && !p.online() {
		return nil, nil
	}
	if !p.draining.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer p.draining.Store(false)

	ctx, span := tracing.StartSpan(ctx, "syncer.drain")
	defer span.End()

	start := p.now()

	snapshot, err := p.queue.PeekPending(ctx)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("snapshot_size", len(snapshot)))

	outcomes := make([]ItemOutcome, 0, len(snapshot))
	for _, item := range snapshot {
		if !item.Due(p.now()) {
			// Backoff gate: skipped without consuming an attempt.
			continue
		}
		outcomes = append(outcomes, p.process(ctx, item))
	}

	p.finishDrain(ctx, start, len(outcomes))
	return outcomes, nil
}

// process submits one item and resolves it. A storage error while resolving
// aborts this item only; the drain continues with the rest of the snapshot.
func (p *Processor) process(ctx context.Context, item queue.Item) ItemOutcome {
	ctx, span := tracing.StartSpan(ctx, "syncer.submit",
		attribute.String("item_id", item.ID),
		attribute.String("kind", string(item.Kind)),
		attribute.Int("attempt", item.Attempts+1),
	)
	defer span.End()

	subCtx, cancel := context.WithTimeout(ctx, p.opts.SubmitTimeout)
	err := p.submitter.Submit(subCtx, item.Target, item.Payload)
	cancel()

	attempted := item
	attempted.Attempts++

	if err == nil {
		if rerr := p.queue.ResolveSuccess(ctx, item.ID); rerr != nil {
			p.logger.WithContext(ctx).WithItem(item.ID).WithError(rerr).Error("resolve success failed")
			tracing.SetSpanError(ctx, rerr)
		}
		metrics.RecordDelivery(string(queue.OutcomeSucceeded))
		p.logger.WithContext(ctx).WithItem(item.ID).WithKind(string(item.Kind)).Info("delivered")
		if p.onDelivered != nil {
			p.onDelivered(ctx, attempted)
		}
		return ItemOutcome{ID: item.ID, Kind: item.Kind, Outcome: queue.OutcomeSucceeded, Attempts: attempted.Attempts}
	}

	status := transport.StatusCode(err)
	reason := transport.ClassifyReason(err, status)
	tracing.SetSpanError(ctx, err)
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.String("failure_reason", reason),
	)
	attempted.LastError = err.Error()

	if transport.IsPermanent(err) {
		if rerr := p.queue.ResolveRejected(ctx, item, status, err); rerr != nil {
			p.logger.WithContext(ctx).WithItem(item.ID).WithError(rerr).Error("resolve rejection failed")
			return ItemOutcome{ID: item.ID, Kind: item.Kind, Outcome: queue.OutcomeRetrying, Attempts: attempted.Attempts, HTTPStatus: status, Error: rerr.Error()}
		}
		p.publishDeadLetter(ctx, attempted, status, "permanently rejected by remote")
		metrics.RecordDelivery(string(queue.OutcomeRejected))
		metrics.RecordDLQ()
		return ItemOutcome{ID: item.ID, Kind: item.Kind, Outcome: queue.OutcomeRejected, Attempts: attempted.Attempts, HTTPStatus: status, Error: err.Error()}
	}

	// Transient: hand back to the queue for retry bookkeeping.
	metrics.RecordRetry(reason)
	notBefore := p.now().Add(computeDelay(attempted.Attempts, p.opts.BackoffSchedule, p.opts.JitterPercent))
	outcome, rerr := p.queue.ResolveFailure(ctx, item, status, err, notBefore)
	if rerr != nil {
		p.logger.WithContext(ctx).WithItem(item.ID).WithError(rerr).Error("resolve failure failed")
		return ItemOutcome{ID: item.ID, Kind: item.Kind, Outcome: queue.OutcomeRetrying, Attempts: attempted.Attempts, HTTPStatus: status, Error: rerr.Error()}
	}

	reportErr := err
	if outcome == queue.OutcomeExhausted {
		p.publishDeadLetter(ctx, attempted, status, "max attempts reached")
		metrics.RecordDLQ()
		reportErr = fmt.Errorf("%w: %v", queue.ErrRetryExhausted, err)
	}
	metrics.RecordDelivery(string(outcome))

	p.logger.WithContext(ctx).WithItem(item.ID).WithKind(string(item.Kind)).WithFields(map[string]any{
		"attempt":   attempted.Attempts,
		"reason":    reason,
		"outcome":   string(outcome),
		"transient": transport.IsTransient(err),
	}).Info("delivery failed")

	return ItemOutcome{ID: item.ID, Kind: item.Kind, Outcome: outcome, Attempts: attempted.Attempts, HTTPStatus: status, Error: reportErr.Error()}
}

func (p *Processor) publishDeadLetter(ctx context.Context, item queue.Item, status int, reason string) {
	dl := queue.NewDeadLetter(item, status, item.LastError, reason)
	dl.TraceHeaders = tracing.InjectTraceHeaders(ctx)
	if err := p.dlq.Publish(dl); err != nil {
		// Best-effort: the dead letter is already durable in the dlq partition.
		p.logger.WithContext(ctx).WithItem(item.ID).WithError(err).Warn("dead letter publish failed")
	}
}

// finishDrain records lastSyncAt and refreshes gauges. Runs whether the pass
// delivered anything or not.
func (p *Processor) finishDrain(ctx context.Context, start time.Time, processed int) {
	metrics.DrainDuration.Observe(p.now().Sub(start).Seconds())

	ts := p.now().UTC().Format(time.RFC3339Nano)
	if err := p.store.Put(ctx, store.PartitionMeta, LastSyncKey, []byte(ts)); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("recording last sync time failed")
	}

	if depth, err := p.queue.Depth(ctx); err == nil {
		metrics.UpdateQueueDepth(float64(depth))
	}

	if processed > 0 {
		p.logger.WithContext(ctx).WithField("processed", processed).Info("drain complete")
	}
}

// computeDelay maps a 1-based attempt count onto the backoff schedule with
// +/- jitterPct jitter.
func computeDelay(attempt int, schedule []time.Duration, jitterPct float64) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	base := schedule[idx]
	// jitter: +/- jitterPct
	j := 1 + (rand.Float64()*2-1)*jitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}
