package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/calebrowe/shop_sync/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, nil), st
}

func TestEnqueueIsDurable(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, KindBookingCreate, BookingCreate{
		BookingID:    "b-1",
		CustomerName: "Ada",
		DeviceBrand:  "Pixel",
		DeviceModel:  "8",
		Issue:        "cracked screen",
	}, Target{Method: "POST", Path: "/bookings"}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if id == "" {
		t.Fatal("Enqueue() returned empty id")
	}

	// The item must be readable straight from the store, not just from the
	// queue's own view.
	raw, err := st.Get(ctx, store.PartitionQueue, id)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		t.Fatalf("unmarshal stored item error = %v", err)
	}
	if item.Kind != KindBookingCreate {
		t.Errorf("stored Kind = %q, want %q", item.Kind, KindBookingCreate)
	}
	if item.Attempts != 0 {
		t.Errorf("stored Attempts = %d, want 0", item.Attempts)
	}
	if item.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("stored MaxAttempts = %d, want %d", item.MaxAttempts, DefaultMaxAttempts)
	}
}

func TestSetDefaultMaxAttempts(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.SetDefaultMaxAttempts(5)
	q.SetDefaultMaxAttempts(0)  // ignored
	q.SetDefaultMaxAttempts(-1) // ignored

	defaulted, err := q.Enqueue(ctx, KindStatusUpdate, StatusUpdate{BookingID: "b-1", Status: "x"}, Target{Method: "POST", Path: "/status"}, 0)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	explicit, err := q.Enqueue(ctx, KindStatusUpdate, StatusUpdate{BookingID: "b-2", Status: "x"}, Target{Method: "POST", Path: "/status"}, 7)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	pending, err := q.PeekPending(ctx)
	if err != nil {
		t.Fatalf("PeekPending() error = %v", err)
	}
	bounds := make(map[string]int, len(pending))
	for _, it := range pending {
		bounds[it.ID] = it.MaxAttempts
	}
	if bounds[defaulted] != 5 {
		t.Errorf("MaxAttempts with configured default = %d, want 5", bounds[defaulted])
	}
	if bounds[explicit] != 7 {
		t.Errorf("MaxAttempts with explicit bound = %d, want 7", bounds[explicit])
	}
}

func TestPurgeDeadKeepsPending(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, KindStatusUpdate, StatusUpdate{BookingID: "b-1", Status: "x"}, Target{Method: "POST", Path: "/status"}, 3); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	pending, err := q.PeekPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("PeekPending() = %v, %v, want one item", pending, err)
	}
	if err := q.ResolveRejected(ctx, pending[0], 422, errors.New("validation failed")); err != nil {
		t.Fatalf("ResolveRejected() error = %v", err)
	}

	if _, err := q.Enqueue(ctx, KindStatusUpdate, StatusUpdate{BookingID: "b-2", Status: "x"}, Target{Method: "POST", Path: "/status"}, 3); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := q.PurgeDead(ctx); err != nil {
		t.Fatalf("PurgeDead() error = %v", err)
	}
	dead, _ := q.DeadCount(ctx)
	if dead != 0 {
		t.Errorf("DeadCount() after purge = %d, want 0", dead)
	}
	depth, _ := q.Depth(ctx)
	if depth != 1 {
		t.Errorf("Depth() after purge = %d, want 1 (pending item kept)", depth)
	}
}

func TestPeekPendingFIFO(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	items := []Item{
		{ID: "zz-first", Kind: KindStatusUpdate, Payload: []byte(`{}`), EnqueuedAt: base, MaxAttempts: 3},
		{ID: "aa-second", Kind: KindStatusUpdate, Payload: []byte(`{}`), EnqueuedAt: base.Add(time.Second), MaxAttempts: 3},
		{ID: "mm-third", Kind: KindStatusUpdate, Payload: []byte(`{}`), EnqueuedAt: base.Add(2 * time.Second), MaxAttempts: 3},
	}
	for _, it := range items {
		b, _ := json.Marshal(it)
		if err := st.Put(ctx, store.PartitionQueue, it.ID, b); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	got, err := q.PeekPending(ctx)
	if err != nil {
		t.Fatalf("PeekPending() error = %v", err)
	}
	want := []string{"zz-first", "aa-second", "mm-third"}
	if len(got) != len(want) {
		t.Fatalf("PeekPending() returned %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("PeekPending()[%d].ID = %q, want %q", i, got[i].ID, want[i])
		}
	}
}

func TestPeekPendingTieBreakByID(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"b-item", "a-item", "c-item"} {
		b, _ := json.Marshal(Item{ID: id, Kind: KindStatusUpdate, Payload: []byte(`{}`), EnqueuedAt: at, MaxAttempts: 3})
		if err := st.Put(ctx, store.PartitionQueue, id, b); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	got, err := q.PeekPending(ctx)
	if err != nil {
		t.Fatalf("PeekPending() error = %v", err)
	}
	want := []string{"a-item", "b-item", "c-item"}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("PeekPending()[%d].ID = %q, want %q (same-timestamp ties break by id)", i, got[i].ID, want[i])
		}
	}
}

func TestPeekPendingDropsCorruptEntries(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	if err := st.Put(ctx, store.PartitionQueue, "bad", []byte(`{not json`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	id, err := q.Enqueue(ctx, KindStatusUpdate, StatusUpdate{BookingID: "b-1", Status: "repaired"}, Target{Method: "POST", Path: "/status"}, 3)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	got, err := q.PeekPending(ctx)
	if err != nil {
		t.Fatalf("PeekPending() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("PeekPending() = %v, want only the valid item %q", got, id)
	}

	// Corrupt entry is removed for good.
	if _, err := st.Get(ctx, store.PartitionQueue, "bad"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("corrupt entry still present, Get() error = %v, want ErrNotFound", err)
	}
}

func TestResolveSuccessRemovesItem(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, KindPaymentSubmit, PaymentSubmit{BookingID: "b-1", AmountCents: 12500, Method: "card"}, Target{Method: "POST", Path: "/payments"}, 3)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.ResolveSuccess(ctx, id); err != nil {
		t.Fatalf("ResolveSuccess() error = %v", err)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 0 {
		t.Errorf("Depth() after success = %d, want 0", depth)
	}
}

func TestResolveFailureIncrementsAndKeeps(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, KindStatusUpdate, StatusUpdate{BookingID: "b-1", Status: "diagnosing"}, Target{Method: "POST", Path: "/status"}, 3)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	pending, _ := q.PeekPending(ctx)

	notBefore := time.Now().Add(30 * time.Second)
	outcome, err := q.ResolveFailure(ctx, pending[0], 500, errors.New("http 500"), notBefore)
	if err != nil {
		t.Fatalf("ResolveFailure() error = %v", err)
	}
	if outcome != OutcomeRetrying {
		t.Errorf("ResolveFailure() outcome = %q, want %q", outcome, OutcomeRetrying)
	}

	pending, err = q.PeekPending(ctx)
	if err != nil {
		t.Fatalf("PeekPending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("item removed after first failure, want it kept")
	}
	got := pending[0]
	if got.ID != id {
		t.Errorf("kept item ID = %q, want %q", got.ID, id)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if got.LastError != "http 500" {
		t.Errorf("LastError = %q, want %q", got.LastError, "http 500")
	}
	if !got.NotBefore.Equal(notBefore) {
		t.Errorf("NotBefore = %v, want %v", got.NotBefore, notBefore)
	}
	if got.Due(time.Now()) {
		t.Error("Due() = true before NotBefore, want false")
	}
	if !got.Due(notBefore.Add(time.Second)) {
		t.Error("Due() = false after NotBefore, want true")
	}
}

func TestResolveFailureExhaustsAtBound(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, KindFileUpload, FileUpload{BookingID: "b-1", FileName: "photo.jpg", ContentType: "image/jpeg", Data: []byte{1, 2, 3}}, Target{Method: "POST", Path: "/files"}, 2); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	cause := errors.New("connection refused")
	for attempt := 1; attempt <= 2; attempt++ {
		pending, err := q.PeekPending(ctx)
		if err != nil {
			t.Fatalf("PeekPending() error = %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("attempt %d: pending = %d items, want 1", attempt, len(pending))
		}
		outcome, err := q.ResolveFailure(ctx, pending[0], 0, cause, time.Time{})
		if err != nil {
			t.Fatalf("attempt %d: ResolveFailure() error = %v", attempt, err)
		}
		want := OutcomeRetrying
		if attempt == 2 {
			want = OutcomeExhausted
		}
		if outcome != want {
			t.Errorf("attempt %d: outcome = %q, want %q", attempt, outcome, want)
		}
	}

	depth, _ := q.Depth(ctx)
	if depth != 0 {
		t.Errorf("Depth() after exhaustion = %d, want 0", depth)
	}
	dead, _ := q.DeadCount(ctx)
	if dead != 1 {
		t.Errorf("DeadCount() after exhaustion = %d, want 1", dead)
	}

	letters, err := q.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("DeadLetters() = %d letters, want 1", len(letters))
	}
	dl := letters[0]
	if dl.Type != DLQType {
		t.Errorf("DeadLetter.Type = %q, want %q", dl.Type, DLQType)
	}
	if dl.Attempts != 2 {
		t.Errorf("DeadLetter.Attempts = %d, want 2", dl.Attempts)
	}
	if dl.Item.Kind != KindFileUpload {
		t.Errorf("DeadLetter.Item.Kind = %q, want %q", dl.Item.Kind, KindFileUpload)
	}
}

func TestResolveRejectedDeadLettersImmediately(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, KindBookingCreate, BookingCreate{BookingID: "b-1", CustomerName: "Ada", DeviceBrand: "Pixel", DeviceModel: "8", Issue: "bad battery"}, Target{Method: "POST", Path: "/bookings"}, 3); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	pending, _ := q.PeekPending(ctx)

	if err := q.ResolveRejected(ctx, pending[0], 422, errors.New("http 422: validation failed")); err != nil {
		t.Fatalf("ResolveRejected() error = %v", err)
	}

	depth, _ := q.Depth(ctx)
	if depth != 0 {
		t.Errorf("Depth() after rejection = %d, want 0", depth)
	}
	letters, _ := q.DeadLetters(ctx)
	if len(letters) != 1 {
		t.Fatalf("DeadLetters() = %d letters, want 1", len(letters))
	}
	if letters[0].HTTPStatus != 422 {
		t.Errorf("DeadLetter.HTTPStatus = %d, want 422", letters[0].HTTPStatus)
	}
	if letters[0].Attempts != 1 {
		t.Errorf("DeadLetter.Attempts = %d, want 1 (rejection consumes the attempt)", letters[0].Attempts)
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.db")
	ctx := context.Background()

	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	q := New(st, nil)
	id, err := q.Enqueue(ctx, KindStatusUpdate, StatusUpdate{BookingID: "b-1", Status: "repaired"}, Target{Method: "POST", Path: "/status"}, 3)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	pending, _ := q.PeekPending(ctx)
	if _, err := q.ResolveFailure(ctx, pending[0], 500, errors.New("http 500"), time.Time{}); err != nil {
		t.Fatalf("ResolveFailure() error = %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Simulated restart: the item must come back with attempts intact.
	st2, err := store.Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer st2.Close()
	q2 := New(st2, nil)

	pending, err = q2.PeekPending(ctx)
	if err != nil {
		t.Fatalf("PeekPending() after reopen error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("PeekPending() after reopen = %v, want item %q", pending, id)
	}
	if pending[0].Attempts != 1 {
		t.Errorf("Attempts after reopen = %d, want 1", pending[0].Attempts)
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		payload any
		wantErr bool
	}{
		{name: "booking create", kind: KindBookingCreate, payload: BookingCreate{BookingID: "b-1", CustomerName: "Ada", DeviceBrand: "Pixel", DeviceModel: "8", Issue: "screen"}},
		{name: "status update", kind: KindStatusUpdate, payload: StatusUpdate{BookingID: "b-1", Status: "repaired"}},
		{name: "payment submit", kind: KindPaymentSubmit, payload: PaymentSubmit{BookingID: "b-1", AmountCents: 9900, Method: "cash"}},
		{name: "record upsert", kind: KindRecordUpsert, payload: RecordUpsert{Collection: "bookings", RecordID: "b-1", Data: json.RawMessage(`{"x":1}`)}},
		{name: "unknown kind", kind: Kind("mystery.op"), payload: StatusUpdate{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodePayload(tt.payload)
			if err != nil {
				t.Fatalf("EncodePayload() error = %v", err)
			}
			got, err := DecodePayload(tt.kind, raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("DecodePayload() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodePayload() error = %v", err)
			}
			if got == nil {
				t.Error("DecodePayload() = nil, want typed payload")
			}
		})
	}
}

func TestNewDeadLetterSnapshot(t *testing.T) {
	item := Item{
		ID:          "item-1",
		Kind:        KindStatusUpdate,
		Payload:     []byte(`{"booking_id":"b-1","status":"repaired"}`),
		Target:      Target{Method: "POST", Path: "/status"},
		Attempts:    3,
		MaxAttempts: 3,
		LastError:   "http 500",
	}

	dl := NewDeadLetter(item, 500, "http 500", "max attempts reached (3)")
	if dl.Type != DLQType {
		t.Errorf("Type = %q, want %q", dl.Type, DLQType)
	}
	if dl.Version != "v1" {
		t.Errorf("Version = %q, want %q", dl.Version, "v1")
	}
	if dl.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", dl.Attempts)
	}
	if dl.Item.ID != item.ID {
		t.Errorf("Item.ID = %q, want %q", dl.Item.ID, item.ID)
	}
	if _, err := time.Parse(time.RFC3339Nano, dl.At); err != nil {
		t.Errorf("At = %q is not RFC3339Nano: %v", dl.At, err)
	}
}
