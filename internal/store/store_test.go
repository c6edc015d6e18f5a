package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestPutGet(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		partition string
		key       string
		value     []byte
	}{
		{name: "queue partition", partition: PartitionQueue, key: "item-1", value: []byte(`{"id":"item-1"}`)},
		{name: "meta partition", partition: PartitionMeta, key: "last_sync_at", value: []byte(`"2026-01-02T15:04:05Z"`)},
		{name: "record partition", partition: RecordPartition("bookings"), key: "b-1", value: []byte(`{"id":"b-1"}`)},
		{name: "empty value", partition: PartitionQueue, key: "empty", value: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := st.Put(ctx, tt.partition, tt.key, tt.value); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			got, err := st.Get(ctx, tt.partition, tt.key)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != string(tt.value) {
				t.Errorf("Get() = %q, want %q", got, tt.value)
			}
		})
	}
}

func TestPutOverwrites(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.Put(ctx, PartitionQueue, "k", []byte("v1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := st.Put(ctx, PartitionQueue, "k", []byte("v2")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := st.Get(ctx, PartitionQueue, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Get() after overwrite = %q, want %q", got, "v2")
	}

	n, err := st.Count(ctx, PartitionQueue)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() after overwrite = %d, want 1", n)
	}
}

func TestGetNotFound(t *testing.T) {
	st, _ := openTestStore(t)

	_, err := st.Get(context.Background(), PartitionQueue, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestPartitionIsolation(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.Put(ctx, PartitionQueue, "shared-key", []byte("queue")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := st.Put(ctx, PartitionDLQ, "shared-key", []byte("dlq")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := st.Get(ctx, PartitionQueue, "shared-key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "queue" {
		t.Errorf("Get(queue) = %q, want %q", got, "queue")
	}

	if err := st.Clear(ctx, PartitionQueue); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := st.Get(ctx, PartitionQueue, "shared-key"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(queue) after Clear error = %v, want ErrNotFound", err)
	}
	if _, err := st.Get(ctx, PartitionDLQ, "shared-key"); err != nil {
		t.Errorf("Get(dlq) after Clear(queue) error = %v, want nil", err)
	}
}

func TestGetAllOrderedByKey(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	// Inserted out of order on purpose.
	for _, k := range []string{"c", "a", "b"} {
		if err := st.Put(ctx, PartitionQueue, k, []byte(k)); err != nil {
			t.Fatalf("Put(%q) error = %v", k, err)
		}
	}

	entries, err := st.GetAll(ctx, PartitionQueue)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(entries) != len(want) {
		t.Fatalf("GetAll() returned %d entries, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.Key != want[i] {
			t.Errorf("GetAll()[%d].Key = %q, want %q", i, e.Key, want[i])
		}
	}
}

func TestDeleteAbsentKey(t *testing.T) {
	st, _ := openTestStore(t)

	if err := st.Delete(context.Background(), PartitionQueue, "never-existed"); err != nil {
		t.Errorf("Delete() of absent key error = %v, want nil", err)
	}
}

func TestClearAll(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	parts := []string{PartitionQueue, PartitionDLQ, PartitionMeta, RecordPartition("bookings")}
	for _, p := range parts {
		if err := st.Put(ctx, p, "k", []byte("v")); err != nil {
			t.Fatalf("Put(%q) error = %v", p, err)
		}
	}

	if err := st.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	for _, p := range parts {
		n, err := st.Count(ctx, p)
		if err != nil {
			t.Fatalf("Count(%q) error = %v", p, err)
		}
		if n != 0 {
			t.Errorf("Count(%q) after ClearAll = %d, want 0", p, n)
		}
	}
}

func TestDurabilityAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.db")
	ctx := context.Background()

	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := st.Put(ctx, PartitionQueue, "survivor", []byte("still here")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, PartitionQueue, "survivor")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if string(got) != "still here" {
		t.Errorf("Get() after reopen = %q, want %q", got, "still here")
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "data.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open() with missing parent dirs error = %v", err)
	}
	defer st.Close()

	if err := st.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestStorageErrorFormat(t *testing.T) {
	inner := errors.New("disk full")
	tests := []struct {
		name string
		err  *StorageError
		want string
	}{
		{
			name: "with key",
			err:  &StorageError{Op: "put", Partition: "queue", Key: "item-1", Err: inner},
			want: "store: put queue/item-1: disk full",
		},
		{
			name: "without key",
			err:  &StorageError{Op: "clear", Partition: "queue", Err: inner},
			want: "store: clear queue: disk full",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, inner) {
				t.Errorf("errors.Is() = false, want true (Unwrap broken)")
			}
		})
	}
}

func TestRecordPartition(t *testing.T) {
	if got := RecordPartition("bookings"); got != "records/bookings" {
		t.Errorf("RecordPartition() = %q, want %q", got, "records/bookings")
	}
}
