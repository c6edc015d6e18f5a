package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the domain mutation an item carries. Each kind has its own
// payload type; see payload.go.
type Kind string

const (
	KindBookingCreate Kind = "booking.create"
	KindStatusUpdate  Kind = "status.update"
	KindFileUpload    Kind = "file.upload"
	KindPaymentSubmit Kind = "payment.submit"
	KindRecordUpsert  Kind = "record.upsert"
)

// Target is the remote destination for an item.
type Target struct {
	Method string `json:"method"` // HTTP verb
	Path   string `json:"path"`   // path relative to the remote API base URL
}

// Item is a pending mutation awaiting delivery.
//
// Attempts never exceeds MaxAttempts; the item is removed from the store the
// moment it succeeds, is rejected, or exhausts its attempts.
type Item struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Target      Target          `json:"target"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	NotBefore   time.Time       `json:"not_before,omitempty"` // backoff gate; zero means due now
	LastError   string          `json:"last_error,omitempty"`
}

// Due reports whether the item may be submitted at t.
func (i Item) Due(t time.Time) bool {
	return i.NotBefore.IsZero() || !i.NotBefore.After(t)
}

func (i Item) String() string {
	return fmt.Sprintf("%s %s %s %s (attempt %d/%d)", i.ID, i.Kind, i.Target.Method, i.Target.Path, i.Attempts, i.MaxAttempts)
}
