package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// BookingCreate is the payload for KindBookingCreate.
type BookingCreate struct {
	BookingID     string    `json:"booking_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone,omitempty"`
	DeviceBrand   string    `json:"device_brand"`
	DeviceModel   string    `json:"device_model"`
	Issue         string    `json:"issue"`
	QuotedCents   int64     `json:"quoted_cents,omitempty"`
	ScheduledFor  time.Time `json:"scheduled_for,omitempty"`
}

// StatusUpdate is the payload for KindStatusUpdate.
type StatusUpdate struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"` // e.g. received, diagnosing, repaired, collected
	Note      string `json:"note,omitempty"`
}

// FileUpload is the payload for KindFileUpload. Data is base64-encoded by
// encoding/json.
type FileUpload struct {
	BookingID   string `json:"booking_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// PaymentSubmit is the payload for KindPaymentSubmit.
type PaymentSubmit struct {
	BookingID   string `json:"booking_id"`
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"` // card, cash, transfer
	Reference   string `json:"reference,omitempty"`
}

// RecordUpsert is the payload for KindRecordUpsert: a whole offline-created
// domain record pushed to its collection endpoint.
type RecordUpsert struct {
	Collection   string          `json:"collection"`
	RecordID     string          `json:"record_id"`
	LastModified time.Time       `json:"last_modified"`
	Data         json.RawMessage `json:"data"`
}

// EncodePayload marshals a typed payload for storage on an Item.
func EncodePayload(p any) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload unmarshals an item payload into its kind-specific type.
func DecodePayload(kind Kind, raw json.RawMessage) (any, error) {
	switch kind {
	case KindBookingCreate:
		var p BookingCreate
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindStatusUpdate:
		var p StatusUpdate
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindFileUpload:
		var p FileUpload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindPaymentSubmit:
		var p PaymentSubmit
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	case KindRecordUpsert:
		var p RecordUpsert
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("decode payload: unknown kind %q", kind)
	}
}
