package queue

import "time"

const DLQType = "shopsync.dlq"

// DeadLetter is the terminal-failure envelope written to the dlq partition
// and optionally published to the dead-letter topic.
type DeadLetter struct {
	Type         string            `json:"type"`    // "shopsync.dlq"
	Version      string            `json:"version"` // schema version
	At           string            `json:"at"`      // RFC3339 time the item was dead-lettered
	Reason       string            `json:"reason"`  // human/debug text
	Attempts     int               `json:"attempts"`
	HTTPStatus   int               `json:"http_status,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
	Item         Item              `json:"item"` // full item snapshot
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

func NewDeadLetter(item Item, httpStatus int, lastErr, reason string) DeadLetter {
	return DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         time.Now().Format(time.RFC3339Nano),
		Reason:     reason,
		Attempts:   item.Attempts,
		HTTPStatus: httpStatus,
		LastError:  lastErr,
		Item:       item,
	}
}
