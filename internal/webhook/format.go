package webhook

import (
	"time"

	"github.com/goccy/go-json"
)

// PayloadFormat serializes a task into a request body. The set of formats is
// closed: DefaultFormat and LegacyFormat.
type PayloadFormat interface {
	Name() string
	Encode(task Task) ([]byte, error)
	sealed()
}

// DefaultFormat is the documented envelope {event, timestamp, data}.
type DefaultFormat struct{}

// LegacyFormat is the flat shape older receivers expect:
// {event_type, booking_id, sent_at, payload} with sent_at in unix seconds.
type LegacyFormat struct{}

const (
	formatDefault = "default"
	formatLegacy  = "legacy"
)

type defaultEnvelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type legacyEnvelope struct {
	EventType string          `json:"event_type"`
	BookingID string          `json:"booking_id,omitempty"`
	SentAt    int64           `json:"sent_at"`
	Payload   json.RawMessage `json:"payload"`
}

func (DefaultFormat) Name() string { return formatDefault }
func (DefaultFormat) sealed()      {}

func (DefaultFormat) Encode(task Task) ([]byte, error) {
	return json.Marshal(defaultEnvelope{
		Event:     task.Event,
		Timestamp: task.OccurredAt.UTC().Format(time.RFC3339Nano),
		Data:      rawOrNull(task.Data),
	})
}

func (LegacyFormat) Name() string { return formatLegacy }
func (LegacyFormat) sealed()      {}

func (LegacyFormat) Encode(task Task) ([]byte, error) {
	env := legacyEnvelope{
		EventType: task.Event,
		SentAt:    task.OccurredAt.Unix(),
		Payload:   rawOrNull(task.Data),
	}
	if task.BookingID != nil {
		env.BookingID = task.BookingID.String()
	}
	return json.Marshal(env)
}

// FormatFor picks the serializer for a stored format name. Unknown names fall
// back to DefaultFormat.
func FormatFor(name string) PayloadFormat {
	if name == formatLegacy {
		return LegacyFormat{}
	}
	return DefaultFormat{}
}

func rawOrNull(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage("null")
	}
	return data
}
