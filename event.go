package ssereplay

import "time"

// EventKind is the SSE "event:" field for a message.
type EventKind string

// Event kinds emitted by the built-in streams.
const (
	KindConnected    EventKind = "connected"
	KindUpdate       EventKind = "update"
	KindNotification EventKind = "notification"
	KindPriceUpdate  EventKind = "price_update"
)

// Payload is the typed body of an Event. Each variant owns its JSON shape.
type Payload interface {
	Kind() EventKind
}

// Event is a single identified message on a topic. Events are immutable once
// issued by a ledger.
type Event struct {
	ID      uint64
	Kind    EventKind
	Payload Payload
}

func newEvent(id uint64, p Payload) Event {
	return Event{ID: id, Kind: p.Kind(), Payload: p}
}

// ConnectedPayload confirms a new connection. UserID is only set on the
// notification stream.
type ConnectedPayload struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

func (ConnectedPayload) Kind() EventKind { return KindConnected }

// UpdatePayload is the body of the general purpose update stream.
type UpdatePayload struct {
	Timestamp string `json:"timestamp"`
	Value     int    `json:"value"`
	Message   string `json:"message"`
}

func (UpdatePayload) Kind() EventKind { return KindUpdate }

// NotificationPayload is a per-user notification.
type NotificationPayload struct {
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

func (NotificationPayload) Kind() EventKind { return KindNotification }

// PricePayload reports a simulated ticker move.
type PricePayload struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change    float64 `json:"change"`
	Timestamp string  `json:"timestamp"`
}

func (PricePayload) Kind() EventKind { return KindPriceUpdate }

// timestamp formats t the way every payload reports time.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
