package ssereplay

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// StreamKind identifies one of the built-in event streams.
type StreamKind int

const (
	StreamUpdates StreamKind = iota
	StreamNotifications
	StreamStocks
)

func (k StreamKind) String() string {
	switch k {
	case StreamUpdates:
		return "updates"
	case StreamNotifications:
		return "notifications"
	case StreamStocks:
		return "stocks"
	default:
		return "unknown"
	}
}

// StreamConfig is the pacing of one stream kind.
type StreamConfig struct {
	// Interval between generated events.
	Interval time.Duration
	// HeartbeatEvery emits a heartbeat comment after every event whose id is
	// a multiple of this value. Zero disables it.
	HeartbeatEvery uint64
}

// Default stream pacing.
var (
	DefaultUpdatesConfig       = StreamConfig{Interval: 2 * time.Second, HeartbeatEvery: 15}
	DefaultNotificationsConfig = StreamConfig{Interval: 5 * time.Second}
	DefaultStocksConfig        = StreamConfig{Interval: 1 * time.Second}
)

// DefaultUserID is used for notification streams that do not name a user.
const DefaultUserID = "user123"

// A generator synthesizes payloads for a stream. Its methods are only invoked
// from the run loop of the topic's ledger, so a generator shared by every
// session on one topic is never used concurrently.
type generator interface {
	connected(id uint64) Payload
	tick(id uint64) Payload
}

// updateStream produces the general purpose update events.
type updateStream struct {
	rnd *rand.Rand
	now func() time.Time
}

func (s *updateStream) connected(uint64) Payload {
	return ConnectedPayload{Message: "Connected to SSE stream."}
}

func (s *updateStream) tick(id uint64) Payload {
	return UpdatePayload{
		Timestamp: timestamp(s.now()),
		Value:     s.rnd.Intn(100) + 1,
		Message:   fmt.Sprintf("Update #%d.", id),
	}
}

var notificationTypes = []string{"message", "alert", "info"}

// notificationStream produces notifications addressed to a single user.
type notificationStream struct {
	userID string
	rnd    *rand.Rand
	now    func() time.Time
}

func (s *notificationStream) connected(uint64) Payload {
	return ConnectedPayload{Message: "Connected.", UserID: s.userID}
}

func (s *notificationStream) tick(uint64) Payload {
	ts := timestamp(s.now())
	return NotificationPayload{
		UserID:    s.userID,
		Type:      notificationTypes[s.rnd.Intn(len(notificationTypes))],
		Content:   fmt.Sprintf("Notification at %s.", ts),
		Timestamp: ts,
	}
}

// watchList is the opening price of every simulated symbol, in pick order.
var watchList = []struct {
	symbol string
	price  float64
}{
	{"AAPL", 150.00},
	{"GOOGL", 2800.00},
	{"MSFT", 300.00},
}

// tickerStream random-walks a copy of the watch list. One instance backs the
// whole stocks topic, so each move continues from the last recorded price.
type tickerStream struct {
	prices []float64 // indexed like watchList
	rnd    *rand.Rand
	now    func() time.Time
}

func newTickerStream(rnd *rand.Rand, now func() time.Time) *tickerStream {
	s := &tickerStream{prices: make([]float64, len(watchList)), rnd: rnd, now: now}
	for i, w := range watchList {
		s.prices[i] = w.price
	}
	return s
}

func (s *tickerStream) connected(uint64) Payload {
	return ConnectedPayload{Message: "Connected to SSE stream."}
}

func (s *tickerStream) tick(uint64) Payload {
	i := s.rnd.Intn(len(watchList))
	change := s.rnd.Float64()*10 - 5
	s.prices[i] += change
	return PricePayload{
		Symbol:    watchList[i].symbol,
		Price:     round2(s.prices[i]),
		Change:    round2(change),
		Timestamp: timestamp(s.now()),
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
