package ssereplay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/azer/debug"
)

// ErrLedgerClosed is returned by ledger operations after Shutdown.
var ErrLedgerClosed = errors.New("ssereplay: ledger closed")

// A ledger owns the id sequence and replay history for a single topic.
//
// All state is confined to the run goroutine and reached only through request
// channels, so issuing an id and recording the event is one atomic step and
// the history is always in ascending id order.
type ledger struct {
	topic   string
	seq     uint64 // last issued id, owned by run
	history *ring  // owned by run

	appends chan appendRequest
	open    chan openRequest

	// mirrors of run-owned state for lock free status reads
	lastID      atomic.Uint64
	historySize atomic.Int64

	stop     chan struct{}
	done     chan struct{}
	shutdown sync.Once
}

// LedgerStats is a snapshot of one topic's sequence and history.
type LedgerStats struct {
	Topic       string `json:"topic"`
	LastID      uint64 `json:"last_id"`
	HistorySize int    `json:"history_size"`
	Capacity    int    `json:"history_capacity"`
	Sessions    int    `json:"sessions"`
}

// build constructs a payload once its id is known.
type build func(id uint64) Payload

type appendRequest struct {
	build build
	reply chan Event
}

type openRequest struct {
	lastID uint64
	replay bool
	build  build
	reply  chan openResult
}

type openResult struct {
	replay    []Event
	connected Event
}

func newLedger(topic string, historySize int) *ledger {
	return &ledger{
		topic:   topic,
		history: newRing(historySize),
		appends: make(chan appendRequest),
		open:    make(chan openRequest),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the run loop in its own goroutine.
func (l *ledger) Start() {
	go l.run()
}

// Shutdown stops the run loop. Safe to call multiple times.
func (l *ledger) Shutdown() {
	l.shutdown.Do(func() {
		close(l.stop)
	})
	<-l.done
}

func (l *ledger) run() {
	defer close(l.done)
	for {
		select {
		case req := <-l.appends:
			e := l.next(req.build)
			l.record(e)
			req.reply <- e
		case req := <-l.open:
			var res openResult
			if req.replay {
				res.replay = l.history.since(req.lastID)
				debug.Debug("%s: replaying %d events after %d", l.topic, len(res.replay), req.lastID)
			}
			res.connected = l.next(req.build)
			req.reply <- res
		case <-l.stop:
			debug.Debug("%s: ledger shutting down", l.topic)
			return
		}
	}
}

// next issues the next id. Wraparound of the uint64 sequence is not handled.
func (l *ledger) next(b build) Event {
	l.seq++
	l.lastID.Store(l.seq)
	return newEvent(l.seq, b(l.seq))
}

func (l *ledger) record(e Event) {
	l.history.record(e)
	l.historySize.Store(int64(l.history.len()))
}

// Append issues an id for the payload built by b and records the event into
// the replay history.
func (l *ledger) Append(ctx context.Context, b build) (Event, error) {
	req := appendRequest{build: b, reply: make(chan Event, 1)}
	select {
	case l.appends <- req:
	case <-l.done:
		return Event{}, ErrLedgerClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
	return <-req.reply, nil
}

// Open resolves replay for a new connection and issues its connected event
// in a single step. When lastID is nil no replay is performed. Every replayed
// id is lower than the returned connected id.
func (l *ledger) Open(ctx context.Context, lastID *uint64, b build) ([]Event, Event, error) {
	req := openRequest{build: b, reply: make(chan openResult, 1)}
	if lastID != nil {
		req.replay, req.lastID = true, *lastID
	}
	select {
	case l.open <- req:
	case <-l.done:
		return nil, Event{}, ErrLedgerClosed
	case <-ctx.Done():
		return nil, Event{}, ctx.Err()
	}
	res := <-req.reply
	return res.replay, res.connected, nil
}

// Stats reports the ledger's current sequence and history size. It does not
// go through the run loop and remains valid after Shutdown.
func (l *ledger) Stats() LedgerStats {
	return LedgerStats{
		Topic:       l.topic,
		LastID:      l.lastID.Load(),
		HistorySize: int(l.historySize.Load()),
		Capacity:    l.history.capacity(),
	}
}
