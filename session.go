package ssereplay

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/azer/debug"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionState is the lifecycle stage of a connection session.
type SessionState int32

const (
	StateConnected SessionState = iota
	StateStreaming
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// A session is one client connection to one stream.
type session struct {
	id        uuid.UUID
	r         *http.Request       // The HTTP request
	w         http.ResponseWriter // The HTTP response
	flusher   http.Flusher
	created   time.Time // Timestamp for when connection was opened
	kind      StreamKind
	userID    string
	lastID    *uint64 // replay marker supplied by the client, if any
	conf      StreamConfig
	keepalive time.Duration
	gen       generator
	ledger    *ledger
	quit      <-chan struct{} // closed on server shutdown
	log       *zap.Logger

	state    atomic.Int32
	msgsSent atomic.Uint64
	replayed atomic.Int64
}

// ConnectionStatus is a snapshot of one live session.
type ConnectionStatus struct {
	ID          string `json:"id"`
	Path        string `json:"request_path"`
	Stream      string `json:"stream"`
	Topic       string `json:"topic"`
	UserID      string `json:"user_id,omitempty"`
	State       string `json:"state"`
	Created     int64  `json:"created_at"`
	ClientIP    string `json:"client_ip"`
	UserAgent   string `json:"user_agent"`
	LastEventID string `json:"last_event_id,omitempty"`
	Replayed    int    `json:"replayed"`
	MsgsSent    uint64 `json:"msgs_sent"`
}

func (s *session) Status() ConnectionStatus {
	cs := ConnectionStatus{
		ID:        s.id.String(),
		Path:      s.r.URL.Path,
		Stream:    s.kind.String(),
		Topic:     s.ledger.topic,
		UserID:    s.userID,
		State:     s.State().String(),
		Created:   s.created.Unix(),
		ClientIP:  s.r.RemoteAddr,
		UserAgent: s.r.UserAgent(),
		Replayed:  int(s.replayed.Load()),
		MsgsSent:  s.msgsSent.Load(),
	}
	if s.lastID != nil {
		cs.LastEventID = strconv.FormatUint(*s.lastID, 10)
	}
	return cs
}

func (s *session) State() SessionState {
	return SessionState(s.state.Load())
}

// lastEventID parses the client's replay marker from the Last-Event-ID header,
// falling back to the lastEventId query parameter used by EventSource
// polyfills. A missing or malformed marker yields nil, meaning no replay.
func lastEventID(r *http.Request) *uint64 {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("lastEventId")
	}
	if v == "" {
		return nil
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		debug.Debug("ignoring malformed replay marker %q", v)
		return nil
	}
	return &id
}

// run streams to the client until it disconnects, the server shuts down, or a
// write fails.
//
// Replayed events are written first, then the connected event, then one live
// event per tick. The ledger issues the connected id in the same step it
// snapshots the replay, so ids on the wire are strictly increasing.
func (s *session) run() {
	ctx := s.r.Context()
	defer s.state.Store(int32(StateClosed))

	replay, connected, err := s.ledger.Open(ctx, s.lastID, s.gen.connected)
	if err != nil {
		debug.Debug("could not open session: %v", err)
		return
	}
	s.replayed.Store(int64(len(replay)))
	for _, e := range replay {
		if err := s.writeEvent(e); err != nil {
			return
		}
	}
	if err := s.writeEvent(connected); err != nil {
		return
	}
	s.state.Store(int32(StateStreaming))

	ticker := time.NewTicker(s.conf.Interval)
	defer ticker.Stop()

	// set up a keepalive tickle to prevent connections from being closed by a
	// timeout, independent of how many events the stream produces
	var keepalive <-chan time.Time
	if s.keepalive > 0 {
		keepaliveTickler := time.NewTicker(s.keepalive)
		defer keepaliveTickler.Stop()
		keepalive = keepaliveTickler.C
	}

	for {
		select {
		case <-ticker.C:
			e, err := s.ledger.Append(ctx, s.gen.tick)
			if err != nil {
				debug.Debug("ledger refused event, closing: %v", err)
				return
			}
			if err := s.writeEvent(e); err != nil {
				return
			}
			if n := s.conf.HeartbeatEvery; n > 0 && e.ID%n == 0 {
				if err := s.write(heartbeatFrame); err != nil {
					return
				}
			}

		case <-keepalive:
			if err := s.write(keepaliveFrame); err != nil {
				return
			}

		case <-s.quit:
			debug.Debug("server told us to shut down")
			return

		case <-ctx.Done():
			debug.Debug("closer fired for conn")
			return
		}
	}
}

// writeEvent frames and flushes one event. A payload that cannot be encoded
// is replaced by a diagnostic comment and the stream carries on.
func (s *session) writeEvent(e Event) error {
	b, err := e.sseFormat()
	if err != nil {
		s.log.Warn("event serialization failed",
			zap.Uint64("event_id", e.ID),
			zap.String("event", string(e.Kind)),
			zap.Error(err))
		return s.write(serializationFailed)
	}
	if err := s.write(b); err != nil {
		return err
	}
	s.msgsSent.Add(1)
	return nil
}

func (s *session) write(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		debug.Debug("Error writing to client, closing")
		return err
	}
	s.flusher.Flush()
	return nil
}
