package ssereplay

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	rice "github.com/GeertJohan/go.rice"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mroth/ssereplay/router"
)

// ErrStreamingUnsupported is reported when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("ssereplay: streaming unsupported by response writer")

// Topics served by the built-in streams.
var (
	topicEvents        = router.NS("/events")
	topicStocks        = router.NS("/stocks")
	topicNotifications = router.NS("/notifications")
)

// DefaultKeepAlive is the interval between keepalive comments on idle streams.
const DefaultKeepAlive = 15 * time.Second

// Server streams the update, notification and ticker event streams to
// Server-Sent Events clients, replaying recent history to reconnecting ones.
//
// Server implements the http.Handler interface, and can be chained into
// existing HTTP routing muxes if desired.
type Server struct {
	topics *topics
	mux    *http.ServeMux
	log    *zap.Logger
	conf   serverConfig

	mu       sync.Mutex
	sessions map[*session]struct{}
	quit     chan struct{}
	stopped  bool
	sentMsgs atomic.Uint64 // msgs sent by sessions that have since closed

	// stocks is the single price walk behind the /stocks topic. Every
	// session's ticks advance it from the topic's ledger loop, so replayed and
	// live moves on that topic form one series.
	stocks *tickerStream

	startupTime time.Time
	seed        func() int64
}

// serverConfig defines configurable options that can be customized for a Server.
type serverConfig struct {
	CORSAllowOrigin string // Access-Control-Allow-Origin header value (dont send header if blank)
	HistorySize     int
	KeepAlive       time.Duration
	DefaultUserID   string
	Streams         map[StreamKind]StreamConfig
	TestPage        bool
	TopicIdleTTL    time.Duration // per-user topics are reclaimed after this long without sessions
	MaxTopics       int           // limit on live per-user topics
}

// NewServer creates a new Server with optional ServerOptions for configuration.
func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		log:      zap.NewNop(),
		sessions: make(map[*session]struct{}),
		quit:     make(chan struct{}),
		conf: serverConfig{
			HistorySize:   DefaultHistorySize,
			KeepAlive:     DefaultKeepAlive,
			DefaultUserID: DefaultUserID,
			Streams: map[StreamKind]StreamConfig{
				StreamUpdates:       DefaultUpdatesConfig,
				StreamNotifications: DefaultNotificationsConfig,
				StreamStocks:        DefaultStocksConfig,
			},
			TestPage:     true,
			TopicIdleTTL: DefaultTopicIdleTTL,
			MaxTopics:    DefaultMaxTopics,
		},
		startupTime: time.Now(),
		seed:        func() int64 { return time.Now().UnixNano() },
	}

	// set configuration from provided options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.topics = newTopics(s.conf.HistorySize, s.conf.TopicIdleTTL, s.conf.MaxTopics, topicEvents, topicStocks)
	s.stocks = newTickerStream(rand.New(rand.NewSource(s.seed())), time.Now)

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /notifications", s.handleNotifications)
	s.mux.HandleFunc("GET /notifications/{userID}", s.handleNotifications)
	s.mux.HandleFunc("GET /stocks", s.handleStocks)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.conf.TestPage {
		s.mux.Handle("GET /", testPageHandler())
	}
	return s, nil
}

// ServerOption defines a set of high-level user options that can be customized
type ServerOption func(s *Server) error

// WithCORSAllowOrigin sets the Access-Control-Allow-Origin header value to origin.
// If set to the zero value (""), the header will not be sent.
//
// If you want to allow connections from browsers at any origin, set to "*".
func WithCORSAllowOrigin(origin string) ServerOption {
	return func(s *Server) error {
		s.conf.CORSAllowOrigin = origin
		return nil
	}
}

// WithHistorySize sets how many events each topic retains for replay.
func WithHistorySize(n int) ServerOption {
	return func(s *Server) error {
		if n < 1 {
			return fmt.Errorf("ssereplay: history size must be positive, got %d", n)
		}
		s.conf.HistorySize = n
		return nil
	}
}

// WithStream overrides the pacing of one stream kind.
func WithStream(kind StreamKind, conf StreamConfig) ServerOption {
	return func(s *Server) error {
		if _, ok := s.conf.Streams[kind]; !ok {
			return fmt.Errorf("ssereplay: unknown stream kind %d", kind)
		}
		if conf.Interval <= 0 {
			return fmt.Errorf("ssereplay: %v interval must be positive, got %v", kind, conf.Interval)
		}
		s.conf.Streams[kind] = conf
		return nil
	}
}

// WithKeepAlive sets the interval between keepalive comments. Zero disables
// time based keepalives, leaving only the per-stream heartbeat.
func WithKeepAlive(d time.Duration) ServerOption {
	return func(s *Server) error {
		if d < 0 {
			return fmt.Errorf("ssereplay: keepalive must not be negative, got %v", d)
		}
		s.conf.KeepAlive = d
		return nil
	}
}

// WithDefaultUserID sets the user for notification streams that name none.
func WithDefaultUserID(id string) ServerOption {
	return func(s *Server) error {
		if id == "" {
			return errors.New("ssereplay: default user id must not be empty")
		}
		s.conf.DefaultUserID = id
		return nil
	}
}

// WithTopicIdleTTL sets how long a per-user notification topic, and its
// history, survives without any session. Zero reclaims it as soon as the last
// session disconnects.
func WithTopicIdleTTL(d time.Duration) ServerOption {
	return func(s *Server) error {
		if d < 0 {
			return fmt.Errorf("ssereplay: topic idle ttl must not be negative, got %v", d)
		}
		s.conf.TopicIdleTTL = d
		return nil
	}
}

// WithMaxTopics limits how many per-user notification topics may be live at
// once. Connections that would open another are refused with 503.
func WithMaxTopics(n int) ServerOption {
	return func(s *Server) error {
		if n < 1 {
			return fmt.Errorf("ssereplay: max topics must be positive, got %d", n)
		}
		s.conf.MaxTopics = n
		return nil
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) error {
		if l == nil {
			return errors.New("ssereplay: nil logger")
		}
		s.log = l
		return nil
	}
}

// WithTestPage controls whether the bundled HTML test client is served at "/".
func WithTestPage(enabled bool) ServerOption {
	return func(s *Server) error {
		s.conf.TestPage = enabled
		return nil
	}
}

// withSeed fixes the random source of every session, for tests.
func withSeed(seed int64) ServerOption {
	return func(s *Server) error {
		s.seed = func() int64 { return seed }
		return nil
	}
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, StreamUpdates, topicEvents, "")
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		userID = s.conf.DefaultUserID
	}
	s.stream(w, r, StreamNotifications, topicNotifications.Join(userID), userID)
}

func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, StreamStocks, topicStocks, "")
}

func (s *Server) newGenerator(kind StreamKind, userID string) generator {
	switch kind {
	case StreamNotifications:
		return &notificationStream{userID: userID, rnd: rand.New(rand.NewSource(s.seed())), now: time.Now}
	case StreamStocks:
		return s.stocks
	default:
		return &updateStream{rnd: rand.New(rand.NewSource(s.seed())), now: time.Now}
	}
}

// stream sets up a session for kind on topic and blocks until it is closed.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, kind StreamKind, ns router.Namespace, userID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.log.Error("cannot stream", zap.Error(ErrStreamingUnsupported))
		http.Error(w, ErrStreamingUnsupported.Error(), http.StatusInternalServerError)
		return
	}
	l, err := s.topics.Acquire(ns)
	switch {
	case errors.Is(err, ErrTooManyTopics):
		s.log.Warn("refusing connection", zap.String("topic", ns.String()), zap.Error(err))
		http.Error(w, "too many topics", http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.topics.Release(ns)

	// override RemoteAddr to trust proxy IP msgs if they exist
	ip := r.Header.Get("X-Real-IP")
	if ip == "" {
		ip = r.Header.Get("X-Forwarded-For")
	}
	if ip != "" {
		r.RemoteAddr = ip
	}

	headers := w.Header()
	if s.conf.CORSAllowOrigin != "" {
		headers.Set("Access-Control-Allow-Origin", s.conf.CORSAllowOrigin)
	}
	headers.Set("Content-Type", "text/event-stream; charset=utf-8")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := &session{
		id:        uuid.New(),
		r:         r,
		w:         w,
		flusher:   flusher,
		created:   time.Now(),
		kind:      kind,
		userID:    userID,
		lastID:    lastEventID(r),
		conf:      s.conf.Streams[kind],
		keepalive: s.conf.KeepAlive,
		gen:       s.newGenerator(kind, userID),
		ledger:    l,
		quit:      s.quit,
	}
	c.log = s.log.With(
		zap.String("session", c.id.String()),
		zap.String("stream", kind.String()),
		zap.String("topic", l.topic),
		zap.String("remote_addr", r.RemoteAddr),
	)
	if !s.register(c) {
		return
	}
	c.log.Info("connect", zap.Bool("replay", c.lastID != nil))

	defer func() {
		s.unregister(c)
		s.sentMsgs.Add(c.msgsSent.Load())
		c.log.Info("disconnect",
			zap.Int64("replayed", c.replayed.Load()),
			zap.Uint64("msgs_sent", c.msgsSent.Load()),
			zap.Duration("duration", time.Since(c.created)))
	}()

	c.run()
}

func (s *Server) register(c *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.sessions[c] = struct{}{}
	return true
}

func (s *Server) unregister(c *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, c)
}

type healthStatus struct {
	Status       string `json:"status"`
	ActiveEvents int    `json:"active_events"`
	Timestamp    string `json:"timestamp"`
}

// handleHealth reports liveness along with the size of the update history.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthStatus{
		Status:       "healthy",
		ActiveEvents: s.topics.HistorySize(topicEvents),
		Timestamp:    timestamp(time.Now()),
	})
}

// testPageHandler serves the bundled HTML test client.
func testPageHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		box, err := rice.FindBox("web")
		if err != nil {
			http.Error(w, "test page unavailable", http.StatusInternalServerError)
			return
		}
		page, err := box.Bytes("index.html")
		if err != nil {
			http.Error(w, "test page unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	})
}

// CONSIDER: func (s *Server) Drain() for allowing active connections to drain. This
// will require some thinking since SSE connections can be *very* long lived.

// Shutdown a server gracefully, closing active sessions and stopping every
// topic ledger. Safe to call multiple times.
//
// Session loops are told to exit; this does not wait for their handlers to
// return.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.quit)
	s.mu.Unlock()

	s.topics.Shutdown()
}

// Sessions returns a snapshot of every live session, oldest first.
func (s *Server) Sessions() []ConnectionStatus {
	s.mu.Lock()
	cl := make([]ConnectionStatus, 0, len(s.sessions))
	for c := range s.sessions {
		cl = append(cl, c.Status())
	}
	s.mu.Unlock()

	// sort by age of connection
	sort.Slice(cl, func(i, j int) bool {
		return cl[i].Created < cl[j].Created
	})
	return cl
}
