package ssereplay

import (
	"errors"
	"sync"
	"time"

	"github.com/azer/debug"

	"github.com/mroth/ssereplay/router"
)

var (
	// ErrTopicsClosed is returned by Acquire once the server has shut down.
	ErrTopicsClosed = errors.New("ssereplay: topics closed")
	// ErrTooManyTopics is returned by Acquire when a new topic would exceed
	// the configured limit.
	ErrTooManyTopics = errors.New("ssereplay: too many topics")
)

// Defaults for reclaiming per-user topics.
const (
	DefaultTopicIdleTTL = 5 * time.Minute
	DefaultMaxTopics    = 10000
)

// A topic is one ledger plus the sessions currently attached to it.
type topic struct {
	ledger    *ledger
	sessions  int
	idleSince time.Time
	pinned    bool // never reclaimed, does not count toward the limit
}

// topics is the registry of ledgers, one per topic, created on first use.
//
// Unpinned topics are reclaimed, history included, once they have had no
// sessions for idleTTL. An idleTTL of zero reclaims them as soon as the last
// session leaves.
type topics struct {
	mu          sync.Mutex
	tree        *router.Node[*topic]
	historySize int
	idleTTL     time.Duration
	maxTopics   int
	pinned      map[string]bool
	unpinned    int
	closed      bool
	now         func() time.Time

	stop chan struct{}
	done chan struct{}
}

func newTopics(historySize int, idleTTL time.Duration, maxTopics int, pinned ...router.Namespace) *topics {
	t := &topics{
		tree:        router.New[*topic](),
		historySize: historySize,
		idleTTL:     idleTTL,
		maxTopics:   maxTopics,
		pinned:      make(map[string]bool, len(pinned)),
		now:         time.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, ns := range pinned {
		t.pinned[ns.String()] = true
	}
	if idleTTL > 0 {
		go t.janitor(idleTTL / 2)
	} else {
		close(t.done)
	}
	return t
}

// janitor periodically reclaims expired topics until Shutdown.
func (t *topics) janitor(every time.Duration) {
	defer close(t.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.reap()
		case <-t.stop:
			return
		}
	}
}

// Acquire returns the running ledger for ns, starting one if needed, and
// attaches a session to it. Every successful Acquire must be paired with a
// Release.
func (t *topics) Acquire(ns router.Namespace) (*ledger, error) {
	t.mu.Lock()
	l, expired, err := t.acquireLocked(ns)
	t.mu.Unlock()
	shutdownAll(expired)
	return l, err
}

func (t *topics) acquireLocked(ns router.Namespace) (*ledger, []*ledger, error) {
	if t.closed {
		return nil, nil, ErrTopicsClosed
	}
	var expired []*ledger
	n := t.tree.FindOrCreate(ns)
	tp, ok := n.Value()
	if !ok {
		pinned := t.pinned[ns.String()]
		if !pinned && t.unpinned >= t.maxTopics {
			// make room from anything already expired before refusing
			expired = t.expiredLocked()
			if t.unpinned >= t.maxTopics {
				t.prune(n)
				return nil, expired, ErrTooManyTopics
			}
		}
		l := newLedger(ns.String(), t.historySize)
		l.Start()
		tp = &topic{ledger: l, pinned: pinned}
		n.Set(tp)
		if !pinned {
			t.unpinned++
		}
	}
	tp.sessions++
	return tp.ledger, expired, nil
}

// Release detaches a session from ns.
func (t *topics) Release(ns router.Namespace) {
	t.mu.Lock()
	n, err := t.tree.Find(ns)
	if err != nil {
		t.mu.Unlock()
		return
	}
	tp, ok := n.Value()
	if !ok || tp.sessions == 0 {
		t.mu.Unlock()
		return
	}
	tp.sessions--
	if tp.sessions > 0 {
		t.mu.Unlock()
		return
	}
	tp.idleSince = t.now()
	var expired []*ledger
	if t.idleTTL <= 0 && !tp.pinned && !t.closed {
		expired = append(expired, t.removeLocked(n, tp))
	}
	t.mu.Unlock()
	shutdownAll(expired)
}

// reap reclaims every topic that has been idle for at least idleTTL.
func (t *topics) reap() {
	t.mu.Lock()
	expired := t.expiredLocked()
	t.mu.Unlock()
	shutdownAll(expired)
}

// expiredLocked detaches expired topics from the tree and returns their
// ledgers, to be shut down once the lock is released.
func (t *topics) expiredLocked() []*ledger {
	if t.closed {
		return nil
	}
	now := t.now()
	var expired []*ledger
	for _, n := range t.tree.Descendents() {
		tp, ok := n.Value()
		if !ok || tp.pinned || tp.sessions > 0 || now.Sub(tp.idleSince) < t.idleTTL {
			continue
		}
		expired = append(expired, t.removeLocked(n, tp))
	}
	return expired
}

func (t *topics) removeLocked(n *router.Node[*topic], tp *topic) *ledger {
	debug.Debug("reclaiming idle topic %s", n.Namespace().String())
	n.Clear()
	t.prune(n)
	t.unpinned--
	return tp.ledger
}

// prune drops n and any ancestors left without a value or children.
func (t *topics) prune(n *router.Node[*topic]) {
	for n != t.tree {
		if _, ok := n.Value(); ok || len(n.Children()) > 0 {
			return
		}
		parent := n.Parent()
		parent.RemoveChild(n)
		n = parent
	}
}

func shutdownAll(ledgers []*ledger) {
	for _, l := range ledgers {
		l.Shutdown()
	}
}

// HistorySize reports the retained event count for ns, zero when the topic
// is not live.
func (t *topics) HistorySize(ns router.Namespace) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.tree.Find(ns)
	if err != nil {
		return 0
	}
	tp, ok := n.Value()
	if !ok {
		return 0
	}
	return tp.ledger.Stats().HistorySize
}

// Stats snapshots every live topic, in topic order.
func (t *topics) Stats() []LedgerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	live := t.tree.Values()
	stats := make([]LedgerStats, 0, len(live))
	for _, tp := range live {
		ls := tp.ledger.Stats()
		ls.Sessions = tp.sessions
		stats = append(stats, ls)
	}
	return stats
}

// Shutdown stops every ledger. Later calls to Acquire fail with
// ErrTopicsClosed.
func (t *topics) Shutdown() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.done
		return
	}
	t.closed = true
	live := t.tree.Values()
	t.mu.Unlock()

	if t.idleTTL > 0 {
		close(t.stop)
	}
	<-t.done
	for _, tp := range live {
		tp.ledger.Shutdown()
	}
}
