package ssereplay

// DefaultHistorySize is the number of events a topic retains for replay.
const DefaultHistorySize = 100

// ring is a fixed capacity FIFO of recently emitted events.
//
// Events must be recorded in ascending id order; the ring does not sort. It
// is not safe for concurrent use, a ledger owns it.
type ring struct {
	buf   []Event
	start int // index of the oldest entry
	size  int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]Event, capacity)}
}

// record appends e, evicting the oldest entry once at capacity.
func (r *ring) record(e Event) {
	end := (r.start + r.size) % len(r.buf)
	r.buf[end] = e
	if r.size < len(r.buf) {
		r.size++
		return
	}
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) at(i int) Event {
	return r.buf[(r.start+i)%len(r.buf)]
}

// since returns every retained event with an id greater than lastID, oldest
// first. Events already evicted are silently unavailable.
func (r *ring) since(lastID uint64) []Event {
	if r.size == 0 || r.at(r.size-1).ID <= lastID {
		return nil
	}
	// ids are ascending, so binary search for the first one > lastID
	lo, hi := 0, r.size
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if r.at(mid).ID <= lastID {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	out := make([]Event, 0, r.size-lo)
	for i := lo; i < r.size; i++ {
		out = append(out, r.at(i))
	}
	return out
}

func (r *ring) len() int { return r.size }

func (r *ring) capacity() int { return len(r.buf) }
