package transport

import (
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/remdbg/remdbg/pkg/wire"
)

// entry is a queued message tagged with its enqueue sequence number.
type entry struct {
	seq uint64
	msg wire.Message
}

// outbound is the bounded multi-producer single-consumer queue between
// Enqueue and the worker. When full, the oldest entry is evicted.
//
// Besides the queued entries it tracks the sequence number the worker is
// currently holding (inflight), so Flush can tell when everything enqueued
// before a given point has left the producer.
type outbound struct {
	mu       sync.Mutex
	items    *queue.Queue
	capacity int
	lastSeq  uint64
	inflight uint64 // 0 when the worker holds nothing
	closed   bool   // set by close; push rejects afterwards

	notify  chan struct{} // wakes a blocked pop; capacity 1
	changed chan struct{} // closed and replaced whenever entries settle
}

func newOutbound(capacity int) *outbound {
	return &outbound{
		items:    queue.New(),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		changed:  make(chan struct{}),
	}
}

// push appends m. If the queue was full the oldest entry is evicted and
// evicted is true. After close, m is rejected and ok is false.
func (o *outbound) push(m wire.Message) (evicted, ok bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false, false
	}
	if o.items.Length() >= o.capacity {
		o.items.Remove()
		evicted = true
		o.broadcastLocked()
	}
	o.lastSeq++
	o.items.Add(entry{seq: o.lastSeq, msg: m})
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return evicted, true
}

// close makes every later push fail. Entries already queued stay for the
// worker to drain.
func (o *outbound) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

// pop removes the head entry, waiting up to timeout for one to arrive.
// The popped entry becomes the in-flight entry until settle is called.
func (o *outbound) pop(timeout time.Duration) (entry, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		o.mu.Lock()
		if o.items.Length() > 0 {
			e := o.items.Remove().(entry)
			o.inflight = e.seq
			o.mu.Unlock()
			return e, true
		}
		o.mu.Unlock()

		select {
		case <-o.notify:
		case <-timer.C:
			return entry{}, false
		}
	}
}

// settle marks the in-flight entry as written or dropped.
func (o *outbound) settle() {
	o.mu.Lock()
	o.inflight = 0
	o.broadcastLocked()
	o.mu.Unlock()
}

// clear removes every queued entry and the in-flight marker, returning how
// many queued entries were discarded.
func (o *outbound) clear() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.items.Length()
	for o.items.Length() > 0 {
		o.items.Remove()
	}
	o.inflight = 0
	o.broadcastLocked()
	return n
}

func (o *outbound) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.items.Length()
}

// idle reports whether nothing is queued or in flight.
func (o *outbound) idle() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.items.Length() == 0 && o.inflight == 0
}

// mark returns the sequence number of the most recently enqueued entry.
func (o *outbound) mark() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSeq
}

// settledThroughLocked reports whether every entry with seq <= target has left
// the queue and is no longer in flight. Entries leave in seq order.
func (o *outbound) settledThroughLocked(target uint64) bool {
	if o.inflight != 0 && o.inflight <= target {
		return false
	}
	if o.items.Length() > 0 && o.items.Peek().(entry).seq <= target {
		return false
	}
	return true
}

// wait blocks until every entry up to target has settled or timeout elapses.
func (o *outbound) wait(target uint64, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		o.mu.Lock()
		if o.settledThroughLocked(target) {
			o.mu.Unlock()
			return true
		}
		ch := o.changed
		o.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			o.mu.Lock()
			defer o.mu.Unlock()
			return o.settledThroughLocked(target)
		}
	}
}

func (o *outbound) broadcastLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}
