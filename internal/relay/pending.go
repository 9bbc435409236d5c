package relay

import (
	"context"
	"sync"
	"time"
)

// SinkKind distinguishes one-shot calls from watch (streaming) calls. The
// table itself only cares about when an entry becomes terminal.
type SinkKind int

const (
	// SingleShot calls complete on the first reply.
	SingleShot SinkKind = iota
	// Streaming calls keep receiving replies until a terminal marker.
	Streaming
)

// DefaultStreamBuffer matches the bounded per-request channel the WASM peer
// plugin allocates for watch requests.
const DefaultStreamBuffer = 8

// Delivery is one item pushed into a pending call's sink: either a reply
// frame from the peer, or a terminal failure (session lost).
type Delivery struct {
	Reply *Reply
	Err   error
}

// PendingCall is one in-flight call owned by the table. Waiters consume
// Replies() and watch Done(); once Done() is closed the entry has been
// removed from the table and FailErr() reports why (nil for a normal finish).
type PendingCall struct {
	id      string
	kind    SinkKind
	gen     uint64
	created time.Time

	ch       chan Delivery
	done     chan struct{}
	doneOnce sync.Once
	failErr  error
}

// Replies returns the delivery sink.
func (c *PendingCall) Replies() <-chan Delivery { return c.ch }

// Done is closed when the entry is removed from the table.
func (c *PendingCall) Done() <-chan struct{} { return c.done }

// FailErr is only meaningful after Done() is closed.
func (c *PendingCall) FailErr() error { return c.failErr }

// Generation returns the session generation this call was registered under.
func (c *PendingCall) Generation() uint64 { return c.gen }

// finish must be called exactly once per removed entry; the failErr write is
// published by the channel close.
func (c *PendingCall) finish(err error) {
	c.doneOnce.Do(func() {
		c.failErr = err
		close(c.done)
	})
}

// PendingTable is the correlation table: it maps in-flight call ids to their
// delivery sinks. Pure bookkeeping; it never performs I/O and never blocks
// while holding its lock.
type PendingTable struct {
	mu        sync.Mutex
	calls     map[string]*PendingCall
	streamBuf int
}

// NewPendingTable creates an empty table. streamBuf bounds the sink of each
// watch call; <= 0 selects DefaultStreamBuffer.
func NewPendingTable(streamBuf int) *PendingTable {
	if streamBuf <= 0 {
		streamBuf = DefaultStreamBuffer
	}
	return &PendingTable{
		calls:     make(map[string]*PendingCall),
		streamBuf: streamBuf,
	}
}

// Register creates a pending call for id under the given session generation.
// Registering an id that is already in flight is a caller bug and fails with
// ErrDuplicateID; the existing entry is left untouched.
func (t *PendingTable) Register(id string, kind SinkKind, gen uint64) (*PendingCall, error) {
	buf := 1
	if kind == Streaming {
		buf = t.streamBuf
	}
	call := &PendingCall{
		id:      id,
		kind:    kind,
		gen:     gen,
		created: time.Now(),
		ch:      make(chan Delivery, buf),
		done:    make(chan struct{}),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.calls[id]; exists {
		return nil, ErrDuplicateID
	}
	t.calls[id] = call
	return call, nil
}

// Deliver routes a reply frame to the matching sink. A reply only matches
// when both the id and the session generation agree, so frames read off a
// superseded connection are never attributed to a newer call.
//
// Single-shot entries are removed on delivery. Streaming entries stay until
// an error reply arrives (the terminal marker) or the caller cancels.
func (t *PendingTable) Deliver(gen uint64, rep *Reply) error {
	key := rep.IDKey()

	t.mu.Lock()
	call, ok := t.calls[key]
	if !ok || call.gen != gen {
		t.mu.Unlock()
		return ErrUnknownID
	}
	terminal := call.kind == SingleShot || rep.Error != nil
	if terminal {
		delete(t.calls, key)
	}
	t.mu.Unlock()

	if call.kind == SingleShot {
		// The entry was just removed under the lock, so this is the only
		// delivery and the buffered slot is guaranteed free.
		call.ch <- Delivery{Reply: rep}
		call.finish(nil)
		return nil
	}

	// Streaming: this may block when the watcher is slow, which is the
	// backpressure we want on the read loop. A concurrent cancel unblocks us.
	select {
	case call.ch <- Delivery{Reply: rep}:
		if terminal {
			call.finish(nil)
		}
	case <-call.done:
		// Caller went away while we were blocked; drop the reply.
	}
	return nil
}

// Cancel removes the entry for id. Called by the waiter itself on timeout or
// context cancellation, so no failure value is delivered into the sink.
func (t *PendingTable) Cancel(id string) error {
	t.mu.Lock()
	call, ok := t.calls[id]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownID
	}
	delete(t.calls, id)
	t.mu.Unlock()

	call.finish(context.Canceled)
	return nil
}

// DrainGeneration fails every pending call registered under gen with cause
// and removes it. Entries of other generations are left alone: a replacement
// session may already have live calls by the time the old one drains.
func (t *PendingTable) DrainGeneration(gen uint64, cause error) {
	t.mu.Lock()
	var drained []*PendingCall
	for id, call := range t.calls {
		if call.gen == gen {
			delete(t.calls, id)
			drained = append(drained, call)
		}
	}
	t.mu.Unlock()

	for _, call := range drained {
		// Best effort: the closed done channel is the authoritative signal,
		// the queued Delivery just carries the cause when there is room.
		select {
		case call.ch <- Delivery{Err: cause}:
		default:
		}
		call.finish(cause)
	}
}

// Len returns the number of in-flight calls.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
