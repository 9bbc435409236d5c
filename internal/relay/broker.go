package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Observer is notified about session lifecycle transitions. Used by the
// transport layer to record connection history without the broker depending
// on storage.
type Observer interface {
	SessionAttached(s *Session, remoteAddr string, replaced bool)
	SessionDetached(s *Session, reason string)
}

// Broker composes the correlation table and the duplex session. It routes
// frames read off the session to the waiting callers and owns the session
// lifecycle: at most one session is connected, a new peer connection replaces
// the previous one, and a lost session drains every call it still owned.
type Broker struct {
	calls        *PendingTable
	writeTimeout time.Duration

	mu       sync.Mutex
	current  *Session
	gen      uint64
	observer Observer
}

// NewBroker creates a broker in the disconnected state.
func NewBroker(calls *PendingTable, writeTimeout time.Duration) *Broker {
	return &Broker{
		calls:        calls,
		writeTimeout: writeTimeout,
	}
}

// SetObserver installs the lifecycle observer. Call before the first Attach.
func (b *Broker) SetObserver(obs Observer) {
	b.mu.Lock()
	b.observer = obs
	b.mu.Unlock()
}

// Attach takes ownership of a freshly upgraded peer connection, bumps the
// generation counter and starts the read loop. An already connected session
// is closed and replaced; its pending calls drain via the usual detach path.
func (b *Broker) Attach(conn *websocket.Conn, remoteAddr string) *Session {
	b.mu.Lock()
	b.gen++
	s := newSession(conn, b.gen, b.writeTimeout)
	old := b.current
	b.current = s
	obs := b.observer
	b.mu.Unlock()

	if old != nil {
		logrus.Warnf("Relay peer replaced: closing session %s (generation %d)", old.ID(), old.Generation())
		old.Close()
	}
	logrus.Infof("Relay peer connected: session %s (generation %d) from %s", s.ID(), s.Generation(), remoteAddr)
	if obs != nil {
		obs.SessionAttached(s, remoteAddr, old != nil)
	}

	go b.readLoop(s)
	return s
}

// readLoop consumes the session's inbound frames until it dies. Replies with
// no matching pending call are dropped: they are stale or duplicate, not an
// error.
func (b *Broker) readLoop(s *Session) {
	var reason string
	for {
		rep, err := s.ReadReply()
		if err != nil {
			reason = err.Error()
			break
		}
		if err := b.calls.Deliver(s.Generation(), rep); err != nil {
			logrus.Debugf("Relay session %s: dropping reply for unknown id %s", s.ID(), rep.IDKey())
		}
	}
	b.detach(s, reason)
}

// detach transitions the broker back to disconnected (unless a replacement
// already took over) and unblocks every caller still waiting on this
// session's generation.
func (b *Broker) detach(s *Session, reason string) {
	b.mu.Lock()
	if b.current == s {
		b.current = nil
	}
	obs := b.observer
	b.mu.Unlock()

	s.Close()
	b.calls.DrainGeneration(s.Generation(), ErrSessionLost)

	logrus.Infof("Relay peer disconnected: session %s (generation %d): %s", s.ID(), s.Generation(), reason)
	if obs != nil {
		obs.SessionDetached(s, reason)
	}
}

// Session returns the currently connected session, or nil.
func (b *Broker) Session() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Connected reports whether a peer is currently attached.
func (b *Broker) Connected() bool {
	return b.Session() != nil
}

// Generation returns the generation counter of the most recent session
// (zero before the first peer ever connected).
func (b *Broker) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// Pending returns the number of in-flight calls.
func (b *Broker) Pending() int {
	return b.calls.Len()
}

// Close tears down the active session, if any. The read loop performs the
// drain. The broker itself has no terminal state and accepts new peers after
// Close.
func (b *Broker) Close() {
	if s := b.Session(); s != nil {
		s.Close()
	}
}
