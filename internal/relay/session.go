package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/johanhelsing/brp-relay/internal/util"
	"github.com/sirupsen/logrus"
)

// Session owns one duplex WebSocket connection to the remote peer. Outbound
// frames are serialized through Send; inbound frames are consumed one at a
// time via ReadReply by the broker's read loop. There is no outbound queue:
// a slow connection pushes back on the callers directly.
type Session struct {
	id           string
	gen          uint64
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, gen uint64, writeTimeout time.Duration) *Session {
	return &Session{
		id:           util.SessionID(),
		gen:          gen,
		conn:         conn,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// ID returns the short identifier assigned to this connection.
func (s *Session) ID() string { return s.id }

// Generation returns the broker generation this session was attached under.
func (s *Session) Generation() uint64 { return s.gen }

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Send writes one frame to the remote peer as a text message. Fails with
// ErrSessionClosed once the session is dead; write errors close the session
// so the read loop notices promptly.
func (s *Session) Send(data []byte) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.Close()
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	return nil
}

// ReadReply blocks until the next parseable reply frame arrives. Malformed
// frames are logged and skipped (they carry no usable id, so there is nothing
// to route); transport errors are fatal to the session.
func (s *Session) ReadReply() (*Reply, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.Close()
			return nil, err
		}
		rep, err := ParseReply(data)
		if err != nil {
			logrus.Warnf("Relay session %s: skipping malformed frame: %v", s.id, err)
			continue
		}
		return rep, nil
	}
}

// Close tears the connection down. Safe to call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}
