package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/johanhelsing/brp-relay/internal/infra/repository/history"
	"github.com/johanhelsing/brp-relay/internal/relay"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The duplex peer is typically a browser served from another origin
		// (e.g. wasm-server-runner), so origin checking stays permissive.
		return true
	},
}

// Endpoint accepts the remote peer's WebSocket connection and hands it to
// the broker. It also implements relay.Observer to feed the session history
// repository.
type Endpoint struct {
	broker  *relay.Broker
	history history.Repository
}

// NewEndpoint creates the duplex endpoint and installs itself as the
// broker's lifecycle observer. history may be nil.
func NewEndpoint(broker *relay.Broker, hist history.Repository) *Endpoint {
	ep := &Endpoint{
		broker:  broker,
		history: hist,
	}
	broker.SetObserver(ep)
	return ep
}

// HandleWebSocket upgrades the request and attaches the connection as the
// new active session. A peer connecting while another is active replaces it.
func (ep *Endpoint) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	ep.broker.Attach(conn, r.RemoteAddr)
}

// SessionAttached implements relay.Observer.
func (ep *Endpoint) SessionAttached(s *relay.Session, remoteAddr string, replaced bool) {
	if ep.history == nil {
		return
	}
	if err := ep.history.RecordConnected(s.ID(), s.Generation(), remoteAddr); err != nil {
		logrus.Warnf("Failed to record session connect: %v", err)
	}
}

// SessionDetached implements relay.Observer.
func (ep *Endpoint) SessionDetached(s *relay.Session, reason string) {
	if ep.history == nil {
		return
	}
	if err := ep.history.RecordDisconnected(s.ID(), reason); err != nil {
		logrus.Warnf("Failed to record session disconnect: %v", err)
	}
}
