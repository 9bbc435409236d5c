// Package peer implements the remote-peer side of the relay: an outbound
// WebSocket client that receives JSON-RPC request frames, dispatches them to
// a handler and writes the reply frames back. It mirrors what the WASM
// plugin does inside the browser, for native peers and for tests.
package peer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/johanhelsing/brp-relay/internal/relay"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
)

// EmitFunc sends one reply for the request being handled. Watch handlers
// call it repeatedly; passing a non-nil rpcErr ends the watch on the relay
// side.
type EmitFunc func(result json.RawMessage, rpcErr *relay.RPCError)

// Handler processes one request frame. It runs on its own goroutine per
// request, so blocking handlers do not stall the read loop.
type Handler func(ctx context.Context, req *relay.Request, emit EmitFunc)

// Options configures a peer client.
type Options struct {
	// URL of the relay WebSocket endpoint, e.g. "ws://localhost:15702/brp-relay".
	URL     string
	Handler Handler
	// MinBackoff/MaxBackoff bound the reconnect delay. Zero values pick
	// 200ms / 10s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// OnConnect is invoked after each successful dial (optional).
	OnConnect func()
}

// Client maintains the duplex connection to the relay, reconnecting with
// jittered exponential backoff until Close is called.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a client; call Start to connect.
func NewClient(opts Options) *Client {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	return &Client{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		done:   make(chan struct{}),
	}
}

// Start runs the connect/serve loop in the background.
func (c *Client) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

// Close stops the client and waits for the loop to exit.
func (c *Client) Close() {
	c.cancel()
	<-c.done
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	b := &backoff.Backoff{
		Min:    c.opts.MinBackoff,
		Max:    c.opts.MaxBackoff,
		Jitter: true,
	}

	for {
		conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d := b.Duration()
			logrus.Debugf("Relay peer: dial %s failed (%v), retrying in %s", c.opts.URL, err, d)
			select {
			case <-time.After(d):
				continue
			case <-ctx.Done():
				return
			}
		}

		b.Reset()
		logrus.Infof("Relay peer: connected to %s", c.opts.URL)
		if c.opts.OnConnect != nil {
			c.opts.OnConnect()
		}
		c.serve(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		logrus.Infof("Relay peer: disconnected from %s, reconnecting", c.opts.URL)
	}
}

// serve reads request frames until the connection dies or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Tear the read loop down when the client is closed.
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	var writeMu sync.Mutex
	writeReply := func(rep *relay.Reply) {
		data, err := json.Marshal(rep)
		if err != nil {
			logrus.Errorf("Relay peer: failed to marshal reply: %v", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logrus.Debugf("Relay peer: write failed: %v", err)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		req := &relay.Request{}
		if err := json.Unmarshal(data, req); err != nil {
			writeReply(relay.ErrorReply(nil, relay.CodeParseError, "Parse error: "+err.Error()))
			continue
		}
		if req.Method == "" {
			writeReply(relay.ErrorReply(req.ID, relay.CodeInvalidRequest, "Missing method field"))
			continue
		}

		// One goroutine per request, like the browser plugin's spawn_local.
		go c.opts.Handler(connCtx, req, func(result json.RawMessage, rpcErr *relay.RPCError) {
			rep := &relay.Reply{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
			writeReply(rep)
		})
	}
}
