package relay

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCallTimeout bounds how long a one-shot call waits for its reply
// when the configuration does not say otherwise.
const DefaultCallTimeout = 30 * time.Second

// Gateway accepts synchronous calls, registers them in the correlation
// table, forwards them onto the active session and suspends the caller until
// the reply arrives. One goroutine per inbound call; the gateway never
// blocks the broker's read loop.
type Gateway struct {
	broker      *Broker
	calls       *PendingTable
	callTimeout time.Duration
}

// NewGateway creates a gateway over the broker and its table. callTimeout
// <= 0 selects DefaultCallTimeout.
func NewGateway(broker *Broker, calls *PendingTable, callTimeout time.Duration) *Gateway {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Gateway{
		broker:      broker,
		calls:       calls,
		callTimeout: callTimeout,
	}
}

// register validates the envelope and creates the pending entry bound to the
// current session. Shared by Call and Watch.
func (g *Gateway) register(raw []byte, kind SinkKind) (*Request, *PendingCall, error) {
	req, err := ParseRequest(raw)
	if err != nil {
		return nil, nil, err
	}

	s := g.broker.Session()
	if s == nil {
		return nil, nil, ErrNoSession
	}

	call, err := g.calls.Register(req.IDKey(), kind, s.Generation())
	if err != nil {
		return nil, nil, err
	}

	if err := s.Send(raw); err != nil {
		// The session dropped between registration and send; the entry must
		// not linger until drain.
		_ = g.calls.Cancel(req.IDKey())
		return nil, nil, ErrNoSession
	}
	return req, call, nil
}

// Call forwards one single-shot JSON-RPC envelope to the peer and blocks
// until the correlated reply arrives, the context is cancelled, or the call
// timeout elapses. A JSON-RPC error from the peer is returned as a reply
// value, not a Go error; Go errors are relay-local failures (the error
// sentinels in this package).
func (g *Gateway) Call(ctx context.Context, raw []byte) (*Reply, error) {
	req, call, err := g.register(raw, SingleShot)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(g.callTimeout)
	defer timer.Stop()

	select {
	case d := <-call.Replies():
		if d.Err != nil {
			return nil, d.Err
		}
		return d.Reply, nil
	case <-call.Done():
		// Removed behind our back: either the reply raced the done signal or
		// the session drained.
		select {
		case d := <-call.Replies():
			if d.Err != nil {
				return nil, d.Err
			}
			return d.Reply, nil
		default:
		}
		if err := call.FailErr(); err != nil {
			return nil, err
		}
		return nil, ErrSessionLost
	case <-ctx.Done():
		_ = g.calls.Cancel(req.IDKey())
		return nil, ctx.Err()
	case <-timer.C:
		// The entry is removed now; the peer's eventual late reply finds no
		// matching id and is dropped.
		_ = g.calls.Cancel(req.IDKey())
		logrus.Warnf("Relay call %s (%s) timed out after %s", req.IDKey(), req.Method, g.callTimeout)
		return nil, ErrTimeout
	}
}

// Watch forwards a streaming JSON-RPC envelope and returns a channel of the
// replies sharing its id, in arrival order. The channel closes when the peer
// sends a terminal (error) reply, ctx is cancelled, or the session is lost;
// session loss is surfaced as a final synthetic error reply so HTTP callers
// see why the stream ended.
func (g *Gateway) Watch(ctx context.Context, raw []byte) (<-chan *Reply, error) {
	req, call, err := g.register(raw, Streaming)
	if err != nil {
		return nil, err
	}

	out := make(chan *Reply)
	go g.forwardWatch(ctx, req, call, out)
	return out, nil
}

func (g *Gateway) forwardWatch(ctx context.Context, req *Request, call *PendingCall, out chan<- *Reply) {
	defer close(out)

	emit := func(rep *Reply) bool {
		select {
		case out <- rep:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case d := <-call.Replies():
			if !g.emitDelivery(req, d, emit) {
				if ctx.Err() != nil {
					_ = g.calls.Cancel(req.IDKey())
				}
				return
			}
		case <-call.Done():
			// Entry removed: terminal reply, cancel, or drain. Flush whatever
			// is still queued, then report the failure cause if there is one.
			for {
				select {
				case d := <-call.Replies():
					if !g.emitDelivery(req, d, emit) {
						return
					}
					continue
				default:
				}
				break
			}
			if err := call.FailErr(); err != nil && ctx.Err() == nil && err != context.Canceled {
				emit(ErrorReply(req.ID, CodeInternalError, err.Error()))
			}
			return
		case <-ctx.Done():
			_ = g.calls.Cancel(req.IDKey())
			return
		}
	}
}

// emitDelivery forwards one delivery; returns false when the stream is over
// (terminal reply, failure, or the consumer went away).
func (g *Gateway) emitDelivery(req *Request, d Delivery, emit func(*Reply) bool) bool {
	if d.Err != nil {
		emit(ErrorReply(req.ID, CodeInternalError, d.Err.Error()))
		return false
	}
	if !emit(d.Reply) {
		return false
	}
	return d.Reply.Error == nil
}
