package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRig 在本地回环上搭一个完整的中继：HTTP 测试服务器负责升级 WebSocket
// 并把连接交给 Broker，测试用例扮演远端对端
type testRig struct {
	calls   *PendingTable
	broker  *Broker
	gateway *Gateway
	server  *httptest.Server
	wsURL   string
}

func newTestRig(t *testing.T, callTimeout time.Duration) *testRig {
	t.Helper()

	calls := NewPendingTable(4)
	broker := NewBroker(calls, time.Second)
	gateway := NewGateway(broker, calls, callTimeout)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		broker.Attach(conn, r.RemoteAddr)
	}))
	t.Cleanup(server.Close)

	return &testRig{
		calls:   calls,
		broker:  broker,
		gateway: gateway,
		server:  server,
		wsURL:   "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

// dialPeer 以对端身份接入，并等待 Broker 完成 Attach
func (rig *testRig) dialPeer(t *testing.T) *websocket.Conn {
	t.Helper()

	gen := rig.broker.Generation()
	conn, _, err := websocket.DefaultDialer.Dial(rig.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	waitFor(t, func() bool {
		return rig.broker.Connected() && rig.broker.Generation() > gen
	})
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func readRequest(t *testing.T, conn *websocket.Conn) *Request {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	req := &Request{}
	require.NoError(t, json.Unmarshal(data, req))
	return req
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestCallPingPong(t *testing.T) {
	rig := newTestRig(t, 2*time.Second)
	peer := rig.dialPeer(t)

	go func() {
		req := readRequest(t, peer)
		assert.Equal(t, "ping", req.Method)
		writeFrame(t, peer, `{"jsonrpc":"2.0","id":1,"result":"pong"}`)
	}()

	rep, err := rig.gateway.Call(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"pong"`, string(rep.Result))

	// 终结回复送达后关联表必须为空
	assert.Equal(t, 0, rig.calls.Len())
}

func TestConcurrentCallsCorrelate(t *testing.T) {
	rig := newTestRig(t, 5*time.Second)
	peer := rig.dialPeer(t)
	const n = 16

	// 对端攒齐全部请求后按相反顺序回复，校验乱序到达时的关联
	go func() {
		reqs := make([]*Request, 0, n)
		for i := 0; i < n; i++ {
			reqs = append(reqs, readRequest(t, peer))
		}
		for i := len(reqs) - 1; i >= 0; i-- {
			id := reqs[i].IDKey()
			writeFrame(t, peer, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":"echo-%s"}`, id, id))
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ping"}`, i)
			rep, err := rig.gateway.Call(context.Background(), []byte(body))
			if assert.NoError(t, err) {
				assert.JSONEq(t, fmt.Sprintf(`"echo-%d"`, i), string(rep.Result))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, rig.calls.Len())
}

func TestUnknownReplyDropped(t *testing.T) {
	rig := newTestRig(t, 2*time.Second)
	peer := rig.dialPeer(t)

	// 先塞一个没有任何在途调用的回复，再正常调用一次；
	// 读循环按序处理，因此第二次调用成功即证明陌生回复被安全丢弃
	writeFrame(t, peer, `{"jsonrpc":"2.0","id":99,"result":"stray"}`)

	go func() {
		req := readRequest(t, peer)
		writeFrame(t, peer, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":"ok"}`, req.IDKey()))
	}()

	rep, err := rig.gateway.Call(context.Background(), []byte(`{"id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(rep.Result))
}

func TestMalformedFrameSkippedSessionAlive(t *testing.T) {
	rig := newTestRig(t, 2*time.Second)
	peer := rig.dialPeer(t)

	// 无法解析的帧只被跳过，不杀死会话
	writeFrame(t, peer, `this is not json`)
	writeFrame(t, peer, `{"result":"no id"}`)

	go func() {
		req := readRequest(t, peer)
		writeFrame(t, peer, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":"still alive"}`, req.IDKey()))
	}()

	rep, err := rig.gateway.Call(context.Background(), []byte(`{"id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"still alive"`, string(rep.Result))
	assert.True(t, rig.broker.Connected())
}

func TestDisconnectDrainsPending(t *testing.T) {
	rig := newTestRig(t, 10*time.Second)
	peer := rig.dialPeer(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := rig.gateway.Call(context.Background(), []byte(`{"id":1,"method":"ping"}`))
		errCh <- err
	}()

	waitFor(t, func() bool { return rig.calls.Len() == 1 })
	peer.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionLost)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not drained after disconnect")
	}

	assert.Equal(t, 0, rig.calls.Len())
	waitFor(t, func() bool { return !rig.broker.Connected() })
}

func TestPeerReplacement(t *testing.T) {
	rig := newTestRig(t, 10*time.Second)
	oldPeer := rig.dialPeer(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := rig.gateway.Call(context.Background(), []byte(`{"id":1,"method":"ping"}`))
		errCh <- err
	}()
	waitFor(t, func() bool { return rig.calls.Len() == 1 })

	// 新对端接入：旧会话被关闭并清退其在途调用
	newPeer := rig.dialPeer(t)
	_ = oldPeer

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionLost)
	case <-time.After(2 * time.Second):
		t.Fatal("old-generation call not drained after replacement")
	}

	// 新会话正常工作
	go func() {
		req := readRequest(t, newPeer)
		writeFrame(t, newPeer, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":"fresh"}`, req.IDKey()))
	}()
	rep, err := rig.gateway.Call(context.Background(), []byte(`{"id":2,"method":"ping"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"fresh"`, string(rep.Result))
}

func TestWatchStreamsInOrder(t *testing.T) {
	rig := newTestRig(t, 5*time.Second)
	peer := rig.dialPeer(t)

	go func() {
		req := readRequest(t, peer)
		assert.Equal(t, "events+watch", req.Method)
		writeFrame(t, peer, `{"jsonrpc":"2.0","id":3,"result":"a"}`)
		writeFrame(t, peer, `{"jsonrpc":"2.0","id":3,"result":"b"}`)
		writeFrame(t, peer, `{"jsonrpc":"2.0","id":3,"error":{"code":-32603,"message":"done"}}`)
	}()

	replies, err := rig.gateway.Watch(context.Background(), []byte(`{"id":3,"method":"events+watch"}`))
	require.NoError(t, err)

	rep := <-replies
	assert.JSONEq(t, `"a"`, string(rep.Result))
	rep = <-replies
	assert.JSONEq(t, `"b"`, string(rep.Result))

	// 错误回复终止流
	rep = <-replies
	require.NotNil(t, rep.Error)

	_, open := <-replies
	assert.False(t, open)
	assert.Equal(t, 0, rig.calls.Len())
}

func TestWatchSessionLost(t *testing.T) {
	rig := newTestRig(t, 5*time.Second)
	peer := rig.dialPeer(t)

	go func() {
		req := readRequest(t, peer)
		_ = req
		writeFrame(t, peer, `{"jsonrpc":"2.0","id":4,"result":"a"}`)
	}()

	replies, err := rig.gateway.Watch(context.Background(), []byte(`{"id":4,"method":"events+watch"}`))
	require.NoError(t, err)

	rep := <-replies
	assert.JSONEq(t, `"a"`, string(rep.Result))

	peer.Close()

	// 会话丢失以合成错误回复收尾
	rep, open := <-replies
	require.True(t, open)
	require.NotNil(t, rep.Error)
	assert.Contains(t, rep.Error.Message, "session lost")

	_, open = <-replies
	assert.False(t, open)
	assert.Equal(t, 0, rig.calls.Len())
}
