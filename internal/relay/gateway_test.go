package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallNoSession(t *testing.T) {
	rig := newTestRig(t, time.Second)

	// 没有对端时立即失败，不排队
	_, err := rig.gateway.Call(context.Background(), []byte(`{"id":1,"method":"ping"}`))
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = rig.gateway.Watch(context.Background(), []byte(`{"id":2,"method":"events+watch"}`))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestCallMalformedRequest(t *testing.T) {
	rig := newTestRig(t, time.Second)

	_, err := rig.gateway.Call(context.Background(), []byte(`{nope`))
	var malformed *MalformedFrameError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, CodeParseError, malformed.Code)

	_, err = rig.gateway.Call(context.Background(), []byte(`{"method":"ping"}`))
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, CodeInvalidRequest, malformed.Code)
}

func TestCallTimeoutAndStrayLateReply(t *testing.T) {
	rig := newTestRig(t, 150*time.Millisecond)
	peer := rig.dialPeer(t)

	reqCh := make(chan *Request, 1)
	go func() {
		reqCh <- readRequest(t, peer)
	}()

	start := time.Now()
	_, err := rig.gateway.Call(context.Background(), []byte(`{"id":2,"method":"slow"}`))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, 0, rig.calls.Len())

	// 迟到的回复按未知 id 丢弃，不影响后续调用
	req := <-reqCh
	writeFrame(t, peer, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":"too late"}`, req.IDKey()))

	go func() {
		req := readRequest(t, peer)
		writeFrame(t, peer, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":"on time"}`, req.IDKey()))
	}()
	rep, err := rig.gateway.Call(context.Background(), []byte(`{"id":3,"method":"ping"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"on time"`, string(rep.Result))
}

func TestCallDuplicateID(t *testing.T) {
	rig := newTestRig(t, 2*time.Second)
	peer := rig.dialPeer(t)

	release := make(chan struct{})
	go func() {
		req := readRequest(t, peer)
		<-release
		writeFrame(t, peer, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":"first"}`, req.IDKey()))
	}()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		rep, err := rig.gateway.Call(context.Background(), []byte(`{"id":1,"method":"ping"}`))
		assert.NoError(t, err)
		assert.JSONEq(t, `"first"`, string(rep.Result))
	}()

	waitFor(t, func() bool { return rig.calls.Len() == 1 })

	// 第一个调用还在途时，相同 id 的注册被拒绝
	_, err := rig.gateway.Call(context.Background(), []byte(`{"id":1,"method":"ping"}`))
	assert.ErrorIs(t, err, ErrDuplicateID)

	close(release)
	<-firstDone
}

func TestCallContextCancelled(t *testing.T) {
	rig := newTestRig(t, 10*time.Second)
	peer := rig.dialPeer(t)

	go func() {
		readRequest(t, peer) // 吞掉请求，不回复
	}()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := rig.gateway.Call(ctx, []byte(`{"id":1,"method":"ping"}`))
		errCh <- err
	}()

	waitFor(t, func() bool { return rig.calls.Len() == 1 })
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("call did not observe cancellation")
	}
	// 调用方取消后条目同步移除
	assert.Equal(t, 0, rig.calls.Len())
}

func TestWatchCallerCancel(t *testing.T) {
	rig := newTestRig(t, 10*time.Second)
	peer := rig.dialPeer(t)

	go func() {
		req := readRequest(t, peer)
		writeFrame(t, peer, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":"a"}`, req.IDKey()))
	}()

	ctx, cancel := context.WithCancel(context.Background())
	replies, err := rig.gateway.Watch(ctx, []byte(`{"id":5,"method":"events+watch"}`))
	require.NoError(t, err)

	rep := <-replies
	assert.JSONEq(t, `"a"`, string(rep.Result))

	cancel()

	waitFor(t, func() bool { return rig.calls.Len() == 0 })
	for range replies {
		// 剩余元素（如有）被排空后通道关闭
	}
}
