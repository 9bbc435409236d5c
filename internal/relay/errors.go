package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateID 注册冲突：同一个 id 已有在途调用（调用方错误，直接拒绝）
	ErrDuplicateID = errors.New("relay: duplicate call id")
	// ErrUnknownID 回复没有匹配的在途调用（记录日志后丢弃，不致命）
	ErrUnknownID = errors.New("relay: unknown call id")
	// ErrNoSession 当前没有活跃的对端连接（调用方稍后重试）
	ErrNoSession = errors.New("relay: no active session")
	// ErrTimeout 调用在截止时间内没有收到回复
	ErrTimeout = errors.New("relay: call timed out")
	// ErrSessionClosed 在已关闭的会话上发送
	ErrSessionClosed = errors.New("relay: session closed")
	// ErrSessionLost 会话在调用等待期间断开
	ErrSessionLost = errors.New("relay: session lost")
)

// MalformedFrameError 无法解析的帧。Code 是建议返回给调用方的 JSON-RPC 错误码。
type MalformedFrameError struct {
	Code   int
	Reason string
	Err    error
}

func (e *MalformedFrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay: malformed frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("relay: malformed frame: %s", e.Reason)
}

func (e *MalformedFrameError) Unwrap() error {
	return e.Err
}
