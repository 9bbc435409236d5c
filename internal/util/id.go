package util

import (
	"github.com/lithammer/shortuuid/v4"
)

// GenID 生成一个短随机标识
func GenID() string {
	return shortuuid.New()
}

// SessionID 生成中继会话标识
func SessionID() string {
	return "sess-" + shortuuid.New()
}
