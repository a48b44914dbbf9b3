package marketdata

import (
	"errors"
	"fmt"
)

// ErrMalformedMessage 无法解析的行情消息；丢弃并计数，不影响连接
var ErrMalformedMessage = errors.New("malformed market data message")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// ConnectionError 连接层错误（拨号/读/写）；由退避重连在本地恢复，不会作为交易失败上抛
type ConnectionError struct {
	Venue string
	Op    string // dial, read, write
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Venue, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
