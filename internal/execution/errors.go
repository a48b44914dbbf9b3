package execution

import (
	"errors"
	"fmt"
)

// ErrExecutionTimeout 梯子在时间盒内没有完全成交。
// 不是失败：触发扫单回退，只在内部流转。
var ErrExecutionTimeout = errors.New("ladder timebox expired")

// RejectReason 执行前/执行中的拒绝原因
type RejectReason string

const (
	RejectInvalidIntent RejectReason = "invalid intent"
	RejectInFlight      RejectReason = "duplicate in-flight"
	RejectNoRoute       RejectReason = "no fresh route"
	RejectNoVenue       RejectReason = "venue not configured"
	RejectSpread        RejectReason = "spread too wide"
	RejectDepth         RejectReason = "insufficient depth"
	RejectSize          RejectReason = "invalid size"
	RejectVenue         RejectReason = "venue rejected"
	RejectNoFill        RejectReason = "no fill"
)

// OrderRejectedError 执行被拒（交易所过滤器不满足、前置检查不通过）。
// 本层不重试；调用方可以调整数量后在上层重新尝试。
type OrderRejectedError struct {
	Reason RejectReason
	Venue  string
	Symbol string
	Detail string
	Err    error
}

func (e *OrderRejectedError) Error() string {
	msg := fmt.Sprintf("execution rejected: %s", e.Reason)
	if e.Venue != "" || e.Symbol != "" {
		msg += fmt.Sprintf(" [%s %s]", e.Venue, e.Symbol)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderRejectedError) Unwrap() error { return e.Err }

func rejected(reason RejectReason, venue, symbol, format string, args ...any) *OrderRejectedError {
	return &OrderRejectedError{Reason: reason, Venue: venue, Symbol: symbol, Detail: fmt.Sprintf(format, args...)}
}

// IsRejected 判断是否为 OrderRejectedError，并返回原因
func IsRejected(err error) (RejectReason, bool) {
	var re *OrderRejectedError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

// CloseFailureError 平仓单失败：交易标记为 STOPPED，需要人工介入，不自动重试
type CloseFailureError struct {
	TradeID string
	Symbol  string
	Venue   string
	Size    float64
	Err     error
}

func (e *CloseFailureError) Error() string {
	return fmt.Sprintf("close failed for trade %s (%s %s size=%.8g): %v", e.TradeID, e.Venue, e.Symbol, e.Size, e.Err)
}

func (e *CloseFailureError) Unwrap() error { return e.Err }
