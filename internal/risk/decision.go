package risk

import (
	"fmt"
	"time"
)

// Reason 拒绝原因
type Reason string

const (
	ReasonDailyLimit       Reason = "daily-limit"
	ReasonSymbolCooldown   Reason = "symbol-cooldown"
	ReasonStrategyCooldown Reason = "strategy-cooldown"
	ReasonSpikeGuard       Reason = "spike-guard"
	ReasonNewsGate         Reason = "news-gate"
	ReasonLowEdge          Reason = "low-edge"
	ReasonLowLiquidity     Reason = "low-liquidity"
	ReasonHighSlippage     Reason = "high-slippage"
	ReasonThrottle         Reason = "throttle"
)

// Decision 准入结果。拒绝以值返回，不会 panic。
type Decision struct {
	Allowed bool
	Reason  Reason
	Detail  string
	// Until 拒绝到期时间（冷却类原因）；其余为零值
	Until time.Time

	LiquidityUSD float64
	SlippagePct  float64
	NetEdgePct   float64
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason Reason, until time.Time, format string, args ...any) Decision {
	return Decision{Reason: reason, Until: until, Detail: fmt.Sprintf(format, args...)}
}

// Err 拒绝时返回 *DeniedError，允许时返回 nil
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason, Detail: d.Detail, Until: d.Until}
}

// DeniedError 准入被拒，总是带原因
type DeniedError struct {
	Reason Reason
	Detail string
	Until  time.Time
}

func (e *DeniedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("risk gate denied: %s", e.Reason)
	}
	return fmt.Sprintf("risk gate denied: %s (%s)", e.Reason, e.Detail)
}
