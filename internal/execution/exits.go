package execution

import "github.com/betbot/execbot/internal/domain"

// ExitAction 每个监控 tick 的动作
type ExitAction int

const (
	ExitHold ExitAction = iota
	ExitPartial
	ExitClose
)

// ExitDecision Evaluate 的结果。NewStop > 0 表示追踪止损收紧到该价。
type ExitDecision struct {
	Action   ExitAction
	Reason   domain.CloseReason
	Fraction float64 // ExitPartial 时平掉 OpenSize 的比例
	NewStop  float64
	TrailRef float64
}

// ExitRules 退出规则，按固定顺序求值：
// 部分止盈 → 止盈 → 止损 → 追踪止损收紧 → 超时。
type ExitRules struct {
	PartialTriggerRatio  float64
	PartialCloseFraction float64
	TrailingStopBps      float64
}

// Evaluate 纯函数：不修改 t。price 是可成交的平仓价（多头用 bid，空头用 ask）。
func (r ExitRules) Evaluate(t *domain.Trade, price, targetUSD float64, expired bool) ExitDecision {
	if t == nil || t.IsTerminal() || t.OpenSize <= 0 {
		return ExitDecision{}
	}
	pnl := t.TotalPnL(price)

	if targetUSD > 0 {
		// 部分止盈只在全额止盈阈值之下触发，同一 tick 不可能既部分又全平
		if !t.PartialTaken && pnl >= targetUSD*r.PartialTriggerRatio && pnl < targetUSD {
			return ExitDecision{Action: ExitPartial, Fraction: r.PartialCloseFraction}
		}
		if pnl >= targetUSD {
			return ExitDecision{Action: ExitClose, Reason: domain.ReasonProfitTarget}
		}
	}

	if stopCrossed(t.Side, price, t.StopPrice) {
		return ExitDecision{Action: ExitClose, Reason: domain.ReasonStopLoss}
	}

	var d ExitDecision
	if t.PartialTaken {
		d.NewStop, d.TrailRef = r.trail(t, price)
	}
	if expired {
		d.Action = ExitClose
		d.Reason = domain.ReasonTimeout
	}
	return d
}

// trail 追踪止损只往有利方向收紧；返回 0 表示不变
func (r ExitRules) trail(t *domain.Trade, price float64) (float64, float64) {
	dist := r.TrailingStopBps / 10000
	if t.Side == domain.SideSell {
		ref := t.TrailRef
		if ref <= 0 || price < ref {
			ref = price
		}
		cand := ref * (1 + dist)
		if t.StopPrice <= 0 || cand < t.StopPrice {
			return cand, ref
		}
		return 0, ref
	}
	ref := t.TrailRef
	if price > ref {
		ref = price
	}
	cand := ref * (1 - dist)
	if cand > t.StopPrice {
		return cand, ref
	}
	return 0, ref
}

func stopCrossed(side domain.Side, price, stop float64) bool {
	if stop <= 0 || price <= 0 {
		return false
	}
	if side == domain.SideSell {
		return price >= stop
	}
	return price <= stop
}
