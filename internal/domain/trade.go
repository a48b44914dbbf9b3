package domain

import "time"

// TradeStatus 交易生命周期状态
type TradeStatus string

const (
	TradeOpen    TradeStatus = "OPEN"
	TradeClosed  TradeStatus = "CLOSED"
	TradeStopped TradeStatus = "STOPPED" // 平仓单失败，终态，需要人工介入
)

// CloseReason 平仓原因
type CloseReason string

const (
	ReasonProfitTarget CloseReason = "PROFIT_TARGET"
	ReasonStopLoss     CloseReason = "STOP_LOSS"
	ReasonTimeout      CloseReason = "TIMEOUT"
	ReasonCloseFailed  CloseReason = "CLOSE_FAILED"
	ReasonShutdown     CloseReason = "SHUTDOWN"
)

// Trade 由执行引擎独占的一笔交易。
//
// 同一时间至多一个监控循环持有它；PartialTaken 只会 false→true 一次。
type Trade struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Venue    string `json:"venue"`
	Strategy string `json:"strategy"`
	Side     Side   `json:"side"`

	RequestedSize float64 `json:"requested_size"`
	FilledSize    float64 `json:"filled_size"` // 入场累计成交
	OpenSize      float64 `json:"open_size"`   // 当前剩余持仓

	EntryPrice  float64 `json:"entry_price"`
	TargetPrice float64 `json:"target_price"`
	StopPrice   float64 `json:"stop_price"`
	TargetUSD   float64 `json:"target_usd"` // 单笔目标盈利

	PartialTaken bool    `json:"partial_taken"`
	TrailRef     float64 `json:"trail_ref"` // 追踪止损参考价（部分止盈后的最优价）

	Status      TradeStatus `json:"status"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
	RealizedPnL float64     `json:"realized_pnl"`
	ExitPrice   float64     `json:"exit_price"`
	FeesUSD     float64     `json:"fees_usd"`

	LadderFilled float64 `json:"ladder_filled"`
	SweepFilled  float64 `json:"sweep_filled"`

	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at,omitempty"`
}

// UnrealizedPnL 剩余持仓按 price 计算的浮动盈亏（报价币）
func (t *Trade) UnrealizedPnL(price float64) float64 {
	if t == nil || price <= 0 || t.OpenSize <= 0 {
		return 0
	}
	return (price - t.EntryPrice) * t.OpenSize * t.Side.Sign()
}

// TotalPnL 已实现 + 浮动
func (t *Trade) TotalPnL(price float64) float64 {
	if t == nil {
		return 0
	}
	return t.RealizedPnL + t.UnrealizedPnL(price)
}

// IsTerminal 是否已到终态
func (t *Trade) IsTerminal() bool {
	return t != nil && (t.Status == TradeClosed || t.Status == TradeStopped)
}

// Notional 入场名义金额
func (t *Trade) Notional() float64 {
	if t == nil {
		return 0
	}
	return t.FilledSize * t.EntryPrice
}

// ReturnPct 已实现收益率（%）
func (t *Trade) ReturnPct() float64 {
	n := t.Notional()
	if n <= 0 {
		return 0
	}
	return t.RealizedPnL / n * 100
}
