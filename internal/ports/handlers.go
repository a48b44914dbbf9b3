package ports

import (
	"context"

	"github.com/betbot/execbot/internal/domain"
)

// TradeJournal 接收终态交易（串行调用即可）。
//
// NOTE: 放在中立包里，避免 execution 与 controlplane/tradestore 互相引用。
type TradeJournal interface {
	AppendTrade(ctx context.Context, trade *domain.Trade) error
}

// OutcomeRecorder 交易结束后反馈结果（风控状态 + 仓位统计）。
type OutcomeRecorder interface {
	RecordOutcome(symbol, strategy string, pnlUSD, returnPct float64)
}

// AlertSink 需要人工介入的事件（平仓失败、熔断等）。
type AlertSink interface {
	Alert(ctx context.Context, kind string, fields map[string]any)
}

// RiskStateStore 风控状态持久化；按 UTC 日期键存取。
type RiskStateStore interface {
	// LoadRiskState 不存在时返回 (nil, nil)
	LoadRiskState(ctx context.Context, dayKey string) (*domain.RiskState, error)
	SaveRiskState(ctx context.Context, st domain.RiskState) error
}

// BookSource 执行引擎对聚合器的只读视图
type BookSource interface {
	Snapshot(symbol, venue string) (domain.VenueSnapshot, bool)
	FreshSnapshots(symbol string) []domain.VenueSnapshot
	TopLiquidityUSD(symbol string, venue ...string) float64
	// BestSnapshot 路由得分最高的新鲜快照；全部过期时 ok=false
	BestSnapshot(symbol string) (domain.VenueSnapshot, bool)
	// RouteScore 用于在指定交易所集合内重新选路
	RouteScore(s domain.VenueSnapshot) float64
}

// DepthSource 盘口档位（纸面交易所按真实深度模拟吃单）
type DepthSource interface {
	Depth(symbol, venue string) (domain.OrderBook, bool)
}

// FillEstimator 挂单成交概率估计
type FillEstimator interface {
	EstimateFillProbability(symbol string, side domain.Side) float64
}
