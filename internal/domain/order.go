package domain

import (
	"math"
	"time"
)

// Side 订单/持仓方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid 是否为已知方向
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite 返回反向（平仓方向）
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign 多头 +1，空头 -1（用于 PnL 计算）
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"  // 已提交，交易所未确认
	OrderStatusOpen     OrderStatus = "open"     // 挂单中
	OrderStatusPartial  OrderStatus = "partial"  // 部分成交
	OrderStatusFilled   OrderStatus = "filled"   // 完全成交
	OrderStatusCanceled OrderStatus = "canceled" // 已撤销
	OrderStatusRejected OrderStatus = "rejected" // 交易所拒单（过滤器不满足等）
	OrderStatusFailed   OrderStatus = "failed"   // 本地/网络失败
)

// OrderRequest 下单请求（交易所无关）
//
// Price 仅对限价单有意义；市价单传 0。
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Size          float64
	Price         float64
	PostOnly      bool // maker-only；交易所不支持时由调用方降级
}

// Order 订单领域模型
type Order struct {
	OrderID       string
	ClientOrderID string
	Venue         string
	Symbol        string
	Side          Side
	Type          OrderType
	Price         float64
	Size          float64 // 原始请求数量
	FilledSize    float64 // 累计成交数量
	AvgFillPrice  float64 // 成交均价（无成交时为 0）
	PostOnly      bool
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Remaining 未成交数量
func (o *Order) Remaining() float64 {
	if o == nil {
		return 0
	}
	r := o.Size - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}

// IsFinalStatus 检查订单是否为最终状态（filled/canceled/rejected/failed）
// 最终状态不应该被中间状态（open/pending）覆盖
func (o *Order) IsFinalStatus() bool {
	if o == nil {
		return false
	}
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}

// IsFilled 是否完全成交
func (o *Order) IsFilled() bool {
	return o != nil && (o.Status == OrderStatusFilled || (o.Size > 0 && o.FilledSize >= o.Size))
}

// FilledNotional 已成交名义金额（报价币）
func (o *Order) FilledNotional() float64 {
	if o == nil || o.FilledSize <= 0 {
		return 0
	}
	px := o.AvgFillPrice
	if px <= 0 {
		px = o.Price
	}
	return o.FilledSize * px
}

// MarketRules 交易所对某个交易对的下单约束（从交易所查询，不硬编码）
type MarketRules struct {
	Symbol           string
	MinQty           float64
	MaxQty           float64 // 0 表示不限
	StepSize         float64 // 数量精度步长；0 表示不取整
	MinNotional      float64
	TickSize         float64
	SupportsPostOnly bool
}

// RoundPrice 按 tick 四舍五入价格
func (r MarketRules) RoundPrice(px float64) float64 {
	if r.TickSize <= 0 || px <= 0 {
		return px
	}
	return math.Round(px/r.TickSize) * r.TickSize
}
