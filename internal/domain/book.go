package domain

import "time"

// Level 一档深度（价格 + 数量，数量单位为基础币）
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook 某交易所某交易对的 L2 快照（bids 降序，asks 升序）
type OrderBook struct {
	Venue  string    `json:"venue"`
	Symbol string    `json:"symbol"`
	Bids   []Level   `json:"bids"`
	Asks   []Level   `json:"asks"`
	At     time.Time `json:"at"`
}

// Ticker 24h 行情摘要
type Ticker struct {
	Symbol      string    `json:"symbol"`
	Last        float64   `json:"last"`
	BaseVolume  float64   `json:"base_volume"`
	QuoteVolume float64   `json:"quote_volume"`
	At          time.Time `json:"at"`
}

// VenueSnapshot 每个 (symbol, venue) 的盘口加工结果。
//
// 只由该交易所的读协程写入；超过 staleness 阈值的快照仍可缓存，但不得参与路由。
type VenueSnapshot struct {
	Venue       string    `json:"venue"`
	Symbol      string    `json:"symbol"`
	BestBid     float64   `json:"best_bid"`
	BestAsk     float64   `json:"best_ask"`
	Mid         float64   `json:"mid"`
	SpreadPct   float64   `json:"spread_pct"`    // (ask-bid)/mid*100
	BidDepthUSD float64   `json:"bid_depth_usd"` // top-N 档累计名义
	AskDepthUSD float64   `json:"ask_depth_usd"`
	Imbalance   float64   `json:"imbalance"` // [-1,1]，>0 买盘更厚
	UpdatedAt   time.Time `json:"updated_at"`
	MsgRate     float64   `json:"msg_rate"`   // 近 1s 消息数
	LatencyMs   float64   `json:"latency_ms"` // 连接往返延迟
}

// IsFresh 快照是否在 maxAge 内更新过
func (s VenueSnapshot) IsFresh(maxAge time.Duration, now time.Time) bool {
	if s.UpdatedAt.IsZero() || s.BestBid <= 0 || s.BestAsk <= 0 {
		return false
	}
	return now.Sub(s.UpdatedAt) <= maxAge
}

// DepthUSD 返回吃单方向需要消耗的对手盘深度（买 → asks，卖 → bids）
func (s VenueSnapshot) DepthUSD(side Side) float64 {
	if side == SideSell {
		return s.BidDepthUSD
	}
	return s.AskDepthUSD
}

// SpreadBps 价差（bps）
func (s VenueSnapshot) SpreadBps() float64 {
	return s.SpreadPct * 100
}

// ConnState 交易所连接状态
type ConnState string

const (
	ConnDisconnected ConnState = "DISCONNECTED"
	ConnConnecting   ConnState = "CONNECTING"
	ConnConnected    ConnState = "CONNECTED"
)

// ConnectionState 每个交易所一个；启动时创建，从不销毁。
type ConnectionState struct {
	Venue         string        `json:"venue"`
	State         ConnState     `json:"state"`
	Backoff       time.Duration `json:"backoff"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	Reconnects    int64         `json:"reconnects"`
	LatencyMs     float64       `json:"latency_ms"`
}
