package marketdata

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/pkg/marketmath"
	"github.com/betbot/execbot/pkg/syncgroup"
)

// Config 聚合器配置
type Config struct {
	StaleAfter        time.Duration
	LiquidityFloorUSD float64
	PingInterval      time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	// LatencyWeight 路由打分里每毫秒延迟扣的分
	LatencyWeight    float64
	DepthLevels      int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ProxyURL         string
}

func (c Config) normalized() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * time.Second
	}
	if c.LiquidityFloorUSD <= 0 {
		c.LiquidityFloorUSD = 15000
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 15 * time.Second
	}
	if c.LatencyWeight < 0 {
		c.LatencyWeight = 0
	} else if c.LatencyWeight == 0 {
		c.LatencyWeight = 10
	}
	if c.DepthLevels <= 0 {
		c.DepthLevels = 5
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// routeEpsilon 价差下限（%），避免零价差时分母为 0
const routeEpsilon = 0.0001

// Route 路由结果
type Route struct {
	Venue    string               `json:"venue"`
	Score    float64              `json:"score"`
	Snapshot domain.VenueSnapshot `json:"snapshot"`
}

// MicroMetrics 微观结构指标（跨交易所汇总新鲜快照）
type MicroMetrics struct {
	Imbalance float64 `json:"imbalance"`
	MsgRate   float64 `json:"msg_rate"` // 近 1s 消息数
	Venues    int     `json:"venues"`
}

type bookEntry struct {
	snap domain.VenueSnapshot
	bids []marketmath.Level
	asks []marketmath.Level
	rate *rateCounter
}

// Aggregator 多交易所盘口聚合器：每个交易所一个读协程，维护 symbol → venue → 快照。
type Aggregator struct {
	cfg   Config
	conns map[string]*VenueConn
	order []string // 交易所顺序（稳定输出）
	sg    *syncgroup.SyncGroup

	mu      sync.RWMutex
	books   map[string]map[string]*bookEntry // symbol -> venue -> entry
	reverse map[string]map[string]string     // venue -> venueSymbol -> symbol
	subs    map[string]struct{}

	now func() time.Time
}

// NewAggregator 创建聚合器；同名交易所只保留第一个 codec
func NewAggregator(cfg Config, codecs ...Codec) *Aggregator {
	cfg = cfg.normalized()
	a := &Aggregator{
		cfg:     cfg,
		conns:   make(map[string]*VenueConn, len(codecs)),
		sg:      syncgroup.NewSyncGroup(),
		books:   make(map[string]map[string]*bookEntry),
		reverse: make(map[string]map[string]string),
		subs:    make(map[string]struct{}),
		now:     time.Now,
	}
	cc := connConfig{
		PingInterval:     cfg.PingInterval,
		BackoffBase:      cfg.BackoffBase,
		BackoffMax:       cfg.BackoffMax,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		ProxyURL:         cfg.ProxyURL,
	}
	for _, c := range codecs {
		if c == nil {
			continue
		}
		if _, dup := a.conns[c.Venue()]; dup {
			log.Warnf("重复的交易所 codec: %s，已忽略", c.Venue())
			continue
		}
		a.conns[c.Venue()] = newVenueConn(c, cc, a.onUpdate)
		a.reverse[c.Venue()] = make(map[string]string)
		a.order = append(a.order, c.Venue())
	}
	return a
}

// Start 为每个交易所启动读协程；ctx 结束后协程退出，用 Wait 等待
func (a *Aggregator) Start(ctx context.Context) {
	for _, v := range a.order {
		conn := a.conns[v]
		a.sg.Add(func() { conn.Run(ctx) })
	}
	a.sg.Run()
	log.Infof("盘口聚合器已启动: venues=%s", strings.Join(a.order, ","))
}

// Wait 等待所有读协程退出
func (a *Aggregator) Wait() { a.sg.Wait() }

// Venues 已配置的交易所
func (a *Aggregator) Venues() []string {
	return append([]string(nil), a.order...)
}

// Subscribe 幂等；可在连接建立之前调用
func (a *Aggregator) Subscribe(symbol string) {
	symbol = canonical(symbol)
	if symbol == "" {
		return
	}
	a.mu.Lock()
	if _, ok := a.subs[symbol]; ok {
		a.mu.Unlock()
		return
	}
	a.subs[symbol] = struct{}{}
	pending := make(map[string]string, len(a.order))
	for _, v := range a.order {
		vs := a.conns[v].codec.VenueSymbol(symbol)
		a.reverse[v][vs] = symbol
		pending[v] = vs
	}
	a.mu.Unlock()

	// 网络写在锁外
	for v, vs := range pending {
		a.conns[v].Subscribe(vs)
	}
}

// Unsubscribe 幂等；已缓存的快照一并移除
func (a *Aggregator) Unsubscribe(symbol string) {
	symbol = canonical(symbol)
	a.mu.Lock()
	if _, ok := a.subs[symbol]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.subs, symbol)
	delete(a.books, symbol)
	pending := make(map[string]string, len(a.order))
	for _, v := range a.order {
		vs := a.conns[v].codec.VenueSymbol(symbol)
		delete(a.reverse[v], vs)
		pending[v] = vs
	}
	a.mu.Unlock()

	for v, vs := range pending {
		a.conns[v].Unsubscribe(vs)
	}
}

// Symbols 当前订阅的交易对（排序）
func (a *Aggregator) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.subs))
	for s := range a.subs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// onUpdate 读协程回调：把解析结果加工成 VenueSnapshot
func (a *Aggregator) onUpdate(venue string, updates []BookUpdate, at time.Time) {
	var latency float64
	if c := a.conns[venue]; c != nil {
		latency = c.latencyMs()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, u := range updates {
		symbol, ok := a.reverse[venue][u.VenueSymbol]
		if !ok {
			// 已退订或未知的交易对
			continue
		}
		if len(u.Bids) == 0 || len(u.Asks) == 0 {
			continue
		}
		bid, ask := u.Bids[0].Price, u.Asks[0].Price
		if bid <= 0 || ask <= 0 {
			continue
		}
		byVenue := a.books[symbol]
		if byVenue == nil {
			byVenue = make(map[string]*bookEntry)
			a.books[symbol] = byVenue
		}
		e := byVenue[venue]
		if e == nil {
			e = &bookEntry{rate: newRateCounter(time.Second)}
			byVenue[venue] = e
		}
		e.rate.add(at)
		e.bids, e.asks = u.Bids, u.Asks
		bidUSD := marketmath.DepthUSD(u.Bids, a.cfg.DepthLevels)
		askUSD := marketmath.DepthUSD(u.Asks, a.cfg.DepthLevels)
		e.snap = domain.VenueSnapshot{
			Venue:       venue,
			Symbol:      symbol,
			BestBid:     bid,
			BestAsk:     ask,
			Mid:         marketmath.Mid(bid, ask),
			SpreadPct:   marketmath.SpreadPct(bid, ask),
			BidDepthUSD: bidUSD,
			AskDepthUSD: askUSD,
			Imbalance:   marketmath.Imbalance(bidUSD, askUSD),
			UpdatedAt:   at,
			MsgRate:     float64(e.rate.count(at)),
			LatencyMs:   latency,
		}
	}
}

// Snapshot 返回缓存的快照（可能已过期）
func (a *Aggregator) Snapshot(symbol, venue string) (domain.VenueSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.books[canonical(symbol)][venue]
	if !ok {
		return domain.VenueSnapshot{}, false
	}
	return e.snap, true
}

// Depth 返回缓存的前 N 档（可能已过期，调用方自行检查 At）
func (a *Aggregator) Depth(symbol, venue string) (domain.OrderBook, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.books[canonical(symbol)][venue]
	if !ok {
		return domain.OrderBook{}, false
	}
	return domain.OrderBook{
		Venue:  venue,
		Symbol: e.snap.Symbol,
		Bids:   toDomainLevels(e.bids),
		Asks:   toDomainLevels(e.asks),
		At:     e.snap.UpdatedAt,
	}, true
}

func toDomainLevels(in []marketmath.Level) []domain.Level {
	out := make([]domain.Level, len(in))
	for i, lv := range in {
		out[i] = domain.Level{Price: lv.Price, Size: lv.Size}
	}
	return out
}

// FreshSnapshots 返回未过期的快照，按交易所配置顺序
func (a *Aggregator) FreshSnapshots(symbol string) []domain.VenueSnapshot {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	byVenue := a.books[canonical(symbol)]
	out := make([]domain.VenueSnapshot, 0, len(byVenue))
	for _, v := range a.order {
		e, ok := byVenue[v]
		if !ok || !e.snap.IsFresh(a.cfg.StaleAfter, now) {
			continue
		}
		s := e.snap
		s.MsgRate = float64(e.rate.count(now))
		out = append(out, s)
	}
	return out
}

// TopLiquidityUSD 新鲜快照中 min(买深度, 卖深度) 的最大值；没有新鲜快照时返回下限。
//
// 传入 venue 时只看这些交易所。永不返回负数。
func (a *Aggregator) TopLiquidityUSD(symbol string, venue ...string) float64 {
	var want map[string]bool
	if len(venue) > 0 {
		want = make(map[string]bool, len(venue))
		for _, v := range venue {
			if v != "" {
				want[v] = true
			}
		}
	}
	best := -1.0
	for _, s := range a.FreshSnapshots(symbol) {
		if len(want) > 0 && !want[s.Venue] {
			continue
		}
		depth := math.Min(s.BidDepthUSD, s.AskDepthUSD)
		if depth > best {
			best = depth
		}
	}
	if best < 0 {
		return a.cfg.LiquidityFloorUSD
	}
	return best
}

// BestRoute 对新鲜快照打分：depth / max(spread%, ε) − latencyMs × k，取最高分
func (a *Aggregator) BestRoute(symbol string) (Route, bool) {
	var best Route
	found := false
	for _, s := range a.FreshSnapshots(symbol) {
		score := a.routeScore(s)
		if !found || score > best.Score {
			best = Route{Venue: s.Venue, Score: score, Snapshot: s}
			found = true
		}
	}
	return best, found
}

// BestSnapshot BestRoute 的快照视图（ports.BookSource）
func (a *Aggregator) BestSnapshot(symbol string) (domain.VenueSnapshot, bool) {
	r, ok := a.BestRoute(symbol)
	return r.Snapshot, ok
}

// RouteScore 单个快照的路由得分
func (a *Aggregator) RouteScore(s domain.VenueSnapshot) float64 { return a.routeScore(s) }

func (a *Aggregator) routeScore(s domain.VenueSnapshot) float64 {
	depth := s.BidDepthUSD + s.AskDepthUSD
	return depth/math.Max(s.SpreadPct, routeEpsilon) - s.LatencyMs*a.cfg.LatencyWeight
}

// MicroMetrics 汇总新鲜快照的盘口失衡和消息速率
func (a *Aggregator) MicroMetrics(symbol string) MicroMetrics {
	var m MicroMetrics
	var bidUSD, askUSD float64
	for _, s := range a.FreshSnapshots(symbol) {
		bidUSD += s.BidDepthUSD
		askUSD += s.AskDepthUSD
		m.MsgRate += s.MsgRate
		m.Venues++
	}
	m.Imbalance = marketmath.Imbalance(bidUSD, askUSD)
	return m
}

// EstimateFillProbability 挂单成交概率估计，范围 [0.01, 0.99]。
//
// 买单在卖压大（失衡为负）时更容易成交；价差越宽惩罚越大。没有新鲜快照时返回 0.5 减去最大惩罚。
func (a *Aggregator) EstimateFillProbability(symbol string, side domain.Side) float64 {
	snaps := a.FreshSnapshots(symbol)
	if len(snaps) == 0 {
		return clamp(0.5-maxSpreadPenalty, 0.01, 0.99)
	}
	m := a.MicroMetrics(symbol)
	spreadBps := math.Inf(1)
	for _, s := range snaps {
		spreadBps = math.Min(spreadBps, s.SpreadBps())
	}
	penalty := math.Min(maxSpreadPenalty, spreadBps*spreadPenaltyPerBps)
	p := 0.5 - penalty
	if side == domain.SideSell {
		p += m.Imbalance * 0.3
	} else {
		p -= m.Imbalance * 0.3
	}
	return clamp(p, 0.01, 0.99)
}

const (
	spreadPenaltyPerBps = 0.01
	maxSpreadPenalty    = 0.3
)

// ConnectionStates 每个交易所的连接状态
func (a *Aggregator) ConnectionStates() []domain.ConnectionState {
	out := make([]domain.ConnectionState, 0, len(a.order))
	for _, v := range a.order {
		out = append(out, a.conns[v].State())
	}
	return out
}

// MalformedCount 累计丢弃的消息数
func (a *Aggregator) MalformedCount() int64 {
	var n int64
	for _, c := range a.conns {
		n += c.Malformed()
	}
	return n
}

func canonical(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
