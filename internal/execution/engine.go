package execution

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/internal/metrics"
	"github.com/betbot/execbot/internal/ports"
)

var log = logrus.WithField("component", "execution")

// Option 可选依赖
type Option func(*Engine)

// WithJournal 终态交易写入日志
func WithJournal(j ports.TradeJournal) Option { return func(e *Engine) { e.journal = j } }

// WithAlertSink 平仓失败告警；默认只写日志
func WithAlertSink(a ports.AlertSink) Option {
	return func(e *Engine) {
		if a != nil {
			e.alerts = a
		}
	}
}

// WithOutcomeRecorders 平仓结果反馈（风控闸门、仓位统计）
func WithOutcomeRecorders(rs ...ports.OutcomeRecorder) Option {
	return func(e *Engine) { e.recorders = append(e.recorders, rs...) }
}

// WithFillEstimator 挂单成交概率估计（配合 MinMakerFillProb）
func WithFillEstimator(f ports.FillEstimator) Option { return func(e *Engine) { e.fillEst = f } }

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine 执行引擎：前置检查 → 规整数量 → maker 梯子 → 市价扫单回退 → 退出监控。
//
// 每笔 Trade 同一时间只由一个 Supervise 循环持有；引擎只保存副本用于展示。
type Engine struct {
	cfg       Config
	books     ports.BookSource
	venues    map[string]ports.Venue
	slots     *executionSlots
	exitRules ExitRules

	journal   ports.TradeJournal
	alerts    ports.AlertSink
	recorders []ports.OutcomeRecorder
	fillEst   ports.FillEstimator

	mu   sync.RWMutex
	open map[string]domain.Trade

	now func() time.Time
}

// NewEngine 创建执行引擎；venues 以交易所名为 key
func NewEngine(cfg Config, books ports.BookSource, venues map[string]ports.Venue, opts ...Option) *Engine {
	cfg = cfg.normalized()
	e := &Engine{
		cfg:      cfg,
		books:    books,
		venues:   venues,
		slots:    newExecutionSlots(cfg.InFlightTTL),
		exitRules: ExitRules{
			PartialTriggerRatio:  cfg.PartialTriggerRatio,
			PartialCloseFraction: cfg.PartialCloseFraction,
			TrailingStopBps:      cfg.TrailingStopBps,
		},
		alerts: LogAlertSink{},
		open:   make(map[string]domain.Trade),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute 把已准入的意图变成持仓。成功返回 OPEN 的 Trade；前置检查或下单失败返回 *OrderRejectedError。
//
// 只在梯子时间盒和扫单间隔上挂起；不会无限阻塞。
func (e *Engine) Execute(ctx context.Context, intent domain.TradeIntent, notionalUSD, equityUSD float64) (*domain.Trade, error) {
	if intent == nil {
		return nil, rejected(RejectInvalidIntent, "", "", "nil intent")
	}
	core := intent.Core()
	if err := intent.Validate(); err != nil {
		return nil, &OrderRejectedError{Reason: RejectInvalidIntent, Symbol: core.Symbol, Err: err}
	}
	if notionalUSD <= 0 {
		return nil, rejected(RejectSize, "", core.Symbol, "notional %.2f", notionalUSD)
	}

	if err := e.slots.acquire(core.Symbol, core.Strategy); err != nil {
		return nil, &OrderRejectedError{Reason: RejectInFlight, Symbol: core.Symbol, Err: err}
	}
	defer e.slots.release(core.Symbol, core.Strategy)

	snap, venue, err := e.route(core.Symbol, intent.PreferredVenue())
	if err != nil {
		return nil, err
	}
	fields := logrus.Fields{"symbol": core.Symbol, "venue": venue.Name(), "strategy": core.Strategy, "side": core.Side}

	if err := e.checkSpread(snap); err != nil {
		return nil, err
	}
	if err := e.checkDepth(snap, core.Side, notionalUSD, equityUSD); err != nil {
		return nil, err
	}

	rules, err := venue.MarketRules(ctx, core.Symbol)
	if err != nil {
		return nil, &OrderRejectedError{Reason: RejectVenue, Venue: venue.Name(), Symbol: core.Symbol, Detail: "market rules", Err: err}
	}
	refPrice := snap.BestAsk
	if core.Side == domain.SideSell {
		refPrice = snap.BestBid
	}
	size, err := NormalizeSize(notionalUSD/refPrice, refPrice, rules)
	if err != nil {
		metrics.OrdersRejected.Add(1)
		return nil, &OrderRejectedError{Reason: RejectSize, Venue: venue.Name(), Symbol: core.Symbol, Err: err}
	}

	trade := &domain.Trade{
		ID:            uuid.NewString(),
		Symbol:        core.Symbol,
		Venue:         venue.Name(),
		Strategy:      core.Strategy,
		Side:          core.Side,
		RequestedSize: size,
		TargetPrice:   core.TargetPrice,
		StopPrice:     core.StopPrice,
		Status:        domain.TradeOpen,
	}
	fields["trade_id"] = trade.ID
	tlog := log.WithFields(fields)

	var fills fillSummary
	skipLadder := false
	if e.cfg.MinMakerFillProb > 0 && e.fillEst != nil {
		if p := e.fillEst.EstimateFillProbability(core.Symbol, core.Side); p < e.cfg.MinMakerFillProb {
			tlog.Infof("挂单成交概率 %.2f 低于 %.2f，跳过梯子", p, e.cfg.MinMakerFillProb)
			skipLadder = true
		}
	}
	if !skipLadder {
		lf, lerr := e.runLadder(ctx, venue, core.Symbol, core.Side, size, snap, rules)
		fills = lf
		trade.LadderFilled = lf.Filled
		switch {
		case lerr == nil:
		case lerr == ErrExecutionTimeout:
			tlog.Infof("梯子时间盒到期: 成交 %.8g / %.8g", lf.Filled, size)
		default:
			tlog.Warnf("梯子下单失败: %v", lerr)
		}
		if ctx.Err() != nil && lf.Filled <= 0 {
			return nil, ctx.Err()
		}
		if ctx.Err() == nil && (lf.Filled <= 0 || (lerr != nil && lerr != ErrExecutionTimeout)) {
			skipLadder = true
		}
	}

	if skipLadder {
		metrics.LadderFallbacks.Add(1)
		remaining := size - fills.Filled
		if remaining > 0 {
			sf, chunks, serr := e.runSweep(ctx, venue, core.Symbol, core.Side, remaining, refPrice, rules)
			trade.SweepFilled = sf.Filled
			fills = fills.add(sf)
			if serr != nil {
				tlog.Warnf("扫单在第 %d 块停止: %v", chunks, serr)
			} else {
				tlog.Infof("扫单完成: %d 块，成交 %.8g", chunks, sf.Filled)
			}
		}
	}

	if fills.Filled <= 0 {
		metrics.OrdersRejected.Add(1)
		return nil, rejected(RejectNoFill, venue.Name(), core.Symbol, "no fills for size %.8g", size)
	}

	trade.FilledSize = fills.Filled
	trade.OpenSize = fills.Filled
	trade.EntryPrice = fills.VWAP()
	trade.TrailRef = trade.EntryPrice
	trade.FeesUSD = fills.Notional * e.cfg.feePct(venue.Name()) / 100
	trade.OpenedAt = e.now()
	metrics.TradesOpened.Add(1)
	e.track(trade)
	tlog.Infof("开仓: size=%.8g entry=%.8g (ladder=%.8g sweep=%.8g)", trade.FilledSize, trade.EntryPrice, trade.LadderFilled, trade.SweepFilled)
	return trade, nil
}

// route 选择交易所：优先意图指定的交易所，否则取路由得分最高的新鲜快照
func (e *Engine) route(symbol, preferred string) (domain.VenueSnapshot, ports.Venue, error) {
	if preferred != "" {
		v, ok := e.venues[preferred]
		if !ok {
			return domain.VenueSnapshot{}, nil, rejected(RejectNoVenue, preferred, symbol, "no order adapter")
		}
		for _, s := range e.books.FreshSnapshots(symbol) {
			if s.Venue == preferred {
				return s, v, nil
			}
		}
		return domain.VenueSnapshot{}, nil, rejected(RejectNoRoute, preferred, symbol, "snapshot stale or missing")
	}

	if s, ok := e.books.BestSnapshot(symbol); ok {
		if v, ok := e.venues[s.Venue]; ok {
			return s, v, nil
		}
	}
	// 最优交易所没有下单适配器时，在可交易的交易所里重新选
	candidates := make([]domain.VenueSnapshot, 0)
	for _, s := range e.books.FreshSnapshots(symbol) {
		if _, ok := e.venues[s.Venue]; ok {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return domain.VenueSnapshot{}, nil, rejected(RejectNoRoute, "", symbol, "all snapshots stale")
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return e.books.RouteScore(candidates[i]) > e.books.RouteScore(candidates[j])
	})
	return candidates[0], e.venues[candidates[0].Venue], nil
}

func (e *Engine) checkSpread(s domain.VenueSnapshot) error {
	if bps := s.SpreadBps(); bps > e.cfg.MaxSpreadBps {
		metrics.OrdersRejected.Add(1)
		return rejected(RejectSpread, s.Venue, s.Symbol, "%.2f bps > %.2f bps", bps, e.cfg.MaxSpreadBps)
	}
	return nil
}

// requiredDepthUSD max(floor, notional × multiplier)；低余额时两者都放宽
func (e *Engine) requiredDepthUSD(notionalUSD, equityUSD float64) float64 {
	floor, mult := e.cfg.MinDepthUSD, e.cfg.DepthMultiplier
	if equityUSD > 0 && equityUSD < e.cfg.UltraLowBalanceUSD {
		floor, mult = e.cfg.UltraLowMinDepthUSD, e.cfg.UltraLowDepthMultiplier
	}
	req := notionalUSD * mult
	if req < floor {
		req = floor
	}
	return req
}

func (e *Engine) checkDepth(s domain.VenueSnapshot, side domain.Side, notionalUSD, equityUSD float64) error {
	need := e.requiredDepthUSD(notionalUSD, equityUSD)
	if have := s.DepthUSD(side); have < need {
		metrics.OrdersRejected.Add(1)
		return rejected(RejectDepth, s.Venue, s.Symbol, "opposite depth %.0f < %.0f", have, need)
	}
	return nil
}

// OpenTrades 当前持仓副本（按开仓时间）
func (e *Engine) OpenTrades() []domain.Trade {
	e.mu.RLock()
	out := make([]domain.Trade, 0, len(e.open))
	for _, t := range e.open {
		out = append(out, t)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (e *Engine) track(t *domain.Trade) {
	e.mu.Lock()
	if t.IsTerminal() {
		delete(e.open, t.ID)
	} else {
		e.open[t.ID] = *t
	}
	e.mu.Unlock()
}

// fillSummary 成交汇总
type fillSummary struct {
	Filled   float64
	Notional float64
}

func (f fillSummary) add(o fillSummary) fillSummary {
	return fillSummary{Filled: f.Filled + o.Filled, Notional: f.Notional + o.Notional}
}

// VWAP 成交均价
func (f fillSummary) VWAP() float64 {
	if f.Filled <= 0 {
		return 0
	}
	return f.Notional / f.Filled
}

func newClientOrderID() string {
	return "x" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// LogAlertSink 默认告警：Error 日志 + 计数
type LogAlertSink struct{}

func (LogAlertSink) Alert(_ context.Context, kind string, fields map[string]any) {
	metrics.Alerts.Add(kind, 1)
	log.WithFields(logrus.Fields(fields)).WithField("alert", true).Errorf("告警: %s", kind)
}
