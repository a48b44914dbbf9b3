package risk

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/execbot/internal/common"
	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/internal/metrics"
	"github.com/betbot/execbot/internal/ports"
)

var log = logrus.WithField("component", "risk")

const saveTimeout = 5 * time.Second

// GateOption 可选参数
type GateOption func(*Gate)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// Gate 准入闸门：所有交易意图执行前的唯一关口。
//
// RiskState 只在 g.mu 内修改；持久化在锁外进行。
type Gate struct {
	cfg     Config
	limits  ModeLimits
	store   ports.RiskStateStore
	breaker *CircuitBreaker
	spike   *SpikeGuard
	news    *NewsGate
	// throttle 每个交易对最近一次准入时间
	throttle *common.KeyedDebouncer

	mu    sync.Mutex
	state domain.RiskState

	now func() time.Time
}

// NewGate 创建闸门；store 不为空时加载当天（UTC）已保存的状态
func NewGate(cfg Config, store ports.RiskStateStore, opts ...GateOption) (*Gate, error) {
	cfg = cfg.normalized()
	g := &Gate{
		cfg:    cfg,
		limits: LimitsFor(cfg.Mode),
		store:  store,
		breaker: NewCircuitBreaker(CircuitBreakerConfig{
			MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
			DailyLossLimitUSD:    cfg.DailyLossLimitUSD(),
			Cooldown:             cfg.CircuitBreaker,
		}),
		spike:    newSpikeGuard(cfg),
		news:     newNewsGate(cfg),
		throttle: common.NewKeyedDebouncer(cfg.MinSignalInterval),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	dayKey := domain.DayKeyOf(g.now())
	g.state = domain.NewRiskState(dayKey)
	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		loaded, err := store.LoadRiskState(ctx, dayKey)
		if err != nil {
			return nil, errors.Wrapf(err, "load risk state %s", dayKey)
		}
		if loaded != nil {
			loaded.EnsureMaps()
			loaded.DayKey = dayKey
			g.state = *loaded
			metrics.StateLoads.Add(1)
			log.Infof("已恢复风控状态: day=%s pnl=%.2f trades=%d consecutiveLosses=%d",
				dayKey, loaded.RealizedPnL, loaded.TradesToday, loaded.ConsecutiveLosses)
		}
	}
	return g, nil
}

// Mode 当前运行模式
func (g *Gate) Mode() Mode { return g.cfg.Mode }

// Limits 当前模式的阈值
func (g *Gate) Limits() ModeLimits { return g.limits }

// rollLocked UTC 日切：重置当日字段
func (g *Gate) rollLocked(now time.Time) {
	key := domain.DayKeyOf(now)
	if g.state.DayKey == key {
		return
	}
	log.Infof("UTC 日切: %s -> %s，重置当日风控状态", g.state.DayKey, key)
	g.state = domain.NewRiskState(key)
}

// CanAdmit 检查所有作用域（全局/交易对/策略）和事件闸门，只读。
//
// 与意图质量无关：任何一个作用域处于冷却期都拒绝。
func (g *Gate) CanAdmit(symbol, strategy string) Decision {
	now := g.now()
	d := g.canAdmit(symbol, strategy, now)
	g.report(symbol, strategy, d)
	return d
}

func (g *Gate) canAdmit(symbol, strategy string, now time.Time) Decision {
	g.mu.Lock()
	g.rollLocked(now)
	st := &g.state
	if g.breaker.Open(st, now) {
		until := st.GlobalCooldownUntil
		pnl := st.RealizedPnL
		g.mu.Unlock()
		return deny(ReasonDailyLimit, until, "global circuit breaker open (realized %.2f, limit %.2f)", pnl, -g.cfg.DailyLossLimitUSD())
	}
	if until, ok := st.SymbolCooldowns[symbol]; ok && now.Before(until) {
		g.mu.Unlock()
		return deny(ReasonSymbolCooldown, until, "%s cooling down", symbol)
	}
	if until, ok := st.StrategyCooldowns[strategy]; ok && now.Before(until) {
		g.mu.Unlock()
		return deny(ReasonStrategyCooldown, until, "%s cooling down", strategy)
	}
	g.mu.Unlock()

	if until, cause, ok := g.spike.Active(now); ok {
		return deny(ReasonSpikeGuard, until, "%s", cause)
	}
	if until, cause, ok := g.news.Active(now); ok {
		return deny(ReasonNewsGate, until, "%s", cause)
	}
	if ok, wait := g.throttle.Ready(symbol, now); !ok {
		return deny(ReasonThrottle, now.Add(wait), "%s min signal interval", symbol)
	}
	return allow()
}

// ValidateEdge 净边际 = 预期收益 − (手续费 + 滑点)；同时检查流动性下限和滑点上限。
//
// slippagePct 为 nil 时用深度模型估计。
func (g *Gate) ValidateEdge(intent domain.TradeIntent, liquidityUSD, feesPct float64, slippagePct *float64, notionalUSD float64) Decision {
	d := g.validateEdge(intent, liquidityUSD, feesPct, slippagePct, notionalUSD)
	if intent != nil {
		c := intent.Core()
		g.report(c.Symbol, c.Strategy, d)
	}
	return d
}

func (g *Gate) validateEdge(intent domain.TradeIntent, liquidityUSD, feesPct float64, slippagePct *float64, notionalUSD float64) Decision {
	if intent == nil {
		return deny(ReasonLowEdge, time.Time{}, "nil intent")
	}
	if liquidityUSD < 0 {
		liquidityUSD = 0
	}
	slip := 0.0
	if slippagePct != nil {
		slip = clamp(*slippagePct, 0, 1)
	} else {
		slip = estimateSlippagePct(notionalUSD, liquidityUSD, g.cfg.SlippageCoefficient)
	}
	edge := NetEdgePct(intent.Core().ExpectedProfitPct, feesPct, slip)

	var d Decision
	switch {
	case liquidityUSD < g.limits.MinLiquidityUSD:
		d = deny(ReasonLowLiquidity, time.Time{}, "liquidity %.0f < %.0f", liquidityUSD, g.limits.MinLiquidityUSD)
	case slip > g.limits.MaxSlippagePct:
		d = deny(ReasonHighSlippage, time.Time{}, "slippage %.4f%% > %.4f%%", slip, g.limits.MaxSlippagePct)
	case edge < g.limits.MinNetEdgePct:
		d = deny(ReasonLowEdge, time.Time{}, "net edge %.4f%% < %.4f%%", edge, g.limits.MinNetEdgePct)
	default:
		d = allow()
	}
	d.LiquidityUSD = liquidityUSD
	d.SlippagePct = slip
	d.NetEdgePct = edge
	return d
}

// Admit CanAdmit + ValidateEdge；通过后记入节流并计数
func (g *Gate) Admit(intent domain.TradeIntent, liquidityUSD, feesPct, notionalUSD float64) Decision {
	if intent == nil {
		return deny(ReasonLowEdge, time.Time{}, "nil intent")
	}
	c := intent.Core()
	if d := g.CanAdmit(c.Symbol, c.Strategy); !d.Allowed {
		return d
	}
	d := g.ValidateEdge(intent, liquidityUSD, feesPct, nil, notionalUSD)
	if !d.Allowed {
		return d
	}
	g.MarkAdmitted(c.Symbol)
	return d
}

// MarkAdmitted 记录一次准入（最小信号间隔从此刻开始计时）
func (g *Gate) MarkAdmitted(symbol string) {
	now := g.now()
	g.throttle.Mark(symbol, now)
	g.mu.Lock()
	g.rollLocked(now)
	g.state.TradesToday++
	g.mu.Unlock()
}

// RecordOutcome 平仓结果反馈：更新当日 PnL、连亏计数和各作用域冷却
func (g *Gate) RecordOutcome(symbol, strategy string, pnlUSD, returnPct float64) {
	now := g.now()
	fields := logrus.Fields{"symbol": symbol, "strategy": strategy, "pnl": pnlUSD}

	g.mu.Lock()
	g.rollLocked(now)
	st := &g.state
	st.RealizedPnL += pnlUSD
	if pnlUSD < 0 {
		st.Losses++
		st.ConsecutiveLosses++
		st.SymbolLossStreaks[symbol]++
		if streak := st.SymbolLossStreaks[symbol]; streak >= g.cfg.CooldownLossStreak {
			st.SymbolCooldowns[symbol] = now.Add(g.cfg.Cooldown)
			log.WithFields(fields).Warnf("交易对连亏 %d 次，冷却至 %s", streak, st.SymbolCooldowns[symbol].Format(time.RFC3339))
		}
	} else {
		st.Wins++
		st.ConsecutiveLosses = 0
		st.SymbolLossStreaks[symbol] = 0
		delete(st.SymbolCooldowns, symbol)
	}
	if tripped, why := g.breaker.OnOutcome(st, now); tripped {
		log.WithFields(fields).Warnf("全局断路器打开（%s），冷却至 %s", why, st.GlobalCooldownUntil.Format(time.RFC3339))
	}
	st.UpdatedAt = now
	snap := st.Clone()
	g.mu.Unlock()

	log.WithFields(fields).Infof("记录平仓结果: return=%.4f%% dayPnL=%.2f", returnPct, snap.RealizedPnL)
	g.persist(snap)
}

// OpenStrategyBreaker 显式冷却某个策略
func (g *Gate) OpenStrategyBreaker(strategy string, d time.Duration) {
	if strategy == "" {
		return
	}
	if d <= 0 {
		d = g.cfg.Cooldown
	}
	now := g.now()
	g.mu.Lock()
	g.rollLocked(now)
	until := now.Add(d)
	if cur := g.state.StrategyCooldowns[strategy]; until.After(cur) {
		g.state.StrategyCooldowns[strategy] = until
	}
	g.state.UpdatedAt = now
	snap := g.state.Clone()
	g.mu.Unlock()

	log.WithField("strategy", strategy).Warnf("策略断路器打开，冷却 %v", d)
	g.persist(snap)
}

// ObserveMarket 行情样本送入波动闸门
func (g *Gate) ObserveMarket(s MarketSample) {
	if s.At.IsZero() {
		s.At = g.now()
	}
	if g.spike.Observe(s) {
		until, cause, _ := g.spike.Active(s.At)
		log.WithField("symbol", s.Symbol).Warnf("波动闸门触发（%s），冻结至 %s", cause, until.Format(time.RFC3339))
	}
}

// ObserveSentiment 情绪样本送入新闻闸门
func (g *Gate) ObserveSentiment(s SentimentSample) {
	if s.At.IsZero() {
		s.At = g.now()
	}
	if g.news.Observe(s) {
		until, cause, _ := g.news.Active(s.At)
		log.WithField("symbol", s.Symbol).Warnf("新闻闸门触发（%s），冻结至 %s", cause, until.Format(time.RFC3339))
	}
}

// Snapshot 当前风控状态副本
func (g *Gate) Snapshot() domain.RiskState {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollLocked(g.now())
	return g.state.Clone()
}

// ActiveGate 一个处于生效期的闸门（控制面展示用）
type ActiveGate struct {
	Reason Reason    `json:"reason"`
	Scope  string    `json:"scope,omitempty"`
	Until  time.Time `json:"until"`
	Detail string    `json:"detail,omitempty"`
}

// ActiveGates 列出当前所有生效的冷却/冻结
func (g *Gate) ActiveGates() []ActiveGate {
	now := g.now()
	var out []ActiveGate

	g.mu.Lock()
	g.rollLocked(now)
	if now.Before(g.state.GlobalCooldownUntil) {
		out = append(out, ActiveGate{Reason: ReasonDailyLimit, Scope: "global", Until: g.state.GlobalCooldownUntil, Detail: "circuit breaker"})
	}
	for sym, until := range g.state.SymbolCooldowns {
		if now.Before(until) {
			out = append(out, ActiveGate{Reason: ReasonSymbolCooldown, Scope: sym, Until: until})
		}
	}
	for strat, until := range g.state.StrategyCooldowns {
		if now.Before(until) {
			out = append(out, ActiveGate{Reason: ReasonStrategyCooldown, Scope: strat, Until: until})
		}
	}
	g.mu.Unlock()

	if until, cause, ok := g.spike.Active(now); ok {
		out = append(out, ActiveGate{Reason: ReasonSpikeGuard, Scope: "global", Until: until, Detail: cause})
	}
	if until, cause, ok := g.news.Active(now); ok {
		out = append(out, ActiveGate{Reason: ReasonNewsGate, Scope: "global", Until: until, Detail: cause})
	}
	return out
}

func (g *Gate) report(symbol, strategy string, d Decision) {
	if d.Allowed {
		return
	}
	metrics.AdmissionDenied.Add(string(d.Reason), 1)
	log.WithFields(logrus.Fields{"symbol": symbol, "strategy": strategy, "reason": d.Reason}).
		Infof("准入拒绝: %s", d.Detail)
}

func (g *Gate) persist(st domain.RiskState) {
	if g.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := g.store.SaveRiskState(ctx, st); err != nil {
		log.Errorf("保存风控状态失败: %v", err)
		return
	}
	metrics.StateSaves.Add(1)
}
