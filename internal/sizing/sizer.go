package sizing

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/execbot/internal/domain"
)

var log = logrus.WithField("component", "sizing")

// Config 仓位参数；零值由 normalized 填默认值
type Config struct {
	EquityUSD          float64
	KellyCap           float64
	LeverageMax        float64
	TargetVolPct       float64
	NotionalCeilingUSD float64

	DailyTargetUSD    float64
	PlannedTrades     int
	MinTradeTargetUSD float64
	MaxTradeTargetUSD float64

	// 样本不足 MinSamples 时使用先验
	PriorWinRate    float64
	PriorRewardRisk float64
	MinSamples      int
	Window          int
}

func (c Config) normalized() Config {
	if c.EquityUSD <= 0 {
		c.EquityUSD = 1000
	}
	if c.KellyCap <= 0 {
		c.KellyCap = 0.25
	}
	if c.LeverageMax < 1 {
		c.LeverageMax = 3
	}
	if c.TargetVolPct <= 0 {
		c.TargetVolPct = 2
	}
	if c.NotionalCeilingUSD <= 0 {
		c.NotionalCeilingUSD = 5000
	}
	if c.DailyTargetUSD <= 0 {
		c.DailyTargetUSD = 100
	}
	if c.PlannedTrades <= 0 {
		c.PlannedTrades = 20
	}
	if c.MinTradeTargetUSD <= 0 {
		c.MinTradeTargetUSD = 1
	}
	if c.MaxTradeTargetUSD < c.MinTradeTargetUSD {
		c.MaxTradeTargetUSD = math.Max(25, c.MinTradeTargetUSD)
	}
	if c.PriorWinRate <= 0 || c.PriorWinRate >= 1 {
		c.PriorWinRate = 0.5
	}
	if c.PriorRewardRisk <= 0 {
		c.PriorRewardRisk = 1.5
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	if c.Window <= 0 {
		c.Window = 50
	}
	return c
}

// Sizing 一次仓位计算的结果
type Sizing struct {
	EquityUSD      float64 `json:"equity_usd"`
	WinRate        float64 `json:"win_rate"`
	RewardRisk     float64 `json:"reward_risk"`
	RealizedVolPct float64 `json:"realized_vol_pct"`
	Fraction       float64 `json:"fraction"`
	Leverage       float64 `json:"leverage"`
	NotionalUSD    float64 `json:"notional_usd"`
	TargetUSD      float64 `json:"target_usd"`
}

// Sizer 组合 Kelly、杠杆、名义金额和单笔目标；记录平仓结果作为后续输入。
type Sizer struct {
	cfg     Config
	tracker *Tracker

	mu          sync.Mutex
	dayKey      string
	realizedUSD float64
	closedToday int

	now func() time.Time
}

func NewSizer(cfg Config) *Sizer {
	cfg = cfg.normalized()
	return &Sizer{cfg: cfg, tracker: NewTracker(cfg.Window), now: time.Now}
}

// Size 按给定权益和剩余日目标计算
func (s *Sizer) Size(equity, remainingDailyTarget float64, remainingTrades int) Sizing {
	st := s.tracker.Stats()
	p, b := s.cfg.PriorWinRate, s.cfg.PriorRewardRisk
	if st.Samples >= s.cfg.MinSamples {
		p = st.WinRate
		if st.RewardRisk > 0 {
			b = st.RewardRisk
		}
	}
	f := KellyFraction(p, b, s.cfg.KellyCap)
	lev := VolTargetLeverage(s.cfg.TargetVolPct, st.RealizedVolPct, s.cfg.LeverageMax)
	return Sizing{
		EquityUSD:      equity,
		WinRate:        p,
		RewardRisk:     b,
		RealizedVolPct: st.RealizedVolPct,
		Fraction:       f,
		Leverage:       lev,
		NotionalUSD:    Notional(equity, f, lev, s.cfg.NotionalCeilingUSD),
		TargetUSD:      PerTradeTarget(remainingDailyTarget, remainingTrades, s.cfg.MinTradeTargetUSD, s.cfg.MaxTradeTargetUSD),
	}
}

// Next 用当日已实现盈亏推算权益和剩余目标
func (s *Sizer) Next() Sizing {
	s.mu.Lock()
	s.rollLocked()
	equity := s.cfg.EquityUSD + s.realizedUSD
	remainingTarget := math.Max(0, s.cfg.DailyTargetUSD-s.realizedUSD)
	remainingTrades := s.cfg.PlannedTrades - s.closedToday
	s.mu.Unlock()

	if remainingTrades < 1 {
		remainingTrades = 1
	}
	return s.Size(math.Max(0, equity), remainingTarget, remainingTrades)
}

// EquityUSD 当前权益（基础权益 + 当日已实现）
func (s *Sizer) EquityUSD() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked()
	return s.cfg.EquityUSD + s.realizedUSD
}

// RecordOutcome 实现 ports.OutcomeRecorder
func (s *Sizer) RecordOutcome(symbol, strategy string, pnlUSD, returnPct float64) {
	s.tracker.Add(returnPct)
	s.mu.Lock()
	s.rollLocked()
	s.realizedUSD += pnlUSD
	s.closedToday++
	s.mu.Unlock()
	log.WithFields(logrus.Fields{"symbol": symbol, "strategy": strategy}).
		Debugf("仓位统计更新: return=%.4f%%", returnPct)
}

// Stats 当前滚动统计
func (s *Sizer) Stats() Stats { return s.tracker.Stats() }

func (s *Sizer) rollLocked() {
	key := domain.DayKeyOf(s.now())
	if s.dayKey == key {
		return
	}
	s.dayKey = key
	s.realizedUSD = 0
	s.closedToday = 0
}
