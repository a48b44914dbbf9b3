// Package scheduler 把准入、定仓和执行串起来：
// 按模式节奏从意图队列取单，逐个过风控闸门，定仓后交给执行引擎，每笔成交起一个监控协程。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/execbot/internal/common"
	"github.com/betbot/execbot/internal/domain"
	"github.com/betbot/execbot/internal/execution"
	"github.com/betbot/execbot/internal/risk"
	"github.com/betbot/execbot/internal/sizing"
	"github.com/betbot/execbot/pkg/syncgroup"
)

var log = logrus.WithField("component", "scheduler")

// ErrQueueFull 意图队列已满，调用方应稍后重试
var ErrQueueFull = errors.New("intent queue full")

// Admitter 风控闸门（*risk.Gate）
type Admitter interface {
	CanAdmit(symbol, strategy string) risk.Decision
	ValidateEdge(intent domain.TradeIntent, liquidityUSD, feesPct float64, slippagePct *float64, notionalUSD float64) risk.Decision
	MarkAdmitted(symbol string)
	ObserveMarket(s risk.MarketSample)
}

// SizeSource 定仓（*sizing.Sizer）
type SizeSource interface {
	Next() sizing.Sizing
}

// Executor 执行引擎（*execution.Engine）
type Executor interface {
	Execute(ctx context.Context, intent domain.TradeIntent, notionalUSD, equityUSD float64) (*domain.Trade, error)
	Supervise(ctx context.Context, t *domain.Trade, targetUSD float64) execution.Outcome
}

// Books 行情聚合（*marketdata.Aggregator）
type Books interface {
	TopLiquidityUSD(symbol string, venue ...string) float64
	FreshSnapshots(symbol string) []domain.VenueSnapshot
}

// Config 调度配置
type Config struct {
	Mode risk.Mode
	// Interval 为 0 时按模式取：conservative 5s，fast 1s
	Interval  time.Duration
	QueueSize int
	// RoundTripFeePct 边际检查使用的往返手续费（%）
	RoundTripFeePct float64
	// Symbols 每个 tick 观测中间价的交易对（喂给异动冻结）
	Symbols []string
}

func (c Config) normalized() Config {
	if c.Mode == "" {
		c.Mode = risk.ModeConservative
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
		if c.Mode == risk.ModeFast {
			c.Interval = time.Second
		}
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RoundTripFeePct <= 0 {
		c.RoundTripFeePct = 0.2
	}
	return c
}

// Stats 调度计数
type Stats struct {
	Queued   int64     `json:"queued"`
	Dropped  int64     `json:"dropped"`
	Denied   int64     `json:"denied"`
	Executed int64     `json:"executed"`
	Rejected int64     `json:"rejected"`
	Closed   int64     `json:"closed"`
	Stopped  int64     `json:"stopped"`
	InQueue  int       `json:"in_queue"`
	InFlight int       `json:"in_flight"`
	LastTick time.Time `json:"last_tick"`
}

// Scheduler 意图调度器。队列有界；执行和监控都不在循环 goroutine 上。
type Scheduler struct {
	cfg   Config
	gate  Admitter
	sizer SizeSource
	exec  Executor
	books Books

	queue chan domain.TradeIntent
	loop  common.Loop
	work  *syncgroup.SyncGroup

	mu    sync.Mutex
	stats Stats

	now func() time.Time
}

// New 创建调度器
func New(cfg Config, gate Admitter, sizer SizeSource, exec Executor, books Books) *Scheduler {
	cfg = cfg.normalized()
	return &Scheduler{
		cfg:   cfg,
		gate:  gate,
		sizer: sizer,
		exec:  exec,
		books: books,
		queue: make(chan domain.TradeIntent, cfg.QueueSize),
		work:  syncgroup.NewSyncGroup(),
		now:   time.Now,
	}
}

// Submit 校验后入队；不阻塞
func (s *Scheduler) Submit(intent domain.TradeIntent) error {
	if intent == nil {
		return fmt.Errorf("nil intent")
	}
	if err := intent.Validate(); err != nil {
		return err
	}
	select {
	case s.queue <- intent:
		s.count(func(st *Stats) { st.Queued++ })
		return nil
	default:
		s.count(func(st *Stats) { st.Dropped++ })
		return ErrQueueFull
	}
}

// Start 启动调度循环。ctx 取消后循环退出，未平仓交易以 SHUTDOWN 平仓。
func (s *Scheduler) Start(ctx context.Context) {
	if !s.loop.Start(ctx, s.cfg.Interval, s.run) {
		return
	}
	log.Infof("调度启动: mode=%s interval=%v queue=%d", s.cfg.Mode, s.cfg.Interval, s.cfg.QueueSize)
}

// Wait 等待循环和所有执行/监控协程退出
func (s *Scheduler) Wait() {
	if done := s.loop.Done(); done != nil {
		<-done
	}
	s.work.Wait()
}

// Stats 计数快照
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()
	st.InQueue = len(s.queue)
	st.InFlight = s.work.Running()
	return st
}

func (s *Scheduler) run(ctx context.Context, tickC <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			if n := len(s.queue); n > 0 {
				log.Warnf("退出时丢弃 %d 个未处理意图", n)
			}
			return
		case <-tickC:
			s.Tick(ctx)
		}
	}
}

// Tick 一轮调度：观测中间价，然后处理本轮开始时队列里的全部意图
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.count(func(st *Stats) { st.LastTick = now })
	s.observe(now)

	for n := len(s.queue); n > 0; n-- {
		select {
		case intent := <-s.queue:
			s.process(ctx, intent)
		default:
			return
		}
	}
}

// observe 每个交易对取新鲜快照的平均中间价
func (s *Scheduler) observe(now time.Time) {
	for _, sym := range s.cfg.Symbols {
		snaps := s.books.FreshSnapshots(sym)
		if len(snaps) == 0 {
			continue
		}
		sum := 0.0
		for _, sn := range snaps {
			sum += sn.Mid
		}
		s.gate.ObserveMarket(risk.MarketSample{Symbol: sym, Price: sum / float64(len(snaps)), At: now})
	}
}

func (s *Scheduler) process(ctx context.Context, intent domain.TradeIntent) {
	c := intent.Core()
	ilog := log.WithFields(logrus.Fields{"symbol": c.Symbol, "strategy": c.Strategy, "kind": intent.Kind()})

	if d := s.gate.CanAdmit(c.Symbol, c.Strategy); !d.Allowed {
		s.count(func(st *Stats) { st.Denied++ })
		ilog.Infof("拒绝: %s %s", d.Reason, d.Detail)
		return
	}

	var liq float64
	if v := intent.PreferredVenue(); v != "" {
		liq = s.books.TopLiquidityUSD(c.Symbol, v)
	} else {
		liq = s.books.TopLiquidityUSD(c.Symbol)
	}
	sz := s.sizer.Next()
	if sz.NotionalUSD <= 0 {
		s.count(func(st *Stats) { st.Denied++ })
		ilog.Warnf("名义金额为 0（equity=%.2f），跳过", sz.EquityUSD)
		return
	}

	d := s.gate.ValidateEdge(intent, liq, s.cfg.RoundTripFeePct, nil, sz.NotionalUSD)
	if !d.Allowed {
		s.count(func(st *Stats) { st.Denied++ })
		ilog.Infof("拒绝: %s %s", d.Reason, d.Detail)
		return
	}
	s.gate.MarkAdmitted(c.Symbol)
	ilog.Infof("准入: notional=$%.2f target=$%.2f liq=$%.0f slip=%.3f%% edge=%.3f%%",
		sz.NotionalUSD, sz.TargetUSD, liq, d.SlippagePct, d.NetEdgePct)

	s.work.Go(func() { s.executeAndSupervise(ctx, intent, sz) })
}

func (s *Scheduler) executeAndSupervise(ctx context.Context, intent domain.TradeIntent, sz sizing.Sizing) {
	c := intent.Core()
	trade, err := s.exec.Execute(ctx, intent, sz.NotionalUSD, sz.EquityUSD)
	if err != nil {
		s.count(func(st *Stats) { st.Rejected++ })
		log.WithFields(logrus.Fields{"symbol": c.Symbol, "strategy": c.Strategy}).Warnf("执行失败: %v", err)
		return
	}
	s.count(func(st *Stats) { st.Executed++ })

	out := s.exec.Supervise(ctx, trade, sz.TargetUSD)
	s.count(func(st *Stats) {
		if out.Trade.Status == domain.TradeStopped {
			st.Stopped++
		} else {
			st.Closed++
		}
	})
}

func (s *Scheduler) count(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}
