package risk

import (
	"math"
	"sync"
	"time"
)

// MarketSample 一次行情观测（中间价 + 可选的区间成交量）
type MarketSample struct {
	Symbol string
	Price  float64
	Volume float64 // <= 0 表示没有成交量数据
	At     time.Time
}

// SentimentSample 新闻/情绪评分，范围 [-1, 1]
type SentimentSample struct {
	Symbol     string
	Score      float64
	Regulatory float64
	Source     string
	At         time.Time
}

// volumeLookback 成交量突增对比的历史样本数
const volumeLookback = 3

// SpikeGuard 短窗口价格剧烈波动或成交量突增时全局冻结。
//
// 冻结是纯计时器：到期自动解除，不提供清除接口。
type SpikeGuard struct {
	movePct     float64
	window      time.Duration
	volumeRatio float64
	freeze      time.Duration

	mu      sync.Mutex
	samples map[string][]MarketSample
	until   time.Time
	cause   string
}

func newSpikeGuard(cfg Config) *SpikeGuard {
	return &SpikeGuard{
		movePct:     cfg.SpikeMovePct,
		window:      cfg.SpikeWindow,
		volumeRatio: cfg.SpikeVolumeRatio,
		freeze:      cfg.SpikeFreeze,
		samples:     make(map[string][]MarketSample),
	}
}

// Observe 记录样本；触发时返回 true
func (g *SpikeGuard) Observe(s MarketSample) bool {
	if s.Price <= 0 || s.Symbol == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	hist := g.samples[s.Symbol]
	cutoff := s.At.Add(-g.window)
	i := 0
	for i < len(hist) && hist[i].At.Before(cutoff) {
		i++
	}
	hist = hist[i:]

	cause := ""
	if len(hist) > 0 {
		oldest := hist[0].Price
		if move := math.Abs(s.Price-oldest) / oldest * 100; move >= g.movePct {
			cause = "price move"
		}
	}
	if cause == "" && s.Volume > 0 {
		var sum float64
		n := 0
		for j := len(hist) - 1; j >= 0 && n < volumeLookback; j-- {
			if hist[j].Volume > 0 {
				sum += hist[j].Volume
				n++
			}
		}
		if n == volumeLookback && s.Volume/(sum/float64(n)) >= g.volumeRatio {
			cause = "volume surge"
		}
	}
	g.samples[s.Symbol] = append(hist, s)

	if cause == "" {
		return false
	}
	if until := s.At.Add(g.freeze); until.After(g.until) {
		g.until = until
		g.cause = s.Symbol + " " + cause
	}
	return true
}

// Active 冻结中返回到期时间
func (g *SpikeGuard) Active(now time.Time) (time.Time, string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if now.Before(g.until) {
		return g.until, g.cause, true
	}
	return time.Time{}, "", false
}

// NewsGate 情绪评分越过极值时全局冻结；同样是纯计时器。
type NewsGate struct {
	extreme    float64
	regulatory float64
	freeze     time.Duration

	mu    sync.Mutex
	until time.Time
	cause string
}

func newNewsGate(cfg Config) *NewsGate {
	return &NewsGate{extreme: cfg.SentimentExtreme, regulatory: cfg.RegulatoryExtreme, freeze: cfg.NewsFreeze}
}

// Observe 触发时返回 true
func (g *NewsGate) Observe(s SentimentSample) bool {
	var cause string
	switch {
	case math.Abs(s.Score) >= g.extreme:
		cause = "sentiment extreme"
	case s.Regulatory <= g.regulatory:
		cause = "regulatory"
	default:
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if until := s.At.Add(g.freeze); until.After(g.until) {
		g.until = until
		g.cause = cause
		if s.Source != "" {
			g.cause += " (" + s.Source + ")"
		}
	}
	return true
}

// Active 冻结中返回到期时间
func (g *NewsGate) Active(now time.Time) (time.Time, string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if now.Before(g.until) {
		return g.until, g.cause, true
	}
	return time.Time{}, "", false
}
