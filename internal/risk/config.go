package risk

import "time"

// Mode 运行模式：conservative 的流动性/滑点限制比 fast 更紧
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeFast         Mode = "fast"
)

// ModeLimits 某个模式下的准入阈值
type ModeLimits struct {
	MinLiquidityUSD float64
	MaxSlippagePct  float64
	MinNetEdgePct   float64
}

// LimitsFor 返回模式对应的阈值；未知模式按 conservative
func LimitsFor(m Mode) ModeLimits {
	if m == ModeFast {
		return ModeLimits{MinLiquidityUSD: 20000, MaxSlippagePct: 0.60, MinNetEdgePct: 0.1}
	}
	return ModeLimits{MinLiquidityUSD: 50000, MaxSlippagePct: 0.30, MinNetEdgePct: 0.1}
}

// Config 准入闸门配置；零值字段由 normalized 填默认值
type Config struct {
	Mode Mode

	ReferenceNotionalUSD float64
	DailyLossLimitPct    float64
	MaxConsecutiveLosses int
	CircuitBreaker       time.Duration

	CooldownLossStreak int
	Cooldown           time.Duration
	MinSignalInterval  time.Duration

	// 事件闸门（阈值均可调）
	SpikeMovePct     float64
	SpikeWindow      time.Duration
	SpikeVolumeRatio float64
	SpikeFreeze      time.Duration

	SentimentExtreme  float64
	RegulatoryExtreme float64 // 负数；监管情绪 ≤ 该值触发
	NewsFreeze        time.Duration

	// SlippageCoefficient 滑点模型 k·sqrt(notional/liquidity) 的系数
	SlippageCoefficient float64
}

func (c Config) normalized() Config {
	if c.Mode != ModeFast {
		c.Mode = ModeConservative
	}
	if c.ReferenceNotionalUSD <= 0 {
		c.ReferenceNotionalUSD = 10000
	}
	if c.DailyLossLimitPct <= 0 {
		c.DailyLossLimitPct = 2
	}
	if c.MaxConsecutiveLosses <= 0 {
		c.MaxConsecutiveLosses = 3
	}
	if c.CircuitBreaker <= 0 {
		c.CircuitBreaker = 15 * time.Minute
	}
	if c.CooldownLossStreak <= 0 {
		c.CooldownLossStreak = 2
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Minute
	}
	if c.MinSignalInterval < 0 {
		c.MinSignalInterval = 0
	} else if c.MinSignalInterval == 0 {
		c.MinSignalInterval = 20 * time.Second
	}
	if c.SpikeMovePct <= 0 {
		c.SpikeMovePct = 1
	}
	if c.SpikeWindow <= 0 {
		c.SpikeWindow = time.Minute
	}
	if c.SpikeVolumeRatio <= 0 {
		c.SpikeVolumeRatio = 3
	}
	if c.SpikeFreeze <= 0 {
		c.SpikeFreeze = 3 * time.Minute
	}
	if c.SentimentExtreme <= 0 {
		c.SentimentExtreme = 0.8
	}
	if c.RegulatoryExtreme >= 0 {
		c.RegulatoryExtreme = -0.6
	}
	if c.NewsFreeze <= 0 {
		c.NewsFreeze = 5 * time.Minute
	}
	if c.SlippageCoefficient <= 0 {
		c.SlippageCoefficient = 1
	}
	return c
}

// DailyLossLimitUSD 当日亏损上限（正数）
func (c Config) DailyLossLimitUSD() float64 {
	return c.ReferenceNotionalUSD * c.DailyLossLimitPct / 100
}
