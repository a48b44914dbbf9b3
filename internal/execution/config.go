package execution

import "time"

// Config 执行引擎配置；零值字段由 normalized 填默认值
type Config struct {
	MaxSpreadBps    float64
	MinDepthUSD     float64
	DepthMultiplier float64

	// 低余额模式：权益低于 UltraLowBalanceUSD 时放宽深度要求
	UltraLowBalanceUSD      float64
	UltraLowMinDepthUSD     float64
	UltraLowDepthMultiplier float64

	LadderLevels     int
	LadderStepBps    float64
	LadderFractions  []float64
	Timebox          time.Duration
	FillPollInterval time.Duration
	// MinMakerFillProb > 0 时，估计成交概率低于它就跳过梯子直接扫单
	MinMakerFillProb float64

	SweepMaxChunks  int
	SweepChunkDelay time.Duration

	MonitorMaxDuration   time.Duration
	MonitorPollInterval  time.Duration
	PartialCloseFraction float64
	PartialTriggerRatio  float64
	TrailingStopBps      float64

	// FeesPct 每个交易所的单边手续费（%）
	FeesPct       map[string]float64
	DefaultFeePct float64

	InFlightTTL   time.Duration
	CancelTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.MaxSpreadBps <= 0 {
		c.MaxSpreadBps = 15
	}
	if c.MinDepthUSD <= 0 {
		c.MinDepthUSD = 10000
	}
	if c.DepthMultiplier <= 0 {
		c.DepthMultiplier = 3
	}
	if c.UltraLowBalanceUSD <= 0 {
		c.UltraLowBalanceUSD = 100
	}
	if c.UltraLowMinDepthUSD <= 0 {
		c.UltraLowMinDepthUSD = 50
	}
	if c.UltraLowDepthMultiplier <= 0 {
		c.UltraLowDepthMultiplier = 1
	}
	if c.LadderLevels <= 0 {
		c.LadderLevels = 3
	}
	if c.LadderStepBps <= 0 {
		c.LadderStepBps = 2
	}
	if len(c.LadderFractions) == 0 {
		c.LadderFractions = []float64{0.4, 0.3, 0.2}
	}
	if c.Timebox <= 0 {
		c.Timebox = 4 * time.Second
	}
	if c.FillPollInterval <= 0 {
		c.FillPollInterval = 250 * time.Millisecond
	}
	if c.SweepMaxChunks <= 0 || c.SweepMaxChunks > 4 {
		c.SweepMaxChunks = 4
	}
	if c.SweepChunkDelay <= 0 {
		c.SweepChunkDelay = 100 * time.Millisecond
	}
	if c.MonitorMaxDuration <= 0 {
		c.MonitorMaxDuration = 5 * time.Minute
	}
	if c.MonitorPollInterval <= 0 {
		c.MonitorPollInterval = 2 * time.Second
	}
	if c.PartialCloseFraction <= 0 || c.PartialCloseFraction >= 1 {
		c.PartialCloseFraction = 0.5
	}
	if c.PartialTriggerRatio <= 0 || c.PartialTriggerRatio >= 1 {
		c.PartialTriggerRatio = 0.5
	}
	if c.TrailingStopBps <= 0 {
		c.TrailingStopBps = 15
	}
	if c.DefaultFeePct <= 0 {
		c.DefaultFeePct = 0.1
	}
	if c.InFlightTTL <= 0 {
		c.InFlightTTL = c.Timebox + time.Duration(c.SweepMaxChunks)*c.SweepChunkDelay + 30*time.Second
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = 5 * time.Second
	}
	return c
}

func (c Config) feePct(venue string) float64 {
	if f, ok := c.FeesPct[venue]; ok && f >= 0 {
		return f
	}
	return c.DefaultFeePct
}
