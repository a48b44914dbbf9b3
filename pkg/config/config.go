package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode 运行模式
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeFast         Mode = "fast"
)

// VenueConfig 单个交易所配置
type VenueConfig struct {
	Name        string  `yaml:"name" validate:"required,oneof=binance okx bybit"`
	Enabled     bool    `yaml:"enabled"`
	RESTBaseURL string  `yaml:"rest_base_url" validate:"omitempty,url"`
	WSURL       string  `yaml:"ws_url" validate:"omitempty,url"` // 为空使用交易所默认地址
	FeePct      float64 `yaml:"fee_pct" validate:"gte=0,lt=1"`  // 单边 taker 手续费（%）
	Weight      int     `yaml:"weight_per_minute" validate:"gte=0"`
}

// MarketDataConfig 行情聚合配置
type MarketDataConfig struct {
	StaleAfterMs      int     `yaml:"stale_after_ms" validate:"gte=0"`
	LiquidityFloorUSD float64 `yaml:"liquidity_floor_usd" validate:"gte=0"`
	PingIntervalMs    int     `yaml:"ping_interval_ms" validate:"gte=0"`
	BackoffBaseMs     int     `yaml:"backoff_base_ms" validate:"gte=0"`
	BackoffMaxMs      int     `yaml:"backoff_max_ms" validate:"gte=0"`
	LatencyWeight     float64 `yaml:"latency_weight" validate:"gte=0"`
	DepthLevels       int     `yaml:"depth_levels" validate:"gte=0,lte=50"`
}

// ExecutionConfig 执行引擎配置
type ExecutionConfig struct {
	LadderLevels            int       `yaml:"ladder_levels" validate:"gte=0,lte=10"`
	LadderStepBps           float64   `yaml:"ladder_step_bps" validate:"gte=0"`
	LadderFractions         []float64 `yaml:"ladder_fractions" validate:"dive,gt=0,lte=1"`
	TimeboxMs               int       `yaml:"timebox_ms" validate:"gte=0"`
	FillPollMs              int       `yaml:"fill_poll_ms" validate:"gte=0"`
	MaxSpreadBps            float64   `yaml:"max_spread_bps" validate:"gte=0"`
	MinDepthUSD             float64   `yaml:"min_depth_usd" validate:"gte=0"`
	DepthMultiplier         float64   `yaml:"depth_multiplier" validate:"gte=0"`
	UltraLowBalanceUSD      float64   `yaml:"ultra_low_balance_usd" validate:"gte=0"`
	UltraLowMinDepthUSD     float64   `yaml:"ultra_low_min_depth_usd" validate:"gte=0"`
	UltraLowDepthMultiplier float64   `yaml:"ultra_low_depth_multiplier" validate:"gte=0"`
	SweepMaxChunks          int       `yaml:"sweep_max_chunks" validate:"gte=0,lte=4"`
	SweepChunkDelayMs       int       `yaml:"sweep_chunk_delay_ms" validate:"gte=0"`
	CancelTimeoutMs         int       `yaml:"cancel_timeout_ms" validate:"gte=0"`
	MonitorMaxMs            int       `yaml:"monitor_max_ms" validate:"gte=0"`
	MonitorPollMs           int       `yaml:"monitor_poll_ms" validate:"gte=0"`
	TrailingStopBps         float64   `yaml:"trailing_stop_bps" validate:"gte=0"`
	PartialCloseFraction    float64   `yaml:"partial_close_fraction" validate:"gte=0,lt=1"`
	PartialTriggerRatio     float64   `yaml:"partial_trigger_ratio" validate:"gte=0,lt=1"` // 浮盈达到目标的该比例时部分止盈
	MinMakerFillProb        float64   `yaml:"min_maker_fill_prob" validate:"gte=0,lte=1"`
}

// RiskConfig 风控配置
type RiskConfig struct {
	ReferenceNotionalUSD float64 `yaml:"reference_notional_usd" validate:"gte=0"`
	DailyLossLimitPct    float64 `yaml:"daily_loss_limit_pct" validate:"gte=0,lte=100"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" validate:"gte=0"`
	CircuitBreakerMs     int     `yaml:"circuit_breaker_ms" validate:"gte=0"`
	CooldownLossStreak   int     `yaml:"cooldown_loss_streak" validate:"gte=0"`
	CooldownMs           int     `yaml:"cooldown_ms" validate:"gte=0"`
	MinSignalIntervalMs  int     `yaml:"min_signal_interval_ms" validate:"gte=0"`
	SpikeMovePct         float64 `yaml:"spike_move_pct" validate:"gte=0"`
	SpikeWindowMs        int     `yaml:"spike_window_ms" validate:"gte=0"`
	SpikeVolumeRatio     float64 `yaml:"spike_volume_ratio" validate:"gte=0"`
	SpikeFreezeMs        int     `yaml:"spike_freeze_ms" validate:"gte=0"`
	SentimentExtreme     float64 `yaml:"sentiment_extreme" validate:"gte=0,lte=1"`
	RegulatoryExtreme    float64 `yaml:"regulatory_extreme" validate:"gte=-1,lte=0"` // 负数
	NewsFreezeMs         int     `yaml:"news_freeze_ms" validate:"gte=0"`
}

// SizingConfig 仓位配置
type SizingConfig struct {
	EquityUSD          float64 `yaml:"equity_usd" validate:"gte=0"`
	KellyCap           float64 `yaml:"kelly_cap" validate:"gte=0,lte=1"`
	LeverageMax        float64 `yaml:"leverage_max" validate:"gte=0"`
	TargetVolPct       float64 `yaml:"target_vol_pct" validate:"gte=0"`
	NotionalCeilingUSD float64 `yaml:"notional_ceiling_usd" validate:"gte=0"`
	DailyTargetUSD     float64 `yaml:"daily_target_usd" validate:"gte=0"`
	PlannedTrades      int     `yaml:"planned_trades" validate:"gte=0"`
	MinTradeTargetUSD  float64 `yaml:"min_trade_target_usd" validate:"gte=0"`
	MaxTradeTargetUSD  float64 `yaml:"max_trade_target_usd" validate:"gte=0"`
}

// PersistenceConfig 持久化配置
type PersistenceConfig struct {
	Dir           string `yaml:"dir"`
	Backend       string `yaml:"backend" validate:"omitempty,oneof=badger json"`
	RetentionDays int    `yaml:"retention_days" validate:"gte=0"`
	TradesDB      string `yaml:"trades_db"`
	SecretsDir    string `yaml:"secrets_dir"`
}

// ServerConfig 控制面 HTTP 配置
type ServerConfig struct {
	Listen          string `yaml:"listen"`
	IntakePerMinute int    `yaml:"intake_per_minute" validate:"gte=0"`
	MetricsListen   string `yaml:"metrics_listen"`
}

// LogConfig 日志配置（映射到 pkg/logger.Config）
type LogConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Format     string `yaml:"format" validate:"omitempty,oneof=text json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
}

// Config 应用配置
type Config struct {
	Mode        Mode              `yaml:"mode" validate:"omitempty,oneof=conservative fast"`
	DryRun      bool              `yaml:"dry_run"`
	Symbols     []string          `yaml:"symbols" validate:"dive,contains=/"`
	Venues      []VenueConfig     `yaml:"venues" validate:"required,min=1,dive"`
	MarketData  MarketDataConfig  `yaml:"marketdata"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Risk        RiskConfig        `yaml:"risk"`
	Sizing      SizingConfig      `yaml:"sizing"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	ProxyURL    string            `yaml:"proxy_url" validate:"omitempty,url"`
}

var validate = validator.New()

// Load 加载配置：.env（可选）→ YAML 文件 → 环境变量覆盖 → 默认值 → 校验
func Load(path string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 从内存中的 YAML 解析（不读环境变量）
func Parse(b []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := getEnv("EXECBOT_MODE", ""); v != "" {
		cfg.Mode = Mode(strings.ToLower(v))
	}
	cfg.DryRun = parseBoolEnv("EXECBOT_DRY_RUN", cfg.DryRun)
	if v := getEnv("EXECBOT_LOG_LEVEL", ""); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := getEnv("EXECBOT_SYMBOLS", ""); v != "" {
		cfg.Symbols = parseList(v)
	}
	if v := getEnv("EXECBOT_LISTEN", ""); v != "" {
		cfg.Server.Listen = v
	}
	if v := getEnv("EXECBOT_PROXY_URL", ""); v != "" {
		cfg.ProxyURL = v
	}
	cfg.Sizing.EquityUSD = parseFloatEnv("EXECBOT_EQUITY_USD", cfg.Sizing.EquityUSD)
	cfg.Execution.TimeboxMs = parseIntEnv("EXECBOT_TIMEBOX_MS", cfg.Execution.TimeboxMs)
	cfg.Execution.MaxSpreadBps = parseFloatEnv("EXECBOT_MAX_SPREAD_BPS", cfg.Execution.MaxSpreadBps)
}

// applyDefaults 只填充零值字段
func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeConservative
	}
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"BTC/USDT", "ETH/USDT"}
	}
	for i := range c.Venues {
		if c.Venues[i].FeePct == 0 {
			c.Venues[i].FeePct = 0.1
		}
		if c.Venues[i].Weight == 0 {
			c.Venues[i].Weight = 1200
		}
	}

	md := &c.MarketData
	setInt(&md.StaleAfterMs, 2000)
	setFloat(&md.LiquidityFloorUSD, 15000)
	setInt(&md.PingIntervalMs, 15000)
	setInt(&md.BackoffBaseMs, 500)
	setInt(&md.BackoffMaxMs, 15000)
	setFloat(&md.LatencyWeight, 10)
	setInt(&md.DepthLevels, 5)

	ex := &c.Execution
	setInt(&ex.LadderLevels, 3)
	setFloat(&ex.LadderStepBps, 2)
	if len(ex.LadderFractions) == 0 {
		ex.LadderFractions = []float64{0.4, 0.3, 0.2}
	}
	setInt(&ex.TimeboxMs, 4000)
	setInt(&ex.FillPollMs, 250)
	setFloat(&ex.MaxSpreadBps, 15)
	setFloat(&ex.MinDepthUSD, 10000)
	setFloat(&ex.DepthMultiplier, 3)
	setFloat(&ex.UltraLowBalanceUSD, 100)
	setFloat(&ex.UltraLowMinDepthUSD, 50)
	setFloat(&ex.UltraLowDepthMultiplier, 1)
	setInt(&ex.SweepMaxChunks, 4)
	setInt(&ex.SweepChunkDelayMs, 100)
	setInt(&ex.CancelTimeoutMs, 5000)
	setInt(&ex.MonitorMaxMs, 5*60*1000)
	setInt(&ex.MonitorPollMs, 2000)
	setFloat(&ex.TrailingStopBps, 15)
	setFloat(&ex.PartialCloseFraction, 0.5)
	setFloat(&ex.PartialTriggerRatio, 0.5)

	rk := &c.Risk
	setFloat(&rk.ReferenceNotionalUSD, 10000)
	setFloat(&rk.DailyLossLimitPct, 2)
	setInt(&rk.MaxConsecutiveLosses, 3)
	setInt(&rk.CircuitBreakerMs, 15*60*1000)
	setInt(&rk.CooldownLossStreak, 2)
	setInt(&rk.CooldownMs, 10*60*1000)
	setInt(&rk.MinSignalIntervalMs, 20000)
	setFloat(&rk.SpikeMovePct, 1)
	setInt(&rk.SpikeWindowMs, 60*1000)
	setFloat(&rk.SpikeVolumeRatio, 3)
	setInt(&rk.SpikeFreezeMs, 3*60*1000)
	setFloat(&rk.SentimentExtreme, 0.8)
	setFloat(&rk.RegulatoryExtreme, -0.6)
	setInt(&rk.NewsFreezeMs, 5*60*1000)

	sz := &c.Sizing
	setFloat(&sz.EquityUSD, 1000)
	setFloat(&sz.KellyCap, 0.25)
	setFloat(&sz.LeverageMax, 3)
	setFloat(&sz.TargetVolPct, 2)
	setFloat(&sz.NotionalCeilingUSD, 5000)
	setFloat(&sz.DailyTargetUSD, 100)
	setInt(&sz.PlannedTrades, 20)
	setFloat(&sz.MinTradeTargetUSD, 1)
	setFloat(&sz.MaxTradeTargetUSD, 25)

	p := &c.Persistence
	if p.Dir == "" {
		p.Dir = "data"
	}
	if p.Backend == "" {
		p.Backend = "badger"
	}
	setInt(&p.RetentionDays, 7)
	if p.TradesDB == "" {
		p.TradesDB = p.Dir + "/trades.db"
	}
	if p.SecretsDir == "" {
		p.SecretsDir = p.Dir + "/secrets"
	}

	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8088"
	}
	setInt(&c.Server.IntakePerMinute, 120)

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	setInt(&c.Log.MaxSizeMB, 100)
	setInt(&c.Log.MaxBackups, 3)
	setInt(&c.Log.MaxAgeDays, 7)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	enabled := 0
	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		if seen[v.Name] {
			return fmt.Errorf("交易所 %s 重复配置", v.Name)
		}
		seen[v.Name] = true
		if v.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("至少需要启用一个交易所")
	}
	sum := 0.0
	for _, f := range c.Execution.LadderFractions {
		sum += f
	}
	if sum > 1+1e-9 {
		return fmt.Errorf("ladder_fractions 之和不能超过 1（当前 %.4f）", sum)
	}
	if c.Sizing.MinTradeTargetUSD > c.Sizing.MaxTradeTargetUSD {
		return fmt.Errorf("min_trade_target_usd 不能大于 max_trade_target_usd")
	}
	return nil
}

// EnabledVenues 返回启用的交易所
func (c *Config) EnabledVenues() []VenueConfig {
	out := make([]VenueConfig, 0, len(c.Venues))
	for _, v := range c.Venues {
		if v.Enabled {
			out = append(out, v)
		}
	}
	return out
}

func setInt(p *int, def int) {
	if *p == 0 {
		*p = def
	}
}

func setFloat(p *float64, def float64) {
	if *p == 0 {
		*p = def
	}
}

func parseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return v
}

func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return v
}
