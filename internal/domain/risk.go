package domain

import "time"

// RiskState 准入闸门的全部可变状态（每个运行中的引擎一个，显式持有，不是全局变量）。
//
// 只通过 risk.Gate 的方法修改；UTC 日切时重置。
type RiskState struct {
	DayKey              string               `json:"day_key"` // 2006-01-02（UTC）
	RealizedPnL         float64              `json:"realized_pnl"`
	ConsecutiveLosses   int                  `json:"consecutive_losses"`
	GlobalCooldownUntil time.Time            `json:"global_cooldown_until"`
	SymbolCooldowns     map[string]time.Time `json:"symbol_cooldowns"`
	StrategyCooldowns   map[string]time.Time `json:"strategy_cooldowns"`
	SymbolLossStreaks   map[string]int       `json:"symbol_loss_streaks"`
	TradesToday         int                  `json:"trades_today"`
	Wins                int                  `json:"wins"`
	Losses              int                  `json:"losses"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// DayKeyOf 返回 t 的 UTC 日期键
func DayKeyOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// NewRiskState 创建某一天的空状态
func NewRiskState(dayKey string) RiskState {
	return RiskState{
		DayKey:            dayKey,
		SymbolCooldowns:   make(map[string]time.Time),
		StrategyCooldowns: make(map[string]time.Time),
		SymbolLossStreaks: make(map[string]int),
	}
}

// Clone 深拷贝（用于锁外持久化/对外暴露）
func (s RiskState) Clone() RiskState {
	out := s
	out.SymbolCooldowns = make(map[string]time.Time, len(s.SymbolCooldowns))
	for k, v := range s.SymbolCooldowns {
		out.SymbolCooldowns[k] = v
	}
	out.StrategyCooldowns = make(map[string]time.Time, len(s.StrategyCooldowns))
	for k, v := range s.StrategyCooldowns {
		out.StrategyCooldowns[k] = v
	}
	out.SymbolLossStreaks = make(map[string]int, len(s.SymbolLossStreaks))
	for k, v := range s.SymbolLossStreaks {
		out.SymbolLossStreaks[k] = v
	}
	return out
}

// EnsureMaps 反序列化后补齐 nil map
func (s *RiskState) EnsureMaps() {
	if s.SymbolCooldowns == nil {
		s.SymbolCooldowns = make(map[string]time.Time)
	}
	if s.StrategyCooldowns == nil {
		s.StrategyCooldowns = make(map[string]time.Time)
	}
	if s.SymbolLossStreaks == nil {
		s.SymbolLossStreaks = make(map[string]int)
	}
}
