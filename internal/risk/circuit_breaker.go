package risk

import (
	"time"

	"github.com/betbot/execbot/internal/domain"
)

// CircuitBreakerConfig 全局断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveLosses 全局连续亏损上限
	MaxConsecutiveLosses int

	// DailyLossLimitUSD 当日最大亏损（正数）。达到或超过时熔断。
	DailyLossLimitUSD float64

	Cooldown time.Duration
}

// CircuitBreaker 全局断路器。
//
// 本身不持有状态：计数和到期时间都在 RiskState 里，由 Gate 在自己的锁内调用。
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg}
}

// Open 断路器是否处于冷却期
func (cb *CircuitBreaker) Open(s *domain.RiskState, now time.Time) bool {
	if cb == nil || s == nil {
		return false
	}
	return now.Before(s.GlobalCooldownUntil)
}

// DailyLossExceeded 当日已实现亏损是否达到上限
func (cb *CircuitBreaker) DailyLossExceeded(s *domain.RiskState) bool {
	if cb == nil || s == nil || cb.cfg.DailyLossLimitUSD <= 0 {
		return false
	}
	return s.RealizedPnL <= -cb.cfg.DailyLossLimitUSD
}

// OnOutcome 记录一笔平仓后检查是否需要熔断；触发时返回 true 和原因。
//
// 熔断后全局连亏计数清零，冷却期满重新累计。
func (cb *CircuitBreaker) OnOutcome(s *domain.RiskState, now time.Time) (bool, string) {
	if cb == nil || s == nil {
		return false, ""
	}
	var why string
	switch {
	case cb.DailyLossExceeded(s):
		why = "daily loss limit"
	case cb.cfg.MaxConsecutiveLosses > 0 && s.ConsecutiveLosses >= cb.cfg.MaxConsecutiveLosses:
		why = "consecutive losses"
	default:
		return false, ""
	}
	s.GlobalCooldownUntil = now.Add(cb.cfg.Cooldown)
	s.ConsecutiveLosses = 0
	return true, why
}
