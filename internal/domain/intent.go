package domain

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// IntentKind 交易意图的变体标签
type IntentKind string

const (
	IntentSignal    IntentKind = "signal"    // 方向性信号（技术/情绪/链上）
	IntentArbitrage IntentKind = "arbitrage" // 跨交易所价差
)

// IntentCore 执行引擎实际消费的字段；所有变体都携带。
type IntentCore struct {
	Symbol            string  `json:"symbol" validate:"required"`
	Side              Side    `json:"side" validate:"required,oneof=BUY SELL"`
	Confidence        float64 `json:"confidence" validate:"gte=0,lte=1"`
	ExpectedProfitPct float64 `json:"expected_profit_pct" validate:"gte=0"`
	EntryPrice        float64 `json:"entry_price" validate:"gt=0"`
	TargetPrice       float64 `json:"target_price" validate:"gt=0"`
	StopPrice         float64 `json:"stop_price" validate:"gt=0"`
	Strategy          string  `json:"strategy" validate:"required"`
}

// TradeIntent 封闭的意图联合类型。只有本包内的类型可以实现它。
//
// 只会伪造占位数值的来源（MEV/收益农场扫描器等）必须在边界处适配成这里的某个变体。
type TradeIntent interface {
	Kind() IntentKind
	Core() IntentCore
	// PreferredVenue 为空表示由路由决定
	PreferredVenue() string
	Validate() error

	isTradeIntent()
}

// SignalIntent 方向性信号意图
type SignalIntent struct {
	IntentCore
	Source string `json:"source"`
}

func (SignalIntent) Kind() IntentKind       { return IntentSignal }
func (i SignalIntent) Core() IntentCore     { return i.IntentCore }
func (SignalIntent) PreferredVenue() string { return "" }
func (SignalIntent) isTradeIntent()         {}
func (i SignalIntent) Validate() error      { return validateCore(i.IntentCore) }

// ArbitrageIntent 跨交易所价差意图：在 BuyVenue 建仓，目标价取 SellVenue 的可成交价。
type ArbitrageIntent struct {
	IntentCore
	BuyVenue  string  `json:"buy_venue" validate:"required"`
	SellVenue string  `json:"sell_venue" validate:"required,nefield=BuyVenue"`
	SpreadPct float64 `json:"spread_pct" validate:"gt=0"`
}

func (ArbitrageIntent) Kind() IntentKind   { return IntentArbitrage }
func (i ArbitrageIntent) Core() IntentCore { return i.IntentCore }
func (i ArbitrageIntent) PreferredVenue() string {
	if i.Side == SideSell {
		return i.SellVenue
	}
	return i.BuyVenue
}
func (ArbitrageIntent) isTradeIntent() {}

func (i ArbitrageIntent) Validate() error {
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("invalid arbitrage intent: %w", err)
	}
	return validateCore(i.IntentCore)
}

func validateCore(c IntentCore) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid intent: %w", err)
	}
	if strings.Count(c.Symbol, "/") != 1 {
		return fmt.Errorf("invalid intent: symbol %q must be BASE/QUOTE", c.Symbol)
	}
	// 目标价在有利方向，止损价在不利方向
	switch c.Side {
	case SideBuy:
		if !(c.StopPrice < c.EntryPrice && c.EntryPrice < c.TargetPrice) {
			return fmt.Errorf("invalid intent: buy requires stop < entry < target (%.8g/%.8g/%.8g)", c.StopPrice, c.EntryPrice, c.TargetPrice)
		}
	case SideSell:
		if !(c.TargetPrice < c.EntryPrice && c.EntryPrice < c.StopPrice) {
			return fmt.Errorf("invalid intent: sell requires target < entry < stop (%.8g/%.8g/%.8g)", c.TargetPrice, c.EntryPrice, c.StopPrice)
		}
	}
	return nil
}
