package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/betbot/execbot/internal/domain"
)

// NormalizeSize 把请求数量调整为交易所可接受的数量：
// 按步长取整，抬到最小数量/最小名义，压到最大数量。
//
// 得不到合法数量时返回 0 和错误，不会悄悄下一个交易所不接受的数量。
func NormalizeSize(size, price float64, rules domain.MarketRules) (float64, error) {
	if size <= 0 || price <= 0 {
		return 0, fmt.Errorf("size %.8g / price %.8g must be positive", size, price)
	}
	px := decimal.NewFromFloat(price)
	s := floorStep(decimal.NewFromFloat(size), rules.StepSize)

	if rules.MinQty > 0 {
		if minQty := ceilStep(decimal.NewFromFloat(rules.MinQty), rules.StepSize); s.LessThan(minQty) {
			s = minQty
		}
	}
	if rules.MinNotional > 0 {
		minNotional := decimal.NewFromFloat(rules.MinNotional)
		if s.Mul(px).LessThan(minNotional) {
			s = ceilStep(minNotional.Div(px), rules.StepSize)
		}
	}
	if rules.MaxQty > 0 {
		if maxQty := decimal.NewFromFloat(rules.MaxQty); s.GreaterThan(maxQty) {
			s = floorStep(maxQty, rules.StepSize)
		}
	}

	switch {
	case !s.IsPositive():
		return 0, fmt.Errorf("size %.8g rounds to zero with step %.8g", size, rules.StepSize)
	case rules.MinQty > 0 && s.LessThan(decimal.NewFromFloat(rules.MinQty)):
		return 0, fmt.Errorf("size %s below min qty %.8g", s, rules.MinQty)
	case rules.MinNotional > 0 && s.Mul(px).LessThan(decimal.NewFromFloat(rules.MinNotional)):
		return 0, fmt.Errorf("notional %s below min notional %.8g", s.Mul(px), rules.MinNotional)
	}
	return s.InexactFloat64(), nil
}

// RoundToStep 按步长向下取整（step <= 0 原样返回）
func RoundToStep(v, step float64) float64 {
	return floorStep(decimal.NewFromFloat(v), step).InexactFloat64()
}

func floorStep(v decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return v
	}
	st := decimal.NewFromFloat(step)
	return v.Div(st).Floor().Mul(st)
}

func ceilStep(v decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return v
	}
	st := decimal.NewFromFloat(step)
	return v.Div(st).Ceil().Mul(st)
}
