package sizing

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNonconvergent 表示在限定步数内无法满足最小名义价值，
	// 多半是价格非法或参数病态。
	ErrNonconvergent = errors.New("sizing: 无法在限定步数内满足最小名义价值")
	// ErrBelowMinimumLot 表示按步长截断后数量归零。
	ErrBelowMinimumLot = errors.New("sizing: 截断后数量低于最小步长")
)

// Sizer 将期望的带符号数量映射为交易所可接受的下单数量。
// LotStep 只是全局兜底，每笔交易以市场元数据中的步长为准。
type Sizer struct {
	MinNotional   float64
	LotStep       float64
	MaxIterations int
}

// NewSizer 创建数量规整器。
func NewSizer(minNotional, lotStep float64, maxIterations int) *Sizer {
	if lotStep <= 0 {
		lotStep = 1
	}
	if maxIterations <= 0 {
		maxIterations = 1000
	}
	return &Sizer{
		MinNotional:   minNotional,
		LotStep:       lotStep,
		MaxIterations: maxIterations,
	}
}

// Size 返回与 quantity 同号的可下单数量。lotStep 为该交易对的
// 数量步长，非正时退回全局兜底步长。
//
// 平仓单（reduceOnly）原样放行，平仓绝不能被名义价值下限挡住。
// 开仓/调仓单先按步长递增数量直到名义价值达标，再向下截断到步长的
// 整数倍；截断可能跌破名义价值下限，此时再补步长直至重新达标。
func (s *Sizer) Size(quantity, price, lotStep float64, reduceOnly bool) (float64, error) {
	if quantity == 0 {
		return 0, fmt.Errorf("sizing: 数量不能为零")
	}
	if reduceOnly {
		return quantity, nil
	}

	step := lotStep
	if step <= 0 {
		step = s.LotStep
	}

	sign := 1.0
	if quantity < 0 {
		sign = -1.0
	}
	magnitude := math.Abs(quantity)

	iterations := 0
	bump := func() error {
		for magnitude*price < s.MinNotional {
			if iterations >= s.MaxIterations {
				return fmt.Errorf("%w: quantity=%.8f price=%.8f", ErrNonconvergent, magnitude, price)
			}
			iterations++
			magnitude += step
		}
		return nil
	}

	if err := bump(); err != nil {
		return 0, err
	}

	// 除法上加极小量，抵消浮点误差导致的误截断。
	magnitude = math.Floor(magnitude/step+1e-9) * step
	if magnitude <= 0 {
		return 0, fmt.Errorf("%w: quantity=%.8f step=%.8f", ErrBelowMinimumLot, quantity, step)
	}

	// 截断可能重新跌破名义价值下限。
	if err := bump(); err != nil {
		return 0, err
	}

	return sign * magnitude, nil
}
