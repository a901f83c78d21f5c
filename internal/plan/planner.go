package plan

import (
	"math"

	"github.com/Bumblebee0427/Crypto/internal/position"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Kind 区分平仓单与调仓单。平仓单以 reduceOnly 提交，不受最小名义价值约束。
type Kind string

const (
	KindClose  Kind = "close"
	KindAdjust Kind = "adjust"
)

// Action 为调仓计划中的单笔交易，Quantity 恒为正。
type Action struct {
	Symbol       string
	Side         Side
	Quantity     float64
	PositionSide position.Side
	Kind         Kind
}

// Build 对比当前持仓簿与目标持仓簿，生成有序的调仓计划。
//
// 顺序即契约：先清掉目标中不存在的交易对，再逐个处理目标交易对；
// 单个交易对内反方向平仓永远先于同方向调仓，先释放保证金再占用，
// 避免保证金不足导致的拒单。|diff| 不超过 epsilon 的调整被抑制。
func Build(current position.Book, target position.TargetBook, epsilon float64) []Action {
	if epsilon < 0 {
		epsilon = 0
	}

	actions := make([]Action, 0, len(current)+2*len(target))

	// 1. 目标中不存在的交易对：逐方向清仓。
	for _, symbol := range current.Symbols() {
		if _, ok := target[symbol]; ok {
			continue
		}
		actions = append(actions, closeActions(symbol, current[symbol])...)
	}

	// 2. 目标中的交易对：先平反方向，再调整同方向。
	for _, symbol := range target.Symbols() {
		targetQty := target[symbol]
		exposure := current[symbol]

		switch {
		case targetQty > 0:
			if exposure.Short > 0 {
				actions = append(actions, Action{
					Symbol:       symbol,
					Side:         SideBuy,
					Quantity:     exposure.Short,
					PositionSide: position.SideShort,
					Kind:         KindClose,
				})
			}
			if diff := targetQty - exposure.Long; math.Abs(diff) > epsilon {
				side := SideBuy
				if diff < 0 {
					side = SideSell
				}
				actions = append(actions, Action{
					Symbol:       symbol,
					Side:         side,
					Quantity:     math.Abs(diff),
					PositionSide: position.SideLong,
					Kind:         KindAdjust,
				})
			}

		case targetQty < 0:
			if exposure.Long > 0 {
				actions = append(actions, Action{
					Symbol:       symbol,
					Side:         SideSell,
					Quantity:     exposure.Long,
					PositionSide: position.SideLong,
					Kind:         KindClose,
				})
			}
			if diff := math.Abs(targetQty) - exposure.Short; math.Abs(diff) > epsilon {
				side := SideSell
				if diff < 0 {
					side = SideBuy
				}
				actions = append(actions, Action{
					Symbol:       symbol,
					Side:         side,
					Quantity:     math.Abs(diff),
					PositionSide: position.SideShort,
					Kind:         KindAdjust,
				})
			}

		default:
			actions = append(actions, closeActions(symbol, exposure)...)
		}
	}

	return actions
}

func closeActions(symbol string, exposure position.Exposure) []Action {
	actions := make([]Action, 0, 2)
	if exposure.Long > 0 {
		actions = append(actions, Action{
			Symbol:       symbol,
			Side:         SideSell,
			Quantity:     exposure.Long,
			PositionSide: position.SideLong,
			Kind:         KindClose,
		})
	}
	if exposure.Short > 0 {
		actions = append(actions, Action{
			Symbol:       symbol,
			Side:         SideBuy,
			Quantity:     exposure.Short,
			PositionSide: position.SideShort,
			Kind:         KindClose,
		})
	}
	return actions
}
