package execution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Bumblebee0427/Crypto/internal/plan"
)

// Simulator 只打印计划不触碰交易所，用于上线前演练。
type Simulator struct {
	logger *zap.Logger
}

// NewSimulator 创建模拟执行器。
func NewSimulator(logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{logger: logger}
}

var _ Trader = (*Simulator)(nil)

// Execute 将每笔交易标记为成交并返回报告。
func (s *Simulator) Execute(ctx context.Context, actions []plan.Action) (Report, error) {
	report := Report{
		Results:   make([]ActionResult, 0, len(actions)),
		StartedAt: time.Now().UTC(),
	}

	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, err
		}

		s.logger.Info("模拟执行交易",
			zap.String("symbol", action.Symbol),
			zap.String("kind", string(action.Kind)),
			zap.String("side", string(action.Side)),
			zap.Float64("quantity", action.Quantity),
			zap.String("position_side", string(action.PositionSide)),
		)

		report.Results = append(report.Results, ActionResult{
			Action:  action,
			Outcome: OutcomeFilled,
			OrderID: fmt.Sprintf("sim-%d", i+1),
		})
	}

	report.FinishedAt = time.Now().UTC()
	return report, nil
}
