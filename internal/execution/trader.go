package execution

import (
	"context"

	"github.com/Bumblebee0427/Crypto/internal/plan"
)

// Trader 抽象计划执行器接口，方便切换真实或模拟下单。
type Trader interface {
	Execute(ctx context.Context, actions []plan.Action) (Report, error)
}
