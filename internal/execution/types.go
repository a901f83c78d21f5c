package execution

import (
	"time"

	"github.com/Bumblebee0427/Crypto/internal/plan"
)

// Outcome 表示单笔交易的执行结果。
type Outcome string

const (
	// OutcomeFilled 订单已提交成交。
	OutcomeFilled Outcome = "filled"
	// OutcomeSkipped 数量低于交易所最小限制，主动放弃提交。
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed 提交失败或前置步骤出错，计划继续执行后续交易。
	OutcomeFailed Outcome = "failed"
)

// ActionResult 记录单笔交易的动作、结果与回执。
type ActionResult struct {
	Action  plan.Action
	Outcome Outcome
	OrderID string
	Error   string
}

// Report 为一次调仓周期的执行报告，逐笔可观测，绝不吞错。
type Report struct {
	Results    []ActionResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Counts 汇总各结果的数量。
func (r Report) Counts() (filled, skipped, failed int) {
	for _, result := range r.Results {
		switch result.Outcome {
		case OutcomeFilled:
			filled++
		case OutcomeSkipped:
			skipped++
		case OutcomeFailed:
			failed++
		}
	}
	return filled, skipped, failed
}
