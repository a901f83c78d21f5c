package report

import (
	"time"
)

// CycleRecord 描述一次调仓周期的落库快照。
type CycleRecord struct {
	ID          int64          `json:"id"`
	SignalTime  time.Time      `json:"signal_time"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Filled      int            `json:"filled"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	FreeBalance float64        `json:"free_balance"`
	Actions     []ActionRecord `json:"actions"`
}

// ActionRecord 描述周期内单笔交易的落库明细。
type ActionRecord struct {
	Symbol       string  `json:"symbol"`
	Kind         string  `json:"kind"`
	Side         string  `json:"side"`
	PositionSide string  `json:"position_side"`
	Quantity     float64 `json:"quantity"`
	Outcome      string  `json:"outcome"`
	OrderID      string  `json:"order_id,omitempty"`
	Error        string  `json:"error,omitempty"`
}
