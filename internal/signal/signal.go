package signal

import (
	"context"
	"errors"
	"time"

	"github.com/Bumblebee0427/Crypto/internal/position"
)

// ErrNoSignal 表示没有可用的目标仓位信号。
var ErrNoSignal = errors.New("signal: 没有可用的目标仓位信号")

// Source 提供最新的目标持仓簿及其生成时间。
// 调仓核心只依赖此接口，信号的来源与格式对核心不可见。
type Source interface {
	FetchLatestTargetPositions(ctx context.Context) (position.TargetBook, time.Time, error)
}

// IsStale 判断信号时间是否超出时效阈值。
func IsStale(generatedAt, now time.Time, threshold time.Duration) bool {
	if generatedAt.IsZero() {
		return true
	}
	return now.Sub(generatedAt) > threshold
}
