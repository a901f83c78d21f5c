package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Bumblebee0427/Crypto/internal/config"
	"github.com/Bumblebee0427/Crypto/internal/exchange"
	"github.com/Bumblebee0427/Crypto/internal/execution"
	"github.com/Bumblebee0427/Crypto/internal/marketdata"
	"github.com/Bumblebee0427/Crypto/internal/plan"
	"github.com/Bumblebee0427/Crypto/internal/position"
	"github.com/Bumblebee0427/Crypto/internal/signal"
)

type accountClient interface {
	FetchFreeBalance(ctx context.Context) (float64, error)
	FetchPositionRecords(ctx context.Context, symbols ...string) ([]exchange.PositionRecord, error)
}

type reportSaver interface {
	SaveReport(ctx context.Context, signalTime time.Time, freeBalance float64, rep execution.Report) (int64, error)
}

// reconciler 串起一次完整的调仓周期：
// 信号 -> 账户快照 -> 计划 -> 执行 -> 落库。
type reconciler struct {
	client  accountClient
	source  signal.Source
	trader  execution.Trader
	reports reportSaver
	updater *marketdata.Updater
	cfg     *config.Config
	logger  *zap.Logger
}

func (r *reconciler) updateDataset(ctx context.Context) error {
	if r.updater == nil {
		return nil
	}
	return r.updater.Update(ctx, false)
}

// RunCycle 执行一个调仓周期。返回错误意味着周期被中止；
// 单笔交易的失败不中止周期，体现在报告的 failed 计数里。
func (r *reconciler) RunCycle(ctx context.Context) error {
	target, generatedAt, err := r.source.FetchLatestTargetPositions(ctx)
	if err != nil {
		return fmt.Errorf("读取目标仓位信号失败: %w", err)
	}

	now := time.Now().UTC()
	if signal.IsStale(generatedAt, now, r.cfg.Signal.StaleThreshold) {
		age := now.Sub(generatedAt)
		if r.cfg.Signal.BlockOnStale {
			return fmt.Errorf("目标仓位信号已过期 %s，中止调仓", age.Round(time.Minute))
		}
		r.logger.Warn("目标仓位信号已过期，继续执行",
			zap.Time("generated_at", generatedAt),
			zap.Duration("age", age),
		)
	}

	freeBalance, err := r.client.FetchFreeBalance(ctx)
	if err != nil {
		return fmt.Errorf("查询可用保证金失败: %w", err)
	}
	if freeBalance <= 0 {
		return fmt.Errorf("可用保证金为 %.2f USDT，无法调仓", freeBalance)
	}

	records, err := r.client.FetchPositionRecords(ctx)
	if err != nil {
		return fmt.Errorf("查询当前持仓失败: %w", err)
	}

	current, err := position.BuildBook(records)
	if err != nil {
		return fmt.Errorf("构建持仓簿失败: %w", err)
	}

	r.logBooks(current, target, freeBalance, generatedAt)

	actions := plan.Build(current, target, r.cfg.Plan.Epsilon)
	if len(actions) == 0 {
		r.logger.Info("持仓已与目标一致，本周期无交易")
		empty := execution.Report{StartedAt: now, FinishedAt: time.Now().UTC()}
		return r.saveReport(ctx, generatedAt, freeBalance, empty)
	}

	r.logger.Info("调仓计划已生成", zap.Int("actions", len(actions)))

	rep, execErr := r.trader.Execute(ctx, actions)
	saveErr := r.saveReport(ctx, generatedAt, freeBalance, rep)

	filled, skipped, failed := rep.Counts()
	r.logger.Info("调仓周期结束",
		zap.Int("filled", filled),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
	)

	if execErr != nil {
		if saveErr != nil {
			r.logger.Error("周期报告落库失败", zap.Error(saveErr))
		}
		return fmt.Errorf("调仓执行中止: %w", execErr)
	}
	return saveErr
}

// saveReport 的失败对本周期致命：历史记录因事务回滚保持完好，
// 但缺失的周期报告不能静默吞掉。
func (r *reconciler) saveReport(ctx context.Context, signalTime time.Time, freeBalance float64, rep execution.Report) error {
	if _, err := r.reports.SaveReport(ctx, signalTime, freeBalance, rep); err != nil {
		return fmt.Errorf("周期报告落库失败: %w", err)
	}
	return nil
}

func (r *reconciler) logBooks(current position.Book, target position.TargetBook, freeBalance float64, generatedAt time.Time) {
	for _, symbol := range current.Symbols() {
		exposure := current[symbol]
		r.logger.Info("当前持仓",
			zap.String("symbol", symbol),
			zap.Float64("long", exposure.Long),
			zap.Float64("short", exposure.Short),
		)
	}
	for _, symbol := range target.Symbols() {
		r.logger.Info("目标仓位",
			zap.String("symbol", symbol),
			zap.Float64("quantity", target[symbol]),
		)
	}
	r.logger.Info("账户快照",
		zap.Float64("free_balance", freeBalance),
		zap.Time("signal_time", generatedAt),
	)
}
