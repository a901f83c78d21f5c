package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Bumblebee0427/Crypto/internal/config"
	"github.com/Bumblebee0427/Crypto/internal/exchange"
	"github.com/Bumblebee0427/Crypto/internal/execution"
	"github.com/Bumblebee0427/Crypto/internal/marketdata"
	"github.com/Bumblebee0427/Crypto/internal/report"
	"github.com/Bumblebee0427/Crypto/internal/signal"
	"github.com/Bumblebee0427/Crypto/internal/sizing"
	"github.com/Bumblebee0427/Crypto/internal/store"
)

// Options 为命令行层传入的运行开关。
type Options struct {
	// DryRun 强制使用模拟执行器，不向交易所下单。
	DryRun bool
	// UpdateData 在调仓前同步一次日线数据集。
	UpdateData bool
}

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	opts   Options
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store, opts Options) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		opts:   opts,
	}
}

// Run 驱动调仓主流程。loop_interval 为 0 时只执行一个周期，
// 否则按固定间隔循环执行，直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("调仓系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Bool("dry_run", a.opts.DryRun),
	)

	rec, err := a.newReconciler(ctx)
	if err != nil {
		return err
	}

	if a.opts.UpdateData || a.cfg.MarketData.Enabled {
		if err := rec.updateDataset(ctx); err != nil {
			a.logger.Error("日线数据集同步失败", zap.Error(err))
		}
	}

	if a.cfg.Scheduler.LoopInterval <= 0 {
		return rec.RunCycle(ctx)
	}

	if err := rec.RunCycle(ctx); err != nil {
		a.logger.Error("调仓周期失败", zap.Error(err))
	}

	ticker := time.NewTicker(a.cfg.Scheduler.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err := rec.RunCycle(ctx); err != nil {
				if exchange.IsAuthError(err) {
					return err
				}
				a.logger.Error("调仓周期失败", zap.Error(err))
			}
		}
	}
}

func (a *App) newReconciler(ctx context.Context) (*reconciler, error) {
	client, err := exchange.NewClient(a.cfg.Exchange, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	if a.cfg.Exchange.HedgeMode && !a.opts.DryRun {
		// 已经处于双向持仓时交易所会报错，按幂等处理。
		if err := client.EnableHedgeMode(ctx); err != nil {
			a.logger.Warn("设置双向持仓模式失败，继续使用账户当前模式", zap.Error(err))
		}
	}

	reportSvc, err := report.NewService(a.store, a.logger)
	if err != nil {
		return nil, fmt.Errorf("初始化报告服务失败: %w", err)
	}

	var updater *marketdata.Updater
	if a.opts.UpdateData || a.cfg.MarketData.Enabled {
		updater, err = marketdata.NewUpdater(client, a.store, a.cfg.MarketData, a.logger)
		if err != nil {
			return nil, fmt.Errorf("初始化日线更新器失败: %w", err)
		}
	}

	sizer := sizing.NewSizer(a.cfg.Sizing.MinNotional, a.cfg.Sizing.LotStep, a.cfg.Sizing.MaxIterations)

	var trader execution.Trader
	if a.opts.DryRun || a.cfg.Execution.Simulation {
		a.logger.Info("执行器处于模拟模式，不会向交易所下单")
		trader = execution.NewSimulator(a.logger)
	} else {
		trader = execution.NewExecutor(client, sizer, a.cfg.Execution, a.logger)
	}

	return &reconciler{
		client:  client,
		source:  signal.NewFileSource(a.cfg.Signal.Dir, a.logger),
		trader:  trader,
		reports: reportSvc,
		updater: updater,
		cfg:     a.cfg,
		logger:  a.logger,
	}, nil
}
