package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Bumblebee0427/Crypto/internal/config"
	"github.com/Bumblebee0427/Crypto/internal/exchange"
	"github.com/Bumblebee0427/Crypto/internal/plan"
	"github.com/Bumblebee0427/Crypto/internal/sizing"
)

type orderGateway interface {
	FetchLastPrice(ctx context.Context, symbol string) (float64, error)
	FetchMarketInfo(ctx context.Context, symbol string) (exchange.MarketInfo, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, positionSide string, reduceOnly bool) (exchange.OrderRecord, error)
}

// Executor 顺序执行调仓计划。
// 账户保证金是共享状态，一笔订单会改变下一笔的前提条件，
// 因此绝不并发提交；单笔失败不终止剩余计划。
type Executor struct {
	gateway orderGateway
	sizer   *sizing.Sizer
	cfg     config.ExecutionConfig
	logger  *zap.Logger
}

// NewExecutor 创建执行器。
func NewExecutor(gateway orderGateway, sizer *sizing.Sizer, cfg config.ExecutionConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		gateway: gateway,
		sizer:   sizer,
		cfg:     cfg,
		logger:  logger,
	}
}

var _ Trader = (*Executor)(nil)

// Execute 逐笔执行计划并产出执行报告。
// 只有上下文取消会提前终止；凭证错误同样中断，其余失败逐笔记录后继续。
func (e *Executor) Execute(ctx context.Context, actions []plan.Action) (Report, error) {
	report := Report{
		Results:   make([]ActionResult, 0, len(actions)),
		StartedAt: time.Now().UTC(),
	}

	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, err
		}

		result, fatal := e.executeAction(ctx, action)
		report.Results = append(report.Results, result)
		if fatal != nil {
			report.FinishedAt = time.Now().UTC()
			return report, fatal
		}

		// 固定间隔限速，最后一笔之后不再等待。
		if i < len(actions)-1 && e.cfg.OrderDelay > 0 {
			timer := time.NewTimer(e.cfg.OrderDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				report.FinishedAt = time.Now().UTC()
				return report, ctx.Err()
			case <-timer.C:
			}
		}
	}

	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// executeAction 执行单笔交易。返回的 error 仅在致命场景（凭证失效、
// 上下文取消）非空，普通失败体现在 ActionResult 中。
func (e *Executor) executeAction(ctx context.Context, action plan.Action) (ActionResult, error) {
	result := ActionResult{Action: action}

	e.logger.Info("准备执行交易",
		zap.String("symbol", action.Symbol),
		zap.String("kind", string(action.Kind)),
		zap.String("side", string(action.Side)),
		zap.Float64("quantity", action.Quantity),
		zap.String("position_side", string(action.PositionSide)),
	)

	// 1. 设置杠杆，尽力而为，失败不阻断交易。
	if err := e.gateway.SetLeverage(ctx, action.Symbol, e.cfg.Leverage); err != nil {
		e.logger.Warn("设置杠杆失败，继续使用当前杠杆",
			zap.String("symbol", action.Symbol),
			zap.Int("leverage", e.cfg.Leverage),
			zap.Error(err),
		)
	}

	// 2. 获取最新价格与市场约束。
	price, err := e.gateway.FetchLastPrice(ctx, action.Symbol)
	if err != nil {
		return e.finishAction(result, fmt.Errorf("获取最新价格失败: %w", err))
	}

	market, err := e.gateway.FetchMarketInfo(ctx, action.Symbol)
	if err != nil {
		return e.finishAction(result, fmt.Errorf("获取市场信息失败: %w", err))
	}

	// 3. 数量规整，平仓单按 reduceOnly 放行。
	signedQty := action.Quantity
	if action.Side == plan.SideSell {
		signedQty = -signedQty
	}

	reduceOnly := action.Kind == plan.KindClose
	sized, err := e.sizer.Size(signedQty, price, market.LotStep, reduceOnly)
	if err != nil {
		if errors.Is(err, sizing.ErrBelowMinimumLot) {
			return e.skipResult(result, err), nil
		}
		return e.finishAction(result, err)
	}

	amount := math.Abs(sized)
	if !reduceOnly && market.MinLot > 0 && amount < market.MinLot {
		return e.skipResult(result, fmt.Errorf("数量 %.8f 低于交易所最小限制 %.8f", amount, market.MinLot)), nil
	}

	// 4. 提交市价单，瞬时故障按次数退避重试。
	order, err := e.submitOrder(ctx, action, amount, reduceOnly)
	if err != nil {
		return e.finishAction(result, err)
	}

	result.Outcome = OutcomeFilled
	result.OrderID = order.ID
	e.logger.Info("订单执行成功",
		zap.String("symbol", action.Symbol),
		zap.String("side", string(action.Side)),
		zap.Float64("amount", amount),
		zap.String("order_id", order.ID),
	)

	return result, nil
}

// finishAction 将失败落入报告；凭证错误与上下文取消向上抛出以终止整轮。
func (e *Executor) finishAction(result ActionResult, err error) (ActionResult, error) {
	result = e.failResult(result, err)
	if exchange.IsAuthError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return result, err
	}
	return result, nil
}

func (e *Executor) submitOrder(ctx context.Context, action plan.Action, amount float64, reduceOnly bool) (exchange.OrderRecord, error) {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxRetry; attempt++ {
		order, err := e.gateway.CreateMarketOrder(ctx, action.Symbol, string(action.Side), amount, string(action.PositionSide), reduceOnly)
		if err == nil {
			return order, nil
		}
		lastErr = err

		if exchange.IsAuthError(err) || !exchange.IsRetryable(err) {
			return exchange.OrderRecord{}, err
		}
		if attempt >= e.cfg.MaxRetry {
			break
		}

		// 频率限制/临时封禁需要更长的冷却，与普通超时退避区分。
		wait := time.Duration(attempt) * e.cfg.RetryBaseDelay
		if exchange.IsRateLimited(err) {
			wait = time.Duration(attempt) * e.cfg.RateLimitCooldown
		}

		e.logger.Warn("下单失败，等待重试",
			zap.String("symbol", action.Symbol),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return exchange.OrderRecord{}, ctx.Err()
		case <-timer.C:
		}
	}

	return exchange.OrderRecord{}, fmt.Errorf("重试 %d 次后仍下单失败: %w", e.cfg.MaxRetry, lastErr)
}

func (e *Executor) failResult(result ActionResult, err error) ActionResult {
	result.Outcome = OutcomeFailed
	result.Error = err.Error()
	e.logger.Error("交易执行失败",
		zap.String("symbol", result.Action.Symbol),
		zap.String("kind", string(result.Action.Kind)),
		zap.Error(err),
	)
	return result
}

func (e *Executor) skipResult(result ActionResult, err error) ActionResult {
	result.Outcome = OutcomeSkipped
	result.Error = err.Error()
	e.logger.Warn("交易被跳过",
		zap.String("symbol", result.Action.Symbol),
		zap.String("kind", string(result.Action.Kind)),
		zap.Error(err),
	)
	return result
}
