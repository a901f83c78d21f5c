package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"github.com/Bumblebee0427/Crypto/internal/config"
)

// Client 封装 Binance USDⓈ-M 合约接口并实现重试机制。
// 行情与账户类查询内部重试；下单不在此层重试，由执行器按动作粒度控制。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	marketsMu     sync.Mutex
	marketsLoaded bool
	markets       map[string]ccxt.MarketInterface
}

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// EnableHedgeMode 将账户切换为双向持仓模式。
// 账户可能已经处于对冲模式，失败只记录告警，由调用方决定是否继续。
func (c *Client) EnableHedgeMode(ctx context.Context) error {
	return c.callWithRetry(ctx, "set_position_mode", func() error {
		_, err := c.exchange.SetPositionMode(true)
		return err
	})
}

// FetchFreeBalance 获取账户可用 USDT 余额。
func (c *Client) FetchFreeBalance(ctx context.Context) (float64, error) {
	var free float64

	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		balances, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		if balances.Free != nil {
			if v, ok := balances.Free["USDT"]; ok && v != nil {
				free = *v
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return free, nil
}

// FetchPositionRecords 获取当前全部持仓记录。
// 传入 symbols 时只保留对应交易对；记录保留原始持仓方向标签，
// 由 position 包负责按方向归账。
func (c *Client) FetchPositionRecords(ctx context.Context, symbols ...string) ([]PositionRecord, error) {
	var raw []ccxt.Position

	err := c.callWithRetry(ctx, "fetch_positions", func() error {
		positions, err := c.exchange.FetchPositions()
		if err != nil {
			return err
		}
		raw = positions
		return nil
	})
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[FormatSymbol(s)] = true
	}

	records := make([]PositionRecord, 0, len(raw))
	for _, pos := range raw {
		symbol := derefString(pos.Symbol)
		if symbol == "" {
			continue
		}
		formatted := FormatSymbol(symbol)
		if len(wanted) > 0 && !wanted[formatted] {
			continue
		}

		sideTag := ""
		if pos.Info != nil {
			if v, ok := pos.Info["positionSide"].(string); ok {
				sideTag = v
			}
		}
		if sideTag == "" {
			sideTag = strings.ToUpper(strings.TrimSpace(derefString(pos.Side)))
		}

		records = append(records, PositionRecord{
			Symbol:       formatted,
			PositionSide: sideTag,
			Contracts:    math.Abs(derefFloat(pos.Contracts)),
		})
	}

	return records, nil
}

// FetchLastPrice 获取最新成交价。
func (c *Client) FetchLastPrice(ctx context.Context, symbol string) (float64, error) {
	formatted := FormatSymbol(symbol)

	var last float64
	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		ticker, err := c.exchange.FetchTicker(formatted)
		if err != nil {
			return err
		}
		last = derefFloat(ticker.Last)
		if last == 0 {
			last = derefFloat(ticker.Close)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if last <= 0 {
		return 0, fmt.Errorf("exchange: %s 未返回有效成交价", formatted)
	}

	return last, nil
}

// FetchMarketInfo 获取交易对的最小下单量与数量步长。
func (c *Client) FetchMarketInfo(ctx context.Context, symbol string) (MarketInfo, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return MarketInfo{}, err
	}

	formatted := FormatSymbol(symbol)
	market, ok := c.lookupMarket(formatted)
	if !ok {
		return MarketInfo{}, fmt.Errorf("exchange: 未找到交易对 %s 的市场信息", formatted)
	}

	info := MarketInfo{
		Symbol:  formatted,
		MinLot:  derefFloat(market.Limits.Amount.Min),
		LotStep: lotStepFromPrecision(derefFloat(market.Precision.Amount)),
	}

	return info, nil
}

// SetLeverage 设置交易对杠杆倍数，调用方按尽力而为处理失败。
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	formatted := FormatSymbol(symbol)
	_, err := c.exchange.SetLeverage(int64(leverage), ccxt.WithSetLeverageSymbol(formatted))
	if err != nil {
		return normalizeAuth(err)
	}
	return nil
}

// CreateMarketOrder 提交市价单。对冲模式下必须携带 positionSide；
// 平仓单追加 reduceOnly。此处不重试，订单提交不具备幂等性。
func (c *Client) CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, positionSide string, reduceOnly bool) (OrderRecord, error) {
	if err := ctx.Err(); err != nil {
		return OrderRecord{}, err
	}

	formatted := FormatSymbol(symbol)
	params := map[string]interface{}{
		"positionSide": positionSide,
	}
	if reduceOnly {
		params["reduceOnly"] = true
	}

	order, err := c.exchange.CreateMarketOrder(formatted, side, amount,
		ccxt.WithCreateMarketOrderParams(params),
	)
	if err != nil {
		return OrderRecord{}, normalizeAuth(err)
	}

	return OrderRecord{
		ID:        derefString(order.Id),
		Symbol:    formatted,
		Side:      side,
		Amount:    amount,
		Status:    derefString(order.Status),
		Timestamp: time.Now().UTC(),
	}, nil
}

// FetchDailyCandles 分页拉取自 since 起的全部日线。
func (c *Client) FetchDailyCandles(ctx context.Context, symbol string, since time.Time, pageLimit int64, pageDelay time.Duration) ([]Candle, error) {
	if pageLimit <= 0 {
		pageLimit = 1500
	}

	formatted := FormatSymbol(symbol)
	cursor := since.UnixMilli()
	candles := make([]Candle, 0, pageLimit)

	for {
		var page []ccxt.OHLCV

		err := c.callWithRetry(ctx, "fetch_ohlcv_1d", func() error {
			result, err := c.exchange.FetchOHLCV(
				formatted,
				ccxt.WithFetchOHLCVTimeframe("1d"),
				ccxt.WithFetchOHLCVSince(cursor),
				ccxt.WithFetchOHLCVLimit(pageLimit),
			)
			if err != nil {
				return err
			}
			page = result
			return nil
		})
		if err != nil {
			return nil, err
		}

		if len(page) == 0 {
			break
		}

		for _, item := range page {
			candles = append(candles, Candle{
				OpenTime: time.UnixMilli(item.Timestamp).UTC(),
				Open:     item.Open,
				High:     item.High,
				Low:      item.Low,
				Close:    item.Close,
				Volume:   item.Volume,
			})
		}

		cursor = page[len(page)-1].Timestamp + 1

		if int64(len(page)) < pageLimit {
			break
		}

		if pageDelay > 0 {
			timer := time.NewTimer(pageDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return candles, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		markets, err := c.exchange.LoadMarkets()
		if err != nil {
			return err
		}
		c.markets = markets
		return nil
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.Int("markets", len(c.markets)))
	return nil
}

func (c *Client) lookupMarket(formatted string) (ccxt.MarketInterface, bool) {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if market, ok := c.markets[formatted]; ok {
		return market, true
	}
	for _, market := range c.markets {
		if derefString(market.Id) == formatted {
			return market, true
		}
		if FormatSymbol(derefString(market.Symbol)) == formatted {
			return market, true
		}
	}
	return ccxt.MarketInterface{}, false
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		case ccxt.AuthenticationErrorErrType:
			return fmt.Errorf("%w: %s", ErrAuth, ccxtErr.Message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

func normalizeAuth(err error) error {
	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) && ccxtErr.Type == ccxt.AuthenticationErrorErrType {
		return fmt.Errorf("%w: %s", ErrAuth, ccxtErr.Message)
	}
	return err
}

// lotStepFromPrecision 将 ccxt 的数量精度转换为数量步长。
// binanceusdm 在 ccxt 中使用 TICK_SIZE 精度模式，精度值本身就是
// 步长（1.0 即整数张）；缺失或非法时退回 1。
func lotStepFromPrecision(p float64) float64 {
	if p <= 0 {
		return 1
	}
	return p
}
