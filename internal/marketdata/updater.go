package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Bumblebee0427/Crypto/internal/config"
	"github.com/Bumblebee0427/Crypto/internal/exchange"
	"github.com/Bumblebee0427/Crypto/internal/store"
)

type candleClient interface {
	FetchDailyCandles(ctx context.Context, symbol string, since time.Time, pageLimit int64, pageDelay time.Duration) ([]exchange.Candle, error)
}

// Updater 维护日线数据集：多交易对并发拉取，写入串行化，
// 按 (symbol, open_time) 去重，支持全量与增量两种模式。
// 数据集只作为调仓核心的外部数据源，不参与计划生成。
type Updater struct {
	client candleClient
	db     *sql.DB
	cfg    config.MarketDataConfig
	logger *zap.Logger

	writeMu sync.Mutex
}

// NewUpdater 创建数据集更新器并初始化表结构。
func NewUpdater(client candleClient, store *store.Store, cfg config.MarketDataConfig, logger *zap.Logger) (*Updater, error) {
	if store == nil {
		return nil, fmt.Errorf("marketdata: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := store.ExecSchema(klineSchema); err != nil {
		return nil, fmt.Errorf("marketdata: %w", err)
	}

	return &Updater{
		client: client,
		db:     store.DB(),
		cfg:    cfg,
		logger: logger,
	}, nil
}

const klineSchema = `
CREATE TABLE IF NOT EXISTS daily_klines (
	symbol TEXT NOT NULL,
	open_time INTEGER NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	PRIMARY KEY (symbol, open_time)
);
`

// Update 同步全部交易对的日线数据。
// fullRefresh 为真时从配置起始日期重拉，否则从每个交易对的
// 最新日线之后续拉。
func (u *Updater) Update(ctx context.Context, fullRefresh bool) error {
	startDate, err := time.Parse("2006-01-02", u.cfg.StartDate)
	if err != nil {
		return fmt.Errorf("marketdata: 解析起始日期失败: %w", err)
	}

	symbols, err := u.collectSymbols(ctx)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		u.logger.Info("没有需要更新的交易对")
		return nil
	}

	started := time.Now()
	concurrency := u.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	var totalMu sync.Mutex
	var totalRows int

	for _, symbol := range symbols {
		group.Go(func() error {
			since := startDate
			if !fullRefresh {
				latest, err := u.latestOpenTime(groupCtx, symbol)
				if err != nil {
					return err
				}
				if !latest.IsZero() {
					since = latest.Add(24 * time.Hour)
				}
			}

			candles, err := u.client.FetchDailyCandles(groupCtx, symbol, since, u.cfg.PageLimit, u.cfg.PageDelay)
			if err != nil {
				// 单个交易对失败只告警，不拖垮整次更新。
				u.logger.Warn("拉取日线失败，跳过该交易对",
					zap.String("symbol", symbol),
					zap.Error(err),
				)
				return nil
			}
			if len(candles) == 0 {
				return nil
			}

			if err := u.storeCandles(groupCtx, symbol, candles); err != nil {
				return err
			}

			totalMu.Lock()
			totalRows += len(candles)
			totalMu.Unlock()

			u.logger.Info("日线数据已更新",
				zap.String("symbol", symbol),
				zap.Int("rows", len(candles)),
				zap.Time("since", since),
			)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	u.logger.Info("日线数据集同步完成",
		zap.Int("symbols", len(symbols)),
		zap.Int("rows", totalRows),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// collectSymbols 合并配置的交易对与数据集中已有的交易对。
func (u *Updater) collectSymbols(ctx context.Context) ([]string, error) {
	set := make(map[string]bool, len(u.cfg.Symbols))
	for _, symbol := range u.cfg.Symbols {
		set[exchange.FormatSymbol(symbol)] = true
	}

	rows, err := u.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM daily_klines`)
	if err != nil {
		return nil, fmt.Errorf("marketdata: 查询已有交易对失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("marketdata: 解析交易对失败: %w", err)
		}
		set[symbol] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("marketdata: 读取交易对失败: %w", err)
	}

	symbols := make([]string, 0, len(set))
	for symbol := range set {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (u *Updater) latestOpenTime(ctx context.Context, symbol string) (time.Time, error) {
	var latest sql.NullInt64
	err := u.db.QueryRowContext(ctx,
		`SELECT MAX(open_time) FROM daily_klines WHERE symbol = ?`, symbol,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("marketdata: 查询 %s 最新日线失败: %w", symbol, err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(latest.Int64).UTC(), nil
}

// storeCandles 在单个事务内写入，整体成功或整体回滚，
// 并发拉取的各交易对通过写锁串行落库。
func (u *Updater) storeCandles(ctx context.Context, symbol string, candles []exchange.Candle) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("marketdata: 开启事务失败: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO daily_klines (symbol, open_time, open, high, low, close, volume)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("marketdata: 预编译写入语句失败: %w", err)
	}
	defer stmt.Close()

	for _, candle := range candles {
		if _, err := stmt.ExecContext(ctx,
			exchange.FormatSymbol(symbol),
			candle.OpenTime.UnixMilli(),
			candle.Open, candle.High, candle.Low, candle.Close, candle.Volume,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marketdata: 写入 %s 日线失败: %w", symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("marketdata: 提交事务失败: %w", err)
	}
	return nil
}
