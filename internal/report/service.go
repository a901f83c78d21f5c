package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Bumblebee0427/Crypto/internal/execution"
	"github.com/Bumblebee0427/Crypto/internal/store"
)

// Service 负责持久化调仓周期报告。写入在单个事务内完成，
// 失败时整体回滚，历史记录保持不变。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化报告服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("report: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := store.ExecSchema(reportSchema); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}

	return &Service{
		db:     store.DB(),
		logger: logger,
	}, nil
}

const reportSchema = `
CREATE TABLE IF NOT EXISTS cycles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	signal_time TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	filled INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	free_balance REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS cycle_actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id INTEGER NOT NULL REFERENCES cycles(id),
	symbol TEXT NOT NULL,
	kind TEXT NOT NULL,
	side TEXT NOT NULL,
	position_side TEXT NOT NULL,
	quantity REAL NOT NULL,
	outcome TEXT NOT NULL,
	order_id TEXT NOT NULL,
	error TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycle_actions_cycle ON cycle_actions(cycle_id);
`

// SaveReport 将一次周期的执行报告落库并返回周期 ID。
func (s *Service) SaveReport(ctx context.Context, signalTime time.Time, freeBalance float64, rep execution.Report) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("report: 开启事务失败: %w", err)
	}

	filled, skipped, failed := rep.Counts()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO cycles (signal_time, started_at, finished_at, filled, skipped, failed, free_balance)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		signalTime.UTC().Format(time.RFC3339),
		rep.StartedAt.UTC().Format(time.RFC3339),
		rep.FinishedAt.UTC().Format(time.RFC3339),
		filled, skipped, failed, freeBalance,
	)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("report: 写入周期失败: %w", err)
	}

	cycleID, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("report: 读取周期 ID 失败: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cycle_actions (cycle_id, symbol, kind, side, position_side, quantity, outcome, order_id, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("report: 预编译写入语句失败: %w", err)
	}
	defer stmt.Close()

	for _, result := range rep.Results {
		if _, err := stmt.ExecContext(ctx,
			cycleID,
			result.Action.Symbol,
			string(result.Action.Kind),
			string(result.Action.Side),
			string(result.Action.PositionSide),
			result.Action.Quantity,
			string(result.Outcome),
			result.OrderID,
			result.Error,
		); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("report: 写入交易明细失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("report: 提交事务失败: %w", err)
	}

	s.logger.Info("周期报告已落库",
		zap.Int64("cycle_id", cycleID),
		zap.Int("filled", filled),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return cycleID, nil
}

// ListRecent 按时间倒序检索最近的周期报告。
func (s *Service) ListRecent(ctx context.Context, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, signal_time, started_at, finished_at, filled, skipped, failed, free_balance
FROM cycles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("report: 查询周期失败: %w", err)
	}
	defer rows.Close()

	cycles := make([]CycleRecord, 0, limit)
	for rows.Next() {
		var (
			record   CycleRecord
			signal   string
			started  string
			finished string
		)
		if err := rows.Scan(&record.ID, &signal, &started, &finished,
			&record.Filled, &record.Skipped, &record.Failed, &record.FreeBalance); err != nil {
			return nil, fmt.Errorf("report: 解析周期失败: %w", err)
		}
		record.SignalTime = parseTimestamp(signal)
		record.StartedAt = parseTimestamp(started)
		record.FinishedAt = parseTimestamp(finished)
		cycles = append(cycles, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: 读取周期失败: %w", err)
	}

	for i := range cycles {
		actions, err := s.listActions(ctx, cycles[i].ID)
		if err != nil {
			return nil, err
		}
		cycles[i].Actions = actions
	}

	return cycles, nil
}

func (s *Service) listActions(ctx context.Context, cycleID int64) ([]ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, kind, side, position_side, quantity, outcome, order_id, error
FROM cycle_actions WHERE cycle_id = ? ORDER BY id ASC`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("report: 查询交易明细失败: %w", err)
	}
	defer rows.Close()

	actions := make([]ActionRecord, 0)
	for rows.Next() {
		var action ActionRecord
		if err := rows.Scan(&action.Symbol, &action.Kind, &action.Side, &action.PositionSide,
			&action.Quantity, &action.Outcome, &action.OrderID, &action.Error); err != nil {
			return nil, fmt.Errorf("report: 解析交易明细失败: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: 读取交易明细失败: %w", err)
	}
	return actions, nil
}

func parseTimestamp(value string) time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}
