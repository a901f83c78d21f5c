package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Signal     SignalConfig     `mapstructure:"signal"`
	Plan       PlanConfig       `mapstructure:"plan"`
	Sizing     SizingConfig     `mapstructure:"sizing"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
// API 凭证只允许来自配置文件或环境变量，严禁写入代码。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	HedgeMode  bool        `mapstructure:"hedge_mode"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制行情类调用的重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// SignalConfig 控制目标仓位信号的读取与时效策略。
type SignalConfig struct {
	Dir            string        `mapstructure:"dir"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
	BlockOnStale   bool          `mapstructure:"block_on_stale"`
}

// PlanConfig 控制调仓计划生成。
type PlanConfig struct {
	Epsilon float64 `mapstructure:"epsilon"`
}

// SizingConfig 控制下单数量规整。
type SizingConfig struct {
	MinNotional   float64 `mapstructure:"min_notional"`
	LotStep       float64 `mapstructure:"lot_step"`
	MaxIterations int     `mapstructure:"max_iterations"`
}

// ExecutionConfig 控制订单执行行为。
type ExecutionConfig struct {
	Leverage          int           `mapstructure:"leverage"`
	OrderDelay        time.Duration `mapstructure:"order_delay"`
	MaxRetry          int           `mapstructure:"max_retry"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
	Simulation        bool          `mapstructure:"simulation"`
}

// MarketDataConfig 控制日线数据集的同步。
type MarketDataConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Symbols     []string      `mapstructure:"symbols"`
	StartDate   string        `mapstructure:"start_date"`
	Concurrency int           `mapstructure:"concurrency"`
	PageLimit   int64         `mapstructure:"page_limit"`
	PageDelay   time.Duration `mapstructure:"page_delay"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制调仓周期节奏。LoopInterval 为 0 时仅执行一次。
type SchedulerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		err = multierr.Append(err, errors.New("exchange.api_key 与 exchange.api_secret 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Signal.Dir == "" {
		err = multierr.Append(err, errors.New("signal.dir 不能为空"))
	}
	if c.Signal.StaleThreshold <= 0 {
		err = multierr.Append(err, errors.New("signal.stale_threshold 必须大于0"))
	}
	if c.Plan.Epsilon < 0 {
		err = multierr.Append(err, errors.New("plan.epsilon 不能为负"))
	}
	if c.Sizing.MinNotional <= 0 {
		err = multierr.Append(err, errors.New("sizing.min_notional 必须大于0"))
	}
	if c.Sizing.LotStep <= 0 {
		err = multierr.Append(err, errors.New("sizing.lot_step 必须大于0"))
	}
	if c.Sizing.MaxIterations <= 0 {
		err = multierr.Append(err, errors.New("sizing.max_iterations 必须大于0"))
	}
	if c.Execution.Leverage <= 0 {
		err = multierr.Append(err, errors.New("execution.leverage 必须大于0"))
	}
	if c.Execution.OrderDelay < 0 {
		err = multierr.Append(err, errors.New("execution.order_delay 不能为负"))
	}
	if c.Execution.MaxRetry <= 0 {
		err = multierr.Append(err, errors.New("execution.max_retry 必须大于0"))
	}
	if c.Execution.RetryBaseDelay <= 0 {
		err = multierr.Append(err, errors.New("execution.retry_base_delay 必须大于0"))
	}
	if c.Execution.RateLimitCooldown <= 0 {
		err = multierr.Append(err, errors.New("execution.rate_limit_cooldown 必须大于0"))
	}
	if c.MarketData.Enabled {
		if c.MarketData.StartDate == "" {
			err = multierr.Append(err, errors.New("market_data.start_date 不能为空"))
		} else if _, parseErr := time.Parse("2006-01-02", c.MarketData.StartDate); parseErr != nil {
			err = multierr.Append(err, fmt.Errorf("market_data.start_date 格式应为 YYYY-MM-DD: %w", parseErr))
		}
		if c.MarketData.Concurrency <= 0 {
			err = multierr.Append(err, errors.New("market_data.concurrency 必须大于0"))
		}
		if c.MarketData.PageLimit <= 0 {
			err = multierr.Append(err, errors.New("market_data.page_limit 必须大于0"))
		}
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.LoopInterval < 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 不能为负"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
