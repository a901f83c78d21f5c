package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "rebalancer"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "binanceusdm")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.hedge_mode", true)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("signal.dir", "signals")
	v.SetDefault("signal.stale_threshold", "72h")
	v.SetDefault("signal.block_on_stale", false)

	v.SetDefault("plan.epsilon", 1.0)

	v.SetDefault("sizing.min_notional", 5.0)
	v.SetDefault("sizing.lot_step", 1.0)
	v.SetDefault("sizing.max_iterations", 1000)

	v.SetDefault("execution.leverage", 1)
	v.SetDefault("execution.order_delay", "500ms")
	v.SetDefault("execution.max_retry", 3)
	v.SetDefault("execution.retry_base_delay", "1s")
	v.SetDefault("execution.rate_limit_cooldown", "60s")
	v.SetDefault("execution.simulation", false)

	v.SetDefault("market_data.enabled", false)
	v.SetDefault("market_data.symbols", []string{"BTC/USDT", "ETH/USDT"})
	v.SetDefault("market_data.start_date", "2021-01-01")
	v.SetDefault("market_data.concurrency", 4)
	v.SetDefault("market_data.page_limit", 1500)
	v.SetDefault("market_data.page_delay", "200ms")

	v.SetDefault("database.path", "data/rebalancer.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.loop_interval", "0s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
