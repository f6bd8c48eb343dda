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
	envPrefix         = "keeper"
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

	return decode(v)
}

// Defaults 返回仅由默认值与环境变量组成的配置，供离线命令使用。
func Defaults() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
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

	v.SetDefault("exchanges.bitmex.base_url", "https://www.bitmex.com")
	v.SetDefault("exchanges.bitmex.api_key", "")
	v.SetDefault("exchanges.bitmex.api_secret", "")
	v.SetDefault("exchanges.bitmex.symbol", "XBTUSD")
	v.SetDefault("exchanges.bitmex.timeout", "15s")

	v.SetDefault("exchanges.binance.api_key", "")
	v.SetDefault("exchanges.binance.api_secret", "")
	v.SetDefault("exchanges.binance.symbol", "BTC/USDT:USDT")
	v.SetDefault("exchanges.binance.use_sandbox", false)

	v.SetDefault("gateway.retry_delay", "3s")
	v.SetDefault("gateway.signature_ttl", "60s")

	v.SetDefault("worker.poll_interval", "10s")
	v.SetDefault("worker.candle_period", "4h")
	v.SetDefault("worker.candles_to_drop", 4)
	v.SetDefault("worker.cancel_wait", "1m")
	v.SetDefault("worker.max_order_size", 300000)

	v.SetDefault("alert.enabled", false)
	v.SetDefault("alert.base_url", "https://smsc.ru")
	v.SetDefault("alert.login", "")
	v.SetDefault("alert.password", "")
	v.SetDefault("alert.phones", "")
	v.SetDefault("alert.voice", "w")
	v.SetDefault("alert.param", "20,10,3")
	v.SetDefault("alert.timeout", "15s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.owner_id", 0)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8090)

	v.SetDefault("database.path", "data/trade_keeper.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age", 30)
	v.SetDefault("logging.file.compress", true)
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
