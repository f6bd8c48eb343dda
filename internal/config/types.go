package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchanges ExchangesConfig `mapstructure:"exchanges"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangesConfig 汇总各交易所连接信息。
type ExchangesConfig struct {
	Bitmex  BitmexConfig  `mapstructure:"bitmex"`
	Binance BinanceConfig `mapstructure:"binance"`
}

// BitmexConfig 描述 Bitmex REST 接入参数。
type BitmexConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Symbol    string        `mapstructure:"symbol"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// BinanceConfig 描述 Binance USDⓈ-M 接入参数。
type BinanceConfig struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Symbol     string `mapstructure:"symbol"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
}

// GatewayConfig 控制网关的重试与签名。
type GatewayConfig struct {
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	SignatureTTL time.Duration `mapstructure:"signature_ttl"`
}

// WorkerConfig 控制任务轮询与撤销。
type WorkerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	CandlePeriod  time.Duration `mapstructure:"candle_period"`
	CandlesToDrop int           `mapstructure:"candles_to_drop"`
	CancelWait    time.Duration `mapstructure:"cancel_wait"`
	MaxOrderSize  float64       `mapstructure:"max_order_size"`
}

// AlertConfig 描述电话告警通道。
type AlertConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BaseURL  string        `mapstructure:"base_url"`
	Login    string        `mapstructure:"login"`
	Password string        `mapstructure:"password"`
	Phones   string        `mapstructure:"phones"`
	Voice    string        `mapstructure:"voice"`
	Param    string        `mapstructure:"param"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelegramConfig 描述操作员聊天入口。
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	OwnerID int64  `mapstructure:"owner_id"`
}

// MonitorConfig 控制监控 HTTP 接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
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
	Level            string     `mapstructure:"level"`
	Encoding         string     `mapstructure:"encoding"`
	Development      bool       `mapstructure:"development"`
	OutputPaths      []string   `mapstructure:"output_paths"`
	ErrorOutputPaths []string   `mapstructure:"error_output_paths"`
	File             FileConfig `mapstructure:"file"`
}

// FileConfig 控制滚动日志文件，Path 为空时关闭。
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchanges.Bitmex.BaseURL == "" {
		err = multierr.Append(err, errors.New("exchanges.bitmex.base_url 不能为空"))
	}
	if c.Exchanges.Bitmex.Symbol == "" {
		err = multierr.Append(err, errors.New("exchanges.bitmex.symbol 不能为空"))
	}
	if c.Exchanges.Bitmex.Timeout <= 0 {
		err = multierr.Append(err, errors.New("exchanges.bitmex.timeout 必须大于0"))
	}
	if c.Exchanges.Binance.Symbol == "" {
		err = multierr.Append(err, errors.New("exchanges.binance.symbol 不能为空"))
	}
	if c.Gateway.RetryDelay <= 0 {
		err = multierr.Append(err, errors.New("gateway.retry_delay 必须大于0"))
	}
	if c.Gateway.SignatureTTL <= 0 {
		err = multierr.Append(err, errors.New("gateway.signature_ttl 必须大于0"))
	}
	if c.Worker.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("worker.poll_interval 必须大于0"))
	}
	if c.Worker.CandlePeriod <= 0 {
		err = multierr.Append(err, errors.New("worker.candle_period 必须大于0"))
	}
	if c.Worker.CandlesToDrop < 0 {
		err = multierr.Append(err, errors.New("worker.candles_to_drop 不能为负"))
	}
	if c.Worker.CancelWait <= 0 {
		err = multierr.Append(err, errors.New("worker.cancel_wait 必须大于0"))
	}
	if c.Worker.CancelWait < c.Worker.PollInterval {
		err = multierr.Append(err, errors.New("worker.cancel_wait 不应小于 poll_interval"))
	}
	if c.Worker.MaxOrderSize <= 0 {
		err = multierr.Append(err, errors.New("worker.max_order_size 必须大于0"))
	}
	if c.Alert.Enabled {
		if c.Alert.BaseURL == "" {
			err = multierr.Append(err, errors.New("alert.base_url 不能为空"))
		}
		if c.Alert.Login == "" || c.Alert.Password == "" {
			err = multierr.Append(err, errors.New("启用电话告警需要配置 login 与 password"))
		}
		if strings.TrimSpace(c.Alert.Phones) == "" {
			err = multierr.Append(err, errors.New("alert.phones 不能为空"))
		}
		if c.Alert.Timeout <= 0 {
			err = multierr.Append(err, errors.New("alert.timeout 必须大于0"))
		}
	}
	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			err = multierr.Append(err, errors.New("telegram.token 不能为空"))
		}
		if c.Telegram.OwnerID == 0 {
			err = multierr.Append(err, errors.New("telegram.owner_id 不能为空"))
		}
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于[1,65535]"))
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
	if c.Logging.File.Path != "" && c.Logging.File.MaxSize <= 0 {
		err = multierr.Append(err, errors.New("logging.file.max_size 必须大于0"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
