package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ServiceName    = "copy-trade"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	Port                    map[string]string         `mapstructure:"port"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
	Binance                 BinanceConfig             `mapstructure:"binance"`
	Scheduler               SchedulerConfig           `mapstructure:"scheduler"`
	Signal                  SignalConfig              `mapstructure:"signal"`
}

type NatsJetstreamConfig struct {
	URL             string                   `mapstructure:"url"`
	MaxRetries      int                      `mapstructure:"max_retries"`
	ReconnectFactor float64                  `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration            `mapstructure:"min_jitter"`
	MaxJitter       time.Duration            `mapstructure:"max_jitter"`
	TimeoutHandler  map[string]time.Duration `mapstructure:"timeout_handler"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type RedisConfig struct {
	CacheDSN string `mapstructure:"cache_dsn"`
}

// BinanceConfig carries the exchange endpoints and the request defaults shared
// by every signed call. Credentials live in the database: the master account
// row and each follower row own their keys.
type BinanceConfig struct {
	RestBaseURL        string `mapstructure:"rest_base_url"`
	RestTestnetBaseURL string `mapstructure:"rest_testnet_base_url"`
	WSBaseURL          string `mapstructure:"ws_base_url"`
	WSTestnetBaseURL   string `mapstructure:"ws_testnet_base_url"`
	RecvWindow         int64  `mapstructure:"recv_window"`
	DefaultLeverage    int    `mapstructure:"default_leverage"`
	LimitUsage         int    `mapstructure:"limit_usage"`
}

type SchedulerConfig struct {
	UpdateBalancesInterval   time.Duration `mapstructure:"update_balances_interval"`
	UpdatePositionsInterval  time.Duration `mapstructure:"update_positions_interval"`
	LimitUsageInterval       time.Duration `mapstructure:"limit_usage_interval"`
	UpdateSymbolsInterval    time.Duration `mapstructure:"update_symbols_interval"`
	StreamSupervisorInterval time.Duration `mapstructure:"stream_supervisor_interval"`
	TaskTimeout              time.Duration `mapstructure:"task_timeout"`
}

type SignalConfig struct {
	SourceIPs []string `mapstructure:"source_ips"`
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = viper.Unmarshal(&Env)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return nil
}
