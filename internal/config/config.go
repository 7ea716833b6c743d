package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	App struct {
		Env       string
		LogFormat string `mapstructure:"log_format"`
		Timezone  string
	} `mapstructure:"app"`

	Telegram struct {
		Token       string
		AdminChatID int64 `mapstructure:"admin_chat_id"`
		TimeoutSec  int   `mapstructure:"timeout_sec"`
	} `mapstructure:"telegram"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Postgres struct {
		DSN      string
		MaxConns int32 `mapstructure:"max_conns"`
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Storage struct {
		Driver   string
		SeedFile string `mapstructure:"seed_file"`
	} `mapstructure:"storage"`

	Codes struct {
		MasterPrefix     string   `mapstructure:"master_prefix"`
		UniquePrefix     string   `mapstructure:"unique_prefix"`
		TrackingSegments []string `mapstructure:"tracking_segments"`
	} `mapstructure:"codes"`

	Engine struct {
		BatchTimeout      time.Duration `mapstructure:"batch_timeout"`
		CommitTimeout     time.Duration `mapstructure:"commit_timeout"`
		KeepAliveInterval time.Duration `mapstructure:"keepalive_interval"`
		MaxBatchSize      int           `mapstructure:"max_batch_size"`
		ReversalAttempts  int           `mapstructure:"reversal_attempts"`
		ReversalBackoff   time.Duration `mapstructure:"reversal_backoff"`
		EventTimeout      time.Duration `mapstructure:"event_timeout"`
	} `mapstructure:"engine"`

	Events struct {
		Brokers []string
		Topic   string
	} `mapstructure:"events"`

	LedgerBreaker struct {
		MaxRequests      uint32        `mapstructure:"max_requests"`
		Interval         time.Duration `mapstructure:"interval"`
		Timeout          time.Duration `mapstructure:"timeout"`
		FailureThreshold uint32        `mapstructure:"failure_threshold"`
	} `mapstructure:"ledger_breaker"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("app.log_format", "json")
	v.SetDefault("telegram.timeout_sec", 30)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("codes.master_prefix", "CASE-")
	v.SetDefault("engine.batch_timeout", 5*time.Minute)
	v.SetDefault("engine.commit_timeout", 30*time.Second)
	v.SetDefault("engine.keepalive_interval", 10*time.Second)
	v.SetDefault("engine.max_batch_size", 2000)
	v.SetDefault("engine.reversal_attempts", 5)
	v.SetDefault("engine.reversal_backoff", 200*time.Millisecond)
	v.SetDefault("engine.event_timeout", 2*time.Second)
	v.SetDefault("events.topic", "shipments.lifecycle")
	v.SetDefault("ledger_breaker.max_requests", 1)
	v.SetDefault("ledger_breaker.interval", time.Minute)
	v.SetDefault("ledger_breaker.timeout", 30*time.Second)
	v.SetDefault("ledger_breaker.failure_threshold", 5)
}

func Load(path string) (Config, error) {
	// .env необязателен: в проде переменные приходят из окружения
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	// APP_POSTGRES_DSN перекрывает postgres.dsn и т.д.
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("config: postgres.dsn is required for postgres storage")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Codes.MasterPrefix == "" {
		return errors.New("config: codes.master_prefix must not be empty")
	}
	if c.Engine.BatchTimeout <= 0 || c.Engine.CommitTimeout <= 0 || c.Engine.KeepAliveInterval <= 0 {
		return errors.New("config: engine timeouts must be positive")
	}
	if c.Engine.MaxBatchSize <= 0 {
		return errors.New("config: engine.max_batch_size must be positive")
	}
	if c.Engine.ReversalAttempts <= 0 {
		return errors.New("config: engine.reversal_attempts must be positive")
	}
	if c.Engine.ReversalBackoff <= 0 || c.Engine.EventTimeout <= 0 {
		return errors.New("config: engine.reversal_backoff and engine.event_timeout must be positive")
	}
	return nil
}
