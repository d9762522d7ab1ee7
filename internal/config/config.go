package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/Chat/internal/logger"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	// Addr is the listen address of the chat endpoint.
	Addr            string        `mapstructure:"addr"`
	Secret          string        `mapstructure:"secret"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	Overflow        string        `mapstructure:"overflow"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	History HistoryConfig `mapstructure:"history"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Log     logger.Config `mapstructure:"log"`
}

type HistoryConfig struct {
	Default       int           `mapstructure:"default"`
	Max           int           `mapstructure:"max"`
	MaxContentLen int           `mapstructure:"max_content_len"`
	StoreTimeout  time.Duration `mapstructure:"store_timeout"`
}

type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// Catalog entries loaded into the memory driver at startup.
	SeedRooms []string   `mapstructure:"seed_rooms"`
	SeedUsers []SeedUser `mapstructure:"seed_users"`
}

type SeedUser struct {
	ID       int64  `mapstructure:"id"`
	Username string `mapstructure:"username"`
}

// RedisConfig enables the catalog cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// NATSConfig enables the message mirror when URL is set.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) on top of the defaults.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit file; a missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Names used by the rest of the deployment.
	_ = v.BindEnv("secret", "CHAT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("addr", "CHAT_ADDR", "WS_BIND_ADDR")
	_ = v.BindEnv("storage.dsn", "CHAT_STORAGE_DSN", "DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Storage.Driver == "" {
		if cfg.Storage.DSN != "" {
			cfg.Storage.Driver = "postgres"
		} else {
			cfg.Storage.Driver = "memory"
		}
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("addr", "127.0.0.1:9001")
	v.SetDefault("secret", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("overflow", "kick")
	v.SetDefault("shutdown_timeout", "5s")

	v.SetDefault("history.default", 50)
	v.SetDefault("history.max", 200)
	v.SetDefault("history.max_content_len", 4096)
	v.SetDefault("history.store_timeout", "0s")

	v.SetDefault("storage.driver", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.conn_max_lifetime", "30m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "5m")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "chat")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
}

var (
	ErrNoSecret    = errors.New("config: secret is required (JWT_SECRET)")
	ErrNoDSN       = errors.New("config: postgres storage needs a dsn (DATABASE_URL)")
	ErrBadDriver   = errors.New("config: unknown storage driver")
	ErrBadLimits   = errors.New("config: invalid history limits")
	ErrBadBuffer   = errors.New("config: send_buffer must be positive")
	ErrBadOverflow = errors.New("config: overflow must be kick or drop")
	ErrBadTimings  = errors.New("config: ping_period must be 0 or shorter than pong_wait")
)

func (c *Config) Validate() error {
	if c.Secret == "" {
		return ErrNoSecret
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return ErrNoDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrBadDriver, c.Storage.Driver)
	}
	if c.History.Default <= 0 || c.History.Max < c.History.Default || c.History.MaxContentLen <= 0 {
		return ErrBadLimits
	}
	if c.SendBuffer <= 0 {
		return ErrBadBuffer
	}
	switch c.Overflow {
	case "", "kick", "drop":
	default:
		return ErrBadOverflow
	}
	if c.PingPeriod < 0 || (c.PingPeriod > 0 && c.PingPeriod >= c.PongWait) {
		return ErrBadTimings
	}
	return nil
}
