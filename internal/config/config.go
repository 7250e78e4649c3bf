// Package config 載入共享清單服務的配置
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	apperrors "github.com/koopa0/system-design/14-shared-list/pkg/errors"
	"gopkg.in/yaml.v3"
)

// 快照後端
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Session struct {
		QueueSize      int           `yaml:"queue_size"`
		WriteWait      time.Duration `yaml:"write_wait"`
		PongWait       time.Duration `yaml:"pong_wait"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		MaxMessageSize int64         `yaml:"max_message_size"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"session"`

	Persistence struct {
		Backend  string        `yaml:"backend"`
		Interval time.Duration `yaml:"interval"`
		// Name 快照名稱（postgres/sqlite 的列、redis 的 key）
		Name string `yaml:"name"`

		File struct {
			Path string `yaml:"path"`
		} `yaml:"file"`

		Postgres struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			DBName   string `yaml:"dbname"`
		} `yaml:"postgres"`

		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`

		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
	} `yaml:"persistence"`

	Events struct {
		Enabled bool   `yaml:"enabled"`
		NATSURL string `yaml:"nats_url"`
		Prefix  string `yaml:"prefix"`
	} `yaml:"events"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default 返回預設配置
func Default() *Config {
	c := &Config{}

	c.Server.Addr = ":8080"
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.IdleTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 30 * time.Second

	c.Session.QueueSize = 256
	c.Session.WriteWait = 10 * time.Second
	c.Session.PongWait = 60 * time.Second
	c.Session.PingInterval = 54 * time.Second
	c.Session.MaxMessageSize = 64 << 10

	c.Persistence.Backend = BackendFile
	c.Persistence.Interval = 5 * time.Second
	c.Persistence.Name = "default"
	c.Persistence.File.Path = "shared-list.json"
	c.Persistence.Postgres.Host = "localhost"
	c.Persistence.Postgres.Port = 5432
	c.Persistence.Postgres.User = "postgres"
	c.Persistence.Postgres.DBName = "shared_list"
	c.Persistence.Redis.Addr = "localhost:6379"
	c.Persistence.SQLite.Path = "shared-list.sqlite3"

	c.Events.NATSURL = "nats://localhost:4222"
	c.Events.Prefix = "shared-list"

	c.Log.Level = "info"
	c.Log.Format = "text"

	return c
}

// Load 讀取 YAML 配置並套用環境變數
//
// 檔案不存在時使用預設值；YAML 只需寫出要覆蓋的欄位。
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// 使用預設值
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidConfig, "parse config")
		}
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnv 環境變數覆蓋（容器部署常用）
func (c *Config) applyEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Persistence.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("SNAPSHOT_PATH"); v != "" {
		c.Persistence.File.Path = v
	}
}

// Validate 檢查配置
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return apperrors.ErrInvalidConfig.WithDetails(fmt.Sprintf(format, args...))
	}

	switch c.Persistence.Backend {
	case BackendFile:
		if c.Persistence.File.Path == "" {
			return invalid("persistence.file.path is required")
		}
	case BackendSQLite:
		if c.Persistence.SQLite.Path == "" {
			return invalid("persistence.sqlite.path is required")
		}
	case BackendPostgres, BackendRedis, BackendMemory:
	default:
		return invalid("unknown persistence backend %q", c.Persistence.Backend)
	}

	switch {
	case c.Server.Addr == "":
		return invalid("server.addr is required")
	case c.Persistence.Interval <= 0:
		return invalid("persistence.interval must be positive, got %s", c.Persistence.Interval)
	case c.Session.QueueSize <= 0:
		return invalid("session.queue_size must be positive, got %d", c.Session.QueueSize)
	case c.Session.MaxMessageSize <= 0:
		return invalid("session.max_message_size must be positive, got %d", c.Session.MaxMessageSize)
	case c.Session.WriteWait <= 0:
		return invalid("session.write_wait must be positive, got %s", c.Session.WriteWait)
	case c.Session.PingInterval <= 0 || c.Session.PingInterval >= c.Session.PongWait:
		return invalid("session.ping_interval must be positive and shorter than pong_wait")
	case c.Server.ShutdownTimeout <= 0:
		return invalid("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout)
	case c.Events.Enabled && c.Events.NATSURL == "":
		return invalid("events.nats_url is required when events are enabled")
	case c.Events.Enabled && c.Events.Prefix == "":
		return invalid("events.prefix is required when events are enabled")
	}

	return nil
}

// PostgresDSN 生成 PostgreSQL 連線字串
//
// 遷移工具只接受 URL 形式，所以這裡不用 key=value 形式。
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	pg := c.Persistence.Postgres
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(pg.User, pg.Password),
		Host:     net.JoinHostPort(pg.Host, strconv.Itoa(pg.Port)),
		Path:     "/" + pg.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
