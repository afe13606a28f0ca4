// Package config 读取 ORM 的 YAML 配置：数据源、缓存后端与日志级别。
//
// 加载顺序：先用 godotenv 把 .env 文件载入进程环境（已存在的变量不覆盖），
// 再读取 YAML 并展开其中的 ${VAR} 与 ${VAR:-默认值}。
//
//	sources:
//	  - name: main
//	    driver: sqlite
//	    dsn: ${ORM_MAIN_DSN:-file:app.db}
//	    update: true
//	cache:
//	  backend: redis
//	  redis:
//	    addr: ${REDIS_ADDR}
//	log:
//	  level: debug
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"microorm/data/orm"
	"microorm/errors"
	"microorm/logging"
)

// Config 配置根
type Config struct {
	Sources []SourceConfig `yaml:"sources"`
	Cache   CacheConfig    `yaml:"cache"`
	Log     LogConfig      `yaml:"log"`
}

// SourceConfig 单个数据源；readable/writable 缺省为 true
type SourceConfig struct {
	Name         string `yaml:"name"`
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	Readable     *bool  `yaml:"readable"`
	Writable     *bool  `yaml:"writable"`
	Order        int    `yaml:"order"`
	Update       bool   `yaml:"update"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`

	// ConnMaxLifetime 形如 30m 的时长
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig 会话缓存
type CacheConfig struct {
	// Backend memory（默认）或 redis
	Backend string        `yaml:"backend"`
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
	NATS    NATSConfig    `yaml:"nats"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// NATSConfig 配置 URL 后，本地失效会广播给其他进程
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load 载入 envFiles（为空时尝试 .env，不存在则忽略）后解析 path
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, errors.WrapConfiguration(err, "load env files %v", envFiles)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfiguration(err, "read config %s", path)
	}
	return Parse(data)
}

// Parse 展开环境变量并解析 YAML，随后校验
func Parse(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), lookupEnv)

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.WrapConfiguration(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// lookupEnv 支持 VAR 与 VAR:-default
func lookupEnv(key string) string {
	name, def, hasDefault := strings.Cut(key, ":-")
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	if hasDefault {
		return def
	}
	return ""
}

// Validate 至少一个数据源；名称唯一；驱动与 DSN 必填；缓存后端合法
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return errors.NewConfigurationError("config: at least one data source is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return errors.NewConfigurationError("config: sources[%d]: name is required", i)
		}
		if seen[s.Name] {
			return errors.NewConfigurationError("config: duplicate data source %q", s.Name)
		}
		seen[s.Name] = true
		if s.Driver == "" || s.DSN == "" {
			return errors.NewConfigurationError("config: source %q: driver and dsn are required", s.Name)
		}
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "", "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return errors.NewConfigurationError("config: cache.redis.addr is required for the redis backend")
		}
	default:
		return errors.NewConfigurationError("config: unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// DataSources 转为 ORM 数据源（未打开）
func (c *Config) DataSources() []*orm.DataSource {
	out := make([]*orm.DataSource, 0, len(c.Sources))
	for _, s := range c.Sources {
		out = append(out, &orm.DataSource{
			Name:            s.Name,
			Driver:          s.Driver,
			DSN:             s.DSN,
			Readable:        boolOr(s.Readable, true),
			Writable:        boolOr(s.Writable, true),
			Order:           s.Order,
			Update:          s.Update,
			MaxOpenConns:    s.MaxOpenConns,
			MaxIdleConns:    s.MaxIdleConns,
			ConnMaxLifetime: s.ConnMaxLifetime,
		})
	}
	return out
}

// Logger 按 log.level 创建标准 Logger
func (c *Config) Logger() logging.Logger {
	return logging.NewStdLoggerWithWriter(os.Stderr, "microorm", logging.ParseLevel(c.Log.Level))
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
