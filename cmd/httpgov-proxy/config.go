package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the proxy's full runtime configuration, loaded from flags,
// environment variables (HTTPGOV_ prefix), and an optional config file, the
// way bibicadotnet-mosdns-x's coremain.loadConfig layers viper over cobra
// flags. A flag set on the command line wins over an environment variable,
// which wins over the config file; flags left unset supply the defaults.
type Config struct {
	Addr           string        `mapstructure:"addr"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	Store       string `mapstructure:"store"` // memory, redis, sqlite, leveldb
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	LevelDBPath string `mapstructure:"leveldb_path"`

	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	RateLimitTotal  int           `mapstructure:"rate_limit_total"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`
}

func defaultConfig() Config {
	return Config{
		Addr:            ":8080",
		UserAgent:       "httpgov-proxy/0.1.0",
		RequestTimeout:  30 * time.Second,
		Store:           "memory",
		RedisAddr:       "localhost:6379",
		RedisPrefix:     "httpgov:",
		SQLitePath:      "httpgov-cache.db",
		LevelDBPath:     "httpgov-cache.ldb",
		CacheTTL:        5 * time.Minute,
		RateLimitTotal:  100,
		RateLimitWindow: time.Second,
		LogLevel:        "info",
		LogPretty:       false,
	}
}

func bindFlags(fs *pflag.FlagSet) {
	d := defaultConfig()
	fs.String("addr", d.Addr, "listen address")
	fs.String("user-agent", d.UserAgent, "User-Agent header sent upstream")
	fs.Duration("request-timeout", d.RequestTimeout, "upstream request timeout")
	fs.String("store", d.Store, "store backend: memory, redis, sqlite, leveldb")
	fs.String("redis-addr", d.RedisAddr, "redis address (store=redis)")
	fs.String("redis-prefix", d.RedisPrefix, "redis key prefix (store=redis)")
	fs.String("sqlite-path", d.SQLitePath, "sqlite database file (store=sqlite)")
	fs.String("leveldb-path", d.LevelDBPath, "leveldb database directory (store=leveldb)")
	fs.Duration("cache-ttl", d.CacheTTL, "default cache TTL when a response carries no freshness directive")
	fs.Int("rate-limit-total", d.RateLimitTotal, "total admissions per resource per rate-limit-window")
	fs.Duration("rate-limit-window", d.RateLimitWindow, "rate limit sliding window size")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.Bool("log-pretty", d.LogPretty, "human-readable console logging instead of JSON")
}

// loadConfig layers a config file (if configFile is non-empty), environment
// variables under the HTTPGOV_ prefix, and bound flags into one Config.
func loadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HTTPGOV")
	v.AutomaticEnv()

	// Bind each flag under its underscore key so it lines up with the
	// mapstructure tags and with HTTPGOV_<KEY> environment variables.
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr == nil {
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", configFile, err)
		}
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
