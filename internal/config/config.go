// Package config provides configuration management for excerpt using
// Viper for loading from files, environment variables and command-line
// flags.
//
// The configuration file is .excerpt.yml. Every value can be overridden
// by an environment variable with the EXCERPT_ prefix, for example
// EXCERPT_SERVER_PORT or EXCERPT_STORE_DRIVER. Load applies defaults for
// anything unset and then validates the result.
package config

import (
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/excerpt/internal/batch"
	"github.com/conneroisu/excerpt/internal/cache"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/logging"
	"github.com/conneroisu/excerpt/internal/store"
	"github.com/conneroisu/excerpt/internal/validation"
	"github.com/conneroisu/excerpt/internal/watcher"
)

type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Cache  CacheConfig  `mapstructure:"cache" yaml:"cache"`
	Batch  BatchConfig  `mapstructure:"batch" yaml:"batch"`
	Watch  WatchConfig  `mapstructure:"watch" yaml:"watch"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
}

type CacheConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	HotSize  int64         `mapstructure:"hot_size" yaml:"hot_size"`
	HotTTL   time.Duration `mapstructure:"hot_ttl" yaml:"hot_ttl"`
}

type BatchConfig struct {
	InitialWindow time.Duration `mapstructure:"initial_window" yaml:"initial_window"`
	RollingWindow time.Duration `mapstructure:"rolling_window" yaml:"rolling_window"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Remote is the base URL the fetch command batches against
	Remote string `mapstructure:"remote" yaml:"remote"`
}

type WatchConfig struct {
	Dirs     []string      `mapstructure:"dirs" yaml:"dirs"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8080"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.dsn", "file:excerpt.db")
	v.SetDefault("store.dir", ".excerpt/store")

	v.SetDefault("cache.debounce", cache.DefaultDebounce)
	v.SetDefault("cache.hot_size", int64(cache.DefaultHotSize))
	v.SetDefault("cache.hot_ttl", time.Duration(0))

	v.SetDefault("batch.initial_window", batch.DefaultInitialWindow)
	v.SetDefault("batch.rolling_window", batch.DefaultRollingWindow)
	v.SetDefault("batch.timeout", batch.DefaultTimeout)
	v.SetDefault("batch.remote", "http://localhost:8080")

	v.SetDefault("watch.dirs", []string{"./sources"})
	v.SetDefault("watch.debounce", watcher.DefaultDebounce)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EXCERPT"

// BindEnv makes v read EXCERPT_<SECTION>_<KEY> environment variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &errors.ExcerptError{
			Type:    errors.ErrorTypeConfig,
			Code:    errors.ErrCodeConfigInvalid,
			Message: "decoding configuration",
			Cause:   err,
		}
	}

	// Comma separated lists from the environment arrive as one element
	config.Server.AllowedOrigins = splitList(config.Server.AllowedOrigins)
	config.Watch.Dirs = splitList(config.Watch.Dirs)

	if vec := Validate(&config); vec.HasErrors() {
		return nil, &errors.ExcerptError{
			Type:    errors.ErrorTypeConfig,
			Code:    errors.ErrCodeConfigInvalid,
			Message: "invalid configuration",
			Cause:   vec,
		}
	}
	return &config, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks configuration values for correctness. Every problem
// is reported, not just the first.
func Validate(config *Config) *errors.ValidationErrorCollection {
	vec := &errors.ValidationErrorCollection{}
	validateServerConfig(&config.Server, vec)
	validateStoreConfig(&config.Store, vec)
	validateCacheConfig(&config.Cache, vec)
	validateBatchConfig(&config.Batch, vec)
	validateWatchConfig(&config.Watch, vec)
	validateLogConfig(&config.Log, vec)
	return vec
}

func validateServerConfig(config *ServerConfig, vec *errors.ValidationErrorCollection) {
	// Allow 0 for system-assigned ports in testing
	if config.Port < 0 || config.Port > 65535 {
		vec.AddField("server.port", config.Port, "is not in valid range 0-65535")
	}
	if err := validation.ValidateHost(config.Host); err != nil {
		vec.AddField("server.host", config.Host, err.Error())
	}
	for _, origin := range config.AllowedOrigins {
		if err := validation.ValidateOrigin(origin); err != nil {
			vec.AddField("server.allowed_origins", origin, "must be an http(s) origin or *")
		}
	}
	if config.ShutdownTimeout < 0 {
		vec.AddField("server.shutdown_timeout", config.ShutdownTimeout, "must not be negative")
	}
}

func validateStoreConfig(config *StoreConfig, vec *errors.ValidationErrorCollection) {
	switch config.Driver {
	case store.DriverMemory:
	case store.DriverSQLite:
		if config.DSN == "" {
			vec.AddField("store.dsn", config.DSN, "is required for the sqlite driver")
		}
	case store.DriverFile:
		if err := validatePath(config.Dir); err != nil {
			vec.AddField("store.dir", config.Dir, err.Error())
		}
	default:
		vec.AddField("store.driver", config.Driver, "must be one of memory, sqlite, file")
	}
}

func validateCacheConfig(config *CacheConfig, vec *errors.ValidationErrorCollection) {
	if config.Debounce <= 0 {
		vec.AddField("cache.debounce", config.Debounce, "must be positive")
	}
	if config.HotSize < 0 {
		vec.AddField("cache.hot_size", config.HotSize, "must not be negative")
	}
	if config.HotTTL < 0 {
		vec.AddField("cache.hot_ttl", config.HotTTL, "must not be negative")
	}
}

func validateBatchConfig(config *BatchConfig, vec *errors.ValidationErrorCollection) {
	if config.InitialWindow <= 0 {
		vec.AddField("batch.initial_window", config.InitialWindow, "must be positive")
	}
	if config.RollingWindow <= 0 {
		vec.AddField("batch.rolling_window", config.RollingWindow, "must be positive")
	}
	if config.Timeout <= 0 {
		vec.AddField("batch.timeout", config.Timeout, "must be positive")
	}
	if config.Remote != "" && validation.ValidateURL(config.Remote) != nil {
		vec.AddField("batch.remote", config.Remote, "must be an http(s) URL")
	}
}

func validateWatchConfig(config *WatchConfig, vec *errors.ValidationErrorCollection) {
	for _, dir := range config.Dirs {
		if err := validatePath(dir); err != nil {
			vec.AddField("watch.dirs", dir, err.Error())
		}
	}
	if config.Debounce <= 0 {
		vec.AddField("watch.debounce", config.Debounce, "must be positive")
	}
}

func validateLogConfig(config *LogConfig, vec *errors.ValidationErrorCollection) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		vec.AddField("log.level", config.Level, "must be one of debug, info, warn, error")
	}
	if config.Format != "text" && config.Format != "json" {
		vec.AddField("log.format", config.Format, "must be text or json")
	}
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StoreOptions converts the store section for store.Open.
func (c StoreConfig) StoreOptions() store.Config {
	return store.Config{Driver: c.Driver, DSN: c.DSN, Dir: c.Dir}
}

// NewLogger builds the logger described by the log section.
func (c LogConfig) NewLogger(out io.Writer) *logging.SlogLogger {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.NewLogger(&logging.LoggerConfig{Level: level, Format: c.Format, Output: out})
}
