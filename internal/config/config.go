// The application's root configuration.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger"`
	Storage StorageConfig `mapstructure:"storage"`
	Browser BrowserConfig `mapstructure:"browser"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Captcha CaptchaConfig `mapstructure:"captcha"`
	Pacing  PacingConfig  `mapstructure:"pacing"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug string `mapstructure:"debug"`
	Info  string `mapstructure:"info"`
	Warn  string `mapstructure:"warn"`
	Error string `mapstructure:"error"`
	Fatal string `mapstructure:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// StorageConfig selects where accounts, proxies and sessions live.
// With a Postgres URL set, the pgx-backed repositories are used; otherwise
// everything is kept under DataDir on the local filesystem.
type StorageConfig struct {
	PostgresURL string `mapstructure:"postgres_url"`
	DataDir     string `mapstructure:"data_dir"`
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors"`
	Args            []string `mapstructure:"args"`
	WindowWidth     int      `mapstructure:"window_width"`
	WindowHeight    int      `mapstructure:"window_height"`
	UserAgent       string   `mapstructure:"user_agent"`
}

// EngineConfig holds settings for the batch scheduler and executor.
type EngineConfig struct {
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	StaggerMax        time.Duration `mapstructure:"stagger_max"`
	BatchPause        time.Duration `mapstructure:"batch_pause"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
}

// CaptchaConfig holds the solver provider contract settings.
type CaptchaConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	APIKey       string        `mapstructure:"api_key"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
}

// PacingConfig tunes the human-like delays used during interaction.
type PacingConfig struct {
	TypingHoldMeanMs int           `mapstructure:"typing_hold_mean_ms"`
	MinDwell         time.Duration `mapstructure:"min_dwell"`
	MaxDwell         time.Duration `mapstructure:"max_dwell"`
	SlowFactor       float64       `mapstructure:"slow_factor"`
}

// SetDefaults registers default values so the app can run with a minimal
// config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "vkviewer")
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	v.SetDefault("storage.data_dir", "./data")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 768)

	v.SetDefault("engine.max_concurrency", 3)
	v.SetDefault("engine.stagger_max", 4*time.Second)
	v.SetDefault("engine.batch_pause", 2*time.Second)
	v.SetDefault("engine.navigation_timeout", 45*time.Second)
	v.SetDefault("engine.operation_timeout", 10*time.Minute)

	v.SetDefault("captcha.poll_interval", 5*time.Second)
	v.SetDefault("captcha.max_wait", 2*time.Minute)

	v.SetDefault("pacing.typing_hold_mean_ms", 70)
	v.SetDefault("pacing.min_dwell", 35*time.Second)
	v.SetDefault("pacing.max_dwell", 90*time.Second)
	v.SetDefault("pacing.slow_factor", 1.8)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrency <= 0 {
		return fmt.Errorf("engine.max_concurrency must be a positive integer")
	}
	if c.Storage.PostgresURL == "" && c.Storage.DataDir == "" {
		return fmt.Errorf("storage requires either postgres_url or data_dir")
	}
	if c.Captcha.PollInterval <= 0 {
		return fmt.Errorf("captcha.poll_interval must be positive")
	}
	if c.Pacing.MinDwell > c.Pacing.MaxDwell {
		return fmt.Errorf("pacing.min_dwell must not exceed pacing.max_dwell")
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	var loadErr error
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Set stores the configuration instance directly. Used by tests and by the
// root command after flag overrides are applied.
func Set(cfg *Config) {
	instance = cfg
	once.Do(func() {})
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
