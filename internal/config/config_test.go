package config

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGetUninitialized verifies that calling Get() before Load() causes a panic.
func TestGetUninitialized(t *testing.T) {
	instance = nil
	once = sync.Once{}

	assert.Panics(t, func() {
		Get()
	}, "Get() should panic if configuration is not initialized")
}

// TestLoadAndGet verifies the basic singleton load and get functionality.
func TestLoadAndGet(t *testing.T) {
	instance = nil
	once = sync.Once{}

	yamlConfig := []byte(`
storage:
  data_dir: "/tmp/vkviewer"
engine:
  max_concurrency: 4
browser:
  headless: true
`)

	v := viper.New()
	v.SetConfigType("yaml")
	err := v.ReadConfig(bytes.NewBuffer(yamlConfig))
	require.NoError(t, err)

	err = Load(v)
	require.NoError(t, err)

	cfg := Get()
	require.NotNil(t, cfg)
	assert.Equal(t, "/tmp/vkviewer", cfg.Storage.DataDir)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrency)
	assert.True(t, cfg.Browser.Headless)

	// Subsequent Load calls must not replace the instance.
	v2 := viper.New()
	v2.SetConfigType("yaml")
	_ = v2.ReadConfig(bytes.NewBuffer([]byte(`storage: {data_dir: "/elsewhere"}`)))
	err = Load(v2)
	require.NoError(t, err)

	cfg2 := Get()
	assert.Same(t, cfg, cfg2, "Get() should return the same instance")
	assert.Equal(t, "/tmp/vkviewer", cfg2.Storage.DataDir, "Configuration should not be reloaded")
}

// TestConfigValidation verifies the Validate() method.
func TestConfigValidation(t *testing.T) {
	base := func() Config {
		return Config{
			Storage: StorageConfig{DataDir: "./data"},
			Engine:  EngineConfig{MaxConcurrency: 2},
			Captcha: CaptchaConfig{PollInterval: 5 * time.Second},
			Pacing:  PacingConfig{MinDwell: 30 * time.Second, MaxDwell: 60 * time.Second},
		}
	}

	testCases := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			mutate:      func(*Config) {},
			expectError: false,
		},
		{
			name: "zero max concurrency",
			mutate: func(c *Config) {
				c.Engine.MaxConcurrency = 0
			},
			expectError: true,
			errorMsg:    "engine.max_concurrency must be a positive integer",
		},
		{
			name: "no storage backend",
			mutate: func(c *Config) {
				c.Storage = StorageConfig{}
			},
			expectError: true,
			errorMsg:    "storage requires either postgres_url or data_dir",
		},
		{
			name: "inverted dwell window",
			mutate: func(c *Config) {
				c.Pacing.MinDwell = 2 * time.Minute
			},
			expectError: true,
			errorMsg:    "pacing.min_dwell must not exceed pacing.max_dwell",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestDefaults verifies that SetDefaults produces a runnable configuration.
func TestDefaults(t *testing.T) {
	instance = nil
	once = sync.Once{}

	v := viper.New()
	SetDefaults(v)
	require.NoError(t, Load(v))

	cfg := Get()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Engine.MaxConcurrency)
	assert.Equal(t, 5*time.Second, cfg.Captcha.PollInterval)
	assert.True(t, cfg.Browser.Headless)
}

// TestSet ensures that the Set function correctly sets the global instance.
func TestSet(t *testing.T) {
	instance = nil
	once = sync.Once{}

	expectedCfg := &Config{
		Storage: StorageConfig{DataDir: "set-from-test"},
	}

	Set(expectedCfg)

	actualCfg := Get()
	assert.Same(t, expectedCfg, actualCfg, "Get should return the exact instance that was Set")
	assert.Equal(t, "set-from-test", actualCfg.Storage.DataDir)
}
