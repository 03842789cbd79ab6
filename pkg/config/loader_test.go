package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/admitq/pkg/config"
)

type testConfig struct {
	Name    string        `env:"TEST_APP_NAME" envDefault:"admitq"`
	Port    int           `env:"TEST_APP_PORT" envDefault:"8080"`
	Timeout time.Duration `env:"TEST_APP_TIMEOUT" envDefault:"5s"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		var cfg testConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "admitq", cfg.Name)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("TEST_APP_NAME", "override")
		t.Setenv("TEST_APP_PORT", "9090")

		var cfg testConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "override", cfg.Name)
		assert.Equal(t, 9090, cfg.Port)
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Setenv("TEST_APP_PORT", "not-a-number")

		var cfg testConfig
		err := config.Load(&cfg)
		require.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		err := config.Load[testConfig](nil)
		require.ErrorIs(t, err, config.ErrNilPointer)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("panics on invalid value", func(t *testing.T) {
		t.Setenv("TEST_APP_TIMEOUT", "bogus")

		assert.Panics(t, func() {
			var cfg testConfig
			config.MustLoad(&cfg)
		})
	})
}
