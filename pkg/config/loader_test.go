package config_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/prolessons/pkg/config"
)

type basicConfig struct {
	Name    string        `env:"CONFIG_TEST_NAME" envDefault:"prolessons"`
	Timeout time.Duration `env:"CONFIG_TEST_TIMEOUT" envDefault:"30s"`
}

type requiredConfig struct {
	Secret string `env:"CONFIG_TEST_REQUIRED_SECRET,required"`
}

type validatedConfig struct {
	Mode string `env:"CONFIG_TEST_MODE" envDefault:"sandbox"`
}

func (c validatedConfig) Validate() error {
	if c.Mode != "sandbox" && c.Mode != "live" {
		return errors.New("mode must be sandbox or live")
	}
	return nil
}

type fileConfig struct {
	Value string `env:"CONFIG_TEST_FILE_VALUE"`
	Int   int    `env:"CONFIG_TEST_FILE_INT"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		config.Reset()
		var cfg basicConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "prolessons", cfg.Name)
		assert.Equal(t, 30*time.Second, cfg.Timeout)
	})

	t.Run("cached per type", func(t *testing.T) {
		config.Reset()
		t.Setenv("CONFIG_TEST_NAME", "first")
		var a basicConfig
		require.NoError(t, config.Load(&a))

		t.Setenv("CONFIG_TEST_NAME", "second")
		var b basicConfig
		require.NoError(t, config.Load(&b))
		assert.Equal(t, "first", b.Name)

		config.Reset()
		var c basicConfig
		require.NoError(t, config.Load(&c))
		assert.Equal(t, "second", c.Name)
	})

	t.Run("missing required value", func(t *testing.T) {
		config.Reset()
		var cfg requiredConfig
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)

		t.Setenv("CONFIG_TEST_REQUIRED_SECRET", "s3cr3t")
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "s3cr3t", cfg.Secret)
	})

	t.Run("validator rejects", func(t *testing.T) {
		config.Reset()
		t.Setenv("CONFIG_TEST_MODE", "staging")
		var cfg validatedConfig
		assert.ErrorIs(t, config.Load(&cfg), config.ErrInvalidConfig)

		t.Setenv("CONFIG_TEST_MODE", "live")
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "live", cfg.Mode)
	})

	t.Run("nil pointer", func(t *testing.T) {
		assert.ErrorIs(t, config.Load[basicConfig](nil), config.ErrNilPointer)
	})

	t.Run("must load panics", func(t *testing.T) {
		config.Reset()
		os.Unsetenv("CONFIG_TEST_REQUIRED_SECRET")
		assert.Panics(t, func() {
			var cfg requiredConfig
			config.MustLoad(&cfg)
		})
	})
}

func TestLoadEnv(t *testing.T) {
	t.Run("loads file", func(t *testing.T) {
		config.Reset()
		t.Setenv("CONFIG_TEST_FILE_VALUE", "")
		os.Unsetenv("CONFIG_TEST_FILE_VALUE")
		os.Unsetenv("CONFIG_TEST_FILE_INT")
		t.Cleanup(func() {
			os.Unsetenv("CONFIG_TEST_FILE_VALUE")
			os.Unsetenv("CONFIG_TEST_FILE_INT")
		})

		require.NoError(t, config.LoadEnv("testdata/.env.test"))
		var cfg fileConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "from_file", cfg.Value)
		assert.Equal(t, 42, cfg.Int)
	})

	t.Run("missing file", func(t *testing.T) {
		assert.ErrorIs(t, config.LoadEnv("testdata/missing.env"), config.ErrLoadingEnvFile)
	})
}
