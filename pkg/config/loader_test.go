package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/config"
)

type sampleConfig struct {
	Name    string        `env:"BILLINGKIT_TEST_NAME" envDefault:"billing"`
	Timeout time.Duration `env:"BILLINGKIT_TEST_TIMEOUT" envDefault:"20s"`
}

type requiredConfig struct {
	Secret string `env:"BILLINGKIT_TEST_REQUIRED_SECRET,required"`
}

type fileConfig struct {
	Value string `env:"BILLINGKIT_TEST_FILE_VALUE"`
	Int   int    `env:"BILLINGKIT_TEST_FILE_INT"`
}

func TestLoad(t *testing.T) {
	config.ResetCache()

	t.Run("applies defaults and overrides", func(t *testing.T) {
		t.Setenv("BILLINGKIT_TEST_NAME", "custom")

		var cfg sampleConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "custom", cfg.Name)
		assert.Equal(t, 20*time.Second, cfg.Timeout)
	})

	t.Run("caches per type", func(t *testing.T) {
		t.Setenv("BILLINGKIT_TEST_NAME", "changed")

		var cfg sampleConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "custom", cfg.Name)
	})

	t.Run("required variable missing", func(t *testing.T) {
		var cfg requiredConfig
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *sampleConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})

	t.Run("must load panics", func(t *testing.T) {
		assert.Panics(t, func() {
			var cfg requiredConfig
			config.MustLoad(&cfg)
		})
	})
}

func TestLoadEnv(t *testing.T) {
	config.ResetCache()

	require.NoError(t, config.LoadEnv("testdata/.env.test"))

	var cfg fileConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "from_file", cfg.Value)
	assert.Equal(t, 42, cfg.Int)

	assert.ErrorIs(t, config.LoadEnv("testdata/missing.env"), config.ErrLoadingEnvFile)
}
