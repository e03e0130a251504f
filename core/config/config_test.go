package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/streamhub/core/config"
)

// Distinct types per test keep the per-type cache from leaking between them.

func TestLoad(t *testing.T) {
	type cfg struct {
		Addr    string        `env:"CFGTEST_LOAD_ADDR" envDefault:":8080"`
		Timeout time.Duration `env:"CFGTEST_LOAD_TIMEOUT" envDefault:"5s"`
	}

	t.Setenv("CFGTEST_LOAD_ADDR", ":9090")

	var c cfg
	require.NoError(t, config.Load(&c))
	assert.Equal(t, ":9090", c.Addr)
	assert.Equal(t, 5*time.Second, c.Timeout, "unset variables fall back to defaults")
}

func TestLoad_CachesPerType(t *testing.T) {
	type cfg struct {
		Value string `env:"CFGTEST_CACHE_VALUE" envDefault:"default"`
	}

	t.Setenv("CFGTEST_CACHE_VALUE", "first")
	var a cfg
	require.NoError(t, config.Load(&a))
	assert.Equal(t, "first", a.Value)

	// A later Load of the same type ignores environment changes.
	t.Setenv("CFGTEST_CACHE_VALUE", "second")
	var b cfg
	require.NoError(t, config.Load(&b))
	assert.Equal(t, "first", b.Value)
}

func TestLoad_RequiredMissing(t *testing.T) {
	type cfg struct {
		DSN string `env:"CFGTEST_REQUIRED_DSN,required"`
	}

	var c cfg
	err := config.Load(&c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CFGTEST_REQUIRED_DSN")
}

func TestReload_BypassesCache(t *testing.T) {
	type cfg struct {
		Value string `env:"CFGTEST_RELOAD_VALUE" envDefault:"default"`
	}

	t.Setenv("CFGTEST_RELOAD_VALUE", "initial")
	var c cfg
	require.NoError(t, config.Load(&c))
	require.Equal(t, "initial", c.Value)

	t.Setenv("CFGTEST_RELOAD_VALUE", "reloaded")
	require.NoError(t, config.Reload(&c))
	assert.Equal(t, "reloaded", c.Value)

	// The reload refreshed the cache for subsequent loads too.
	var again cfg
	require.NoError(t, config.Load(&again))
	assert.Equal(t, "reloaded", again.Value)
}

func TestMustLoad_PanicsOnError(t *testing.T) {
	type cfg struct {
		DSN string `env:"CFGTEST_MUST_DSN,required"`
	}

	assert.Panics(t, func() {
		var c cfg
		config.MustLoad(&c)
	})
}
