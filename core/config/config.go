package config

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	cache  sync.Map // reflect.Type -> parsed value
	dotenv sync.Once
)

// Load populates cfg from environment variables, caching the result per
// concrete type so repeated loads of the same type are cheap and identical.
// A .env file in the working directory is read once before the first parse;
// a missing file is not an error.
func Load[T any](cfg *T) error {
	dotenv.Do(func() {
		_ = godotenv.Load()
	})

	t := reflect.TypeOf(cfg).Elem()
	if v, ok := cache.Load(t); ok {
		*cfg = v.(T)
		return nil
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", t.Name(), err)
	}
	cache.Store(t, *cfg)
	return nil
}

// MustLoad is Load that panics on failure, for use during startup.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}

// Reload re-parses cfg from the current environment, bypassing and updating
// the cache. Used by signal-driven configuration reloads.
func Reload[T any](cfg *T) error {
	t := reflect.TypeOf(cfg).Elem()
	var fresh T
	if err := env.Parse(&fresh); err != nil {
		return fmt.Errorf("config: reload %s: %w", t.Name(), err)
	}
	cache.Store(t, fresh)
	*cfg = fresh
	return nil
}
