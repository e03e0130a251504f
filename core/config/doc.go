// Package config provides type-safe environment variable loading with
// caching using Go generics. Each configuration type is loaded once and
// cached for subsequent calls; Reload bypasses the cache for signal-driven
// configuration reloads.
//
// The package automatically loads a .env file on first use and uses the
// caarlos0/env library for parsing environment variables into struct fields.
//
// Basic usage:
//
//	import "github.com/dmitrymomot/streamhub/core/config"
//
//	var cfg broker.Config
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
//
//	// Or panic on failure (useful for startup)
//	config.MustLoad(&cfg)
//
// Each configuration type is loaded only once per process lifetime; a
// second Load of the same type returns the cached value. Different types
// are cached independently.
package config
