package testsupport

import (
	"path/filepath"
	"testing"

	"oculith/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithWorkers overrides the worker pool size on the test config.
func WithWorkers(n int) ConfigOption {
	return func(c *config.Config) {
		c.Queue.Workers = n
	}
}

// WithMaxDepth overrides the queue depth on the test config.
func WithMaxDepth(n int) ConfigOption {
	return func(c *config.Config) {
		c.Queue.MaxDepth = n
	}
}
