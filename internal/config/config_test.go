package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"oculith/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != path {
		t.Fatalf("expected resolved path %s, got %s", path, resolved)
	}
	if cfg.Queue.Workers != 3 {
		t.Fatalf("expected default workers 3, got %d", cfg.Queue.Workers)
	}
}

func TestLoadAppliesOverridesAndNormalizesExtensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + dir + `/data"
log_dir = "` + dir + `/logs"

[queue]
workers = 5

[files]
allowed_extensions = ["PDF", " .md"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be detected")
	}
	if cfg.Queue.Workers != 5 {
		t.Fatalf("expected workers override 5, got %d", cfg.Queue.Workers)
	}
	want := []string{".pdf", ".md"}
	if len(cfg.Files.AllowedExtensions) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Files.AllowedExtensions)
	}
	for i, ext := range want {
		if cfg.Files.AllowedExtensions[i] != ext {
			t.Fatalf("expected %v, got %v", want, cfg.Files.AllowedExtensions)
		}
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero workers", func(c *config.Config) { c.Queue.Workers = 0 }, "queue.workers"},
		{"zero depth", func(c *config.Config) { c.Queue.MaxDepth = 0 }, "queue.max_depth"},
		{"overlap too large", func(c *config.Config) { c.Chunking.ChunkOverlap = c.Chunking.ChunkSize }, "chunk_overlap"},
		{"unknown provider", func(c *config.Config) { c.Embeddings.Provider = "cohere" }, "embeddings.provider"},
		{"openai without base url", func(c *config.Config) { c.Embeddings.Provider = "openai" }, "base_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected error when config already exists")
	}
}
