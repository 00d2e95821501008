package config

import (
	"fmt"
	"strings"
)

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return fmt.Errorf("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return fmt.Errorf("paths.log_dir must be set")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1, got %d", c.Queue.Workers)
	}
	if c.Queue.MaxDepth < 1 {
		return fmt.Errorf("queue.max_depth must be at least 1, got %d", c.Queue.MaxDepth)
	}
	if c.Queue.SubscriberBuffer < 1 {
		return fmt.Errorf("queue.subscriber_buffer must be at least 1, got %d", c.Queue.SubscriberBuffer)
	}
	if c.Files.MaxFileSizeMiB < 1 {
		return fmt.Errorf("files.max_file_size_mib must be at least 1, got %d", c.Files.MaxFileSizeMiB)
	}
	if len(c.Files.AllowedExtensions) == 0 {
		return fmt.Errorf("files.allowed_extensions must not be empty")
	}
	if c.Files.FetchTimeout < 1 {
		return fmt.Errorf("files.fetch_timeout must be at least 1 second, got %d", c.Files.FetchTimeout)
	}
	if c.Chunking.ChunkSize < 1 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, chunk_size), got %d", c.Chunking.ChunkOverlap)
	}
	switch c.Embeddings.Provider {
	case "local":
	case "openai":
		if strings.TrimSpace(c.Embeddings.BaseURL) == "" {
			return fmt.Errorf("embeddings.base_url must be set when provider is %q", c.Embeddings.Provider)
		}
	default:
		return fmt.Errorf("embeddings.provider must be \"local\" or \"openai\", got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 1 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	return nil
}
