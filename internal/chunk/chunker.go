// Package chunk splits converted markdown into overlapping segments
// sized for embedding.
package chunk

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"oculith/internal/config"
	"oculith/internal/files"
	"oculith/internal/logging"
	"oculith/internal/records"
	"oculith/internal/services"
	"oculith/internal/stage"
)

// Chunker is the pipeline's second step. It reads the markdown
// artifact, splits it, persists the chunk set, and records the count.
type Chunker struct {
	cfg      *config.Config
	store    *records.Store
	files    *files.Service
	splitter textsplitter.TextSplitter
	logger   *slog.Logger
}

// NewChunker constructs the chunk step with a recursive character
// splitter sized from configuration.
func NewChunker(cfg *config.Config, store *records.Store, fileService *files.Service, logger *slog.Logger) *Chunker {
	if logger == nil {
		logger = logging.NewNop()
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.Chunking.ChunkSize),
		textsplitter.WithChunkOverlap(cfg.Chunking.ChunkOverlap),
	)
	return &Chunker{
		cfg:      cfg,
		store:    store,
		files:    fileService,
		splitter: splitter,
		logger:   logging.NewComponentLogger(logger, "chunk"),
	}
}

func (c *Chunker) Execute(ctx context.Context, record *records.FileRecord) error {
	logger := logging.WithContext(ctx, c.logger)

	markdown, err := c.files.Markdown(record.ID)
	if err != nil {
		return err
	}

	pieces, err := c.splitter.SplitText(markdown)
	if err != nil {
		return services.Wrap(services.ErrCollaborator, "chunk", "split text",
			"splitting failed for "+record.ID, err)
	}

	chunks := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		if trimmed := strings.TrimSpace(piece); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}
	if len(chunks) == 0 {
		return services.Wrap(services.ErrValidation, "chunk", "split text",
			"no chunks produced for "+record.ID, nil)
	}

	if err := c.files.WriteChunks(record.ID, chunks); err != nil {
		return err
	}
	if err := c.store.SetChunkCount(ctx, record.ID, len(chunks)); err != nil {
		return err
	}
	record.ChunkCount = len(chunks)

	logger.Info("chunking finished",
		logging.String(logging.FieldFileID, record.ID),
		logging.Int("chunks", len(chunks)))
	return nil
}

func (c *Chunker) HealthCheck(ctx context.Context) stage.Health {
	if c.cfg.Chunking.ChunkSize <= 0 {
		return stage.Unhealthy("chunk", "chunk size must be positive")
	}
	return stage.Healthy("chunk")
}

var _ stage.Handler = (*Chunker)(nil)
