package index

import (
	"context"
	"log/slog"

	"oculith/internal/files"
	"oculith/internal/logging"
	"oculith/internal/records"
	"oculith/internal/services"
	"oculith/internal/stage"
)

// Indexer is the pipeline's final step. It embeds the chunk set and
// replaces the file's stored vectors.
type Indexer struct {
	files    *files.Service
	vectors  *VectorStore
	embedder Embedder
	logger   *slog.Logger
}

// NewIndexer constructs the index step.
func NewIndexer(fileService *files.Service, vectors *VectorStore, embedder Embedder, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Indexer{
		files:    fileService,
		vectors:  vectors,
		embedder: embedder,
		logger:   logging.NewComponentLogger(logger, "index"),
	}
}

func (i *Indexer) Execute(ctx context.Context, record *records.FileRecord) error {
	logger := logging.WithContext(ctx, i.logger)

	chunks, err := i.files.Chunks(record.ID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return services.Wrap(services.ErrValidation, "index", "load chunks",
			"chunk set for "+record.ID+" is empty", nil)
	}

	vectors, err := i.embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return services.Wrap(services.ErrCollaborator, "index", "embed chunks",
			"embedding failed for "+record.ID, err)
	}
	if err := i.vectors.Replace(ctx, record.ID, chunks, vectors); err != nil {
		return err
	}

	logger.Info("indexing finished",
		logging.String(logging.FieldFileID, record.ID),
		logging.Int("vectors", len(vectors)))
	return nil
}

func (i *Indexer) HealthCheck(ctx context.Context) stage.Health {
	if _, err := i.embedder.EmbedText(ctx, "health probe"); err != nil {
		return stage.Unhealthy("index", "embedder unavailable: "+err.Error())
	}
	return stage.Healthy("index")
}

var _ stage.Handler = (*Indexer)(nil)
