// Package convert turns raw payloads into normalized markdown.
package convert

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"code.sajari.com/docconv"
	"golang.org/x/text/unicode/norm"

	"oculith/internal/config"
	"oculith/internal/files"
	"oculith/internal/logging"
	"oculith/internal/records"
	"oculith/internal/services"
	"oculith/internal/stage"
)

// Extractor pulls plain text out of a raw payload. The default uses
// docconv; tests inject their own.
type Extractor interface {
	Extract(path, contentType string) (string, error)
}

// Converter is the pipeline's first step. It fetches remote payloads
// on demand, extracts text, and writes the markdown artifact.
type Converter struct {
	cfg       *config.Config
	files     *files.Service
	extractor Extractor
	logger    *slog.Logger
}

// NewConverter constructs the convert step with the docconv extractor.
func NewConverter(cfg *config.Config, fileService *files.Service, logger *slog.Logger) *Converter {
	return NewConverterWithExtractor(cfg, fileService, docconvExtractor{}, logger)
}

// NewConverterWithExtractor allows injecting the extractor (used in tests).
func NewConverterWithExtractor(cfg *config.Config, fileService *files.Service, extractor Extractor, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Converter{
		cfg:       cfg,
		files:     fileService,
		extractor: extractor,
		logger:    logging.NewComponentLogger(logger, "convert"),
	}
}

func (c *Converter) Execute(ctx context.Context, record *records.FileRecord) error {
	logger := logging.WithContext(ctx, c.logger)

	rawPath, err := c.files.EnsureLocal(ctx, record)
	if err != nil {
		return err
	}

	var text string
	if isPlainText(record.Extension) {
		data, err := os.ReadFile(rawPath)
		if err != nil {
			return services.Wrap(services.ErrTransient, "convert", "read payload", "read "+rawPath, err)
		}
		text = string(data)
	} else {
		text, err = c.extractor.Extract(rawPath, record.ContentType)
		if err != nil {
			return services.Wrap(services.ErrCollaborator, "convert", "extract text",
				"extraction failed for "+record.OriginalName, err)
		}
	}

	text = Normalize(text)
	if text == "" {
		return services.Wrap(services.ErrValidation, "convert", "extract text",
			"no text content in "+record.OriginalName, nil)
	}

	if err := c.files.WriteMarkdown(record.ID, text); err != nil {
		return err
	}

	logger.Info("conversion finished",
		logging.String(logging.FieldFileID, record.ID),
		logging.Int("markdown_bytes", len(text)))
	return nil
}

func (c *Converter) HealthCheck(ctx context.Context) stage.Health {
	if err := os.MkdirAll(c.cfg.Paths.DataDir, 0o755); err != nil {
		return stage.Unhealthy("convert", "data directory unavailable: "+err.Error())
	}
	return stage.Healthy("convert")
}

// Normalize applies Unicode NFC, strips carriage returns, and trims
// trailing whitespace per line so downstream chunking sees stable
// text regardless of the source format.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isPlainText(ext string) bool {
	switch ext {
	case ".md", ".markdown", ".txt":
		return true
	}
	return false
}

type docconvExtractor struct{}

func (docconvExtractor) Extract(path, contentType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	res, err := docconv.Convert(f, contentType, true)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}

var _ stage.Handler = (*Converter)(nil)
