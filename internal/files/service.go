// Package files manages the on-disk artifacts of registered files:
// the raw upload, the converted markdown, and the chunk set. It owns
// the data directory layout so stages never build paths themselves.
package files

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"oculith/internal/config"
	"oculith/internal/logging"
	"oculith/internal/records"
	"oculith/internal/services"
)

// Service registers files and owns their disk artifacts.
type Service struct {
	cfg    *config.Config
	store  *records.Store
	logger *slog.Logger
	client *http.Client
}

// NewService builds a file service over the given store and data
// directory layout.
func NewService(cfg *config.Config, store *records.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "files"),
		client: &http.Client{Timeout: time.Duration(cfg.Files.FetchTimeout) * time.Second},
	}
}

// RegisterUpload stores an uploaded payload and creates its record.
func (s *Service) RegisterUpload(ctx context.Context, originalName string, payload io.Reader) (*records.FileRecord, error) {
	ext, err := s.allowedExtension(originalName)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	rawPath := s.rawPath(id, ext)
	if err := os.MkdirAll(filepath.Dir(rawPath), 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "files", "register upload", "create raw directory", err)
	}

	size, err := s.writeCapped(rawPath, payload)
	if err != nil {
		return nil, err
	}

	record, err := s.store.Create(ctx, &records.FileRecord{
		ID:           id,
		OriginalName: originalName,
		SourceType:   records.SourceLocal,
		Extension:    ext,
		ContentType:  contentTypeFor(ext),
		SizeBytes:    size,
	})
	if err != nil {
		os.Remove(rawPath)
		return nil, err
	}

	s.logger.Info("file registered",
		logging.String(logging.FieldFileID, record.ID),
		logging.String("name", originalName),
		logging.Int64("size_bytes", size))
	return record, nil
}

// RegisterRemote creates a record for a URL. The payload is fetched
// lazily by EnsureLocal when the convert step first needs it.
func (s *Service) RegisterRemote(ctx context.Context, rawURL string) (*records.FileRecord, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, services.Wrap(services.ErrValidation, "files", "register remote", "url must be absolute http or https", err)
	}

	name := filepath.Base(parsed.Path)
	if name == "." || name == "/" || name == "" {
		name = parsed.Host
	}
	ext, err := s.allowedExtension(name)
	if err != nil {
		return nil, err
	}

	record, err := s.store.Create(ctx, &records.FileRecord{
		ID:           uuid.NewString(),
		OriginalName: name,
		SourceType:   records.SourceRemote,
		SourceURL:    rawURL,
		Extension:    ext,
		ContentType:  contentTypeFor(ext),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("remote file registered",
		logging.String(logging.FieldFileID, record.ID),
		logging.String("url", rawURL))
	return record, nil
}

// EnsureLocal returns the raw payload path, downloading remote sources
// on first use.
func (s *Service) EnsureLocal(ctx context.Context, record *records.FileRecord) (string, error) {
	rawPath := s.RawPath(record)
	if _, err := os.Stat(rawPath); err == nil {
		return rawPath, nil
	}
	if record.SourceType != records.SourceRemote {
		return "", services.Wrap(services.ErrNotFound, "files", "ensure local", "raw payload missing for "+record.ID, nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, record.SourceURL, nil)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "files", "fetch", "build request for "+record.SourceURL, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "files", "fetch", "download "+record.SourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", services.Wrap(services.ErrTransient, "files", "fetch",
			fmt.Sprintf("download %s returned %d", record.SourceURL, resp.StatusCode), nil)
	}

	if err := os.MkdirAll(filepath.Dir(rawPath), 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "files", "fetch", "create raw directory", err)
	}
	size, err := s.writeCapped(rawPath, resp.Body)
	if err != nil {
		return "", err
	}
	if err := s.store.SetSizeBytes(ctx, record.ID, size); err != nil {
		return "", err
	}
	record.SizeBytes = size

	s.logger.Info("remote payload fetched",
		logging.String(logging.FieldFileID, record.ID),
		logging.Int64("size_bytes", size))
	return rawPath, nil
}

// RawPath returns where a record's raw payload lives.
func (s *Service) RawPath(record *records.FileRecord) string {
	return s.rawPath(record.ID, record.Extension)
}

// MarkdownPath returns where a file's converted markdown lives.
func (s *Service) MarkdownPath(id string) string {
	return filepath.Join(s.cfg.Paths.DataDir, "md", id+".md")
}

// WriteMarkdown persists the converted markdown artifact.
func (s *Service) WriteMarkdown(id, content string) error {
	path := s.MarkdownPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "files", "write markdown", "create markdown directory", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "files", "write markdown", "write "+path, err)
	}
	return nil
}

// Markdown reads the converted markdown artifact.
func (s *Service) Markdown(id string) (string, error) {
	data, err := os.ReadFile(s.MarkdownPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", services.Wrap(services.ErrNotFound, "files", "read markdown", "no markdown for "+id, err)
		}
		return "", services.Wrap(services.ErrTransient, "files", "read markdown", "read markdown for "+id, err)
	}
	return string(data), nil
}

// ChunksDir returns the directory holding a file's chunk artifacts.
func (s *Service) ChunksDir(id string) string {
	return filepath.Join(s.cfg.Paths.DataDir, "chunks", id)
}

// WriteChunks persists the chunk set, replacing any previous one.
func (s *Service) WriteChunks(id string, chunks []string) error {
	dir := s.ChunksDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return services.Wrap(services.ErrTransient, "files", "write chunks", "clear chunk directory", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "files", "write chunks", "create chunk directory", err)
	}
	for i, chunk := range chunks {
		path := filepath.Join(dir, fmt.Sprintf("%04d.txt", i))
		if err := os.WriteFile(path, []byte(chunk), 0o644); err != nil {
			return services.Wrap(services.ErrTransient, "files", "write chunks", "write "+path, err)
		}
	}
	return nil
}

// Chunks reads the chunk set back in order.
func (s *Service) Chunks(id string) ([]string, error) {
	dir := s.ChunksDir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, services.Wrap(services.ErrNotFound, "files", "read chunks", "no chunks for "+id, err)
		}
		return nil, services.Wrap(services.ErrTransient, "files", "read chunks", "list chunk directory", err)
	}

	chunks := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "files", "read chunks", "read "+entry.Name(), err)
		}
		chunks = append(chunks, string(data))
	}
	return chunks, nil
}

// Delete removes a record and all of its artifacts. Files currently
// being processed cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.IsProcessing() {
		return services.Wrap(services.ErrValidation, "files", "delete", "file is being processed", nil)
	}

	removed, err := s.store.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return services.Wrap(services.ErrNotFound, "files", "delete", "no file with id "+id, nil)
	}

	os.Remove(s.RawPath(record))
	os.Remove(s.MarkdownPath(id))
	os.RemoveAll(s.ChunksDir(id))

	s.logger.Info("file deleted", logging.String(logging.FieldFileID, id))
	return nil
}

func (s *Service) rawPath(id, ext string) string {
	return filepath.Join(s.cfg.Paths.DataDir, "raw", id+ext)
}

func (s *Service) maxBytes() int64 {
	return int64(s.cfg.Files.MaxFileSizeMiB) << 20
}

func (s *Service) allowedExtension(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "", services.Wrap(services.ErrValidation, "files", "validate", "file name has no extension", nil)
	}
	for _, allowed := range s.cfg.Files.AllowedExtensions {
		if ext == allowed {
			return ext, nil
		}
	}
	return "", services.Wrap(services.ErrValidation, "files", "validate", "extension "+ext+" is not allowed", nil)
}

// writeCapped copies payload to path, failing once the size cap is
// exceeded. The partial file is removed on failure.
func (s *Service) writeCapped(path string, payload io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "files", "store payload", "create "+path, err)
	}

	limit := s.maxBytes()
	size, err := io.Copy(out, io.LimitReader(payload, limit+1))
	closeErr := out.Close()
	switch {
	case err != nil:
		os.Remove(path)
		return 0, services.Wrap(services.ErrTransient, "files", "store payload", "write "+path, err)
	case closeErr != nil:
		os.Remove(path)
		return 0, services.Wrap(services.ErrTransient, "files", "store payload", "close "+path, closeErr)
	case size > limit:
		os.Remove(path)
		return 0, services.Wrap(services.ErrValidation, "files", "store payload",
			fmt.Sprintf("payload exceeds %d MiB limit", s.cfg.Files.MaxFileSizeMiB), nil)
	}
	return size, nil
}

func contentTypeFor(ext string) string {
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
