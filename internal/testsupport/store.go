package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"oculith/internal/config"
	"oculith/internal/records"
)

// MustOpenStore opens a records.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *records.Store {
	t.Helper()

	store, err := records.Open(cfg)
	if err != nil {
		t.Fatalf("records.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewUploadedFile creates an uploaded file record for tests.
func NewUploadedFile(t testing.TB, store *records.Store, name string) *records.FileRecord {
	t.Helper()

	record, err := store.Create(context.Background(), &records.FileRecord{
		ID:           uuid.NewString(),
		OriginalName: name,
		SourceType:   records.SourceLocal,
		Extension:    ".md",
		Status:       records.StatusUploaded,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return record
}
