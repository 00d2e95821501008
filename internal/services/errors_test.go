package services_test

import (
	"errors"
	"testing"

	"oculith/internal/services"
)

func TestWrapPreservesMarker(t *testing.T) {
	base := errors.New("disk full")
	err := services.Wrap(services.ErrCollaborator, "convert", "extract text", "writing markdown", base)

	if !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected collaborator marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if err.Error() != "transient failure: service failure" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestWrapDetailOrdering(t *testing.T) {
	err := services.Wrap(services.ErrValidation, "files", "upload", "unsupported extension", nil)
	want := "validation error: files: upload: unsupported extension"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
