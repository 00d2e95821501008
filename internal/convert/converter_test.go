package convert_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"oculith/internal/convert"
	"oculith/internal/files"
	"oculith/internal/records"
	"oculith/internal/services"
	"oculith/internal/testsupport"
)

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) Extract(path, contentType string) (string, error) {
	return s.text, s.err
}

func newConverter(t *testing.T, extractor convert.Extractor) (*convert.Converter, *files.Service) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fileService := files.NewService(cfg, store, nil)
	return convert.NewConverterWithExtractor(cfg, fileService, extractor, nil), fileService
}

func TestExecutePassesPlainTextThrough(t *testing.T) {
	converter, fileService := newConverter(t, stubExtractor{err: errors.New("extractor must not run")})
	ctx := context.Background()

	record, err := fileService.RegisterUpload(ctx, "notes.md", strings.NewReader("# Title\r\n\r\nBody.  \r\n"))
	if err != nil {
		t.Fatalf("RegisterUpload: %v", err)
	}

	if err := converter.Execute(ctx, record); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	markdown, err := fileService.Markdown(record.ID)
	if err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	if markdown != "# Title\n\nBody." {
		t.Fatalf("unexpected markdown %q", markdown)
	}
}

func TestExecuteUsesExtractorForBinaryFormats(t *testing.T) {
	converter, fileService := newConverter(t, stubExtractor{text: "Extracted body."})
	ctx := context.Background()

	record, err := fileService.RegisterUpload(ctx, "report.pdf", strings.NewReader("%PDF-1.7 fake"))
	if err != nil {
		t.Fatalf("RegisterUpload: %v", err)
	}

	if err := converter.Execute(ctx, record); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	markdown, err := fileService.Markdown(record.ID)
	if err != nil {
		t.Fatalf("Markdown: %v", err)
	}
	if markdown != "Extracted body." {
		t.Fatalf("unexpected markdown %q", markdown)
	}
}

func TestExecuteWrapsExtractorFailure(t *testing.T) {
	converter, fileService := newConverter(t, stubExtractor{err: errors.New("corrupt stream")})
	ctx := context.Background()

	record, err := fileService.RegisterUpload(ctx, "broken.pdf", strings.NewReader("junk"))
	if err != nil {
		t.Fatalf("RegisterUpload: %v", err)
	}

	err = converter.Execute(ctx, record)
	if !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
}

func TestExecuteRejectsEmptyText(t *testing.T) {
	converter, fileService := newConverter(t, stubExtractor{text: "   \n\t\n"})
	ctx := context.Background()

	record, err := fileService.RegisterUpload(ctx, "blank.pdf", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("RegisterUpload: %v", err)
	}

	if err := converter.Execute(ctx, record); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecuteFailsWhenPayloadMissing(t *testing.T) {
	converter, _ := newConverter(t, stubExtractor{})

	record := &records.FileRecord{
		ID:         "ghost",
		SourceType: records.SourceLocal,
		Extension:  ".txt",
	}
	if err := converter.Execute(context.Background(), record); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"windows line endings", "a\r\nb\r\n", "a\nb"},
		{"bare carriage returns", "a\rb", "a\nb"},
		{"trailing whitespace per line", "a  \nb\t\n", "a\nb"},
		{"surrounding blank lines", "\n\n  body  \n\n", "body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := convert.Normalize(tc.in); got != tc.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	converter, _ := newConverter(t, stubExtractor{})

	health := converter.HealthCheck(context.Background())
	if !health.Ready {
		t.Fatalf("expected healthy convert stage: %s", health.Detail)
	}
	if health.Name != "convert" {
		t.Fatalf("unexpected health name %q", health.Name)
	}
}
