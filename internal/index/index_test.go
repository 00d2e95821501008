package index_test

import (
	"context"
	"errors"
	"testing"

	"oculith/internal/files"
	"oculith/internal/index"
	"oculith/internal/records"
	"oculith/internal/services"
	"oculith/internal/testsupport"
)

type failingEmbedder struct{}

func (failingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("model offline")
}

func (failingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("model offline")
}

func newIndexer(t *testing.T, embedder index.Embedder) (*index.Indexer, *index.VectorStore, *files.Service, *records.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fileService := files.NewService(cfg, store, nil)
	vectors, err := index.NewVectorStore(store.DB())
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}
	return index.NewIndexer(fileService, vectors, embedder, nil), vectors, fileService, store
}

func TestLocalEmbedderIsDeterministicAndNormalized(t *testing.T) {
	embedder := index.NewLocalEmbedder(64)
	ctx := context.Background()

	a, err := embedder.EmbedText(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	b, err := embedder.EmbedText(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 dimensions, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("identical text must embed identically")
		}
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if norm < 0.99 || norm > 1.01 {
		t.Fatalf("expected unit vector, got squared norm %f", norm)
	}
}

func TestLocalEmbedderSimilarityTracksOverlap(t *testing.T) {
	embedder := index.NewLocalEmbedder(128)
	ctx := context.Background()

	query, err := embedder.EmbedText(ctx, "database migration guide")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	vectors, err := embedder.EmbedTexts(ctx, []string{"guide to database migration steps", "banana bread recipe with walnuts"})
	if err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}

	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	vectorStore, err := index.NewVectorStore(store.DB())
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}
	if err := vectorStore.Replace(ctx, "f-1", []string{"related", "unrelated"}, vectors); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	results, err := vectorStore.Search(ctx, query, "", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Content != "related" {
		t.Fatalf("expected related chunk first, got %q (score %f)", results[0].Content, results[0].Score)
	}
	if results[0].Score <= results[1].Score {
		t.Fatal("expected overlap to raise similarity")
	}
}

func TestVectorStoreReplaceIsComplete(t *testing.T) {
	embedder := index.NewLocalEmbedder(32)
	ctx := context.Background()

	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	vectorStore, err := index.NewVectorStore(store.DB())
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}

	first, _ := embedder.EmbedTexts(ctx, []string{"one", "two", "three"})
	if err := vectorStore.Replace(ctx, "f-1", []string{"one", "two", "three"}, first); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	count, err := vectorStore.Count(ctx, "f-1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 vectors, got %d", count)
	}

	second, _ := embedder.EmbedTexts(ctx, []string{"only"})
	if err := vectorStore.Replace(ctx, "f-1", []string{"only"}, second); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	count, err = vectorStore.Count(ctx, "f-1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected reindex to drop stale vectors, got %d", count)
	}

	if err := vectorStore.DeleteFile(ctx, "f-1"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	count, err = vectorStore.Count(ctx, "f-1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no vectors after delete, got %d", count)
	}
}

func TestVectorStoreRejectsMismatchedLengths(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	vectorStore, err := index.NewVectorStore(store.DB())
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}

	err = vectorStore.Replace(context.Background(), "f-1", []string{"a", "b"}, [][]float32{{1}})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSearchScopedToFile(t *testing.T) {
	embedder := index.NewLocalEmbedder(32)
	ctx := context.Background()

	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	vectorStore, err := index.NewVectorStore(store.DB())
	if err != nil {
		t.Fatalf("NewVectorStore: %v", err)
	}

	v1, _ := embedder.EmbedTexts(ctx, []string{"shared phrase"})
	v2, _ := embedder.EmbedTexts(ctx, []string{"shared phrase"})
	if err := vectorStore.Replace(ctx, "f-1", []string{"shared phrase"}, v1); err != nil {
		t.Fatalf("Replace f-1: %v", err)
	}
	if err := vectorStore.Replace(ctx, "f-2", []string{"shared phrase"}, v2); err != nil {
		t.Fatalf("Replace f-2: %v", err)
	}

	query, _ := embedder.EmbedText(ctx, "shared phrase")
	results, err := vectorStore.Search(ctx, query, "f-2", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].FileID != "f-2" {
		t.Fatalf("expected only f-2 results, got %+v", results)
	}
}

func TestIndexerEmbedsChunkSet(t *testing.T) {
	indexer, vectorStore, fileService, store := newIndexer(t, index.NewLocalEmbedder(32))
	ctx := context.Background()

	record := testsupport.NewUploadedFile(t, store, "doc.md")
	if err := fileService.WriteChunks(record.ID, []string{"first chunk", "second chunk"}); err != nil {
		t.Fatalf("WriteChunks: %v", err)
	}

	if err := indexer.Execute(ctx, record); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	count, err := vectorStore.Count(ctx, record.ID)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 vectors, got %d", count)
	}
}

func TestIndexerFailsWithoutChunks(t *testing.T) {
	indexer, _, _, store := newIndexer(t, index.NewLocalEmbedder(32))
	record := testsupport.NewUploadedFile(t, store, "nochunks.md")

	if err := indexer.Execute(context.Background(), record); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIndexerWrapsEmbedderFailure(t *testing.T) {
	indexer, _, fileService, store := newIndexer(t, failingEmbedder{})
	ctx := context.Background()

	record := testsupport.NewUploadedFile(t, store, "doc.md")
	if err := fileService.WriteChunks(record.ID, []string{"chunk"}); err != nil {
		t.Fatalf("WriteChunks: %v", err)
	}

	if err := indexer.Execute(ctx, record); !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
}

func TestIndexerHealthReflectsEmbedder(t *testing.T) {
	healthy, _, _, _ := newIndexer(t, index.NewLocalEmbedder(32))
	if h := healthy.HealthCheck(context.Background()); !h.Ready {
		t.Fatalf("expected healthy index stage: %s", h.Detail)
	}

	broken, _, _, _ := newIndexer(t, failingEmbedder{})
	if h := broken.HealthCheck(context.Background()); h.Ready {
		t.Fatal("expected unhealthy index stage")
	}
}
