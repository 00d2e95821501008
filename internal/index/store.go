package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"oculith/internal/services"
)

const vectorSchema = `
CREATE TABLE IF NOT EXISTS chunk_vectors (
    file_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    content TEXT NOT NULL,
    vector BLOB NOT NULL,
    PRIMARY KEY (file_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_chunk_vectors_file ON chunk_vectors(file_id);
`

// VectorStore persists chunk embeddings in the daemon's SQLite
// database and answers similarity queries over them.
type VectorStore struct {
	db *sql.DB
}

// NewVectorStore prepares the vector table on an open database handle.
// The handle is shared with the records store; VectorStore does not
// close it.
func NewVectorStore(db *sql.DB) (*VectorStore, error) {
	if _, err := db.Exec(vectorSchema); err != nil {
		return nil, fmt.Errorf("apply vector schema: %w", err)
	}
	return &VectorStore{db: db}, nil
}

// Replace swaps in a complete vector set for a file. Reindexing a file
// never leaves stale vectors behind.
func (s *VectorStore) Replace(ctx context.Context, fileID string, chunks []string, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return services.Wrap(services.ErrValidation, "index", "replace vectors",
			fmt.Sprintf("%d chunks but %d vectors", len(chunks), len(vectors)), nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin vector transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("clear vectors: %w", err)
	}
	for i := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunk_vectors (file_id, seq, content, vector) VALUES (?, ?, ?, ?)`,
			fileID, i, chunks[i], encodeVector(vectors[i]),
		); err != nil {
			return fmt.Errorf("insert vector %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// DeleteFile removes every vector belonging to a file.
func (s *VectorStore) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunk_vectors WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}

// Count reports how many vectors a file has stored.
func (s *VectorStore) Count(ctx context.Context, fileID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunk_vectors WHERE file_id = ?`, fileID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return count, nil
}

// SearchResult is one similarity match.
type SearchResult struct {
	FileID  string  `json:"file_id"`
	Seq     int     `json:"seq"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Search returns the limit chunks most similar to the query vector,
// across all files or restricted to one when fileID is non-empty.
// Scores are cosine similarity in [-1, 1], best first.
func (s *VectorStore) Search(ctx context.Context, query []float32, fileID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	stmt := `SELECT file_id, seq, content, vector FROM chunk_vectors`
	args := []any{}
	if fileID != "" {
		stmt += ` WHERE file_id = ?`
		args = append(args, fileID)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			result SearchResult
			blob   []byte
		)
		if err := rows.Scan(&result.FileID, &result.Seq, &result.Content, &blob); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		vector, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		result.Score = cosineSimilarity(query, vector)
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vectors: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, services.Wrap(services.ErrValidation, "index", "decode vector",
			fmt.Sprintf("vector blob length %d is not a multiple of 4", len(blob)), nil)
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector, nil
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
