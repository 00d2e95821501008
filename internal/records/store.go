package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"oculith/internal/config"
	"oculith/internal/services"
)

// Store manages file record persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the records database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "oculith.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// DB exposes the underlying handle so sibling stores can share the database file.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Create inserts a new file record in the uploaded state.
func (s *Store) Create(ctx context.Context, record *FileRecord) (*FileRecord, error) {
	if record == nil {
		return nil, errors.New("record is nil")
	}
	if strings.TrimSpace(record.ID) == "" {
		return nil, services.Wrap(services.ErrValidation, "records", "create", "file id must not be empty", nil)
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = StatusUploaded
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO file_records (
            id, original_name, source_type, source_url, extension, content_type,
            size_bytes, status, last_stage, requested_steps, last_error,
            chunk_count, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		nullableString(record.OriginalName),
		string(record.SourceType),
		nullableString(record.SourceURL),
		nullableString(record.Extension),
		nullableString(record.ContentType),
		record.SizeBytes,
		record.Status,
		nullableString(string(record.LastStage)),
		nullableString(StepsString(record.RequestedSteps)),
		nullableString(record.LastError),
		record.ChunkCount,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert file record: %w", err)
	}
	return s.Get(ctx, record.ID)
}

// Get fetches a file record by identifier.
func (s *Store) Get(ctx context.Context, id string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM file_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "records", "get", fmt.Sprintf("file %s", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get file record: %w", err)
	}
	return record, nil
}

// List returns file records filtered by status set (or all records when no
// status is provided), newest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*FileRecord, error) {
	baseQuery := `SELECT ` + recordColumns + ` FROM file_records`
	orderClause := ` ORDER BY created_at DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list file records: %w", err)
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// SetStatus advances a record's status. It validates the transition, records
// the error message for failures, clears it otherwise, and advances LastStage
// when the new status marks a completed stage. The write is guarded on the
// status it was validated against, so a concurrent transition can never be
// overwritten with a stale decision; the validation simply reruns against the
// fresh status.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, lastErr string) (*FileRecord, error) {
	if _, ok := statusSet[status]; !ok {
		return nil, services.Wrap(services.ErrValidation, "records", "set status", fmt.Sprintf("unknown status %q", status), nil)
	}
	if status != StatusFailed {
		lastErr = ""
	}

	for {
		record, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !validTransition(record.Status, status) {
			return nil, services.Wrap(services.ErrValidation, "records", "set status",
				fmt.Sprintf("illegal transition %s -> %s for file %s", record.Status, status, id), nil)
		}

		lastStage := record.LastStage
		if _, ok := stageRank[status]; ok && status != "" && stageRank[status] > stageRank[lastStage] {
			lastStage = status
		}

		now := time.Now().UTC()
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE file_records SET status = ?, last_stage = ?, last_error = ?, updated_at = ? WHERE id = ? AND status = ?`,
			status,
			nullableString(string(lastStage)),
			nullableString(lastErr),
			now.Format(time.RFC3339Nano),
			id,
			record.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("update status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Lost a race with another writer; revalidate.
			continue
		}

		record.Status = status
		record.LastStage = lastStage
		record.LastError = lastErr
		record.UpdatedAt = now
		return record, nil
	}
}

// ResetQueued returns a queued record to its resting status, derived from the
// last completed stage, after its task was cancelled before any stage ran.
// It reports nil without error when the record is not queued anymore.
func (s *Store) ResetQueued(ctx context.Context, id string) (*FileRecord, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusQueued {
		return nil, nil
	}

	target := record.LastStage
	if target == "" {
		target = StatusUploaded
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE file_records SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		target,
		now.Format(time.RFC3339Nano),
		id,
		StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("reset queued: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	record.Status = target
	record.UpdatedAt = now
	return record, nil
}

// SetRequestedSteps records the step set of the most recent submission.
func (s *Store) SetRequestedSteps(ctx context.Context, id string, steps []Step) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE file_records SET requested_steps = ?, updated_at = ? WHERE id = ?`,
		nullableString(StepsString(steps)),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("update requested steps: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "records", "set requested steps", fmt.Sprintf("file %s", id), nil)
	}
	return nil
}

// SetChunkCount records how many chunks the chunk stage produced.
func (s *Store) SetChunkCount(ctx context.Context, id string, count int) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE file_records SET chunk_count = ?, updated_at = ? WHERE id = ?`,
		count,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("update chunk count: %w", err)
	}
	return nil
}

// SetSizeBytes records the payload size once it is known, which for
// remote sources is only after the first fetch.
func (s *Store) SetSizeBytes(ctx context.Context, id string, size int64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE file_records SET size_bytes = ?, updated_at = ? WHERE id = ?`,
		size,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("update size: %w", err)
	}
	return nil
}

// Remove deletes a record by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM file_records WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete file record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Stats returns a count of records grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM file_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("record stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

const recordColumns = "id, original_name, source_type, source_url, extension, content_type, size_bytes, status, last_stage, requested_steps, last_error, chunk_count, created_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*FileRecord, error) {
	var (
		id           string
		originalName sql.NullString
		sourceType   string
		sourceURL    sql.NullString
		extension    sql.NullString
		contentType  sql.NullString
		sizeBytes    int64
		statusStr    string
		lastStage    sql.NullString
		steps        sql.NullString
		lastError    sql.NullString
		chunkCount   int
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&originalName,
		&sourceType,
		&sourceURL,
		&extension,
		&contentType,
		&sizeBytes,
		&statusStr,
		&lastStage,
		&steps,
		&lastError,
		&chunkCount,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &FileRecord{
		ID:             id,
		OriginalName:   originalName.String,
		SourceType:     SourceType(sourceType),
		SourceURL:      sourceURL.String,
		Extension:      extension.String,
		ContentType:    contentType.String,
		SizeBytes:      sizeBytes,
		Status:         Status(statusStr),
		LastStage:      Status(lastStage.String),
		RequestedSteps: ParseSteps(steps.String),
		LastError:      lastError.String,
		ChunkCount:     chunkCount,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
