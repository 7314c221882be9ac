package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/anatolykoptev/go_media/internal/engine"
)

// SQLiteStore is a single-file Store for deployments without Postgres.
// Timestamps are stored as UTC RFC3339 text.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("analytics: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("analytics: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer
	if err := initSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("analytics: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		job_id     TEXT PRIMARY KEY,
		url        TEXT NOT NULL,
		platform   TEXT NOT NULL,
		quality    TEXT NOT NULL DEFAULT '',
		format     TEXT NOT NULL DEFAULT '',
		user_id    INTEGER NOT NULL DEFAULT 0,
		chat_id    INTEGER NOT NULL DEFAULT 0,
		status     TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error      TEXT NOT NULL DEFAULT '',
		blob_key   TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		title      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS downloads_user_idx ON downloads (user_id)`)
	return err
}

func (s *SQLiteStore) Close() { s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func (s *SQLiteStore) RecordDownload(ctx context.Context, r engine.DownloadRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO downloads (job_id, url, platform, quality, format, user_id, chat_id, status,
			error_kind, error, blob_key, size_bytes, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			status = excluded.status,
			error_kind = excluded.error_kind,
			error = excluded.error,
			blob_key = excluded.blob_key,
			size_bytes = excluded.size_bytes,
			title = excluded.title,
			updated_at = excluded.updated_at
		WHERE downloads.status NOT IN ('completed', 'error')`,
		r.JobID, r.URL, r.Platform, string(r.Quality), string(r.Format), r.UserID, r.ChatID,
		string(r.Status), string(r.ErrorKind), r.Error, r.BlobKey, r.Size, r.Title,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("record download %s: %w", r.JobID, err)
	}
	return nil
}

func (s *SQLiteStore) UserSummary(ctx context.Context, userID int64) (*UserSummary, error) {
	sum := &UserSummary{UserID: userID}
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*),
			COALESCE(sum(status = 'completed'), 0),
			COALESCE(sum(status = 'error'), 0),
			COALESCE(sum(CASE WHEN status = 'completed' THEN size_bytes ELSE 0 END), 0),
			max(created_at)
		FROM downloads WHERE user_id = ?`, userID,
	).Scan(&sum.Total, &sum.Completed, &sum.Failed, &sum.Bytes, &last)
	if err != nil {
		return nil, fmt.Errorf("user summary: %w", err)
	}
	if last.Valid {
		if t, err := time.Parse(time.RFC3339, last.String); err == nil {
			sum.LastAt = t
		}
	}
	return sum, nil
}

func (s *SQLiteStore) PlatformCounts(ctx context.Context, since time.Time) ([]PlatformCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT platform, count(*) AS n FROM downloads
		WHERE created_at >= ?
		GROUP BY platform ORDER BY n DESC, platform`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("platform counts: %w", err)
	}
	defer rows.Close()

	var out []PlatformCount
	for rows.Next() {
		var pc PlatformCount
		if err := rows.Scan(&pc.Platform, &pc.Count); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}
