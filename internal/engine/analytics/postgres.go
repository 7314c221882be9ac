package analytics

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anatolykoptev/go_media/internal/engine"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// PostgresStore is the production Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres creates a pool and applies migrations.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	config.MaxConns = 5
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("analytics: postgres connected", slog.String("addr", config.ConnConfig.Host))
	return s, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read schema dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := schemaFS.ReadFile("schema/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("execute %s: %w", entry.Name(), err)
		}
		slog.Debug("analytics: migration applied", slog.String("file", entry.Name()))
	}
	return nil
}

const upsertDownload = `
INSERT INTO downloads (job_id, url, platform, quality, format, user_id, chat_id, status,
	error_kind, error, blob_key, size_bytes, title, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (job_id) DO UPDATE SET
	status = EXCLUDED.status,
	error_kind = EXCLUDED.error_kind,
	error = EXCLUDED.error,
	blob_key = EXCLUDED.blob_key,
	size_bytes = EXCLUDED.size_bytes,
	title = EXCLUDED.title,
	updated_at = EXCLUDED.updated_at
WHERE downloads.status NOT IN ('completed', 'error')`

func (s *PostgresStore) RecordDownload(ctx context.Context, r engine.DownloadRecord) error {
	_, err := s.pool.Exec(ctx, upsertDownload,
		r.JobID, r.URL, r.Platform, string(r.Quality), string(r.Format), r.UserID, r.ChatID,
		string(r.Status), string(r.ErrorKind), r.Error, r.BlobKey, r.Size, r.Title,
		r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("record download %s: %w", r.JobID, err)
	}
	return nil
}

func (s *PostgresStore) UserSummary(ctx context.Context, userID int64) (*UserSummary, error) {
	sum := &UserSummary{UserID: userID}
	var last *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'error'),
			COALESCE(sum(size_bytes) FILTER (WHERE status = 'completed'), 0),
			max(created_at)
		FROM downloads WHERE user_id = $1`, userID,
	).Scan(&sum.Total, &sum.Completed, &sum.Failed, &sum.Bytes, &last)
	if err != nil {
		return nil, fmt.Errorf("user summary: %w", err)
	}
	if last != nil {
		sum.LastAt = *last
	}
	return sum, nil
}

func (s *PostgresStore) PlatformCounts(ctx context.Context, since time.Time) ([]PlatformCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT platform, count(*) FROM downloads
		WHERE created_at >= $1
		GROUP BY platform ORDER BY count(*) DESC, platform`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("platform counts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PlatformCount, error) {
		var pc PlatformCount
		err := row.Scan(&pc.Platform, &pc.Count)
		return pc, err
	})
}
