package sqlite

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/repopulse/repopulse/internal/domain"
	apperrors "github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS repository_metrics (
		date TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		stars INTEGER NOT NULL DEFAULT 0,
		forks INTEGER NOT NULL DEFAULT 0,
		contributors INTEGER NOT NULL DEFAULT 0,
		commits INTEGER NOT NULL DEFAULT 0,
		releases INTEGER NOT NULL DEFAULT 0,
		open_issues INTEGER NOT NULL DEFAULT 0,
		closed_issues INTEGER NOT NULL DEFAULT 0,
		open_prs INTEGER NOT NULL DEFAULT 0,
		closed_prs INTEGER NOT NULL DEFAULT 0,
		merged_prs INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_repository_metrics_timestamp ON repository_metrics(timestamp);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return apperrors.NewPersistenceError("failed to run migrations", err)
	}
	return nil
}

// StoreMetrics upserts a snapshot keyed by its UTC calendar date
func (s *sqliteStorage) StoreMetrics(ctx context.Context, snapshot *domain.MetricsSnapshot) error {
	query := `
		INSERT OR REPLACE INTO repository_metrics
			(date, timestamp, stars, forks, contributors, commits, releases,
			 open_issues, closed_issues, open_prs, closed_prs, merged_prs, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		snapshot.Date,
		snapshot.Timestamp,
		snapshot.Stars,
		snapshot.Forks,
		snapshot.Contributors,
		snapshot.Commits,
		snapshot.Releases,
		snapshot.OpenIssues,
		snapshot.ClosedIssues,
		snapshot.OpenPRs,
		snapshot.ClosedPRs,
		snapshot.MergedPRs,
		time.Now().UTC(),
	)
	if err != nil {
		return apperrors.NewPersistenceError("failed to store metrics", err)
	}
	return nil
}

// GetLatestMetrics returns the most recent snapshot, or nil when none exist
func (s *sqliteStorage) GetLatestMetrics(ctx context.Context) (*domain.MetricsSnapshot, error) {
	query := `
		SELECT date, timestamp, stars, forks, contributors, commits, releases,
			open_issues, closed_issues, open_prs, closed_prs, merged_prs, created_at
		FROM repository_metrics
		ORDER BY timestamp DESC
		LIMIT 1
	`
	var snap domain.MetricsSnapshot
	err := s.db.QueryRowContext(ctx, query).Scan(
		&snap.Date, &snap.Timestamp, &snap.Stars, &snap.Forks, &snap.Contributors,
		&snap.Commits, &snap.Releases, &snap.OpenIssues, &snap.ClosedIssues,
		&snap.OpenPRs, &snap.ClosedPRs, &snap.MergedPRs, &snap.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to load latest metrics", err)
	}

	return &snap, nil
}

// GetMetricsInRange returns snapshots between two dates inclusive, ascending.
// Dates are YYYY-MM-DD, so string order is chronological order.
func (s *sqliteStorage) GetMetricsInRange(ctx context.Context, startDate, endDate string) ([]*domain.MetricsSnapshot, error) {
	query := `
		SELECT date, timestamp, stars, forks, contributors, commits, releases,
			open_issues, closed_issues, open_prs, closed_prs, merged_prs, created_at
		FROM repository_metrics
		WHERE date >= ? AND date <= ?
		ORDER BY date
	`
	rows, err := s.db.QueryContext(ctx, query, startDate, endDate)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to load metrics range", err)
	}
	defer rows.Close()

	var snapshots []*domain.MetricsSnapshot
	for rows.Next() {
		var snap domain.MetricsSnapshot
		err := rows.Scan(
			&snap.Date, &snap.Timestamp, &snap.Stars, &snap.Forks, &snap.Contributors,
			&snap.Commits, &snap.Releases, &snap.OpenIssues, &snap.ClosedIssues,
			&snap.OpenPRs, &snap.ClosedPRs, &snap.MergedPRs, &snap.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.NewPersistenceError("failed to scan metrics row", err)
		}
		snapshots = append(snapshots, &snap)
	}

	return snapshots, nil
}

// GetTimeRangeMetrics compares the latest snapshot against the newest snapshot
// older than the cutoff. Returns nil when no snapshot exists inside the window.
func (s *sqliteStorage) GetTimeRangeMetrics(ctx context.Context, days int) (*domain.TrendComparison, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).UnixMilli()

	selectCols := `
		SELECT date, timestamp, stars, forks, contributors, commits, releases,
			open_issues, closed_issues, open_prs, closed_prs, merged_prs, created_at
		FROM repository_metrics
	`

	var current domain.MetricsSnapshot
	err := s.db.QueryRowContext(ctx, selectCols+`
		WHERE timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT 1
	`, cutoff).Scan(
		&current.Date, &current.Timestamp, &current.Stars, &current.Forks, &current.Contributors,
		&current.Commits, &current.Releases, &current.OpenIssues, &current.ClosedIssues,
		&current.OpenPRs, &current.ClosedPRs, &current.MergedPRs, &current.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to load current metrics", err)
	}

	previous := &current
	var prev domain.MetricsSnapshot
	err = s.db.QueryRowContext(ctx, selectCols+`
		WHERE timestamp < ?
		ORDER BY timestamp DESC
		LIMIT 1
	`, cutoff).Scan(
		&prev.Date, &prev.Timestamp, &prev.Stars, &prev.Forks, &prev.Contributors,
		&prev.Commits, &prev.Releases, &prev.OpenIssues, &prev.ClosedIssues,
		&prev.OpenPRs, &prev.ClosedPRs, &prev.MergedPRs, &prev.CreatedAt,
	)
	if err == nil {
		previous = &prev
	} else if err != sql.ErrNoRows {
		return nil, apperrors.NewPersistenceError("failed to load previous metrics", err)
	}

	return &domain.TrendComparison{
		Current:  &current,
		Previous: previous,
		Change:   domain.Diff(&current, previous),
	}, nil
}

// CleanupOldMetrics removes snapshots older than the retention window and
// returns the number of rows removed
func (s *sqliteStorage) CleanupOldMetrics(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(domain.SnapshotDateLayout)

	result, err := s.db.ExecContext(ctx, `DELETE FROM repository_metrics WHERE date < ?`, cutoff)
	if err != nil {
		return 0, apperrors.NewPersistenceError("failed to clean up old metrics", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.NewPersistenceError("failed to count removed rows", err)
	}
	return removed, nil
}

// GetHealthStatus reports record counts and collection recency for the store
func (s *sqliteStorage) GetHealthStatus(ctx context.Context) (*domain.StoreHealth, error) {
	var count int
	var oldest, newest sql.NullString
	var lastCollection sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(date), MAX(date), MAX(timestamp) FROM repository_metrics
	`).Scan(&count, &oldest, &newest, &lastCollection)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to load health status", err)
	}

	health := &domain.StoreHealth{
		IsHealthy:   count > 0,
		RecordCount: count,
	}
	if oldest.Valid {
		health.OldestRecord = oldest.String
	}
	if newest.Valid {
		health.NewestRecord = newest.String
	}
	if lastCollection.Valid {
		health.LastCollection = lastCollection.Int64
	}

	return health, nil
}

// Close closes the database connection
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
