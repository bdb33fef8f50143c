package storage

import (
	"context"

	"github.com/repopulse/repopulse/internal/domain"
)

// Storage is the abstract interface for the persistence layer
type Storage interface {
	// Snapshot writes
	StoreMetrics(ctx context.Context, snapshot *domain.MetricsSnapshot) error

	// Snapshot reads
	GetLatestMetrics(ctx context.Context) (*domain.MetricsSnapshot, error)
	GetMetricsInRange(ctx context.Context, startDate, endDate string) ([]*domain.MetricsSnapshot, error)
	GetTimeRangeMetrics(ctx context.Context, days int) (*domain.TrendComparison, error)

	// Retention
	CleanupOldMetrics(ctx context.Context, retentionDays int) (int64, error)

	// Health
	GetHealthStatus(ctx context.Context) (*domain.StoreHealth, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
