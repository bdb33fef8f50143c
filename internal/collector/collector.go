package collector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/repopulse/repopulse/internal/domain"
	apperrors "github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/storage"
)

// subQueryTimeout bounds each upstream sub-query of one collection run
const subQueryTimeout = 30 * time.Second

// Collector defines the interface for producing and persisting snapshots
type Collector interface {
	// CollectCurrentMetrics gathers a full snapshot from the GitHub API,
	// validates it, and persists it
	CollectCurrentMetrics(ctx context.Context) (*domain.MetricsSnapshot, error)

	// HasCollectedToday reports whether a snapshot for today's UTC date exists
	HasCollectedToday(ctx context.Context) (bool, error)

	// CollectIfNeeded collects only when today's snapshot is missing
	CollectIfNeeded(ctx context.Context) (*domain.MetricsSnapshot, error)

	// GetHealthStatus reports collection freshness
	GetHealthStatus(ctx context.Context) (*domain.CollectorHealth, error)
}

// service implements Collector on top of the GitHub client and the store
type service struct {
	client GitHubClient
	store  storage.Storage
	logger *log.Logger
	now    func() time.Time
}

// NewService creates a new collector service
func NewService(client GitHubClient, store storage.Storage, logger *log.Logger) Collector {
	return &service{
		client: client,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// fieldValue is one snapshot field produced by a sub-query
type fieldValue struct {
	Field string
	Value int
}

// subResult carries the outcome of one concurrent sub-query
type subResult struct {
	Name   string
	Fields []fieldValue
	Err    error
}

// CollectCurrentMetrics fans the sub-queries out concurrently, folds the
// results into one snapshot, validates it, and stores it. A failed sub-query
// degrades its fields to zero; the run fails only when every query failed.
func (s *service) CollectCurrentMetrics(ctx context.Context) (*domain.MetricsSnapshot, error) {
	takenAt := s.now().UTC()
	s.logger.Info("collecting repository metrics", "date", takenAt.Format(domain.SnapshotDateLayout))

	queries := []struct {
		name string
		run  func(ctx context.Context) ([]fieldValue, error)
	}{
		{"repository", s.fetchRepositoryCounts},
		{"contributors", s.fetchContributorCount},
		{"commits", s.fetchCommitCount},
		{"releases", s.fetchReleaseCount},
		{"open_issues", s.fetchOpenIssueCount},
		{"closed_issues", s.fetchClosedIssueCount},
		{"open_prs", s.fetchOpenPRCount},
		{"closed_prs", s.fetchClosedPRCounts},
	}

	results := make([]subResult, len(queries))
	var wg sync.WaitGroup

	// Limit concurrent goroutines
	semaphore := make(chan struct{}, 5)

	for i, q := range queries {
		wg.Add(1)
		go func(index int, name string, run func(ctx context.Context) ([]fieldValue, error)) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			queryCtx, cancel := context.WithTimeout(ctx, subQueryTimeout)
			defer cancel()

			fields, err := run(queryCtx)
			results[index] = subResult{Name: name, Fields: fields, Err: err}
		}(i, q.name, q.run)
	}

	wg.Wait()

	snapshot := &domain.MetricsSnapshot{
		Timestamp: takenAt.UnixMilli(),
		Date:      takenAt.Format(domain.SnapshotDateLayout),
	}

	degraded := reduceResults(snapshot, results)
	if len(degraded) == len(queries) {
		// nothing succeeded: report a failed run instead of a zero snapshot
		return nil, firstError(results)
	}
	if len(degraded) > 0 {
		s.logger.Warn("sub-queries failed, keeping zero fallbacks",
			"queries", strings.Join(degraded, ","))
	}

	if err := validateSnapshot(snapshot); err != nil {
		return nil, err
	}

	if err := s.store.StoreMetrics(ctx, snapshot); err != nil {
		return nil, err
	}

	snapshot.ID = uuid.New().String()
	snapshot.CreatedAt = takenAt

	s.logger.Info("metrics snapshot stored",
		"date", snapshot.Date,
		"stars", snapshot.Stars,
		"commits", snapshot.Commits)
	return snapshot, nil
}

// HasCollectedToday reports whether a snapshot for today's UTC date exists
func (s *service) HasCollectedToday(ctx context.Context) (bool, error) {
	latest, err := s.store.GetLatestMetrics(ctx)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return false, nil
	}

	today := s.now().UTC().Format(domain.SnapshotDateLayout)
	return latest.Date == today, nil
}

// CollectIfNeeded short-circuits to the stored snapshot when today's
// collection already ran
func (s *service) CollectIfNeeded(ctx context.Context) (*domain.MetricsSnapshot, error) {
	collected, err := s.HasCollectedToday(ctx)
	if err != nil {
		return nil, err
	}
	if collected {
		s.logger.Debug("snapshot for today already exists, skipping collection")
		return s.store.GetLatestMetrics(ctx)
	}

	return s.CollectCurrentMetrics(ctx)
}

// GetHealthStatus reports whether a snapshot was collected in the last 24 hours
func (s *service) GetHealthStatus(ctx context.Context) (*domain.CollectorHealth, error) {
	latest, err := s.store.GetLatestMetrics(ctx)
	if err != nil {
		return nil, err
	}

	health := &domain.CollectorHealth{}
	if latest != nil {
		takenAt := latest.TakenAt()
		health.LastCollectedAt = &takenAt
		health.IsHealthy = s.now().UTC().Sub(takenAt) < 24*time.Hour
	}

	return health, nil
}

// fetchRepositoryCounts reads stars and forks from the repository overview
func (s *service) fetchRepositoryCounts(ctx context.Context) ([]fieldValue, error) {
	overview, err := s.client.GetRepository(ctx)
	if err != nil {
		return nil, err
	}
	return []fieldValue{
		{"stars", overview.Stars},
		{"forks", overview.Forks},
	}, nil
}

func (s *service) fetchContributorCount(ctx context.Context) ([]fieldValue, error) {
	count, err := s.client.CountContributors(ctx)
	if err != nil {
		return nil, err
	}
	return []fieldValue{{"contributors", count}}, nil
}

func (s *service) fetchCommitCount(ctx context.Context) ([]fieldValue, error) {
	count, err := s.client.CountCommits(ctx)
	if err != nil {
		return nil, err
	}
	return []fieldValue{{"commits", count}}, nil
}

func (s *service) fetchReleaseCount(ctx context.Context) ([]fieldValue, error) {
	count, err := s.client.CountReleases(ctx)
	if err != nil {
		return nil, err
	}
	return []fieldValue{{"releases", count}}, nil
}

func (s *service) fetchOpenIssueCount(ctx context.Context) ([]fieldValue, error) {
	count, err := s.client.CountIssues(ctx, "open")
	if err != nil {
		return nil, err
	}
	return []fieldValue{{"open_issues", count}}, nil
}

func (s *service) fetchClosedIssueCount(ctx context.Context) ([]fieldValue, error) {
	count, err := s.client.CountIssues(ctx, "closed")
	if err != nil {
		return nil, err
	}
	return []fieldValue{{"closed_issues", count}}, nil
}

func (s *service) fetchOpenPRCount(ctx context.Context) ([]fieldValue, error) {
	count, err := s.client.CountOpenPullRequests(ctx)
	if err != nil {
		return nil, err
	}
	return []fieldValue{{"open_prs", count}}, nil
}

// fetchClosedPRCounts reads closed and merged counts from one listing walk
func (s *service) fetchClosedPRCounts(ctx context.Context) ([]fieldValue, error) {
	closed, merged, err := s.client.CountClosedPullRequests(ctx)
	if err != nil {
		return nil, err
	}
	return []fieldValue{
		{"closed_prs", closed},
		{"merged_prs", merged},
	}, nil
}

// reduceResults folds sub-query results into the snapshot. A failed sub-query
// leaves its fields at zero; the names of the failed queries are returned.
func reduceResults(snap *domain.MetricsSnapshot, results []subResult) []string {
	var degraded []string
	for _, r := range results {
		if r.Err != nil {
			degraded = append(degraded, r.Name)
			continue
		}
		for _, f := range r.Fields {
			applyField(snap, f.Field, f.Value)
		}
	}
	return degraded
}

// applyField folds one field value into the snapshot
func applyField(snap *domain.MetricsSnapshot, field string, value int) {
	switch field {
	case "stars":
		snap.Stars = value
	case "forks":
		snap.Forks = value
	case "contributors":
		snap.Contributors = value
	case "commits":
		snap.Commits = value
	case "releases":
		snap.Releases = value
	case "open_issues":
		snap.OpenIssues = value
	case "closed_issues":
		snap.ClosedIssues = value
	case "open_prs":
		snap.OpenPRs = value
	case "closed_prs":
		snap.ClosedPRs = value
	case "merged_prs":
		snap.MergedPRs = value
	}
}

// validateSnapshot rejects snapshots that violate the count invariants.
// A rejected snapshot is never persisted.
func validateSnapshot(snap *domain.MetricsSnapshot) error {
	counts := []fieldValue{
		{"stars", snap.Stars},
		{"forks", snap.Forks},
		{"contributors", snap.Contributors},
		{"commits", snap.Commits},
		{"releases", snap.Releases},
		{"open_issues", snap.OpenIssues},
		{"closed_issues", snap.ClosedIssues},
		{"open_prs", snap.OpenPRs},
		{"closed_prs", snap.ClosedPRs},
		{"merged_prs", snap.MergedPRs},
	}
	for _, c := range counts {
		if c.Value < 0 {
			return apperrors.NewValidationError(fmt.Sprintf("%s must not be negative, got %d", c.Field, c.Value))
		}
	}

	if snap.MergedPRs > snap.ClosedPRs {
		return apperrors.NewValidationError(fmt.Sprintf("merged_prs (%d) cannot exceed closed_prs (%d)", snap.MergedPRs, snap.ClosedPRs))
	}
	return nil
}

// firstError returns the first sub-query error for classification upstream
func firstError(results []subResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
