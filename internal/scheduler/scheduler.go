package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/repopulse/repopulse/internal/collector"
	"github.com/repopulse/repopulse/internal/domain"
	apperrors "github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/storage"
)

// collectionRunTimeout bounds one scheduled run including all retries
const collectionRunTimeout = 10 * time.Minute

// cleanupRunTimeout bounds one retention sweep
const cleanupRunTimeout = time.Minute

// Config holds the scheduler cadences and retry policy
type Config struct {
	MetricsCron          string `json:"metrics_cron"`
	CleanupCron          string `json:"cleanup_cron"`
	RetentionDays        int    `json:"retention_days"`
	MaxRetries           int    `json:"max_retries"`
	RetryDelaySeconds    int    `json:"retry_delay_seconds"`
	BackoffMultiplier    int    `json:"backoff_multiplier"`
	ErrorThreshold       int    `json:"error_threshold"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
}

// ConfigUpdate is a partial configuration change. Nil fields keep their
// current values.
type ConfigUpdate struct {
	MetricsCron          *string `json:"metrics_cron,omitempty"`
	CleanupCron          *string `json:"cleanup_cron,omitempty"`
	RetentionDays        *int    `json:"retention_days,omitempty"`
	MaxRetries           *int    `json:"max_retries,omitempty"`
	RetryDelaySeconds    *int    `json:"retry_delay_seconds,omitempty"`
	BackoffMultiplier    *int    `json:"backoff_multiplier,omitempty"`
	ErrorThreshold       *int    `json:"error_threshold,omitempty"`
	NotificationsEnabled *bool   `json:"notifications_enabled,omitempty"`
}

// Scheduler drives scheduled collection and retention runs
type Scheduler interface {
	// Start registers the metrics and cleanup jobs and begins firing them
	Start() error

	// Stop halts future firings without interrupting an in-flight run
	Stop()

	// CollectNow runs the retry-wrapped collection path on demand
	CollectNow(ctx context.Context) (*domain.MetricsSnapshot, error)

	// UpdateConfig merges a partial update into the live configuration
	UpdateConfig(update ConfigUpdate) (Config, error)

	// GetConfig returns a copy of the live configuration
	GetConfig() Config

	// Stats returns a copy of the run counters
	Stats() domain.SchedulerStats

	// IsHealthy reports a recent success and consecutive errors below the
	// threshold
	IsHealthy() bool
}

// scheduler implements Scheduler on a TaskRunner
type scheduler struct {
	collector collector.Collector
	store     storage.Storage
	runner    TaskRunner
	logger    *log.Logger

	mu         sync.Mutex
	config     Config
	running    bool
	metricsJob int
	cleanupJob int
	stats      statsState

	// seams for deterministic tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	alert func(consecutive int, err error)
}

// statsState tracks run counters under the scheduler lock
type statsState struct {
	totalCollections  int
	totalErrors       int
	consecutiveErrors int
	lastSuccess       *time.Time
	lastFailure       *time.Time
}

// NewScheduler creates a scheduler with the given cadences and retry policy
func NewScheduler(c collector.Collector, store storage.Storage, runner TaskRunner, cfg Config, logger *log.Logger) Scheduler {
	s := &scheduler{
		collector: c,
		store:     store,
		runner:    runner,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
	s.sleep = func(ctx context.Context, d time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	}
	s.alert = func(consecutive int, err error) {
		logger.Error("collection error threshold crossed",
			"consecutive_errors", consecutive,
			"err", err)
	}
	return s
}

// Start registers the metrics and cleanup jobs and begins firing them.
// Starting a running scheduler is a no-op.
func (s *scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	metricsID, err := s.runner.Schedule(s.config.MetricsCron, s.fireCollection)
	if err != nil {
		return apperrors.NewInternalError("failed to schedule metrics job", err)
	}
	cleanupID, err := s.runner.Schedule(s.config.CleanupCron, s.fireCleanup)
	if err != nil {
		s.runner.Remove(metricsID)
		return apperrors.NewInternalError("failed to schedule cleanup job", err)
	}

	s.metricsJob = metricsID
	s.cleanupJob = cleanupID
	s.runner.Start()
	s.running = true

	s.logger.Info("scheduler started",
		"metrics_cron", s.config.MetricsCron,
		"cleanup_cron", s.config.CleanupCron)
	return nil
}

// Stop halts future firings without interrupting an in-flight run.
// Stopping a stopped scheduler is a no-op.
func (s *scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.runner.Stop()
	s.runner.Remove(s.metricsJob)
	s.runner.Remove(s.cleanupJob)
	s.running = false

	s.logger.Info("scheduler stopped")
}

// CollectNow runs the retry-wrapped collection path on demand
func (s *scheduler) CollectNow(ctx context.Context) (*domain.MetricsSnapshot, error) {
	return s.runCollection(ctx)
}

// fireCollection is the cron entry point for a scheduled collection run
func (s *scheduler) fireCollection() {
	ctx, cancel := context.WithTimeout(context.Background(), collectionRunTimeout)
	defer cancel()

	_, _ = s.runCollection(ctx)
}

// fireCleanup is the cron entry point for the retention sweep
func (s *scheduler) fireCleanup() {
	cfg := s.GetConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupRunTimeout)
	defer cancel()

	removed, err := s.store.CleanupOldMetrics(ctx, cfg.RetentionDays)
	if err != nil {
		s.logger.Error("retention sweep failed", "err", err)
		return
	}
	s.logger.Info("retention sweep finished",
		"removed", removed,
		"retention_days", cfg.RetentionDays)
}

// runCollection executes one run: attempts with exponential backoff between
// them, then records exactly one success or one failed run. Validation errors
// are never retried; the same data fails the same way every time.
func (s *scheduler) runCollection(ctx context.Context) (*domain.MetricsSnapshot, error) {
	cfg := s.GetConfig()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		snap, err := s.collector.CollectCurrentMetrics(ctx)
		if err == nil {
			s.recordSuccess()
			return snap, nil
		}
		lastErr = err

		if apperrors.IsValidation(err) {
			s.logger.Error("collection produced an invalid snapshot", "err", err)
			break
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := backoffDelay(cfg, attempt)
		if apperrors.IsRateLimited(err) {
			// rate limited upstream: wait twice as long before trying again
			delay *= 2
		}
		s.logger.Warn("collection attempt failed, retrying",
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"err", err)

		if err := s.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	s.recordFailure(lastErr, cfg)
	return nil, lastErr
}

// backoffDelay computes retryDelay × multiplier^(attempt−1) for the delay
// after the given failed attempt
func backoffDelay(cfg Config, attempt int) time.Duration {
	delay := time.Duration(cfg.RetryDelaySeconds) * time.Second
	for i := 1; i < attempt; i++ {
		delay *= time.Duration(cfg.BackoffMultiplier)
	}
	return delay
}

// recordSuccess resets the consecutive error streak and stamps the success
func (s *scheduler) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.stats.totalCollections++
	s.stats.consecutiveErrors = 0
	s.stats.lastSuccess = &now
}

// recordFailure books one failed run and raises the alert once the streak
// crosses the threshold
func (s *scheduler) recordFailure(err error, cfg Config) {
	s.mu.Lock()
	now := s.now().UTC()
	s.stats.totalErrors++
	s.stats.consecutiveErrors++
	s.stats.lastFailure = &now
	consecutive := s.stats.consecutiveErrors
	s.mu.Unlock()

	s.logger.Error("collection run failed",
		"consecutive_errors", consecutive,
		"err", err)

	if cfg.NotificationsEnabled && consecutive >= cfg.ErrorThreshold && s.alert != nil {
		s.alert(consecutive, err)
	}
}

// UpdateConfig merges a partial update into the live configuration. Cadence
// changes reschedule the running jobs.
func (s *scheduler) UpdateConfig(update ConfigUpdate) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.config
	if update.MetricsCron != nil {
		if _, err := cron.ParseStandard(*update.MetricsCron); err != nil {
			return s.config, apperrors.NewBadRequestError(fmt.Sprintf("invalid metrics cron %q", *update.MetricsCron))
		}
		next.MetricsCron = *update.MetricsCron
	}
	if update.CleanupCron != nil {
		if _, err := cron.ParseStandard(*update.CleanupCron); err != nil {
			return s.config, apperrors.NewBadRequestError(fmt.Sprintf("invalid cleanup cron %q", *update.CleanupCron))
		}
		next.CleanupCron = *update.CleanupCron
	}
	if update.RetentionDays != nil {
		if *update.RetentionDays < 1 {
			return s.config, apperrors.NewBadRequestError("retention_days must be at least 1")
		}
		next.RetentionDays = *update.RetentionDays
	}
	if update.MaxRetries != nil {
		if *update.MaxRetries < 1 {
			return s.config, apperrors.NewBadRequestError("max_retries must be at least 1")
		}
		next.MaxRetries = *update.MaxRetries
	}
	if update.RetryDelaySeconds != nil {
		if *update.RetryDelaySeconds < 1 {
			return s.config, apperrors.NewBadRequestError("retry_delay_seconds must be at least 1")
		}
		next.RetryDelaySeconds = *update.RetryDelaySeconds
	}
	if update.BackoffMultiplier != nil {
		if *update.BackoffMultiplier < 1 {
			return s.config, apperrors.NewBadRequestError("backoff_multiplier must be at least 1")
		}
		next.BackoffMultiplier = *update.BackoffMultiplier
	}
	if update.ErrorThreshold != nil {
		if *update.ErrorThreshold < 1 {
			return s.config, apperrors.NewBadRequestError("error_threshold must be at least 1")
		}
		next.ErrorThreshold = *update.ErrorThreshold
	}
	if update.NotificationsEnabled != nil {
		next.NotificationsEnabled = *update.NotificationsEnabled
	}

	cadenceChanged := next.MetricsCron != s.config.MetricsCron || next.CleanupCron != s.config.CleanupCron
	s.config = next

	if s.running && cadenceChanged {
		if err := s.rescheduleLocked(); err != nil {
			return s.config, err
		}
	}

	s.logger.Info("scheduler configuration updated",
		"metrics_cron", s.config.MetricsCron,
		"cleanup_cron", s.config.CleanupCron,
		"max_retries", s.config.MaxRetries)
	return s.config, nil
}

// rescheduleLocked swaps the registered jobs for the current cadences.
// Caller holds the lock.
func (s *scheduler) rescheduleLocked() error {
	s.runner.Remove(s.metricsJob)
	s.runner.Remove(s.cleanupJob)

	metricsID, err := s.runner.Schedule(s.config.MetricsCron, s.fireCollection)
	if err != nil {
		return apperrors.NewInternalError("failed to reschedule metrics job", err)
	}
	cleanupID, err := s.runner.Schedule(s.config.CleanupCron, s.fireCleanup)
	if err != nil {
		s.runner.Remove(metricsID)
		return apperrors.NewInternalError("failed to reschedule cleanup job", err)
	}

	s.metricsJob = metricsID
	s.cleanupJob = cleanupID
	return nil
}

// GetConfig returns a copy of the live configuration
func (s *scheduler) GetConfig() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Stats returns a copy of the run counters
func (s *scheduler) Stats() domain.SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.SchedulerStats{
		Running:                  s.running,
		TotalCollections:         s.stats.totalCollections,
		TotalErrors:              s.stats.totalErrors,
		ConsecutiveErrors:        s.stats.consecutiveErrors,
		LastSuccessfulCollection: s.stats.lastSuccess,
		LastFailedCollection:     s.stats.lastFailure,
	}
}

// IsHealthy reports a successful collection within the last 24 hours and a
// consecutive error streak below the threshold
func (s *scheduler) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats.lastSuccess == nil {
		return false
	}
	if s.stats.consecutiveErrors >= s.config.ErrorThreshold {
		return false
	}
	return s.now().UTC().Sub(*s.stats.lastSuccess) < 24*time.Hour
}
