package domain

import "time"

// SnapshotDateLayout is the calendar-date format used as the natural key for
// snapshots. All dates are UTC.
const SnapshotDateLayout = "2006-01-02"

// MetricsSnapshot represents one day's worth of repository statistics.
// There is at most one snapshot per UTC calendar date; a repeated collection
// on the same date overwrites the existing row.
type MetricsSnapshot struct {
	ID           string    `json:"id,omitempty"` // synthetic, assigned on collection, not persisted
	Timestamp    int64     `json:"timestamp"`    // epoch milliseconds at collection time
	Date         string    `json:"date"`         // YYYY-MM-DD (UTC), unique per row
	Stars        int       `json:"stars"`
	Forks        int       `json:"forks"`
	Contributors int       `json:"contributors"`
	Commits      int       `json:"commits"`
	Releases     int       `json:"releases"`
	OpenIssues   int       `json:"open_issues"`
	ClosedIssues int       `json:"closed_issues"`
	OpenPRs      int       `json:"open_prs"`
	ClosedPRs    int       `json:"closed_prs"`
	MergedPRs    int       `json:"merged_prs"`
	CreatedAt    time.Time `json:"created_at,omitempty"` // store-assigned, informational only
}

// TakenAt returns the collection time carried by the snapshot's timestamp.
func (s *MetricsSnapshot) TakenAt() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

// MetricsDelta is the field-wise numeric difference between two snapshots.
type MetricsDelta struct {
	Stars        int `json:"stars"`
	Forks        int `json:"forks"`
	Contributors int `json:"contributors"`
	Commits      int `json:"commits"`
	Releases     int `json:"releases"`
	OpenIssues   int `json:"open_issues"`
	ClosedIssues int `json:"closed_issues"`
	OpenPRs      int `json:"open_prs"`
	ClosedPRs    int `json:"closed_prs"`
	MergedPRs    int `json:"merged_prs"`
}

// Diff returns the delta from previous to current (current minus previous).
func Diff(current, previous *MetricsSnapshot) *MetricsDelta {
	return &MetricsDelta{
		Stars:        current.Stars - previous.Stars,
		Forks:        current.Forks - previous.Forks,
		Contributors: current.Contributors - previous.Contributors,
		Commits:      current.Commits - previous.Commits,
		Releases:     current.Releases - previous.Releases,
		OpenIssues:   current.OpenIssues - previous.OpenIssues,
		ClosedIssues: current.ClosedIssues - previous.ClosedIssues,
		OpenPRs:      current.OpenPRs - previous.OpenPRs,
		ClosedPRs:    current.ClosedPRs - previous.ClosedPRs,
		MergedPRs:    current.MergedPRs - previous.MergedPRs,
	}
}

// TrendComparison compares the most recent snapshot inside a time window
// against the most recent one before it.
type TrendComparison struct {
	Current  *MetricsSnapshot `json:"current"`
	Previous *MetricsSnapshot `json:"previous"`
	Change   *MetricsDelta    `json:"change"`
}

// StoreHealth is a cheap introspection summary of the snapshot store.
type StoreHealth struct {
	IsHealthy      bool   `json:"is_healthy"`
	LastCollection int64  `json:"last_collection,omitempty"` // epoch millis of the newest snapshot
	RecordCount    int    `json:"record_count"`
	OldestRecord   string `json:"oldest_record,omitempty"` // date of the oldest snapshot
	NewestRecord   string `json:"newest_record,omitempty"` // date of the newest snapshot
}

// CollectorHealth reports whether the collector has produced a fresh
// snapshot recently.
type CollectorHealth struct {
	IsHealthy       bool       `json:"is_healthy"`
	LastCollectedAt *time.Time `json:"last_collected_at,omitempty"`
}

// SchedulerStats tracks collection outcomes for the lifetime of the process.
// It is never persisted.
type SchedulerStats struct {
	Running                  bool       `json:"running"`
	TotalCollections         int        `json:"total_collections"`
	TotalErrors              int        `json:"total_errors"`
	ConsecutiveErrors        int        `json:"consecutive_errors"`
	LastSuccessfulCollection *time.Time `json:"last_successful_collection,omitempty"`
	LastFailedCollection     *time.Time `json:"last_failed_collection,omitempty"`
}
