package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repopulse/repopulse/internal/cache"
	"github.com/repopulse/repopulse/internal/domain"
	apperrors "github.com/repopulse/repopulse/internal/errors"
	"github.com/repopulse/repopulse/internal/scheduler"
)

type stubStore struct {
	latest     *domain.MetricsSnapshot
	latestErr  error
	history    []*domain.MetricsSnapshot
	historyErr error
	trend      *domain.TrendComparison
	trendErr   error
	health     *domain.StoreHealth
	healthErr  error

	latestCalls int
	gotStart    string
	gotEnd      string
	gotDays     int
}

func (s *stubStore) StoreMetrics(ctx context.Context, snapshot *domain.MetricsSnapshot) error {
	return nil
}

func (s *stubStore) GetLatestMetrics(ctx context.Context) (*domain.MetricsSnapshot, error) {
	s.latestCalls++
	return s.latest, s.latestErr
}

func (s *stubStore) GetMetricsInRange(ctx context.Context, startDate, endDate string) ([]*domain.MetricsSnapshot, error) {
	s.gotStart = startDate
	s.gotEnd = endDate
	return s.history, s.historyErr
}

func (s *stubStore) GetTimeRangeMetrics(ctx context.Context, days int) (*domain.TrendComparison, error) {
	s.gotDays = days
	return s.trend, s.trendErr
}

func (s *stubStore) CleanupOldMetrics(ctx context.Context, retentionDays int) (int64, error) {
	return 0, nil
}

func (s *stubStore) GetHealthStatus(ctx context.Context) (*domain.StoreHealth, error) {
	return s.health, s.healthErr
}

func (s *stubStore) Migrate(ctx context.Context) error { return nil }
func (s *stubStore) Close() error                      { return nil }

type stubGitHub struct {
	overview      *domain.RepoOverview
	overviewErr   error
	overviewCalls int
	commits       []*domain.CommitActivity
	commitsErr    error
	gotLimit      int
}

func (s *stubGitHub) GetRepository(ctx context.Context) (*domain.RepoOverview, error) {
	s.overviewCalls++
	return s.overview, s.overviewErr
}

func (s *stubGitHub) CountContributors(ctx context.Context) (int, error) { return 0, nil }
func (s *stubGitHub) CountCommits(ctx context.Context) (int, error)      { return 0, nil }
func (s *stubGitHub) CountReleases(ctx context.Context) (int, error)     { return 0, nil }

func (s *stubGitHub) CountIssues(ctx context.Context, state string) (int, error) {
	return 0, nil
}

func (s *stubGitHub) CountOpenPullRequests(ctx context.Context) (int, error) { return 0, nil }

func (s *stubGitHub) CountClosedPullRequests(ctx context.Context) (int, int, error) {
	return 0, 0, nil
}

func (s *stubGitHub) RecentCommits(ctx context.Context, limit int) ([]*domain.CommitActivity, error) {
	s.gotLimit = limit
	return s.commits, s.commitsErr
}

type stubScheduler struct {
	startErr   error
	startCalls int
	stopCalls  int
	snapshot   *domain.MetricsSnapshot
	collectErr error
	config     scheduler.Config
	updateErr  error
	gotUpdate  scheduler.ConfigUpdate
	stats      domain.SchedulerStats
	healthy    bool
}

func (s *stubScheduler) Start() error {
	s.startCalls++
	return s.startErr
}

func (s *stubScheduler) Stop() { s.stopCalls++ }

func (s *stubScheduler) CollectNow(ctx context.Context) (*domain.MetricsSnapshot, error) {
	return s.snapshot, s.collectErr
}

func (s *stubScheduler) UpdateConfig(update scheduler.ConfigUpdate) (scheduler.Config, error) {
	s.gotUpdate = update
	if s.updateErr != nil {
		return s.config, s.updateErr
	}
	if update.MaxRetries != nil {
		s.config.MaxRetries = *update.MaxRetries
	}
	return s.config, nil
}

func (s *stubScheduler) GetConfig() scheduler.Config  { return s.config }
func (s *stubScheduler) Stats() domain.SchedulerStats { return s.stats }
func (s *stubScheduler) IsHealthy() bool              { return s.healthy }

type testAPI struct {
	router *gin.Engine
	store  *stubStore
	github *stubGitHub
	sched  *stubScheduler
	cache  *cache.Cache
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &stubStore{
		health: &domain.StoreHealth{IsHealthy: true, RecordCount: 1},
	}
	github := &stubGitHub{}
	sched := &stubScheduler{
		config:  scheduler.Config{MetricsCron: "0 */6 * * *", CleanupCron: "0 3 * * 0", MaxRetries: 3},
		healthy: true,
	}
	c := cache.New(0)
	t.Cleanup(c.Stop)

	logger := log.New(io.Discard)
	handler := NewHandler(store, github, sched, c, CacheTTLs{
		Metadata: 30 * time.Minute,
		Activity: 5 * time.Minute,
		Metrics:  time.Minute,
	}, logger)

	return &testAPI{
		router: SetupRoutes(handler, logger),
		store:  store,
		github: github,
		sched:  sched,
		cache:  c,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["scheduler_healthy"])

	store, ok := body["store"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, store["is_healthy"])
}

func TestHealthCheckDegradedStore(t *testing.T) {
	a := newTestAPI(t)
	a.store.healthErr = apperrors.NewPersistenceError("query failed", nil)

	w := a.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "degraded", body["status"])
}

func TestGetLatestMetrics(t *testing.T) {
	a := newTestAPI(t)
	a.store.latest = &domain.MetricsSnapshot{Date: "2024-05-15", Stars: 120, Forks: 30}

	w := a.do(t, http.MethodGet, "/api/v1/metrics/latest", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2024-05-15", data["date"])
	assert.Equal(t, float64(120), data["stars"])
}

func TestGetLatestMetricsEmptyStore(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/v1/metrics/latest", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Nil(t, body["data"])
	assert.Equal(t, "no data yet", body["message"])
}

func TestGetLatestMetricsStoreErrorDegrades(t *testing.T) {
	a := newTestAPI(t)
	a.store.latestErr = apperrors.NewPersistenceError("query failed", nil)

	w := a.do(t, http.MethodGet, "/api/v1/metrics/latest", nil)

	// read failures must not surface as 5xx
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Nil(t, body["data"])
	assert.Equal(t, "no data yet", body["message"])
}

func TestGetLatestMetricsServedFromCache(t *testing.T) {
	a := newTestAPI(t)
	a.store.latest = &domain.MetricsSnapshot{Date: "2024-05-15", Stars: 120}

	w := a.do(t, http.MethodGet, "/api/v1/metrics/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, a.store.latestCalls)

	w = a.do(t, http.MethodGet, "/api/v1/metrics/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, a.store.latestCalls)

	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(120), data["stars"])
}

func TestGetMetricsHistory(t *testing.T) {
	a := newTestAPI(t)
	a.store.history = []*domain.MetricsSnapshot{
		{Date: "2024-05-01", Stars: 100},
		{Date: "2024-05-02", Stars: 105},
	}

	w := a.do(t, http.MethodGet, "/api/v1/metrics/history?start=2024-05-01&end=2024-05-02", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-05-01", a.store.gotStart)
	assert.Equal(t, "2024-05-02", a.store.gotEnd)

	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["count"])
	data, ok := body["data"].([]interface{})
	require.True(t, ok)
	require.Len(t, data, 2)
	first := data[0].(map[string]interface{})
	assert.Equal(t, "2024-05-01", first["date"])
}

func TestGetMetricsHistoryDefaultRange(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/v1/metrics/history", nil)

	require.Equal(t, http.StatusOK, w.Code)
	start, err := time.Parse(domain.SnapshotDateLayout, a.store.gotStart)
	require.NoError(t, err)
	end, err := time.Parse(domain.SnapshotDateLayout, a.store.gotEnd)
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, end.Sub(start))
}

func TestGetMetricsHistoryIgnoresUnparsableDates(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/v1/metrics/history?start=yesterday&end=2024-05-02", nil)

	require.Equal(t, http.StatusOK, w.Code)
	_, err := time.Parse(domain.SnapshotDateLayout, a.store.gotStart)
	assert.NoError(t, err)
	assert.Equal(t, "2024-05-02", a.store.gotEnd)
}

func TestGetMetricsHistoryStoreErrorDegrades(t *testing.T) {
	a := newTestAPI(t)
	a.store.historyErr = apperrors.NewPersistenceError("query failed", nil)

	w := a.do(t, http.MethodGet, "/api/v1/metrics/history", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(0), body["count"])
	data, ok := body["data"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, data)
}

func TestGetMetricsTrend(t *testing.T) {
	a := newTestAPI(t)
	a.store.trend = &domain.TrendComparison{
		Current:  &domain.MetricsSnapshot{Date: "2024-05-15", Stars: 1000},
		Previous: &domain.MetricsSnapshot{Date: "2024-04-10", Stars: 900},
		Change:   &domain.MetricsDelta{Stars: 100},
	}

	w := a.do(t, http.MethodGet, "/api/v1/metrics/trend?days=7", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, a.store.gotDays)

	data := decodeBody(t, w)["data"].(map[string]interface{})
	change := data["change"].(map[string]interface{})
	assert.Equal(t, float64(100), change["stars"])
}

func TestGetMetricsTrendEmptyStore(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/v1/metrics/trend", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, a.store.gotDays)
	body := decodeBody(t, w)
	assert.Nil(t, body["data"])
	assert.Equal(t, "no data yet", body["message"])
}

func TestGetRepository(t *testing.T) {
	a := newTestAPI(t)
	a.github.overview = &domain.RepoOverview{Name: "hello-world", Stars: 120, Language: "Go"}

	w := a.do(t, http.MethodGet, "/api/v1/repository", nil)

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "hello-world", data["name"])

	// second read is served from the cache
	w = a.do(t, http.MethodGet, "/api/v1/repository", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, a.github.overviewCalls)
}

func TestGetRepositoryUpstreamError(t *testing.T) {
	a := newTestAPI(t)
	a.github.overviewErr = apperrors.NewUpstreamError(500, "internal server error")

	w := a.do(t, http.MethodGet, "/api/v1/repository", nil)

	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decodeBody(t, w)
	errBody := body["error"].(map[string]interface{})
	assert.Equal(t, "UPSTREAM_ERROR", errBody["code"])
}

func TestGetRecentActivity(t *testing.T) {
	a := newTestAPI(t)
	a.github.commits = []*domain.CommitActivity{
		{SHA: "abc123", Message: "fix pagination"},
		{SHA: "def456", Message: "add trend endpoint"},
	}

	w := a.do(t, http.MethodGet, "/api/v1/activity?limit=5", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, a.github.gotLimit)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["count"])
}

func TestGetRecentActivityEmptyRepo(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/v1/activity", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, a.github.gotLimit)
	body := decodeBody(t, w)
	data, ok := body["data"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, data)
}

func TestGetRecentActivityRateLimited(t *testing.T) {
	a := newTestAPI(t)
	a.github.commitsErr = apperrors.NewRateLimitedError("GitHub API rate limit exceeded", 403)

	w := a.do(t, http.MethodGet, "/api/v1/activity", nil)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	errBody := decodeBody(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "RATE_LIMITED", errBody["code"])
}

func TestGetSchedulerStatus(t *testing.T) {
	a := newTestAPI(t)
	a.sched.stats = domain.SchedulerStats{Running: true, TotalCollections: 4}

	w := a.do(t, http.MethodGet, "/api/v1/scheduler/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, true, data["healthy"])

	stats := data["stats"].(map[string]interface{})
	assert.Equal(t, true, stats["running"])
	assert.Equal(t, float64(4), stats["total_collections"])

	config := data["config"].(map[string]interface{})
	assert.Equal(t, "0 */6 * * *", config["metrics_cron"])
}

func TestControlSchedulerStart(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/v1/scheduler", gin.H{"action": "start"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, a.sched.startCalls)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "started", data["status"])
}

func TestControlSchedulerStop(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/v1/scheduler", gin.H{"action": "stop"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, a.sched.stopCalls)
}

func TestControlSchedulerCollect(t *testing.T) {
	a := newTestAPI(t)
	a.sched.snapshot = &domain.MetricsSnapshot{Date: "2024-05-15", Stars: 130}

	// a stale cached value must not survive a manual collection
	a.cache.Set(cacheKeyLatest, &domain.MetricsSnapshot{Date: "2024-05-14"}, time.Minute)

	w := a.do(t, http.MethodPost, "/api/v1/scheduler", gin.H{"action": "collect"})

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "2024-05-15", data["date"])

	_, ok := a.cache.Get(cacheKeyLatest)
	assert.False(t, ok)
}

func TestControlSchedulerCollectError(t *testing.T) {
	a := newTestAPI(t)
	a.sched.collectErr = apperrors.NewNetworkError("GitHub API unreachable", nil)

	w := a.do(t, http.MethodPost, "/api/v1/scheduler", gin.H{"action": "collect"})

	require.Equal(t, http.StatusBadGateway, w.Code)
	errBody := decodeBody(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "NETWORK_ERROR", errBody["code"])
}

func TestControlSchedulerConfigure(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/v1/scheduler", gin.H{
		"action": "configure",
		"config": gin.H{"max_retries": 7},
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, a.sched.gotUpdate.MaxRetries)
	assert.Equal(t, 7, *a.sched.gotUpdate.MaxRetries)

	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(7), data["max_retries"])
}

func TestControlSchedulerConfigureWithoutConfig(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/v1/scheduler", gin.H{"action": "configure"})

	require.Equal(t, http.StatusBadRequest, w.Code)
	errBody := decodeBody(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "BAD_REQUEST", errBody["code"])
}

func TestControlSchedulerInvalidAction(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/v1/scheduler", gin.H{"action": "reboot"})

	require.Equal(t, http.StatusBadRequest, w.Code)
	errBody := decodeBody(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "INVALID_ACTION", errBody["code"])
}

func TestControlSchedulerMissingBody(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/v1/scheduler", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRespondErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", apperrors.NewNotFoundError("octocat/hello-world"), http.StatusNotFound, "NOT_FOUND"},
		{"unauthorized", apperrors.NewUnauthorizedError("token rejected"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"bad request", apperrors.NewBadRequestError("bad cron"), http.StatusBadRequest, "BAD_REQUEST"},
		{"validation", apperrors.NewValidationError("negative stars"), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"rate limited", apperrors.NewRateLimitedError("slow down", 429), http.StatusTooManyRequests, "RATE_LIMITED"},
		{"network", apperrors.NewNetworkError("unreachable", nil), http.StatusBadGateway, "NETWORK_ERROR"},
		{"upstream", apperrors.NewUpstreamError(503, "unavailable"), http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"persistence", apperrors.NewPersistenceError("disk full", nil), http.StatusInternalServerError, "PERSISTENCE_ERROR"},
		{"plain error", io.ErrUnexpectedEOF, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			respondError(c, tt.err)

			require.Equal(t, tt.wantStatus, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errBody := body["error"].(map[string]interface{})
			assert.Equal(t, tt.wantCode, errBody["code"])
		})
	}
}
