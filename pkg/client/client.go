package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/repopulse/repopulse/internal/domain"
	"github.com/repopulse/repopulse/internal/scheduler"
)

// Client is the API client for repopulse
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SchedulerStatus is the scheduler status payload
type SchedulerStatus struct {
	Stats   domain.SchedulerStats `json:"stats"`
	Config  scheduler.Config      `json:"config"`
	Healthy bool                  `json:"healthy"`
}

// schedulerCommand is the scheduler control request body
type schedulerCommand struct {
	Action string                  `json:"action"`
	Config *scheduler.ConfigUpdate `json:"config,omitempty"`
}

// GetLatestMetrics retrieves the most recent snapshot. It returns nil when
// the store has no data yet.
func (c *Client) GetLatestMetrics() (*domain.MetricsSnapshot, error) {
	var response struct {
		Data *domain.MetricsSnapshot `json:"data"`
	}
	if err := c.get("/api/v1/metrics/latest", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetMetricsHistory retrieves snapshots in an inclusive date range
func (c *Client) GetMetricsHistory(start, end time.Time) ([]*domain.MetricsSnapshot, error) {
	params := c.buildRangeParams(start, end)

	var response struct {
		Data []*domain.MetricsSnapshot `json:"data"`
	}
	if err := c.get("/api/v1/metrics/history", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetMetricsTrend retrieves the trend comparison over the given window
func (c *Client) GetMetricsTrend(days int) (*domain.TrendComparison, error) {
	params := url.Values{}
	if days > 0 {
		params.Set("days", strconv.Itoa(days))
	}

	var response struct {
		Data *domain.TrendComparison `json:"data"`
	}
	if err := c.get("/api/v1/metrics/trend", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRepository retrieves the live repository overview
func (c *Client) GetRepository() (*domain.RepoOverview, error) {
	var response struct {
		Data *domain.RepoOverview `json:"data"`
	}
	if err := c.get("/api/v1/repository", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRecentActivity retrieves the most recent commits
func (c *Client) GetRecentActivity(limit int) ([]*domain.CommitActivity, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.CommitActivity `json:"data"`
	}
	if err := c.get("/api/v1/activity", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetSchedulerStatus retrieves the scheduler counters, configuration, and
// health
func (c *Client) GetSchedulerStatus() (*SchedulerStatus, error) {
	var response struct {
		Data *SchedulerStatus `json:"data"`
	}
	if err := c.get("/api/v1/scheduler/status", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// StartScheduler enables scheduled collection
func (c *Client) StartScheduler() error {
	var response struct {
		Data map[string]string `json:"data"`
	}
	return c.post("/api/v1/scheduler", schedulerCommand{Action: "start"}, &response)
}

// StopScheduler halts scheduled collection
func (c *Client) StopScheduler() error {
	var response struct {
		Data map[string]string `json:"data"`
	}
	return c.post("/api/v1/scheduler", schedulerCommand{Action: "stop"}, &response)
}

// TriggerCollection runs a collection immediately and returns the stored
// snapshot
func (c *Client) TriggerCollection() (*domain.MetricsSnapshot, error) {
	var response struct {
		Data *domain.MetricsSnapshot `json:"data"`
	}
	if err := c.post("/api/v1/scheduler", schedulerCommand{Action: "collect"}, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// ConfigureScheduler applies a partial configuration update and returns the
// resulting configuration
func (c *Client) ConfigureScheduler(update scheduler.ConfigUpdate) (*scheduler.Config, error) {
	var response struct {
		Data *scheduler.Config `json:"data"`
	}
	if err := c.post("/api/v1/scheduler", schedulerCommand{Action: "configure", Config: &update}, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) buildRangeParams(start, end time.Time) url.Values {
	params := url.Values{}
	if !start.IsZero() {
		params.Set("start", start.Format(domain.SnapshotDateLayout))
	}
	if !end.IsZero() {
		params.Set("end", end.Format(domain.SnapshotDateLayout))
	}
	return params
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

func (c *Client) post(path string, payload interface{}, result interface{}) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
