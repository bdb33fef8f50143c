package collector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/v55/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/repopulse/repopulse/internal/errors"
)

// noopLimiter skips rate limit pacing in tests
type noopLimiter struct{}

func (noopLimiter) Wait(ctx context.Context) error             { return nil }
func (noopLimiter) CheckLimit() (int, time.Time, error)        { return 5000, time.Time{}, nil }
func (noopLimiter) UpdateLimit(remaining int, reset time.Time) {}

func newTestClient(pageSize, maxPages int) *githubClient {
	return &githubClient{
		owner:       "octocat",
		repo:        "hello-world",
		pageSize:    pageSize,
		maxPages:    maxPages,
		rateLimiter: noopLimiter{},
		logger:      log.New(io.Discard),
	}
}

func TestFetchAllPagesStopsAtMaxPages(t *testing.T) {
	c := newTestClient(2, 3)

	calls := 0
	pages, err := c.fetchAllPages(context.Background(), func(_ context.Context, page int) (int, int, error) {
		calls++
		// endless source: every page is full and advertises a successor
		return 2, page + 1, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, pages)
	assert.Equal(t, 3, calls)
}

func TestFetchAllPagesStopsOnShortPage(t *testing.T) {
	c := newTestClient(3, 10)

	var items []string
	pages, err := c.fetchAllPages(context.Background(), func(_ context.Context, page int) (int, int, error) {
		switch page {
		case 1:
			items = append(items, "a1", "a2", "a3")
			return 3, 2, nil
		case 2:
			items = append(items, "b1")
			return 1, 3, nil
		default:
			t.Fatalf("page %d should not have been fetched", page)
			return 0, 0, nil
		}
	})

	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Equal(t, []string{"a1", "a2", "a3", "b1"}, items)
}

func TestFetchAllPagesEmptyFirstPage(t *testing.T) {
	c := newTestClient(100, 10)

	pages, err := c.fetchAllPages(context.Background(), func(_ context.Context, page int) (int, int, error) {
		return 0, 0, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, pages)
}

func TestFetchAllPagesStopsWhenNoNextPage(t *testing.T) {
	c := newTestClient(2, 10)

	calls := 0
	pages, err := c.fetchAllPages(context.Background(), func(_ context.Context, page int) (int, int, error) {
		calls++
		// a full page can still be the last one
		return 2, 0, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	assert.Equal(t, 1, calls)
}

func TestFetchAllPagesPropagatesError(t *testing.T) {
	c := newTestClient(2, 10)

	boom := apperrors.NewUpstreamError(http.StatusBadGateway, "bad gateway")
	pages, err := c.fetchAllPages(context.Background(), func(_ context.Context, page int) (int, int, error) {
		if page == 2 {
			return 0, 0, boom
		}
		return 2, 2, nil
	})

	require.Error(t, err)
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, pages)
}

func errorResponse(status int) *github.ErrorResponse {
	return &github.ErrorResponse{
		Response: &http.Response{StatusCode: status},
		Message:  "upstream message",
	}
}

func TestClassify(t *testing.T) {
	c := newTestClient(100, 10)

	tests := []struct {
		name     string
		err      error
		wantCode apperrors.ErrCode
	}{
		{
			name:     "primary rate limit",
			err:      &github.RateLimitError{},
			wantCode: apperrors.ErrCodeRateLimited,
		},
		{
			name:     "secondary rate limit",
			err:      &github.AbuseRateLimitError{},
			wantCode: apperrors.ErrCodeRateLimited,
		},
		{
			name:     "forbidden treated as rate limited",
			err:      errorResponse(http.StatusForbidden),
			wantCode: apperrors.ErrCodeRateLimited,
		},
		{
			name:     "too many requests",
			err:      errorResponse(http.StatusTooManyRequests),
			wantCode: apperrors.ErrCodeRateLimited,
		},
		{
			name:     "repository not found",
			err:      errorResponse(http.StatusNotFound),
			wantCode: apperrors.ErrCodeNotFound,
		},
		{
			name:     "bad token",
			err:      errorResponse(http.StatusUnauthorized),
			wantCode: apperrors.ErrCodeUnauthorized,
		},
		{
			name:     "server error",
			err:      errorResponse(http.StatusInternalServerError),
			wantCode: apperrors.ErrCodeUpstream,
		},
		{
			name:     "transport failure",
			err:      &url.Error{Op: "Get", URL: "https://api.github.com", Err: errors.New("connection refused")},
			wantCode: apperrors.ErrCodeNetwork,
		},
		{
			name:     "unrecognized failure",
			err:      errors.New("boom"),
			wantCode: apperrors.ErrCodeNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.classify(tt.err)

			appErr, ok := got.(*apperrors.AppError)
			require.True(t, ok, "classify must return an AppError")
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

func TestClassifyKeepsUpstreamStatus(t *testing.T) {
	c := newTestClient(100, 10)

	got := c.classify(errorResponse(http.StatusBadGateway))

	appErr, ok := got.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeUpstream, appErr.Code)
	assert.Equal(t, http.StatusBadGateway, appErr.Status)
}
