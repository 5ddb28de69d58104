// Package superset talks to the Superset REST API. It provides the dashboard
// catalog and the screenshot capture used for context generation and
// analysis. Capture goes through Superset's server-side screenshot cache;
// browser automation is deliberately not part of this service.
package superset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dashwise/dashboard-qa/internal/config"
	"github.com/dashwise/dashboard-qa/internal/domain"
)

// Catalog lists the live dashboards
type Catalog interface {
	ListDashboards(ctx context.Context) ([]domain.DashboardInfo, error)
}

// Capturer produces a rendered image of a dashboard
type Capturer interface {
	CaptureDashboard(ctx context.Context, dashboardID string) ([]byte, error)
}

// CaptureError is a structured per-dashboard capture failure
type CaptureError struct {
	DashboardID string
	Reason      string
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture failed for dashboard %s: %s", e.DashboardID, e.Reason)
}

// Client implements Catalog and Capturer against the Superset REST API
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu          sync.Mutex
	accessToken string
}

// NewClient creates a Superset API client
func NewClient(cfg config.SupersetConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Provider string `json:"provider"`
	Refresh  bool   `json:"refresh"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

func (c *Client) login(ctx context.Context) (string, error) {
	body, _ := json.Marshal(loginRequest{
		Username: c.username,
		Password: c.password,
		Provider: "db",
		Refresh:  true,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/security/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("superset login failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("superset login failed: status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("superset login failed: %w", err)
	}
	return lr.AccessToken, nil
}

// do performs an authenticated request, logging in again once on 401
func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		c.mu.Lock()
		token := c.accessToken
		c.mu.Unlock()

		if token == "" {
			fresh, err := c.login(ctx)
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			c.accessToken = fresh
			c.mu.Unlock()
			token = fresh
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.mu.Lock()
			c.accessToken = ""
			c.mu.Unlock()
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("superset authentication failed")
}

type dashboardListResponse struct {
	Result []struct {
		ID             int    `json:"id"`
		DashboardTitle string `json:"dashboard_title"`
	} `json:"result"`
}

type chartListResponse struct {
	Result []struct {
		ID        int    `json:"id"`
		SliceName string `json:"slice_name"`
		FormData  struct {
			VizType string `json:"viz_type"`
		} `json:"form_data"`
	} `json:"result"`
}

// ListDashboards returns the current catalog with per-dashboard chart metadata
func (c *Client) ListDashboards(ctx context.Context) ([]domain.DashboardInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/dashboard/?q=(order_column:changed_on_delta_humanized,order_direction:desc,page_size:100)")
	if err != nil {
		return nil, fmt.Errorf("failed to list dashboards: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list dashboards: status %d", resp.StatusCode)
	}

	var list dashboardListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode dashboard list: %w", err)
	}

	dashboards := make([]domain.DashboardInfo, 0, len(list.Result))
	for _, d := range list.Result {
		id := strconv.Itoa(d.ID)
		charts, err := c.listCharts(ctx, id)
		if err != nil {
			// Chart metadata is an enrichment; a failure here must not
			// hide the dashboard from the catalog.
			log.Warn().Err(err).Str("dashboard_id", id).Msg("failed to list dashboard charts")
		}
		dashboards = append(dashboards, domain.DashboardInfo{
			DashboardID: id,
			Title:       d.DashboardTitle,
			Charts:      charts,
		})
	}
	return dashboards, nil
}

func (c *Client) listCharts(ctx context.Context, dashboardID string) ([]domain.ChartInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/dashboard/"+dashboardID+"/charts")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var list chartListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}

	charts := make([]domain.ChartInfo, 0, len(list.Result))
	for _, ch := range list.Result {
		charts = append(charts, domain.ChartInfo{
			ChartID: strconv.Itoa(ch.ID),
			Title:   ch.SliceName,
			Type:    ch.FormData.VizType,
		})
	}
	return charts, nil
}

type screenshotCacheResponse struct {
	CacheKey string `json:"cache_key"`
}

// CaptureDashboard asks Superset to render the dashboard server-side and
// polls the screenshot cache until the image is ready. Any failure is
// returned as a structured CaptureError.
func (c *Client) CaptureDashboard(ctx context.Context, dashboardID string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/dashboard/"+dashboardID+"/cache_dashboard_screenshot/")
	if err != nil {
		return nil, &CaptureError{DashboardID: dashboardID, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, &CaptureError{DashboardID: dashboardID,
			Reason: fmt.Sprintf("screenshot trigger returned status %d", resp.StatusCode)}
	}

	var cache screenshotCacheResponse
	if err := json.NewDecoder(resp.Body).Decode(&cache); err != nil || cache.CacheKey == "" {
		return nil, &CaptureError{DashboardID: dashboardID, Reason: "no cache key in screenshot response"}
	}

	// Superset renders asynchronously; poll until the image is available
	// or the caller's deadline expires.
	for {
		img, ready, err := c.fetchScreenshot(ctx, dashboardID, cache.CacheKey)
		if err != nil {
			return nil, &CaptureError{DashboardID: dashboardID, Reason: err.Error()}
		}
		if ready {
			return img, nil
		}

		select {
		case <-ctx.Done():
			return nil, &CaptureError{DashboardID: dashboardID, Reason: "screenshot not ready before deadline"}
		case <-time.After(2 * time.Second):
		}
	}
}

func (c *Client) fetchScreenshot(ctx context.Context, dashboardID, cacheKey string) ([]byte, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/dashboard/"+dashboardID+"/screenshot/"+cacheKey+"/")
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		img, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		return img, true, nil
	case http.StatusAccepted, http.StatusNotFound:
		// Still rendering
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("screenshot fetch returned status %d", resp.StatusCode)
	}
}
