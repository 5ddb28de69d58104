package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ChartInfo describes one chart belonging to a dashboard
type ChartInfo struct {
	ChartID string `json:"chart_id"`
	Title   string `json:"title"`
	Type    string `json:"type,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// DashboardContext is the cached semantic summary of one dashboard.
// It is the source of truth for what gets embedded and for prompt construction.
type DashboardContext struct {
	DashboardID string        `json:"dashboard_id"`
	Name        string        `json:"name"`
	SummaryText string        `json:"summary_text"`
	Charts      []ChartInfo   `json:"charts"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Version     int64         `json:"version"`
	TTL         time.Duration `json:"ttl"`
}

// ChartIDs returns the ordered chart identifiers of the dashboard
func (c *DashboardContext) ChartIDs() []string {
	ids := make([]string, len(c.Charts))
	for i, ch := range c.Charts {
		ids[i] = ch.ChartID
	}
	return ids
}

// IsStale reports whether the context has outlived its TTL at the given time
func (c *DashboardContext) IsStale(now time.Time) bool {
	return now.After(c.UpdatedAt.Add(c.TTL))
}

// EmbeddingText composes the text that gets embedded for similarity search:
// dashboard name, summary, and one "title: summary" line per chart.
func (c *DashboardContext) EmbeddingText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dashboard: %s\n", c.Name)
	fmt.Fprintf(&b, "Summary: %s\n", c.SummaryText)
	for _, ch := range c.Charts {
		if ch.Summary != "" {
			fmt.Fprintf(&b, "Chart %s: %s\n", ch.Title, ch.Summary)
		} else if ch.Title != "" {
			fmt.Fprintf(&b, "Chart: %s (%s)\n", ch.Title, ch.Type)
		}
	}
	return b.String()
}

// ContextRepository defines the interface for dashboard context storage.
// Put for the same dashboard is serialized by the implementation; distinct
// dashboards may be written in parallel.
type ContextRepository interface {
	Get(ctx context.Context, dashboardID string) (*DashboardContext, error)
	// Put creates the context (version 1) or updates it in place,
	// incrementing the version and refreshing updated_at.
	Put(ctx context.Context, dashboardID, name, summaryText string, charts []ChartInfo) (*DashboardContext, error)
	List(ctx context.Context) ([]DashboardContext, error)
	// ListStale returns the ids from catalogIDs that are absent from the
	// store or expired at the given time.
	ListStale(ctx context.Context, catalogIDs []string, now time.Time) ([]string, error)
	Delete(ctx context.Context, dashboardID string) error
	// Reconcile removes entries whose dashboard no longer appears in
	// catalogIDs and returns the removed ids.
	Reconcile(ctx context.Context, catalogIDs []string) ([]string, error)
}
