package domain

import "time"

// DashboardInfo is the catalog view of a dashboard: identity plus the
// minimal metadata needed to build a basic context without a screenshot.
type DashboardInfo struct {
	DashboardID string      `json:"dashboard_id"`
	Title       string      `json:"title"`
	Charts      []ChartInfo `json:"charts,omitempty"`
}

// RefreshStatus summarizes the outcome of one context refresh pass
type RefreshStatus struct {
	CatalogTotal int       `json:"catalog_total"`
	Refreshed    int       `json:"refreshed"`
	Failed       int       `json:"failed"`
	Removed      int       `json:"removed"`
	IndexSize    int       `json:"index_size"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// ContextStatus is the externally visible state of the context subsystem
type ContextStatus struct {
	Total           int        `json:"total"`
	StaleCount      int        `json:"stale_count"`
	IndexSize       int        `json:"index_size"`
	LastRefreshTime *time.Time `json:"last_refresh_time,omitempty"`
}
