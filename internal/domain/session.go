package domain

import (
	"time"

	"github.com/google/uuid"
)

// DashboardStatus is the per-dashboard pipeline state within a session
type DashboardStatus string

const (
	StatusPending   DashboardStatus = "pending"
	StatusCapturing DashboardStatus = "capturing"
	StatusAnalyzing DashboardStatus = "analyzing"
	StatusDone      DashboardStatus = "done"
	StatusFailed    DashboardStatus = "failed"
)

// Terminal reports whether the status is done or failed
func (s DashboardStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// SessionState is the overall state of an analysis session
type SessionState string

const (
	SessionRunning   SessionState = "running"
	SessionCompleted SessionState = "completed"
	SessionCancelled SessionState = "cancelled"
	SessionFailed    SessionState = "failed"
)

// Terminal reports whether the session has reached a final state
func (s SessionState) Terminal() bool {
	return s != SessionRunning
}

// EventType identifies the kind of a progress event
type EventType string

const (
	EventDashboard EventType = "dashboard"
	EventSession   EventType = "session"
)

// ProgressEvent is one entry of a session's ordered event stream. Events for
// a given dashboard follow pipeline order; the Seq number is the position in
// the session-wide stream and is what subscribers replay from.
type ProgressEvent struct {
	Seq         int             `json:"seq"`
	Type        EventType       `json:"type"`
	SessionID   uuid.UUID       `json:"session_id"`
	DashboardID string          `json:"dashboard_id,omitempty"`
	Status      DashboardStatus `json:"status,omitempty"`
	State       SessionState    `json:"state,omitempty"`
	Message     string          `json:"message,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// DashboardFailure records why one dashboard's pipeline failed
type DashboardFailure struct {
	DashboardID string `json:"dashboard_id"`
	Stage       string `json:"stage"`
	Cause       string `json:"cause"`
}

// AnalysisResult is the terminal outcome of a session
type AnalysisResult struct {
	SessionID   uuid.UUID          `json:"session_id"`
	Question    string             `json:"question"`
	State       SessionState       `json:"state"`
	Answer      string             `json:"answer,omitempty"`
	SelectedIDs []string           `json:"selected_ids"`
	Insights    map[string]string  `json:"insights,omitempty"`
	Failures    []DashboardFailure `json:"failures,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}
