// Package ai wraps the hosted vision/text model used for dashboard
// summarization, per-dashboard analysis, and final answer synthesis.
package ai

import (
	"context"

	"github.com/dashwise/dashboard-qa/internal/domain"
)

// Insight is one dashboard's contribution to the final answer
type Insight struct {
	DashboardID   string `json:"dashboard_id"`
	DashboardName string `json:"dashboard_name"`
	Text          string `json:"text"`
}

// Analyzer defines the AI analysis operations the engine depends on
type Analyzer interface {
	// SummarizeDashboard produces the semantic summary cached as the
	// dashboard's context. image may be nil, in which case the summary is
	// built from catalog metadata alone.
	SummarizeDashboard(ctx context.Context, info domain.DashboardInfo, image []byte) (string, error)

	// AnalyzeDashboard answers the question against one dashboard's
	// rendered image and cached context.
	AnalyzeDashboard(ctx context.Context, question string, dc *domain.DashboardContext, image []byte) (string, error)

	// AnalyzeQuestionOnly answers from the cached context alone,
	// used in degraded mode when no imagery is available.
	AnalyzeQuestionOnly(ctx context.Context, question string, dc *domain.DashboardContext) (string, error)

	// Synthesize combines per-dashboard insights into the final answer
	Synthesize(ctx context.Context, question string, insights []Insight) (string, error)
}
