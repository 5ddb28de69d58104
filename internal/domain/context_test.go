package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dashwise/dashboard-qa/internal/domain"
)

func TestDashboardContext_IsStale(t *testing.T) {
	now := time.Now()
	dc := &domain.DashboardContext{
		UpdatedAt: now,
		TTL:       time.Hour,
	}

	assert.False(t, dc.IsStale(now))
	assert.False(t, dc.IsStale(now.Add(59*time.Minute)))
	assert.True(t, dc.IsStale(now.Add(61*time.Minute)))
}

func TestDashboardContext_EmbeddingText(t *testing.T) {
	dc := &domain.DashboardContext{
		Name:        "Sales Overview",
		SummaryText: "Tracks revenue.",
		Charts: []domain.ChartInfo{
			{Title: "Revenue", Summary: "Monthly revenue by region"},
			{Title: "Pipeline", Type: "funnel"},
		},
	}

	text := dc.EmbeddingText()
	assert.Contains(t, text, "Dashboard: Sales Overview")
	assert.Contains(t, text, "Summary: Tracks revenue.")
	assert.Contains(t, text, "Chart Revenue: Monthly revenue by region")
	assert.Contains(t, text, "Chart: Pipeline (funnel)")
}

func TestTerminalStates(t *testing.T) {
	assert.False(t, domain.StatusPending.Terminal())
	assert.False(t, domain.StatusAnalyzing.Terminal())
	assert.True(t, domain.StatusDone.Terminal())
	assert.True(t, domain.StatusFailed.Terminal())

	assert.False(t, domain.SessionRunning.Terminal())
	assert.True(t, domain.SessionCompleted.Terminal())
	assert.True(t, domain.SessionCancelled.Terminal())
	assert.True(t, domain.SessionFailed.Terminal())
}
