package ai

import (
	"fmt"
	"strings"

	"github.com/dashwise/dashboard-qa/internal/domain"
)

// BuildSummaryPrompt asks the vision model to describe a dashboard so the
// description works both as embedding text and as analysis context.
func BuildSummaryPrompt(info domain.DashboardInfo, hasImage bool) string {
	var b strings.Builder

	b.WriteString("You are documenting a business intelligence dashboard.\n\n")
	fmt.Fprintf(&b, "Dashboard: %s\n", info.Title)
	if len(info.Charts) > 0 {
		b.WriteString("Charts:\n")
		for _, ch := range info.Charts {
			fmt.Fprintf(&b, "- %s (%s)\n", ch.Title, ch.Type)
		}
	}

	if hasImage {
		b.WriteString(`
Analyze the attached screenshot and describe:
1. The dashboard's main purpose and the business area it serves
2. The key metrics and data dimensions it tracks
3. The visualization types and what each chart shows
4. Typical questions this dashboard can answer

Write a thorough but concise description.`)
	} else {
		b.WriteString(`
No screenshot is available. Based on the title and chart list alone, write a
short description of what this dashboard most likely tracks and which
business questions it can answer.`)
	}
	return b.String()
}

// BuildAnalysisPrompt asks the model to answer the question against one
// dashboard, grounded in its cached context.
func BuildAnalysisPrompt(question string, dc *domain.DashboardContext, hasImage bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Business question: %s\n\n", question)
	fmt.Fprintf(&b, "Dashboard: %s\n", dc.Name)
	fmt.Fprintf(&b, "Known context: %s\n", dc.SummaryText)
	for _, ch := range dc.Charts {
		if ch.Summary != "" {
			fmt.Fprintf(&b, "- %s: %s\n", ch.Title, ch.Summary)
		}
	}

	if hasImage {
		b.WriteString(`
Using the attached current screenshot of this dashboard, answer the question.
Report concrete figures and trends you can read from the charts, and state
clearly when the dashboard does not cover part of the question.`)
	} else {
		b.WriteString(`
No current screenshot is available. Answer from the known context above,
and say explicitly that the answer is based on cached dashboard descriptions
rather than live data.`)
	}
	return b.String()
}

// BuildSynthesisPrompt combines per-dashboard insights into one answer
func BuildSynthesisPrompt(question string, insights []Insight) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Business question: %s\n\n", question)
	b.WriteString("Per-dashboard findings:\n\n")
	for i, ins := range insights {
		fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, ins.DashboardName, ins.Text)
	}
	b.WriteString(`Combine these findings into a single coherent answer to the question.
Resolve overlaps, call out contradictions between dashboards, and finish with
the key takeaways. Do not mention that the findings came from separate
analyses.`)
	return b.String()
}
