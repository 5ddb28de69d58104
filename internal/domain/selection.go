package domain

// Candidate is one ranked entry of a selection result
type Candidate struct {
	DashboardID string  `json:"dashboard_id"`
	Score       float64 `json:"score"`
}

// SelectionResult holds the ranked candidates for a question and the subset
// that passed the selection policy. Lifetime is the request; never persisted.
type SelectionResult struct {
	Question    string      `json:"question"`
	Ranked      []Candidate `json:"ranked_candidates"`
	SelectedIDs []string    `json:"selected_ids"`
	// Degraded marks a select-all fallback (embedding unavailable or
	// empty index) where scores are synthetic zeros.
	Degraded bool `json:"degraded"`
}
