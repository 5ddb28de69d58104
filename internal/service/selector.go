package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dashwise/dashboard-qa/internal/config"
	"github.com/dashwise/dashboard-qa/internal/domain"
	"github.com/dashwise/dashboard-qa/internal/embedding"
	"github.com/dashwise/dashboard-qa/internal/vectorindex"
)

// Selector picks the subset of dashboards relevant to a question by
// similarity search over the vector index. The selection never blocks the
// overall analysis: an unavailable embedding service or an empty index
// degrades to selecting all live dashboards.
type Selector struct {
	embedder  embedding.Client
	index     *vectorindex.Index
	threshold float64
	topK      int
}

// NewSelector creates a dashboard selector
func NewSelector(embedder embedding.Client, index *vectorindex.Index, cfg config.SelectionConfig) *Selector {
	return &Selector{
		embedder:  embedder,
		index:     index,
		threshold: cfg.Threshold,
		topK:      cfg.TopK,
	}
}

// Select returns the ranked, thresholded subset of catalogIDs for a question.
// For a fixed index state and question embedding the result is deterministic.
func (s *Selector) Select(ctx context.Context, question string, catalogIDs []string) (*domain.SelectionResult, error) {
	if len(catalogIDs) == 0 {
		return nil, domain.ErrNothingToAnalyze
	}

	if s.index.Len() == 0 {
		log.Debug().Msg("vector index empty, selecting all dashboards")
		return selectAll(question, catalogIDs), nil
	}

	query, err := s.embedder.Embed(ctx, question)
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			log.Warn().Err(err).Msg("embedding unavailable, selecting all dashboards")
			return selectAll(question, catalogIDs), nil
		}
		return nil, err
	}

	k := s.topK
	if k <= 0 || k > s.index.Len() {
		k = s.index.Len()
	}
	ranked := s.index.Search(query, k)
	if len(ranked) == 0 {
		return selectAll(question, catalogIDs), nil
	}

	live := make(map[string]struct{}, len(catalogIDs))
	for _, id := range catalogIDs {
		live[id] = struct{}{}
	}

	var selected []string
	for _, c := range ranked {
		if _, ok := live[c.DashboardID]; !ok {
			continue // dashboard no longer in the catalog
		}
		if c.Score > s.threshold {
			selected = append(selected, c.DashboardID)
		}
	}

	// Never return an empty selection while something is indexed: fall back
	// to the top-ranked live candidate, then to the whole catalog.
	if len(selected) == 0 {
		for _, c := range ranked {
			if _, ok := live[c.DashboardID]; ok {
				selected = []string{c.DashboardID}
				break
			}
		}
	}
	if len(selected) == 0 {
		return selectAll(question, catalogIDs), nil
	}

	log.Info().
		Str("question", truncate(question, 80)).
		Int("candidates", len(ranked)).
		Int("selected", len(selected)).
		Msg("dashboards selected")

	return &domain.SelectionResult{
		Question:    question,
		Ranked:      ranked,
		SelectedIDs: selected,
	}, nil
}

func selectAll(question string, catalogIDs []string) *domain.SelectionResult {
	ranked := make([]domain.Candidate, len(catalogIDs))
	selected := make([]string, len(catalogIDs))
	for i, id := range catalogIDs {
		ranked[i] = domain.Candidate{DashboardID: id, Score: 0}
		selected[i] = id
	}
	return &domain.SelectionResult{
		Question:    question,
		Ranked:      ranked,
		SelectedIDs: selected,
		Degraded:    true,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
