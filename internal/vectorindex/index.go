// Package vectorindex implements the in-memory nearest-neighbor index over
// dashboard context embeddings. Vectors are stored normalized, so inner
// product equals cosine similarity. Mutations are serialized behind a single
// mutex; readers work on an immutable snapshot swapped in atomically, so a
// search observes either the pre- or post-mutation state, never a torn one.
package vectorindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dashwise/dashboard-qa/internal/domain"
)

const (
	indexFile = "index.json"
	metaFile  = "index_meta.json"
)

// Record is one indexed embedding. Owned exclusively by the index.
type Record struct {
	DashboardID   string    `json:"dashboard_id"`
	Vector        []float32 `json:"vector"`
	SourceVersion int64     `json:"source_version"`
}

type metadata struct {
	Dimension int       `json:"dimension"`
	Model     string    `json:"model"`
	SavedAt   time.Time `json:"saved_at"`
}

type snapshot struct {
	dim     int
	records []Record       // sorted by DashboardID
	byID    map[string]int // DashboardID -> position in records
}

func newSnapshot(records []Record) *snapshot {
	sort.Slice(records, func(i, j int) bool {
		return records[i].DashboardID < records[j].DashboardID
	})
	byID := make(map[string]int, len(records))
	dim := 0
	for i, r := range records {
		byID[r.DashboardID] = i
		if dim == 0 {
			dim = len(r.Vector)
		}
	}
	return &snapshot{dim: dim, records: records, byID: byID}
}

// Index is the process-wide vector index with explicit lifecycle:
// built empty or loaded at startup, mutated incrementally, persisted to disk.
type Index struct {
	dir       string
	modelName string

	mu   sync.Mutex // serializes mutations and persistence
	snap atomic.Pointer[snapshot]
}

// New creates an empty index persisted under dir, keyed to the given
// embedding model identifier.
func New(dir, modelName string) *Index {
	idx := &Index{dir: dir, modelName: modelName}
	idx.snap.Store(newSnapshot(nil))
	return idx
}

// Len returns the number of indexed dashboards
func (idx *Index) Len() int {
	return len(idx.snap.Load().records)
}

// Dimension returns the embedding dimension, or 0 while the index is empty
func (idx *Index) Dimension() int {
	return idx.snap.Load().dim
}

// IDs returns the indexed dashboard ids in ascending order
func (idx *Index) IDs() []string {
	s := idx.snap.Load()
	ids := make([]string, len(s.records))
	for i, r := range s.records {
		ids[i] = r.DashboardID
	}
	return ids
}

// SourceVersion returns the context version a dashboard's vector was computed
// from, and whether the dashboard is indexed at all.
func (idx *Index) SourceVersion(dashboardID string) (int64, bool) {
	s := idx.snap.Load()
	i, ok := s.byID[dashboardID]
	if !ok {
		return 0, false
	}
	return s.records[i].SourceVersion, true
}

// AddOrUpdate replaces any existing record for the dashboard
func (idx *Index) AddOrUpdate(dashboardID string, vector []float32, sourceVersion int64) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for dashboard %s", dashboardID)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	s := idx.snap.Load()
	if s.dim != 0 && s.dim != len(vector) {
		return fmt.Errorf("%w: vector dimension %d, index dimension %d",
			domain.ErrIndexIncompatible, len(vector), s.dim)
	}

	records := make([]Record, 0, len(s.records)+1)
	for _, r := range s.records {
		if r.DashboardID != dashboardID {
			records = append(records, r)
		}
	}
	records = append(records, Record{DashboardID: dashboardID, Vector: vector, SourceVersion: sourceVersion})
	idx.snap.Store(newSnapshot(records))
	return nil
}

// Remove deletes the record for the dashboard; no-op if absent
func (idx *Index) Remove(dashboardID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	s := idx.snap.Load()
	if _, ok := s.byID[dashboardID]; !ok {
		return
	}
	records := make([]Record, 0, len(s.records)-1)
	for _, r := range s.records {
		if r.DashboardID != dashboardID {
			records = append(records, r)
		}
	}
	idx.snap.Store(newSnapshot(records))
}

// Rebuild atomically replaces the index contents. The replacement is built
// off to the side, so concurrent readers never observe an empty index.
func (idx *Index) Rebuild(records []Record) error {
	dim := 0
	for _, r := range records {
		if dim == 0 {
			dim = len(r.Vector)
		} else if len(r.Vector) != dim {
			return fmt.Errorf("%w: mixed vector dimensions %d and %d",
				domain.ErrIndexIncompatible, dim, len(r.Vector))
		}
	}

	replacement := newSnapshot(append([]Record(nil), records...))

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.snap.Store(replacement)
	return nil
}

// Search returns up to k nearest neighbors by inner product, descending by
// score with ties broken by ascending dashboard id for determinism.
func (idx *Index) Search(query []float32, k int) []domain.Candidate {
	s := idx.snap.Load()
	if len(s.records) == 0 || len(query) != s.dim || k <= 0 {
		return nil
	}

	candidates := make([]domain.Candidate, 0, len(s.records))
	for _, r := range s.records {
		var score float64
		for i, v := range r.Vector {
			score += float64(v) * float64(query[i])
		}
		candidates = append(candidates, domain.Candidate{DashboardID: r.DashboardID, Score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].DashboardID < candidates[j].DashboardID
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// Save persists the index and its metadata to the configured directory.
// Files are written to a temp path and renamed so a crash mid-write never
// leaves a corrupt index alongside valid metadata.
func (idx *Index) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := os.MkdirAll(idx.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	s := idx.snap.Load()
	if err := writeJSON(filepath.Join(idx.dir, indexFile), s.records); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	meta := metadata{Dimension: s.dim, Model: idx.modelName, SavedAt: time.Now()}
	if err := writeJSON(filepath.Join(idx.dir, metaFile), meta); err != nil {
		return fmt.Errorf("failed to write index metadata: %w", err)
	}

	log.Debug().Int("records", len(s.records)).Str("dir", idx.dir).Msg("vector index saved")
	return nil
}

// Load restores the index from disk. A missing index loads empty. A metadata
// mismatch with the configured embedding model returns ErrIndexIncompatible;
// the caller recovers by rebuilding from the context store.
func (idx *Index) Load() error {
	metaPath := filepath.Join(idx.dir, metaFile)
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index metadata: %w", err)
	}

	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("corrupt index metadata: %w", err)
	}
	if meta.Model != idx.modelName {
		return fmt.Errorf("%w: persisted model %q, configured model %q",
			domain.ErrIndexIncompatible, meta.Model, idx.modelName)
	}

	data, err = os.ReadFile(filepath.Join(idx.dir, indexFile))
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("corrupt index: %w", err)
	}

	for _, r := range records {
		if len(r.Vector) != meta.Dimension {
			return fmt.Errorf("%w: record %s has dimension %d, metadata says %d",
				domain.ErrIndexIncompatible, r.DashboardID, len(r.Vector), meta.Dimension)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.snap.Store(newSnapshot(records))

	log.Info().Int("records", len(records)).Str("model", meta.Model).Msg("vector index loaded")
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
