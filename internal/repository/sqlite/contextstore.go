package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dashwise/dashboard-qa/internal/domain"
)

// ContextStore implements domain.ContextRepository on sqlite, one row per
// dashboard so a partial write never touches unrelated entries. Puts for the
// same dashboard are serialized by a keyed lock; distinct dashboards proceed
// in parallel.
type ContextStore struct {
	db         *DB
	defaultTTL time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewContextStore creates a context store with the given default TTL
func NewContextStore(db *DB, defaultTTL time.Duration) *ContextStore {
	return &ContextStore{
		db:         db,
		defaultTTL: defaultTTL,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (s *ContextStore) keyLock(dashboardID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[dashboardID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[dashboardID] = l
	}
	return l
}

const contextColumns = "dashboard_id, name, summary_text, charts, version, ttl_seconds, created_at, updated_at"

func (s *ContextStore) Get(ctx context.Context, dashboardID string) (*domain.DashboardContext, error) {
	query := `
		SELECT ` + contextColumns + `
		FROM dashboard_contexts
		WHERE dashboard_id = ?
	`
	row := s.db.SQL.QueryRowContext(ctx, query, dashboardID)
	dc, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrContextNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get context: %w", err)
	}
	return dc, nil
}

func (s *ContextStore) Put(ctx context.Context, dashboardID, name, summaryText string, charts []domain.ChartInfo) (*domain.DashboardContext, error) {
	lock := s.keyLock(dashboardID)
	lock.Lock()
	defer lock.Unlock()

	if charts == nil {
		charts = []domain.ChartInfo{}
	}
	chartsJSON, err := json.Marshal(charts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charts: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO dashboard_contexts (dashboard_id, name, summary_text, charts, version, ttl_seconds, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (dashboard_id) DO UPDATE SET
			name = excluded.name,
			summary_text = excluded.summary_text,
			charts = excluded.charts,
			version = dashboard_contexts.version + 1,
			updated_at = excluded.updated_at
	`
	_, err = s.db.SQL.ExecContext(ctx, query,
		dashboardID, name, summaryText, string(chartsJSON),
		int64(s.defaultTTL.Seconds()), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to put context: %w", err)
	}

	return s.Get(ctx, dashboardID)
}

func (s *ContextStore) List(ctx context.Context) ([]domain.DashboardContext, error) {
	query := `
		SELECT ` + contextColumns + `
		FROM dashboard_contexts
		ORDER BY dashboard_id
	`
	rows, err := s.db.SQL.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}
	defer rows.Close()

	var contexts []domain.DashboardContext
	for rows.Next() {
		dc, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan context: %w", err)
		}
		contexts = append(contexts, *dc)
	}
	return contexts, rows.Err()
}

func (s *ContextStore) ListStale(ctx context.Context, catalogIDs []string, now time.Time) ([]string, error) {
	if len(catalogIDs) == 0 {
		return nil, nil
	}

	contexts, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.DashboardContext, len(contexts))
	for i := range contexts {
		byID[contexts[i].DashboardID] = &contexts[i]
	}

	var stale []string
	for _, id := range catalogIDs {
		dc, ok := byID[id]
		if !ok || dc.IsStale(now) {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

func (s *ContextStore) Delete(ctx context.Context, dashboardID string) error {
	lock := s.keyLock(dashboardID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.SQL.ExecContext(ctx,
		`DELETE FROM dashboard_contexts WHERE dashboard_id = ?`, dashboardID)
	if err != nil {
		return fmt.Errorf("failed to delete context: %w", err)
	}
	return nil
}

// Reconcile removes entries for dashboards no longer present in catalogIDs
// and returns the removed ids so the caller can drop their index records.
func (s *ContextStore) Reconcile(ctx context.Context, catalogIDs []string) ([]string, error) {
	live := make(map[string]struct{}, len(catalogIDs))
	for _, id := range catalogIDs {
		live[id] = struct{}{}
	}

	contexts, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, dc := range contexts {
		if _, ok := live[dc.DashboardID]; ok {
			continue
		}
		if err := s.Delete(ctx, dc.DashboardID); err != nil {
			return removed, err
		}
		removed = append(removed, dc.DashboardID)
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContext(row rowScanner) (*domain.DashboardContext, error) {
	var (
		dc         domain.DashboardContext
		chartsJSON string
		ttlSeconds int64
	)
	err := row.Scan(
		&dc.DashboardID,
		&dc.Name,
		&dc.SummaryText,
		&chartsJSON,
		&dc.Version,
		&ttlSeconds,
		&dc.CreatedAt,
		&dc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	dc.TTL = time.Duration(ttlSeconds) * time.Second
	if chartsJSON = strings.TrimSpace(chartsJSON); chartsJSON != "" {
		if err := json.Unmarshal([]byte(chartsJSON), &dc.Charts); err != nil {
			return nil, fmt.Errorf("corrupt charts column for %s: %w", dc.DashboardID, err)
		}
	}
	return &dc, nil
}
