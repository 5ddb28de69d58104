package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dashwise/dashboard-qa/internal/ai"
	"github.com/dashwise/dashboard-qa/internal/config"
	"github.com/dashwise/dashboard-qa/internal/domain"
	"github.com/dashwise/dashboard-qa/internal/embedding"
	"github.com/dashwise/dashboard-qa/internal/superset"
	"github.com/dashwise/dashboard-qa/internal/vectorindex"
)

// Refresher reconciles the context store and vector index against the live
// dashboard catalog. Only one reconciliation pass runs at a time; selection
// keeps serving from the last consistent index while a pass is in flight.
type Refresher struct {
	store    domain.ContextRepository
	index    *vectorindex.Index
	embedder embedding.Client
	catalog  superset.Catalog
	capturer superset.Capturer
	analyzer ai.Analyzer

	stageTimeout time.Duration

	inFlight atomic.Bool

	mu          sync.Mutex
	lastRefresh *time.Time
}

// NewRefresher creates a context refresher
func NewRefresher(
	store domain.ContextRepository,
	index *vectorindex.Index,
	embedder embedding.Client,
	catalog superset.Catalog,
	capturer superset.Capturer,
	analyzer ai.Analyzer,
	cfg config.AnalysisConfig,
) *Refresher {
	return &Refresher{
		store:        store,
		index:        index,
		embedder:     embedder,
		catalog:      catalog,
		capturer:     capturer,
		analyzer:     analyzer,
		stageTimeout: cfg.StageTimeout,
	}
}

// Refresh runs one reconciliation pass. A concurrent invocation while a pass
// is active gets domain.ErrRefreshInProgress.
func (r *Refresher) Refresh(ctx context.Context) (*domain.RefreshStatus, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return nil, domain.ErrRefreshInProgress
	}
	defer r.inFlight.Store(false)

	return r.refresh(ctx)
}

// StartRefresh acquires the exclusivity flag and runs the pass in the
// background, so callers can fail fast on an in-flight refresh without
// waiting for the pass to finish.
func (r *Refresher) StartRefresh() error {
	if !r.inFlight.CompareAndSwap(false, true) {
		return domain.ErrRefreshInProgress
	}
	go func() {
		defer r.inFlight.Store(false)
		if _, err := r.refresh(context.Background()); err != nil {
			log.Error().Err(err).Msg("background context refresh failed")
		}
	}()
	return nil
}

func (r *Refresher) refresh(ctx context.Context) (*domain.RefreshStatus, error) {
	status := &domain.RefreshStatus{StartedAt: time.Now()}

	infos, err := r.catalog.ListDashboards(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dashboard catalog: %w", err)
	}
	status.CatalogTotal = len(infos)

	catalogIDs := make([]string, len(infos))
	infoByID := make(map[string]domain.DashboardInfo, len(infos))
	for i, info := range infos {
		catalogIDs[i] = info.DashboardID
		infoByID[info.DashboardID] = info
	}

	removed, err := r.store.Reconcile(ctx, catalogIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile context store: %w", err)
	}
	for _, id := range removed {
		r.index.Remove(id)
	}
	status.Removed = len(removed)

	stale, err := r.store.ListStale(ctx, catalogIDs, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale contexts: %w", err)
	}

	var updated []domain.DashboardContext
	for _, id := range stale {
		dc, err := r.regenerate(ctx, infoByID[id])
		if err != nil {
			// A failed regeneration leaves any previous context in place;
			// the id stays out of selection until a later pass succeeds.
			log.Error().Err(err).Str("dashboard_id", id).Msg("context regeneration failed")
			status.Failed++
			continue
		}
		updated = append(updated, *dc)
		status.Refreshed++
	}

	if err := r.indexContexts(ctx, updated); err != nil {
		log.Warn().Err(err).Msg("embedding unavailable, index update deferred to next refresh")
	}

	status.IndexSize = r.index.Len()
	status.FinishedAt = time.Now()

	r.mu.Lock()
	now := status.FinishedAt
	r.lastRefresh = &now
	r.mu.Unlock()

	log.Info().
		Int("catalog", status.CatalogTotal).
		Int("refreshed", status.Refreshed).
		Int("failed", status.Failed).
		Int("removed", status.Removed).
		Int("index_size", status.IndexSize).
		Msg("context refresh completed")

	return status, nil
}

// regenerate captures and summarizes one dashboard. When capture fails the
// summary is generated from catalog metadata alone rather than losing the
// dashboard entirely.
func (r *Refresher) regenerate(ctx context.Context, info domain.DashboardInfo) (*domain.DashboardContext, error) {
	image, err := r.capture(ctx, info.DashboardID)
	if err != nil {
		log.Warn().Err(err).Str("dashboard_id", info.DashboardID).Msg("capture failed, summarizing from metadata")
		image = nil
	}

	stageCtx, cancel := r.stageContext(ctx)
	summary, err := r.analyzer.SummarizeDashboard(stageCtx, info, image)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}

	return r.store.Put(ctx, info.DashboardID, info.Title, summary, info.Charts)
}

func (r *Refresher) capture(ctx context.Context, dashboardID string) ([]byte, error) {
	stageCtx, cancel := r.stageContext(ctx)
	defer cancel()
	return r.capturer.CaptureDashboard(stageCtx, dashboardID)
}

func (r *Refresher) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.stageTimeout > 0 {
		return context.WithTimeout(ctx, r.stageTimeout)
	}
	return context.WithCancel(ctx)
}

// indexContexts batch-embeds the updated contexts and writes them into the
// vector index. Embedding unavailability leaves the store updated and the
// index untouched for those entries.
func (r *Refresher) indexContexts(ctx context.Context, contexts []domain.DashboardContext) error {
	if len(contexts) == 0 {
		return nil
	}

	texts := make([]string, len(contexts))
	for i := range contexts {
		texts[i] = contexts[i].EmbeddingText()
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	for i := range contexts {
		if err := r.index.AddOrUpdate(contexts[i].DashboardID, vectors[i], contexts[i].Version); err != nil {
			log.Error().Err(err).Str("dashboard_id", contexts[i].DashboardID).Msg("failed to index context")
		}
	}

	if err := r.index.Save(); err != nil {
		log.Error().Err(err).Msg("failed to persist vector index")
	}
	return nil
}

// EnsureIndex loads the persisted index at startup. Incompatibility or
// corruption is non-fatal: the index is rebuilt from the context store.
func (r *Refresher) EnsureIndex(ctx context.Context) error {
	err := r.index.Load()
	if err == nil {
		if err := r.pruneIndex(ctx); err != nil {
			return err
		}
		if r.staleIndexEntries(ctx) {
			log.Info().Msg("index has stale embeddings, rebuilding from context store")
			return r.RebuildIndex(ctx)
		}
		return nil
	}

	if errors.Is(err, domain.ErrIndexIncompatible) {
		log.Warn().Err(err).Msg("persisted index incompatible, rebuilding from context store")
	} else {
		log.Warn().Err(err).Msg("persisted index unreadable, rebuilding from context store")
	}
	return r.RebuildIndex(ctx)
}

// pruneIndex drops index records with no backing context, preserving the
// invariant that the index never holds a vector for an unknown dashboard.
func (r *Refresher) pruneIndex(ctx context.Context) error {
	contexts, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list contexts: %w", err)
	}
	known := make(map[string]struct{}, len(contexts))
	for _, dc := range contexts {
		known[dc.DashboardID] = struct{}{}
	}

	for _, id := range r.index.IDs() {
		if _, ok := known[id]; !ok {
			r.index.Remove(id)
		}
	}
	return nil
}

// staleIndexEntries reports whether any indexed vector was computed from an
// outdated context version.
func (r *Refresher) staleIndexEntries(ctx context.Context) bool {
	contexts, err := r.store.List(ctx)
	if err != nil {
		return false
	}
	for _, dc := range contexts {
		if v, ok := r.index.SourceVersion(dc.DashboardID); ok && v != dc.Version {
			return true
		}
	}
	return false
}

// RebuildIndex re-embeds every stored context and atomically replaces the
// index contents.
func (r *Refresher) RebuildIndex(ctx context.Context) error {
	contexts, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list contexts: %w", err)
	}
	if len(contexts) == 0 {
		return r.index.Rebuild(nil)
	}

	texts := make([]string, len(contexts))
	for i := range contexts {
		texts[i] = contexts[i].EmbeddingText()
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// The selector degrades to select-all on an empty index; the
		// rebuild is retried on the next refresh.
		return fmt.Errorf("failed to embed contexts for rebuild: %w", err)
	}

	records := make([]vectorindex.Record, len(contexts))
	for i := range contexts {
		records[i] = vectorindex.Record{
			DashboardID:   contexts[i].DashboardID,
			Vector:        vectors[i],
			SourceVersion: contexts[i].Version,
		}
	}

	if err := r.index.Rebuild(records); err != nil {
		return err
	}
	return r.index.Save()
}

// Status reports the externally visible state of the context subsystem
func (r *Refresher) Status(ctx context.Context) (*domain.ContextStatus, error) {
	contexts, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	stale := 0
	for _, dc := range contexts {
		if dc.IsStale(now) {
			stale++
		}
	}

	r.mu.Lock()
	last := r.lastRefresh
	r.mu.Unlock()

	return &domain.ContextStatus{
		Total:           len(contexts),
		StaleCount:      stale,
		IndexSize:       r.index.Len(),
		LastRefreshTime: last,
	}, nil
}

// Run refreshes on a fixed interval until the context is cancelled.
// Overlap with an explicit refresh trigger is benign: the interval pass
// simply observes ErrRefreshInProgress and waits for the next tick.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil && !errors.Is(err, domain.ErrRefreshInProgress) {
				log.Error().Err(err).Msg("scheduled context refresh failed")
			}
		}
	}
}
