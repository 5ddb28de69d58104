package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dashwise/dashboard-qa/internal/config"
	"github.com/dashwise/dashboard-qa/internal/domain"
	"github.com/dashwise/dashboard-qa/internal/vectorindex"
)

type refresherFixture struct {
	store    *MockContextRepository
	index    *vectorindex.Index
	embedder *MockEmbedder
	catalog  *MockCatalog
	capturer *MockCapturer
	analyzer *MockAnalyzer
	r        *Refresher
}

func newRefresherFixture(t *testing.T) *refresherFixture {
	t.Helper()
	f := &refresherFixture{
		store:    new(MockContextRepository),
		index:    vectorindex.New(t.TempDir(), "test-model"),
		embedder: new(MockEmbedder),
		catalog:  new(MockCatalog),
		capturer: new(MockCapturer),
		analyzer: new(MockAnalyzer),
	}
	f.r = NewRefresher(f.store, f.index, f.embedder, f.catalog, f.capturer, f.analyzer,
		config.AnalysisConfig{StageTimeout: time.Second})
	return f
}

func storedContext(id, name, summary string) *domain.DashboardContext {
	now := time.Now()
	return &domain.DashboardContext{
		DashboardID: id,
		Name:        name,
		SummaryText: summary,
		Version:     1,
		TTL:         time.Hour,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestRefresher_Refresh(t *testing.T) {
	f := newRefresherFixture(t)
	ctx := context.Background()

	require.NoError(t, f.index.AddOrUpdate("gone", []float32{1, 0}, 1))

	f.catalog.On("ListDashboards", mock.Anything).Return([]domain.DashboardInfo{
		{DashboardID: "1", Title: "Sales"},
		{DashboardID: "2", Title: "Marketing"},
	}, nil)
	f.store.On("Reconcile", mock.Anything, []string{"1", "2"}).Return([]string{"gone"}, nil)
	f.store.On("ListStale", mock.Anything, []string{"1", "2"}, mock.Anything).
		Return([]string{"1", "2"}, nil)

	f.capturer.On("CaptureDashboard", mock.Anything, mock.Anything).Return([]byte("png"), nil)
	f.analyzer.On("SummarizeDashboard", mock.Anything, mock.Anything, []byte("png")).
		Return("a summary", nil)

	f.store.On("Put", mock.Anything, "1", "Sales", "a summary", mock.Anything).
		Return(storedContext("1", "Sales", "a summary"), nil)
	f.store.On("Put", mock.Anything, "2", "Marketing", "a summary", mock.Anything).
		Return(storedContext("2", "Marketing", "a summary"), nil)

	f.embedder.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{1, 0}, {0, 1}}, nil)

	status, err := f.r.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, status.CatalogTotal)
	assert.Equal(t, 2, status.Refreshed)
	assert.Equal(t, 0, status.Failed)
	assert.Equal(t, 1, status.Removed)
	assert.Equal(t, 2, status.IndexSize)
	assert.Equal(t, []string{"1", "2"}, f.index.IDs())

	f.store.AssertExpectations(t)
}

func TestRefresher_RefreshExclusive(t *testing.T) {
	f := newRefresherFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.catalog.On("ListDashboards", mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return([]domain.DashboardInfo{}, nil).Once()
	f.catalog.On("ListDashboards", mock.Anything).Return([]domain.DashboardInfo{}, nil)
	f.store.On("Reconcile", mock.Anything, mock.Anything).Return([]string{}, nil)
	f.store.On("ListStale", mock.Anything, mock.Anything, mock.Anything).Return([]string{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := f.r.Refresh(context.Background())
		done <- err
	}()

	<-started
	_, err := f.r.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrRefreshInProgress)

	close(release)
	require.NoError(t, <-done)

	// The flag is released after the pass finishes
	_, err = f.r.Refresh(context.Background())
	assert.NoError(t, err)
}

func TestRefresher_CaptureFailureFallsBackToMetadata(t *testing.T) {
	f := newRefresherFixture(t)

	f.catalog.On("ListDashboards", mock.Anything).Return([]domain.DashboardInfo{
		{DashboardID: "1", Title: "Sales"},
	}, nil)
	f.store.On("Reconcile", mock.Anything, mock.Anything).Return([]string{}, nil)
	f.store.On("ListStale", mock.Anything, mock.Anything, mock.Anything).Return([]string{"1"}, nil)

	f.capturer.On("CaptureDashboard", mock.Anything, "1").
		Return(nil, errors.New("renderer down"))
	f.analyzer.On("SummarizeDashboard", mock.Anything, mock.Anything, []byte(nil)).
		Return("metadata summary", nil)
	f.store.On("Put", mock.Anything, "1", "Sales", "metadata summary", mock.Anything).
		Return(storedContext("1", "Sales", "metadata summary"), nil)
	f.embedder.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{1, 0}}, nil)

	status, err := f.r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Refreshed)
	assert.Equal(t, 0, status.Failed)
	f.analyzer.AssertExpectations(t)
}

func TestRefresher_SummarizeFailureCountsAndContinues(t *testing.T) {
	f := newRefresherFixture(t)

	f.catalog.On("ListDashboards", mock.Anything).Return([]domain.DashboardInfo{
		{DashboardID: "1", Title: "Broken"},
		{DashboardID: "2", Title: "Fine"},
	}, nil)
	f.store.On("Reconcile", mock.Anything, mock.Anything).Return([]string{}, nil)
	f.store.On("ListStale", mock.Anything, mock.Anything, mock.Anything).
		Return([]string{"1", "2"}, nil)

	f.capturer.On("CaptureDashboard", mock.Anything, mock.Anything).Return([]byte("png"), nil)
	f.analyzer.On("SummarizeDashboard", mock.Anything,
		mock.MatchedBy(func(info domain.DashboardInfo) bool { return info.DashboardID == "1" }),
		mock.Anything).Return("", errors.New("model error"))
	f.analyzer.On("SummarizeDashboard", mock.Anything,
		mock.MatchedBy(func(info domain.DashboardInfo) bool { return info.DashboardID == "2" }),
		mock.Anything).Return("fine summary", nil)
	f.store.On("Put", mock.Anything, "2", "Fine", "fine summary", mock.Anything).
		Return(storedContext("2", "Fine", "fine summary"), nil)
	f.embedder.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{1, 0}}, nil)

	status, err := f.r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Refreshed)
	assert.Equal(t, 1, status.Failed)
}

func TestRefresher_EmbeddingUnavailableDefersIndexing(t *testing.T) {
	f := newRefresherFixture(t)

	f.catalog.On("ListDashboards", mock.Anything).Return([]domain.DashboardInfo{
		{DashboardID: "1", Title: "Sales"},
	}, nil)
	f.store.On("Reconcile", mock.Anything, mock.Anything).Return([]string{}, nil)
	f.store.On("ListStale", mock.Anything, mock.Anything, mock.Anything).Return([]string{"1"}, nil)
	f.capturer.On("CaptureDashboard", mock.Anything, "1").Return([]byte("png"), nil)
	f.analyzer.On("SummarizeDashboard", mock.Anything, mock.Anything, mock.Anything).
		Return("a summary", nil)
	f.store.On("Put", mock.Anything, "1", "Sales", "a summary", mock.Anything).
		Return(storedContext("1", "Sales", "a summary"), nil)
	f.embedder.On("EmbedBatch", mock.Anything, mock.Anything).
		Return(nil, domain.ErrEmbeddingUnavailable)

	status, err := f.r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Refreshed)
	assert.Equal(t, 0, status.IndexSize)
}

func TestRefresher_EnsureIndexRebuildsOnModelMismatch(t *testing.T) {
	dir := t.TempDir()

	stale := vectorindex.New(dir, "old-model")
	require.NoError(t, stale.AddOrUpdate("1", []float32{1, 0}, 1))
	require.NoError(t, stale.Save())

	f := &refresherFixture{
		store:    new(MockContextRepository),
		index:    vectorindex.New(dir, "new-model"),
		embedder: new(MockEmbedder),
		catalog:  new(MockCatalog),
		capturer: new(MockCapturer),
		analyzer: new(MockAnalyzer),
	}
	f.r = NewRefresher(f.store, f.index, f.embedder, f.catalog, f.capturer, f.analyzer,
		config.AnalysisConfig{})

	f.store.On("List", mock.Anything).Return([]domain.DashboardContext{
		*storedContext("1", "Sales", "a summary"),
	}, nil)
	f.embedder.On("EmbedBatch", mock.Anything, mock.Anything).
		Return([][]float32{{0, 1}}, nil)

	require.NoError(t, f.r.EnsureIndex(context.Background()))
	assert.Equal(t, 1, f.index.Len())
	assert.Equal(t, []string{"1"}, f.index.IDs())
}

func TestRefresher_EnsureIndexPrunesOrphans(t *testing.T) {
	dir := t.TempDir()

	prev := vectorindex.New(dir, "test-model")
	require.NoError(t, prev.AddOrUpdate("1", []float32{1, 0}, 1))
	require.NoError(t, prev.AddOrUpdate("orphan", []float32{0, 1}, 1))
	require.NoError(t, prev.Save())

	f := &refresherFixture{
		store:    new(MockContextRepository),
		index:    vectorindex.New(dir, "test-model"),
		embedder: new(MockEmbedder),
		catalog:  new(MockCatalog),
		capturer: new(MockCapturer),
		analyzer: new(MockAnalyzer),
	}
	f.r = NewRefresher(f.store, f.index, f.embedder, f.catalog, f.capturer, f.analyzer,
		config.AnalysisConfig{})

	f.store.On("List", mock.Anything).Return([]domain.DashboardContext{
		*storedContext("1", "Sales", "a summary"),
	}, nil)

	require.NoError(t, f.r.EnsureIndex(context.Background()))
	assert.Equal(t, []string{"1"}, f.index.IDs())
}
