package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dashwise/dashboard-qa/internal/ai"
	"github.com/dashwise/dashboard-qa/internal/domain"
)

// MockContextRepository mocks the domain.ContextRepository interface
type MockContextRepository struct {
	mock.Mock
}

func (m *MockContextRepository) Get(ctx context.Context, dashboardID string) (*domain.DashboardContext, error) {
	args := m.Called(ctx, dashboardID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DashboardContext), args.Error(1)
}

func (m *MockContextRepository) Put(ctx context.Context, dashboardID, name, summaryText string, charts []domain.ChartInfo) (*domain.DashboardContext, error) {
	args := m.Called(ctx, dashboardID, name, summaryText, charts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DashboardContext), args.Error(1)
}

func (m *MockContextRepository) List(ctx context.Context) ([]domain.DashboardContext, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DashboardContext), args.Error(1)
}

func (m *MockContextRepository) ListStale(ctx context.Context, catalogIDs []string, now time.Time) ([]string, error) {
	args := m.Called(ctx, catalogIDs, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockContextRepository) Delete(ctx context.Context, dashboardID string) error {
	args := m.Called(ctx, dashboardID)
	return args.Error(0)
}

func (m *MockContextRepository) Reconcile(ctx context.Context, catalogIDs []string) ([]string, error) {
	args := m.Called(ctx, catalogIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockEmbedder mocks the embedding.Client interface
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedder) ModelName() string {
	args := m.Called()
	return args.String(0)
}

// MockCatalog mocks the superset.Catalog interface
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) ListDashboards(ctx context.Context) ([]domain.DashboardInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DashboardInfo), args.Error(1)
}

// MockCapturer mocks the superset.Capturer interface
type MockCapturer struct {
	mock.Mock
}

func (m *MockCapturer) CaptureDashboard(ctx context.Context, dashboardID string) ([]byte, error) {
	args := m.Called(ctx, dashboardID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockAnalyzer mocks the ai.Analyzer interface
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) SummarizeDashboard(ctx context.Context, info domain.DashboardInfo, image []byte) (string, error) {
	args := m.Called(ctx, info, image)
	return args.String(0), args.Error(1)
}

func (m *MockAnalyzer) AnalyzeDashboard(ctx context.Context, question string, dc *domain.DashboardContext, image []byte) (string, error) {
	args := m.Called(ctx, question, dc, image)
	return args.String(0), args.Error(1)
}

func (m *MockAnalyzer) AnalyzeQuestionOnly(ctx context.Context, question string, dc *domain.DashboardContext) (string, error) {
	args := m.Called(ctx, question, dc)
	return args.String(0), args.Error(1)
}

func (m *MockAnalyzer) Synthesize(ctx context.Context, question string, insights []ai.Insight) (string, error) {
	args := m.Called(ctx, question, insights)
	return args.String(0), args.Error(1)
}

// MockAnswerCache mocks the AnswerCache interface
type MockAnswerCache struct {
	mock.Mock
}

func (m *MockAnswerCache) Get(ctx context.Context, question string, selectedIDs []string) (*domain.AnalysisResult, error) {
	args := m.Called(ctx, question, selectedIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AnalysisResult), args.Error(1)
}

func (m *MockAnswerCache) Set(ctx context.Context, result *domain.AnalysisResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}
