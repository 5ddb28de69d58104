package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dashwise/dashboard-qa/internal/ai"
	"github.com/dashwise/dashboard-qa/internal/config"
	"github.com/dashwise/dashboard-qa/internal/domain"
	"github.com/dashwise/dashboard-qa/internal/superset"
)

// AnswerCache caches terminal results keyed by question and selection.
// A nil cache disables caching.
type AnswerCache interface {
	Get(ctx context.Context, question string, selectedIDs []string) (*domain.AnalysisResult, error)
	Set(ctx context.Context, result *domain.AnalysisResult) error
}

// StartedSession is what a caller gets back immediately after starting an
// analysis; progress arrives through the session's event stream.
type StartedSession struct {
	SessionID   uuid.UUID `json:"session_id"`
	SelectedIDs []string  `json:"selected_ids"`
	Degraded    bool      `json:"degraded"`
	Cached      bool      `json:"cached"`
}

// Orchestrator runs analysis sessions: each session fans the selected
// dashboards out over a bounded worker pool, walks every dashboard through
// capture and analysis, and synthesizes the per-dashboard insights into one
// answer. Sessions are held in memory and reaped after a retention window.
type Orchestrator struct {
	store    domain.ContextRepository
	catalog  superset.Catalog
	capturer superset.Capturer
	analyzer ai.Analyzer
	selector *Selector
	answers  AnswerCache

	workers      int
	stageTimeout time.Duration
	retention    time.Duration
	eventBuffer  int

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
}

// NewOrchestrator creates the analysis orchestrator
func NewOrchestrator(
	store domain.ContextRepository,
	catalog superset.Catalog,
	capturer superset.Capturer,
	analyzer ai.Analyzer,
	selector *Selector,
	answers AnswerCache,
	cfg config.AnalysisConfig,
) *Orchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	eventBuffer := cfg.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = 64
	}
	return &Orchestrator{
		store:        store,
		catalog:      catalog,
		capturer:     capturer,
		analyzer:     analyzer,
		selector:     selector,
		answers:      answers,
		workers:      workers,
		stageTimeout: cfg.StageTimeout,
		retention:    cfg.SessionRetention,
		eventBuffer:  eventBuffer,
		sessions:     make(map[uuid.UUID]*session),
	}
}

// session is the in-memory record of one analysis run. All mutable fields
// are guarded by mu; notify is closed and replaced on every append so event
// subscribers can wait without polling.
type session struct {
	id       uuid.UUID
	question string
	selected []string
	cancel   context.CancelFunc

	mu       sync.Mutex
	state    domain.SessionState
	events   []domain.ProgressEvent
	notify   chan struct{}
	insights map[string]string
	names    map[string]string
	failures []domain.DashboardFailure
	answer   string
	started  time.Time
	finished time.Time
}

func newSession(question string, selected []string, cancel context.CancelFunc) *session {
	return &session{
		id:       uuid.New(),
		question: question,
		selected: selected,
		cancel:   cancel,
		state:    domain.SessionRunning,
		notify:   make(chan struct{}),
		insights: make(map[string]string),
		names:    make(map[string]string),
		started:  time.Now(),
	}
}

func (s *session) append(ev domain.ProgressEvent) {
	ev.Seq = len(s.events) + 1
	ev.SessionID = s.id
	ev.Timestamp = time.Now()
	s.events = append(s.events, ev)
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *session) emitDashboard(dashboardID string, status domain.DashboardStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(domain.ProgressEvent{
		Type:        domain.EventDashboard,
		DashboardID: dashboardID,
		Status:      status,
		Message:     message,
	})
}

// finish moves the session to a terminal state exactly once. Later calls are
// no-ops, so a cancel racing normal completion cannot emit two terminal events.
func (s *session) finish(state domain.SessionState, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = state
	s.finished = time.Now()
	if state == domain.SessionCancelled {
		// Partial insights from a cancelled run are never surfaced
		s.insights = make(map[string]string)
		s.answer = ""
	}
	s.append(domain.ProgressEvent{
		Type:    domain.EventSession,
		State:   state,
		Message: message,
	})
	return true
}

func (s *session) result() *domain.AnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	insights := make(map[string]string, len(s.insights))
	for k, v := range s.insights {
		insights[k] = v
	}
	return &domain.AnalysisResult{
		SessionID:   s.id,
		Question:    s.question,
		State:       s.state,
		Answer:      s.answer,
		SelectedIDs: s.selected,
		Insights:    insights,
		Failures:    append([]domain.DashboardFailure(nil), s.failures...),
		StartedAt:   s.started,
		FinishedAt:  s.finished,
	}
}

// Analyze selects the relevant dashboards for the question and starts an
// asynchronous analysis session over them. A cache hit yields an already
// completed session so callers handle both paths uniformly.
func (o *Orchestrator) Analyze(ctx context.Context, question string) (*StartedSession, error) {
	infos, err := o.catalog.ListDashboards(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dashboard catalog: %w", err)
	}
	if len(infos) == 0 {
		return nil, domain.ErrNothingToAnalyze
	}

	catalogIDs := make([]string, len(infos))
	for i, info := range infos {
		catalogIDs[i] = info.DashboardID
	}

	sel, err := o.selector.Select(ctx, question, catalogIDs)
	if err != nil {
		return nil, err
	}

	if o.answers != nil && !sel.Degraded {
		cached, err := o.answers.Get(ctx, question, sel.SelectedIDs)
		if err != nil {
			log.Warn().Err(err).Msg("answer cache lookup failed")
		} else if cached != nil {
			s := o.completedSession(question, cached)
			return &StartedSession{SessionID: s.id, SelectedIDs: sel.SelectedIDs, Cached: true}, nil
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := newSession(question, sel.SelectedIDs, cancel)

	o.mu.Lock()
	o.sessions[s.id] = s
	o.mu.Unlock()

	log.Info().
		Str("session_id", s.id.String()).
		Int("dashboards", len(sel.SelectedIDs)).
		Bool("degraded", sel.Degraded).
		Msg("analysis session started")

	go o.run(runCtx, s)

	return &StartedSession{SessionID: s.id, SelectedIDs: sel.SelectedIDs, Degraded: sel.Degraded}, nil
}

// completedSession registers a session that is terminal from birth, replaying
// the cached answer through the normal event stream.
func (o *Orchestrator) completedSession(question string, cached *domain.AnalysisResult) *session {
	s := newSession(question, cached.SelectedIDs, func() {})
	s.answer = cached.Answer
	for k, v := range cached.Insights {
		s.insights[k] = v
	}
	s.finish(domain.SessionCompleted, "answer served from cache")

	o.mu.Lock()
	o.sessions[s.id] = s
	o.mu.Unlock()
	return s
}

func (o *Orchestrator) run(ctx context.Context, s *session) {
	defer s.cancel()

	for _, id := range s.selected {
		s.emitDashboard(id, domain.StatusPending, "")
	}

	sem := make(chan struct{}, o.workers)
	var wg sync.WaitGroup
	for _, id := range s.selected {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
			wg.Add(1)
			go func(dashboardID string) {
				defer wg.Done()
				defer func() { <-sem }()
				o.analyzeDashboard(ctx, s, dashboardID)
			}(id)
		}
		if ctx.Err() != nil {
			break
		}
	}
	wg.Wait()

	if ctx.Err() != nil {
		if s.finish(domain.SessionCancelled, "analysis cancelled") {
			log.Info().Str("session_id", s.id.String()).Msg("analysis session cancelled")
		}
		return
	}

	o.synthesize(ctx, s)
}

// analyzeDashboard walks one dashboard through capture and analysis. Capture
// failure is not fatal: the dashboard is analyzed from its cached context
// instead of the live screenshot.
func (o *Orchestrator) analyzeDashboard(ctx context.Context, s *session, dashboardID string) {
	if ctx.Err() != nil {
		return
	}

	dc, err := o.store.Get(ctx, dashboardID)
	if err != nil {
		if !errors.Is(err, domain.ErrContextNotFound) {
			log.Error().Err(err).Str("dashboard_id", dashboardID).Msg("context lookup failed")
		}
		// Analysis still proceeds with a bare context built from the id
		dc = &domain.DashboardContext{DashboardID: dashboardID, Name: dashboardID}
	}
	s.mu.Lock()
	s.names[dashboardID] = dc.Name
	s.mu.Unlock()

	s.emitDashboard(dashboardID, domain.StatusCapturing, "")

	image, err := o.captureStage(ctx, dashboardID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("dashboard_id", dashboardID).Msg("capture failed, analyzing from cached context")
		image = nil
	}
	if ctx.Err() != nil {
		return
	}

	s.emitDashboard(dashboardID, domain.StatusAnalyzing, "")

	insight, err := o.analyzeStage(ctx, s.question, dc, image)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Str("dashboard_id", dashboardID).Msg("dashboard analysis failed")
		s.mu.Lock()
		s.failures = append(s.failures, domain.DashboardFailure{
			DashboardID: dashboardID,
			Stage:       string(domain.StatusAnalyzing),
			Cause:       err.Error(),
		})
		s.mu.Unlock()
		s.emitDashboard(dashboardID, domain.StatusFailed, err.Error())
		return
	}

	s.mu.Lock()
	s.insights[dashboardID] = insight
	s.mu.Unlock()
	s.emitDashboard(dashboardID, domain.StatusDone, "")
}

func (o *Orchestrator) captureStage(ctx context.Context, dashboardID string) ([]byte, error) {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()
	return o.capturer.CaptureDashboard(stageCtx, dashboardID)
}

func (o *Orchestrator) analyzeStage(ctx context.Context, question string, dc *domain.DashboardContext, image []byte) (string, error) {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()
	if image == nil {
		return o.analyzer.AnalyzeQuestionOnly(stageCtx, question, dc)
	}
	return o.analyzer.AnalyzeDashboard(stageCtx, question, dc, image)
}

func (o *Orchestrator) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.stageTimeout > 0 {
		return context.WithTimeout(ctx, o.stageTimeout)
	}
	return context.WithCancel(ctx)
}

// synthesize combines the collected insights into the final answer and moves
// the session to its terminal state.
func (o *Orchestrator) synthesize(ctx context.Context, s *session) {
	s.mu.Lock()
	insights := make([]ai.Insight, 0, len(s.insights))
	for _, id := range s.selected {
		if text, ok := s.insights[id]; ok {
			insights = append(insights, ai.Insight{
				DashboardID:   id,
				DashboardName: s.names[id],
				Text:          text,
			})
		}
	}
	failed := len(s.failures)
	s.mu.Unlock()

	if len(insights) == 0 {
		s.finish(domain.SessionFailed, fmt.Sprintf("all %d dashboards failed", failed))
		log.Error().Str("session_id", s.id.String()).Int("failed", failed).Msg("analysis session failed")
		return
	}

	var answer string
	var err error
	if len(insights) == 1 {
		answer = insights[0].Text
	} else {
		stageCtx, cancel := o.stageContext(ctx)
		answer, err = o.analyzer.Synthesize(stageCtx, s.question, insights)
		cancel()
	}
	if err != nil {
		if ctx.Err() != nil {
			s.finish(domain.SessionCancelled, "analysis cancelled")
			return
		}
		s.finish(domain.SessionFailed, fmt.Sprintf("synthesis failed: %v", err))
		log.Error().Err(err).Str("session_id", s.id.String()).Msg("answer synthesis failed")
		return
	}

	s.mu.Lock()
	s.answer = answer
	s.mu.Unlock()

	if !s.finish(domain.SessionCompleted, "") {
		return
	}

	log.Info().
		Str("session_id", s.id.String()).
		Int("insights", len(insights)).
		Int("failed", failed).
		Msg("analysis session completed")

	if o.answers != nil && failed == 0 {
		if err := o.answers.Set(context.Background(), s.result()); err != nil {
			log.Warn().Err(err).Msg("failed to cache answer")
		}
	}
}

func (o *Orchestrator) lookup(sessionID uuid.UUID) (*session, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Events returns the session's event stream, replayed from the first event.
// The channel closes once the terminal event has been delivered or the
// subscriber's context ends. Any number of subscribers may attach; each gets
// the full stream in order.
func (o *Orchestrator) Events(ctx context.Context, sessionID uuid.UUID) (<-chan domain.ProgressEvent, error) {
	s, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.ProgressEvent, o.eventBuffer)
	go func() {
		defer close(out)
		next := 0
		for {
			s.mu.Lock()
			batch := append([]domain.ProgressEvent(nil), s.events[next:]...)
			terminal := s.state.Terminal()
			notify := s.notify
			s.mu.Unlock()

			for _, ev := range batch {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			next += len(batch)

			if terminal && len(batch) == 0 {
				return
			}
			if len(batch) > 0 {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-notify:
			}
		}
	}()
	return out, nil
}

// Cancel requests cooperative cancellation of a running session. Cancelling
// an already terminal session is a no-op.
func (o *Orchestrator) Cancel(sessionID uuid.UUID) error {
	s, err := o.lookup(sessionID)
	if err != nil {
		return err
	}
	s.cancel()
	return nil
}

// Answer returns the terminal result of a session. A session still running
// gets ErrSessionNotTerminal; callers watch the event stream instead.
func (o *Orchestrator) Answer(sessionID uuid.UUID) (*domain.AnalysisResult, error) {
	s, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	terminal := s.state.Terminal()
	s.mu.Unlock()
	if !terminal {
		return nil, domain.ErrSessionNotTerminal
	}
	return s.result(), nil
}

// Run reaps terminal sessions past the retention window until ctx ends
func (o *Orchestrator) Run(ctx context.Context) {
	if o.retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reap(time.Now())
		}
	}
}

func (o *Orchestrator) reap(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, s := range o.sessions {
		s.mu.Lock()
		expired := s.state.Terminal() && now.Sub(s.finished) > o.retention
		s.mu.Unlock()
		if expired {
			delete(o.sessions, id)
		}
	}
}
