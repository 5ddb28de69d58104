package domain

import "errors"

var (
	// ErrEmbeddingUnavailable means the remote embedding service failed
	// after retries. Recovered by falling back to unfiltered selection.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrIndexIncompatible means the persisted vector index was built with
	// a different embedding dimension or model. Recovered by rebuilding
	// from the context store.
	ErrIndexIncompatible = errors.New("vector index incompatible with configured embeddings")

	// ErrRefreshInProgress means a reconciliation pass is already running.
	// Surfaced to the refresh trigger as a benign conflict.
	ErrRefreshInProgress = errors.New("context refresh already in progress")

	// ErrNothingToAnalyze means the dashboard catalog is empty
	ErrNothingToAnalyze = errors.New("no dashboards available to analyze")

	ErrContextNotFound    = errors.New("dashboard context not found")
	ErrSessionNotFound    = errors.New("analysis session not found")
	ErrSessionNotTerminal = errors.New("analysis session still running")
	ErrSessionCancelled   = errors.New("analysis session cancelled")
)
