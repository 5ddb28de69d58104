package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/dashwise/dashboard-qa/internal/config"
	"github.com/dashwise/dashboard-qa/internal/domain"
)

// GeminiClient generates embeddings via the Gemini embedding API
type GeminiClient struct {
	model        *genai.EmbeddingModel
	modelName    string
	maxBatchSize int
	maxRetries   int
	retryBudget  time.Duration
}

// NewGeminiClient creates an embedding client from configuration
func NewGeminiClient(ctx context.Context, cfg config.EmbeddingConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "text-embedding-004"
	}

	return &GeminiClient{
		model:        client.EmbeddingModel(modelName),
		modelName:    modelName,
		maxBatchSize: cfg.MaxBatchSize,
		maxRetries:   cfg.MaxRetries,
		retryBudget:  cfg.RetryBudget,
	}, nil
}

func (c *GeminiClient) ModelName() string {
	return c.modelName
}

// Embed generates a normalized embedding for a single text
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates normalized embeddings for all texts, preserving input
// order. Batches beyond the remote item limit are partitioned and the results
// concatenated.
func (c *GeminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	budget := c.retryBudget
	if budget <= 0 {
		budget = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	vectors := make([][]float32, 0, len(texts))
	for _, part := range chunk(texts, c.maxBatchSize) {
		batch, err := c.embedChunk(ctx, part)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (c *GeminiClient) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	batch := c.model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	attempts := c.maxRetries
	if attempts <= 0 {
		attempts = 3
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := c.model.BatchEmbedContents(ctx, batch)
		if err == nil {
			if len(res.Embeddings) != len(texts) {
				return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
					domain.ErrEmbeddingUnavailable, len(res.Embeddings), len(texts))
			}
			vectors := make([][]float32, len(res.Embeddings))
			for i, emb := range res.Embeddings {
				vectors[i] = Normalize(emb.Values)
			}
			return vectors, nil
		}

		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("embedding request failed")

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, lastErr)
}
