package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dashwise/dashboard-qa/internal/domain"
)

const answerCachePrefix = "answer:"

// AnswerCache caches synthesized answers keyed by question plus the selected
// dashboard set, so a repeated question over an unchanged selection skips the
// whole analysis pipeline.
type AnswerCache struct {
	client *Client
	ttl    time.Duration
}

// NewAnswerCache creates a new answer cache
func NewAnswerCache(client *Client, ttl time.Duration) *AnswerCache {
	return &AnswerCache{client: client, ttl: ttl}
}

func cacheKey(question string, selectedIDs []string) string {
	h := sha256.Sum256([]byte(question + "\x00" + strings.Join(selectedIDs, ",")))
	return answerCachePrefix + hex.EncodeToString(h[:16])
}

// Get retrieves a cached result; a miss returns (nil, nil)
func (c *AnswerCache) Get(ctx context.Context, question string, selectedIDs []string) (*domain.AnalysisResult, error) {
	data, err := c.client.rdb.Get(ctx, cacheKey(question, selectedIDs)).Bytes()
	if err != nil {
		return nil, nil // Cache miss
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached answer: %w", err)
	}
	return &result, nil
}

// Set caches a completed analysis result
func (c *AnswerCache) Set(ctx context.Context, result *domain.AnalysisResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	key := cacheKey(result.Question, result.SelectedIDs)
	return c.client.rdb.Set(ctx, key, data, c.ttl).Err()
}

// Flush removes all cached answers
func (c *AnswerCache) Flush(ctx context.Context) (int64, error) {
	pattern := answerCachePrefix + "*"
	var cursor uint64
	var deleted int64

	for {
		keys, nextCursor, err := c.client.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			count, err := c.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += count
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}
