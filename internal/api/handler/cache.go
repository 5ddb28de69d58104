package handler

import (
	"net/http"

	"github.com/dashwise/dashboard-qa/internal/api/response"
	"github.com/dashwise/dashboard-qa/internal/repository/redis"
)

// FlushCache clears all cached answers from Redis
func FlushCache(answerCache *redis.AnswerCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := answerCache.Flush(r.Context())
		if err != nil {
			response.InternalError(w, "failed to flush cache: "+err.Error())
			return
		}

		response.OK(w, map[string]any{
			"message":      "answer cache flushed",
			"keys_deleted": deleted,
		})
	}
}
