package superset_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashwise/dashboard-qa/internal/config"
	"github.com/dashwise/dashboard-qa/internal/superset"
)

func newTestClient(t *testing.T, handler http.Handler) *superset.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return superset.NewClient(config.SupersetConfig{
		BaseURL:  srv.URL,
		Username: "admin",
		Password: "secret",
		Timeout:  5 * time.Second,
	})
}

func loginHandler(t *testing.T, token string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "admin", body["username"])
		assert.Equal(t, "db", body["provider"])

		json.NewEncoder(w).Encode(map[string]string{"access_token": token})
	}
}

func TestClient_ListDashboards(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/security/login", loginHandler(t, "tok-1"))
	mux.HandleFunc("GET /api/v1/dashboard/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{"id": 7, "dashboard_title": "Sales Overview"},
				{"id": 9, "dashboard_title": "Marketing Funnel"},
			},
		})
	})
	mux.HandleFunc("GET /api/v1/dashboard/7/charts", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{"id": 70, "slice_name": "Revenue", "form_data": map[string]string{"viz_type": "bar"}},
			},
		})
	})
	mux.HandleFunc("GET /api/v1/dashboard/9/charts", func(w http.ResponseWriter, r *http.Request) {
		// Chart metadata failures must not drop the dashboard
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	client := newTestClient(t, mux)

	dashboards, err := client.ListDashboards(context.Background())
	require.NoError(t, err)
	require.Len(t, dashboards, 2)

	assert.Equal(t, "7", dashboards[0].DashboardID)
	assert.Equal(t, "Sales Overview", dashboards[0].Title)
	require.Len(t, dashboards[0].Charts, 1)
	assert.Equal(t, "70", dashboards[0].Charts[0].ChartID)
	assert.Equal(t, "Revenue", dashboards[0].Charts[0].Title)
	assert.Equal(t, "bar", dashboards[0].Charts[0].Type)

	assert.Equal(t, "9", dashboards[1].DashboardID)
	assert.Empty(t, dashboards[1].Charts)
}

func TestClient_RelogsInOn401(t *testing.T) {
	var logins atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/security/login", func(w http.ResponseWriter, r *http.Request) {
		n := logins.Add(1)
		token := "tok-1"
		if n > 1 {
			token = "tok-2"
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": token})
	})
	mux.HandleFunc("GET /api/v1/dashboard/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			// Expired token
			http.Error(w, "expired", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": []map[string]any{}})
	})

	client := newTestClient(t, mux)

	dashboards, err := client.ListDashboards(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dashboards)
	assert.Equal(t, int32(2), logins.Load())
}

func TestClient_CaptureDashboard(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/security/login", loginHandler(t, "tok-1"))
	mux.HandleFunc("POST /api/v1/dashboard/7/cache_dashboard_screenshot/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"cache_key": "abc123"})
	})
	mux.HandleFunc("GET /api/v1/dashboard/7/screenshot/abc123/", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			// Still rendering on the first poll
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Write([]byte("png-bytes"))
	})

	client := newTestClient(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	img, err := client.CaptureDashboard(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), img)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}

func TestClient_CaptureTriggerFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/security/login", loginHandler(t, "tok-1"))
	mux.HandleFunc("POST /api/v1/dashboard/7/cache_dashboard_screenshot/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})

	client := newTestClient(t, mux)

	_, err := client.CaptureDashboard(context.Background(), "7")
	require.Error(t, err)

	var capErr *superset.CaptureError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "7", capErr.DashboardID)
	assert.True(t, strings.Contains(capErr.Reason, "500"))
}

func TestClient_CaptureDeadline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/security/login", loginHandler(t, "tok-1"))
	mux.HandleFunc("POST /api/v1/dashboard/7/cache_dashboard_screenshot/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"cache_key": "abc123"})
	})
	mux.HandleFunc("GET /api/v1/dashboard/7/screenshot/abc123/", func(w http.ResponseWriter, r *http.Request) {
		// Never ready
		w.WriteHeader(http.StatusNotFound)
	})

	client := newTestClient(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.CaptureDashboard(ctx, "7")
	var capErr *superset.CaptureError
	require.ErrorAs(t, err, &capErr)
	assert.Contains(t, capErr.Reason, "deadline")
}
