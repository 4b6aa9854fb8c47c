package kakoi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer returns a server that issues tokens at /auth/token and
// dispatches everything else to handler.
func newTestServer(t *testing.T, authCalls *atomic.Int64, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		if authCalls != nil {
			authCalls.Add(1)
		}
		var req authRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.APIKey != "kk_valid" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"token":      "test-token",
			"expires_at": time.Now().Add(time.Hour),
		})
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func TestCreateRecord(t *testing.T) {
	recID := uuid.New()
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/records", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `"note"`, string(body["kind"]))

		writeData(w, http.StatusCreated, Record{
			ID:        recID,
			ProjectID: "acme",
			Kind:      "note",
			Body:      json.RawMessage(`{"text":"hi"}`),
		})
	})

	client := NewClient(Config{BaseURL: srv.URL, ActorID: "svc", APIKey: "kk_valid"})
	rec, err := client.CreateRecord(context.Background(), "note", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, recID, rec.ID)
	assert.Equal(t, "acme", rec.ProjectID)
}

func TestGetRecordNotFound(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "not found")
	})

	client := NewClient(Config{BaseURL: srv.URL, ActorID: "svc", APIKey: "kk_valid"})
	_, err := client.GetRecord(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsForbidden(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
}

func TestListRecordsPaging(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "50", r.URL.Query().Get("offset"))
		writeData(w, http.StatusOK, map[string]any{
			"data":     []Record{{ID: uuid.New(), ProjectID: "acme", Kind: "note"}},
			"has_more": true,
			"limit":    25,
			"offset":   50,
		})
	})

	client := NewClient(Config{BaseURL: srv.URL, ActorID: "svc", APIKey: "kk_valid"})
	page, err := client.ListRecords(context.Background(), &ListOptions{Limit: 25, Offset: 50})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.True(t, page.HasMore)
	assert.Equal(t, 25, page.Limit)
	assert.Equal(t, 50, page.Offset)
}

func TestDeleteRecord(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	client := NewClient(Config{BaseURL: srv.URL, ActorID: "svc", APIKey: "kk_valid"})
	require.NoError(t, client.DeleteRecord(context.Background(), uuid.New()))
}

func TestProjectHeaderSet(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme", r.Header.Get("X-Kakoi-Project"))
		writeData(w, http.StatusOK, []AccessDecision{})
	})

	client := NewClient(Config{BaseURL: srv.URL, ActorID: "admin", APIKey: "kk_valid", ProjectID: "acme"})
	_, err := client.RecentDecisions(context.Background(), 10)
	require.NoError(t, err)
}

func TestTokenCachedAcrossCalls(t *testing.T) {
	var authCalls atomic.Int64
	srv := newTestServer(t, &authCalls, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, []AccessDecision{})
	})

	client := NewClient(Config{BaseURL: srv.URL, ActorID: "svc", APIKey: "kk_valid"})
	for range 3 {
		_, err := client.RecentDecisions(context.Background(), 5)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), authCalls.Load())
}

func TestAuthFailureSurfaces(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the API without a token")
	})

	client := NewClient(Config{BaseURL: srv.URL, ActorID: "svc", APIKey: "kk_wrong"})
	_, err := client.RecentDecisions(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth failed")
}

func TestMigrationStatus(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/migration/status", r.URL.Path)
		writeData(w, http.StatusOK, []ProjectStatus{
			{ProjectID: "acme", Phase: "shadow", TimeInPhase: "72h0m0s"},
		})
	})

	client := NewClient(Config{BaseURL: srv.URL, ActorID: "admin", APIKey: "kk_valid"})
	statuses, err := client.MigrationStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "shadow", statuses[0].Phase)
}

func TestRateLimitedError(t *testing.T) {
	srv := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "slow down")
	})

	client := NewClient(Config{BaseURL: srv.URL, ActorID: "svc", APIKey: "kk_valid"})
	_, err := client.RecentDecisions(context.Background(), 5)
	assert.True(t, IsRateLimited(err))
}
