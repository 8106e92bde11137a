package recon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type stubQueue struct {
	taskID string
	err    error
	calls  int
}

func (q *stubQueue) EnqueueBulkRun(ctx context.Context, accountID int64, dr DateRange, threshold int) (string, error) {
	q.calls++
	if q.err != nil {
		return "", q.err
	}
	return q.taskID, nil
}

func newTestServer(t *testing.T, store *memoryStore, queue BulkQueue) *httptest.Server {
	t.Helper()
	svc := newTestService(store, nil, nil)
	handler := NewHandler(testLogger(), svc, queue)
	r := chi.NewRouter()
	r.Route("/api/treasury", handler.MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func TestSuggestionsEndpoint(t *testing.T) {
	store := newMemoryStore()
	seedPair(store, 1, 10)
	store.rules = []Rule{
		{ID: 1, AccountID: 7, MatchText: "fornecedor", Direction: EntryDebit, Active: true},
	}
	srv := newTestServer(t, store, nil)

	resp := getJSON(t, srv.URL+"/api/treasury/entries/1/suggestions")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeBody(t, resp)
	candidates := payload["candidates"].([]any)
	require.Len(t, candidates, 1)
	best := candidates[0].(map[string]any)
	require.EqualValues(t, 100, best["score"])
	rules := payload["rules"].([]any)
	require.Len(t, rules, 1)
}

func TestSuggestionsEndpointNotFound(t *testing.T) {
	srv := newTestServer(t, newMemoryStore(), nil)

	resp := getJSON(t, srv.URL+"/api/treasury/entries/404/suggestions")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = getJSON(t, srv.URL+"/api/treasury/entries/abc/suggestions")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRulesEndpoint(t *testing.T) {
	store := newMemoryStore()
	seedPair(store, 1, 10)
	store.rules = []Rule{
		{ID: 1, AccountID: 7, MatchText: "fornecedor", Direction: EntryDebit, Active: true, Category: "suppliers"},
	}
	srv := newTestServer(t, store, nil)

	resp := getJSON(t, srv.URL+"/api/treasury/entries/1/rules")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := decodeBody(t, resp)
	rules := payload["rules"].([]any)
	require.Len(t, rules, 1)
}

func TestReconcileEndpoint(t *testing.T) {
	store := newMemoryStore()
	seedPair(store, 1, 10)
	seedPair(store, 2, 20)
	srv := newTestServer(t, store, nil)

	resp := postJSON(t, srv.URL+"/api/treasury/reconcile", `{"entry_id":1,"movement_id":10}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := decodeBody(t, resp)
	require.Equal(t, "reconciled", payload["status"])

	// Conflicting pair maps to 409.
	resp = postJSON(t, srv.URL+"/api/treasury/reconcile", `{"entry_id":1,"movement_id":20}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Missing ids fail validation.
	resp = postJSON(t, srv.URL+"/api/treasury/reconcile", `{"entry_id":1}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Malformed body fails early.
	resp = postJSON(t, srv.URL+"/api/treasury/reconcile", `{`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReconcileEndpointCrossAccount(t *testing.T) {
	store := newMemoryStore()
	seedPair(store, 1, 10)
	store.addMovement(LedgerMovement{
		ID: 30, AccountID: 8, MovedAt: day(0), AmountCents: 125000,
		Direction: MovementOutflow,
	})
	srv := newTestServer(t, store, nil)

	resp := postJSON(t, srv.URL+"/api/treasury/reconcile", `{"entry_id":1,"movement_id":30}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUnreconcileEndpoint(t *testing.T) {
	store := newMemoryStore()
	seedPair(store, 1, 10)
	srv := newTestServer(t, store, nil)

	resp := postJSON(t, srv.URL+"/api/treasury/reconcile", `{"entry_id":1,"movement_id":10}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/treasury/unreconcile", `{"entry_id":1,"reason":"wrong supplier","actor_id":42}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := decodeBody(t, resp)
	require.Equal(t, "pending", payload["status"])

	// A second revert finds the entry pending.
	resp = postJSON(t, srv.URL+"/api/treasury/unreconcile", `{"entry_id":1,"reason":"again","actor_id":42}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Reason is mandatory.
	resp = postJSON(t, srv.URL+"/api/treasury/unreconcile", `{"entry_id":1}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBulkRunEndpointSync(t *testing.T) {
	store := newMemoryStore()
	seedPair(store, 1, 10)
	srv := newTestServer(t, store, nil)

	resp := postJSON(t, srv.URL+"/api/treasury/bulk-runs", `{"account_id":7}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := decodeBody(t, resp)
	require.EqualValues(t, 1, payload["matched"])
	require.NotEmpty(t, payload["run_id"])
}

func TestBulkRunEndpointValidation(t *testing.T) {
	srv := newTestServer(t, newMemoryStore(), nil)

	for _, body := range []string{
		`{}`,
		`{"account_id":7,"from":"2025/01/01"}`,
		`{"account_id":7,"threshold":101}`,
		`{"account_id":7,"from":"2025-02-01","to":"2025-01-01"}`,
	} {
		resp := postJSON(t, srv.URL+"/api/treasury/bulk-runs", body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %s", body)
	}
}

func TestBulkRunEndpointAsync(t *testing.T) {
	queue := &stubQueue{taskID: "task-123"}
	srv := newTestServer(t, newMemoryStore(), queue)

	resp := postJSON(t, srv.URL+"/api/treasury/bulk-runs", `{"account_id":7,"async":true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	payload := decodeBody(t, resp)
	require.Equal(t, "task-123", payload["task_id"])
	require.Equal(t, 1, queue.calls)
}

func TestBulkRunEndpointAsyncUnavailable(t *testing.T) {
	srv := newTestServer(t, newMemoryStore(), nil)

	resp := postJSON(t, srv.URL+"/api/treasury/bulk-runs", `{"account_id":7,"async":true}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	queue := &stubQueue{err: errors.New("redis down")}
	srv = newTestServer(t, newMemoryStore(), queue)
	resp = postJSON(t, srv.URL+"/api/treasury/bulk-runs", `{"account_id":7,"async":true}`)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestErrorMappingDataUnavailable(t *testing.T) {
	store := newMemoryStore()
	seedPair(store, 1, 10)
	store.listCandidatesErr = errors.New("connection refused")
	srv := newTestServer(t, store, nil)

	resp := getJSON(t, srv.URL+"/api/treasury/entries/1/suggestions")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
