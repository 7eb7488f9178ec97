package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsched/chainsched/internal/executor"
	"github.com/chainsched/chainsched/internal/metrics"
	"github.com/chainsched/chainsched/internal/scheduler"
)

func newTestServer(t *testing.T) (*Server, *scheduler.Scheduler) {
	t.Helper()
	execs := executor.NewRegistry()
	execs.Register("uniswap", executor.Func(func(ctx context.Context, req executor.Request) (executor.Result, error) {
		return executor.Result{Output: "0xabc"}, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sched := scheduler.New(scheduler.Config{
		TickInterval: 5 * time.Millisecond,
	}, scheduler.Options{Executors: execs, Metrics: metrics.NewRegistry()})
	sched.Start(ctx)

	return NewServer(sched, metrics.NewRegistry()), sched
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func waitForAPIStatus(t *testing.T, srv *Server, id, want string) TaskResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last TaskResponse
	for time.Now().Before(deadline) {
		rec := doJSON(t, srv, http.MethodGet, "/tasks/"+id, nil)
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &last))
			if last.Status == want {
				return last
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %q never reached %q (last: %+v)", id, want, last)
	return last
}

func TestSubmitAndStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/tasks", TaskRequest{
		Protocol: "uniswap", Action: "swap", Priority: 5,
		Params: map[string]any{"amount": "100"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created["id"])

	task := waitForAPIStatus(t, srv, created["id"], "succeeded")
	assert.Equal(t, "0xabc", task.Output)
	assert.Equal(t, 1, task.Attempts)
}

func TestSubmitValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/tasks", TaskRequest{Action: "swap"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitBatchAtomic(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/batches", BatchRequest{Tasks: []TaskRequest{
		{ID: "a", Protocol: "uniswap", Action: "swap", DependsOn: []string{"b"}},
		{ID: "b", Protocol: "uniswap", Action: "swap", DependsOn: []string{"a"}},
	}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	// Nothing from the rejected batch exists.
	rec = doJSON(t, srv, http.MethodGet, "/tasks/a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/batches", BatchRequest{Tasks: []TaskRequest{
		{ID: "approve", Protocol: "uniswap", Action: "approve"},
		{ID: "swap", Protocol: "uniswap", Action: "swap", DependsOn: []string{"approve"}},
	}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, []string{"approve", "swap"}, created["ids"])
	waitForAPIStatus(t, srv, "swap", "succeeded")
}

func TestDuplicateIDConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	req := TaskRequest{ID: "dup", Protocol: "uniswap", Action: "swap"}
	rec := doJSON(t, srv, http.MethodPost, "/tasks", req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/tasks", req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatusNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/batches", BatchRequest{Tasks: []TaskRequest{
		{ID: "root", Protocol: "uniswap", Action: "swap"},
		{ID: "leaf", Protocol: "uniswap", Action: "swap", DependsOn: []string{"root"}},
	}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitForAPIStatus(t, srv, "leaf", "succeeded")

	// Terminal tasks cannot be cancelled.
	rec = doJSON(t, srv, http.MethodDelete, "/tasks/leaf", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasks(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, id := range []string{"one", "two"} {
		rec := doJSON(t, srv, http.MethodPost, "/tasks", TaskRequest{ID: id, Protocol: "uniswap", Action: "swap"})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	waitForAPIStatus(t, srv, "two", "succeeded")

	rec := doJSON(t, srv, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Len(t, tasks, 2)
}

func TestDrainEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/drain", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/tasks", TaskRequest{Protocol: "uniswap", Action: "swap"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap metrics.Snapshot
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
}
