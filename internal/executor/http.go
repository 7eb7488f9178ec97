package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPExecutor dispatches tasks to an external protocol engine over HTTP.
// The engine receives the opaque task payload as JSON and is responsible
// for idempotency keyed on the task id.
type HTTPExecutor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPExecutor creates an executor posting to the given endpoint.
func NewHTTPExecutor(endpoint string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPExecutor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type httpExecRequest struct {
	TaskID   string         `json:"task_id"`
	Protocol string         `json:"protocol"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
	Attempt  int            `json:"attempt"`
}

type httpExecResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Execute posts the task to the engine. A 4xx response means the engine
// rejected the task itself (malformed params, insufficient funds) and is
// permanent; 5xx and transport errors are transient.
func (h *HTTPExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(httpExecRequest{
		TaskID:   req.TaskID,
		Protocol: req.Protocol,
		Action:   req.Action,
		Params:   req.Params,
		Attempt:  req.Attempt,
	})
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("encoding task %q: %w", req.TaskID, err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("building request for task %q: %w", req.TaskID, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("executing task %q: %w", req.TaskID, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("reading response for task %q: %w", req.TaskID, err)
	}

	var decoded httpExecResponse
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &decoded); err != nil && resp.StatusCode < 300 {
			return Result{}, fmt.Errorf("decoding response for task %q: %w", req.TaskID, err)
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Result{Output: decoded.Output}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Result{}, Permanent(fmt.Errorf("task %q rejected by engine (%d): %s", req.TaskID, resp.StatusCode, decoded.Error))
	default:
		return Result{}, fmt.Errorf("engine error for task %q (%d): %s", req.TaskID, resp.StatusCode, decoded.Error)
	}
}
