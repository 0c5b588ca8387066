package tuition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/campushq/bursarbot/internal/config"
)

// Executor maps a named tool invocation plus arguments to an outbound call
// against the tuition backend. Transport and backend failures are normalized
// into an error payload rather than returned as Go errors, so the model
// consumes them as ordinary tool output.
type Executor struct {
	log        *slog.Logger
	httpClient *http.Client
	baseURL    string
}

// NewExecutor creates a tool executor for the configured tuition backend.
// The dedicated HTTP client carries the configured timeout so a hung backend
// cannot stall a handler indefinitely.
func NewExecutor(cfg config.TuitionConfig, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		log: log.With("component", "tuition_executor"),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Execute runs the named tool with the model-supplied arguments and returns
// the backend's response body as the tool result. Unknown tool names produce
// an error payload without contacting the backend.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) map[string]any {
	e.log.InfoContext(ctx, "Executing tool", "tool", name, "args", args)

	switch name {
	case ToolCheckTuition:
		return e.checkTuition(ctx, args)
	case ToolPayTuition:
		return e.payTuition(ctx, args)
	default:
		e.log.WarnContext(ctx, "Model requested unknown tool", "tool", name)
		return map[string]any{"error": "Unknown tool"}
	}
}

func (e *Executor) checkTuition(ctx context.Context, args map[string]any) map[string]any {
	studentID, _ := args["student_id"].(string)
	if studentID == "" {
		return map[string]any{"error": "student_id is required"}
	}

	endpoint := fmt.Sprintf("%s/tuition/%s", e.baseURL, url.PathEscape(studentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return e.failure(ctx, ToolCheckTuition, err)
	}

	return e.do(ctx, ToolCheckTuition, req)
}

func (e *Executor) payTuition(ctx context.Context, args map[string]any) map[string]any {
	studentID, _ := args["student_id"].(string)
	if studentID == "" {
		return map[string]any{"error": "student_id is required"}
	}
	amount, ok := args["amount"].(float64)
	if !ok || amount <= 0 {
		return map[string]any{"error": "amount must be a positive number"}
	}

	body, err := json.Marshal(map[string]any{
		"student_id": studentID,
		"amount":     amount,
	})
	if err != nil {
		return e.failure(ctx, ToolPayTuition, err)
	}

	endpoint := e.baseURL + "/tuition/pay"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return e.failure(ctx, ToolPayTuition, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return e.do(ctx, ToolPayTuition, req)
}

// do issues the request and converts the response body into a tool result.
func (e *Executor) do(ctx context.Context, tool string, req *http.Request) map[string]any {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return e.failure(ctx, tool, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return e.failure(ctx, tool, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return e.failure(ctx, tool, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	return toResult(body)
}

// failure normalizes any transport or backend failure into a tool result.
func (e *Executor) failure(ctx context.Context, tool string, err error) map[string]any {
	e.log.ErrorContext(ctx, "Tool execution failed", "tool", tool, "error", err)
	return map[string]any{"error": fmt.Sprintf("API Call Failed: %v", err)}
}

// toResult passes the backend response body through verbatim. JSON objects
// become the result as-is; any other body is wrapped under a result key so
// the payload stays a structured object for the model.
func toResult(body []byte) map[string]any {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		if obj, ok := decoded.(map[string]any); ok {
			return obj
		}
		return map[string]any{"result": decoded}
	}
	return map[string]any{"result": strings.TrimSpace(string(body))}
}
