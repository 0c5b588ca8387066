package tuition

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/campushq/bursarbot/internal/config"
)

func newTestExecutor(t *testing.T, handler http.Handler) (*Executor, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	exec := NewExecutor(config.TuitionConfig{
		BaseURL:        srv.URL,
		RequestTimeout: 5 * time.Second,
	}, nil)
	return exec, srv
}

func TestExecuteCheckTuition(t *testing.T) {
	t.Parallel()

	var gotPath atomic.Value
	exec, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"student_id":"S1","balance":1250.50,"currency":"USD"}`))
	}))

	result := exec.Execute(context.Background(), ToolCheckTuition, map[string]any{"student_id": "S1"})

	if gotPath.Load() != "/tuition/S1" {
		t.Errorf("backend path = %v, want /tuition/S1", gotPath.Load())
	}
	if result["balance"] != 1250.50 {
		t.Errorf("result balance = %v, want 1250.50", result["balance"])
	}
	if _, hasErr := result["error"]; hasErr {
		t.Errorf("unexpected error in result: %v", result)
	}
}

func TestExecutePayTuition(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tuition/pay" {
			t.Errorf("backend got %s %s, want POST /tuition/pay", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q, want application/json", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"confirmed","receipt":"R-77"}`))
	}))

	result := exec.Execute(context.Background(), ToolPayTuition, map[string]any{
		"student_id": "S1",
		"amount":     250.0,
	})

	if result["status"] != "confirmed" || result["receipt"] != "R-77" {
		t.Errorf("result = %v, want confirmed payment with receipt", result)
	}
}

func TestExecuteUnknownToolSkipsBackend(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	exec, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	result := exec.Execute(context.Background(), "refund_tuition", map[string]any{"student_id": "S1"})

	if result["error"] != "Unknown tool" {
		t.Errorf("result = %v, want error 'Unknown tool'", result)
	}
	if calls.Load() != 0 {
		t.Errorf("backend received %d calls, want 0", calls.Load())
	}
}

func TestExecuteBackendFailureReturnsErrorPayload(t *testing.T) {
	t.Parallel()

	exec, srv := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))

	result := exec.Execute(context.Background(), ToolPayTuition, map[string]any{
		"student_id": "S1",
		"amount":     250.0,
	})

	errMsg, ok := result["error"].(string)
	if !ok || errMsg == "" {
		t.Fatalf("result = %v, want error payload", result)
	}
	if want := "API Call Failed: "; len(errMsg) < len(want) || errMsg[:len(want)] != want {
		t.Errorf("error = %q, want prefix %q", errMsg, want)
	}

	// Transport-level failure behaves the same way.
	srv.Close()
	result = exec.Execute(context.Background(), ToolCheckTuition, map[string]any{"student_id": "S1"})
	if _, ok := result["error"].(string); !ok {
		t.Errorf("result after server close = %v, want error payload", result)
	}
}

func TestExecuteArgumentValidation(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	exec, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	cases := []struct {
		name string
		tool string
		args map[string]any
	}{
		{name: "check missing student_id", tool: ToolCheckTuition, args: map[string]any{}},
		{name: "pay missing student_id", tool: ToolPayTuition, args: map[string]any{"amount": 10.0}},
		{name: "pay missing amount", tool: ToolPayTuition, args: map[string]any{"student_id": "S1"}},
		{name: "pay negative amount", tool: ToolPayTuition, args: map[string]any{"student_id": "S1", "amount": -5.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := exec.Execute(context.Background(), tc.tool, tc.args)
			if _, ok := result["error"].(string); !ok {
				t.Errorf("result = %v, want error payload", result)
			}
		})
	}

	if calls.Load() != 0 {
		t.Errorf("backend received %d calls for invalid arguments, want 0", calls.Load())
	}
}

func TestExecuteNonObjectBodyWrapped(t *testing.T) {
	t.Parallel()

	exec, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"paid in full"`))
	}))

	result := exec.Execute(context.Background(), ToolCheckTuition, map[string]any{"student_id": "S1"})
	if result["result"] != "paid in full" {
		t.Errorf("result = %v, want wrapped scalar body", result)
	}
}
