// Package assistant implements the conversation orchestrator: one user
// message in, one reply out, with tool execution between the two model calls
// when the model requests it.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/campushq/bursarbot/internal/config"
	"github.com/campushq/bursarbot/internal/gemini"
	"github.com/campushq/bursarbot/internal/tuition"
)

// ErrEmptyResponse is returned when the model produces no retrievable content.
// The bridge maps it to the fallback apology like any other orchestration error.
var ErrEmptyResponse = errors.New("model returned no content")

// ToolExecutor runs a named tool invocation and returns its result payload.
// Failures are reported inside the payload, never as a Go error.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) map[string]any
}

// Assistant drives the two-call tool-use conversation loop against the model.
type Assistant struct {
	log         *slog.Logger
	gen         gemini.Generator
	exec        ToolExecutor
	instruction string
	temperature float32
	catalog     []*genai.FunctionDeclaration
}

// New creates a conversation orchestrator with the given model client and
// tool executor.
func New(gen gemini.Generator, exec ToolExecutor, cfg config.GeminiConfig, log *slog.Logger) *Assistant {
	if log == nil {
		log = slog.Default()
	}
	return &Assistant{
		log:         log.With("component", "assistant"),
		gen:         gen,
		exec:        exec,
		instruction: cfg.SystemInstruction,
		temperature: cfg.Temperature,
		catalog:     tuition.Declarations(),
	}
}

// Handle produces the reply text for one user message.
//
// The first model call carries the user's text, the system instruction, and
// the full tool catalog. If the model requests function calls, each is
// executed in order and a second call with the accumulated history produces
// the natural-language reply; the model has no memory of the tool dispatch,
// so the second call must carry the full exchange.
func (a *Assistant) Handle(ctx context.Context, userText string) (string, error) {
	cfg := a.generationConfig()
	contents := []*genai.Content{genai.NewContentFromText(userText, genai.RoleUser)}

	first, err := a.gen.Generate(ctx, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("first model call failed: %w", err)
	}
	if err := validateResponse(first); err != nil {
		return "", err
	}

	calls := first.FunctionCalls()
	if len(calls) == 0 {
		reply := strings.TrimSpace(first.Text())
		if reply == "" {
			return "", ErrEmptyResponse
		}
		a.log.DebugContext(ctx, "Model answered without tool calls")
		return reply, nil
	}

	a.log.InfoContext(ctx, "Model requested tool calls", "count", len(calls))

	resultParts := make([]*genai.Part, 0, len(calls))
	for _, call := range calls {
		result := a.exec.Execute(ctx, call.Name, call.Args)
		resultParts = append(resultParts, genai.NewPartFromFunctionResponse(call.Name, result))
	}

	contents = append(contents, first.Candidates[0].Content)
	contents = append(contents, genai.NewContentFromParts(resultParts, genai.RoleUser))

	second, err := a.gen.Generate(ctx, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("second model call failed: %w", err)
	}
	if err := validateResponse(second); err != nil {
		return "", err
	}

	reply := strings.TrimSpace(second.Text())
	if reply == "" {
		return "", ErrEmptyResponse
	}
	return reply, nil
}

func (a *Assistant) generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature: &a.temperature,
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: a.instruction}},
		},
		Tools: []*genai.Tool{
			{FunctionDeclarations: a.catalog},
		},
	}
}

// validateResponse rejects responses with no retrievable content structure
// so the bridge can still answer with the fallback apology.
func validateResponse(resp *genai.GenerateContentResponse) error {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ErrEmptyResponse
	}
	return nil
}
