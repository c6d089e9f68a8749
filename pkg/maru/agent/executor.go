// Package agent – executor.go implements the tool registry and dispatcher.
// Tool failures are returned in-band as "Error: ..." strings so the model
// can read them and recover; only the turn loop decides when to give up.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// maxToolResultChars bounds a single tool result fed back to the model.
const maxToolResultChars = 30000

// ToolFunc executes one tool call with parsed arguments.
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is one callable tool.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters json.RawMessage
	Run        ToolFunc
}

// ToolExecutor dispatches tool calls by name.
type ToolExecutor struct {
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewToolExecutor creates an empty registry.
func NewToolExecutor(logger *slog.Logger) *ToolExecutor {
	return &ToolExecutor{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. Registering a duplicate name panics; that is a
// programming error, not a runtime condition.
func (e *ToolExecutor) Register(t *Tool) {
	if _, exists := e.tools[t.Name]; exists {
		panic(fmt.Sprintf("tool %q registered twice", t.Name))
	}
	e.tools[t.Name] = t
}

// Definitions returns the tool catalogue in API format, sorted by name.
func (e *ToolExecutor) Definitions() []ToolDefinition {
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		t := e.tools[name]
		params := t.Parameters
		if params == nil {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		defs = append(defs, ToolDefinition{
			Type: "function",
			Function: FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return defs
}

// Execute runs one tool call and returns the result text. Errors, including
// unknown tools and bad arguments, come back as "Error: ..." text.
func (e *ToolExecutor) Execute(ctx context.Context, call ToolCall) string {
	tool, ok := e.tools[call.Function.Name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", call.Function.Name)
	}

	args, err := parseToolArgs(call.Function.Arguments)
	if err != nil {
		return fmt.Sprintf("Error: invalid arguments: %v", err)
	}

	start := time.Now()
	result, err := tool.Run(ctx, args)
	duration := time.Since(start)
	if err != nil {
		e.logger.Warn("tool failed",
			"tool", call.Function.Name,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return fmt.Sprintf("Error: %v", err)
	}

	e.logger.Debug("tool executed",
		"tool", call.Function.Name,
		"duration_ms", duration.Milliseconds(),
		"result_chars", len(result),
	)
	if result == "" {
		result = "(no output)"
	}
	if len(result) > maxToolResultChars {
		result = result[:maxToolResultChars] + "\n... (result truncated)"
	}
	return result
}

// parseToolArgs decodes the JSON arguments string. Empty means no args.
func parseToolArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// ---------- Argument Helpers ----------

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func requiredStringArg(args map[string]any, key string) (string, error) {
	v := stringArg(args, key)
	if v == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return v, nil
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

// ---------- Chat Context ----------

type chatIDKey struct{}

// WithChatID tags a context with the chat a tool call belongs to.
func WithChatID(ctx context.Context, chatID int64) context.Context {
	return context.WithValue(ctx, chatIDKey{}, chatID)
}

// ChatIDFrom extracts the chat ID set by WithChatID.
func ChatIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(chatIDKey{}).(int64)
	return id, ok
}
