package agent

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/marubot/maru/pkg/maru/sandbox"
)

func TestFileToolsDenyPathsOutsideSandbox(t *testing.T) {
	e := NewToolExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)))
	policy := sandbox.NewPathPolicy([]string{t.TempDir()})
	RegisterSystemTools(e, policy, nil, nil, nil)

	calls := []ToolCall{
		{ID: "c1", Type: "function", Function: FunctionCall{Name: "read_file", Arguments: `{"path": "/etc/shadow"}`}},
		{ID: "c2", Type: "function", Function: FunctionCall{Name: "write_file", Arguments: `{"path": "/etc/evil", "content": "x"}`}},
		{ID: "c3", Type: "function", Function: FunctionCall{Name: "list_directory", Arguments: `{"path": "/root"}`}},
	}
	for _, call := range calls {
		result := e.Execute(context.Background(), call)
		if !strings.Contains(result, "Access denied") {
			t.Errorf("%s result = %q, want Access denied", call.Function.Name, result)
		}
	}
}
