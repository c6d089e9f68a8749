// Package agent – system_tools.go registers filesystem and shell tools.
// Every path goes through the sandbox policy and every command through the
// shell runner; denials come back as in-band errors the model can read.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/marubot/maru/pkg/maru/sandbox"
)

// maxFileReadBytes caps read_file so a huge file cannot flood the context.
const maxFileReadBytes = 100 * 1024

// RegisterSystemTools adds file, shell and model tools to the executor.
func RegisterSystemTools(e *ToolExecutor, policy *sandbox.PathPolicy, runner *sandbox.Runner, sessions *SessionStore, llm *LLMClient) {
	e.Register(&Tool{
		Name:        "read_file",
		Description: "Read a text file from an allowed directory.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path, ~ allowed"}
			},
			"required": ["path"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			path, err := requiredStringArg(args, "path")
			if err != nil {
				return "", err
			}
			path = sandbox.ExpandHome(path)
			if !policy.IsAllowed(path) {
				return "", fmt.Errorf("Access denied: %s is outside the allowed directories", path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			if len(data) > maxFileReadBytes {
				return string(data[:maxFileReadBytes]) + "\n... (file truncated)", nil
			}
			return string(data), nil
		},
	})

	e.Register(&Tool{
		Name:        "write_file",
		Description: "Write content to a file in an allowed directory, creating parent directories as needed.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"},
				"append": {"type": "boolean", "description": "Append instead of overwrite"}
			},
			"required": ["path", "content"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			path, err := requiredStringArg(args, "path")
			if err != nil {
				return "", err
			}
			content := stringArg(args, "content")
			path = sandbox.ExpandHome(path)
			if !policy.IsAllowed(path) {
				return "", fmt.Errorf("Access denied: %s is outside the allowed directories", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", err
			}
			if boolArg(args, "append") {
				f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return "", err
				}
				defer f.Close()
				if _, err := f.WriteString(content); err != nil {
					return "", err
				}
			} else if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	})

	e.Register(&Tool{
		Name:        "edit_file",
		Description: "Replace an exact text snippet in a file. The snippet must appear exactly once.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"old_text": {"type": "string"},
				"new_text": {"type": "string"}
			},
			"required": ["path", "old_text", "new_text"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			path, err := requiredStringArg(args, "path")
			if err != nil {
				return "", err
			}
			oldText, err := requiredStringArg(args, "old_text")
			if err != nil {
				return "", err
			}
			newText := stringArg(args, "new_text")

			path = sandbox.ExpandHome(path)
			if !policy.IsAllowed(path) {
				return "", fmt.Errorf("Access denied: %s is outside the allowed directories", path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			content := string(data)
			switch n := strings.Count(content, oldText); {
			case n == 0:
				return "", fmt.Errorf("snippet not found in %s", path)
			case n > 1:
				return "", fmt.Errorf("snippet appears %d times in %s; provide more context to make it unique", n, path)
			}
			updated := strings.Replace(content, oldText, newText, 1)
			if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
				return "", err
			}
			return fmt.Sprintf("Edited %s", path), nil
		},
	})

	e.Register(&Tool{
		Name:        "list_directory",
		Description: "List the entries of a directory in an allowed path.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"}
			},
			"required": ["path"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			path, err := requiredStringArg(args, "path")
			if err != nil {
				return "", err
			}
			path = sandbox.ExpandHome(path)
			if !policy.IsAllowed(path) {
				return "", fmt.Errorf("Access denied: %s is outside the allowed directories", path)
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return "", err
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

			var b strings.Builder
			for _, entry := range entries {
				if entry.IsDir() {
					fmt.Fprintf(&b, "%s/\n", entry.Name())
					continue
				}
				info, err := entry.Info()
				if err != nil {
					fmt.Fprintf(&b, "%s\n", entry.Name())
					continue
				}
				fmt.Fprintf(&b, "%s (%d bytes)\n", entry.Name(), info.Size())
			}
			if b.Len() == 0 {
				return "(empty directory)", nil
			}
			return b.String(), nil
		},
	})

	e.Register(&Tool{
		Name:        "run_command",
		Description: "Run a shell command in an allowed directory. Set background=true for long-running commands; they return a session id for get_session_log.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string"},
				"dir": {"type": "string", "description": "Working directory, defaults to home"},
				"background": {"type": "boolean"},
				"timeout_seconds": {"type": "integer", "description": "Foreground timeout, default 30, max 300"}
			},
			"required": ["command"]
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			command, err := requiredStringArg(args, "command")
			if err != nil {
				return "", err
			}
			dir := sandbox.ExpandHome(stringArg(args, "dir"))

			if boolArg(args, "background") {
				sess, err := runner.Spawn(command, dir)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Started background session %s (pid %d)", sess.ID, sess.PID), nil
			}

			timeout := time.Duration(intArg(args, "timeout_seconds", 30)) * time.Second
			if timeout <= 0 || timeout > 5*time.Minute {
				timeout = 5 * time.Minute
			}
			return runner.Run(ctx, command, dir, timeout)
		},
	})

	e.Register(&Tool{
		Name:        "list_sessions",
		Description: "List background shell sessions and their status.",
		Run: func(context.Context, map[string]any) (string, error) {
			sessions := runner.List()
			if len(sessions) == 0 {
				return "No background sessions.", nil
			}
			var b strings.Builder
			for _, s := range sessions {
				fmt.Fprintf(&b, "%s [%s] pid=%d started=%s  %s\n",
					s.ID, s.Status, s.PID, s.StartTime.Format("15:04:05"), s.Command)
			}
			return b.String(), nil
		},
	})

	e.Register(&Tool{
		Name:        "get_session_log",
		Description: "Read the buffered output of a background session.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"tail": {"type": "integer", "description": "Only the last N lines"}
			},
			"required": ["session_id"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			id, err := requiredStringArg(args, "session_id")
			if err != nil {
				return "", err
			}
			sess, ok := runner.Get(id)
			if !ok {
				return "", fmt.Errorf("no session %s", id)
			}
			lines := sess.Output()
			if tail := intArg(args, "tail", 0); tail > 0 && tail < len(lines) {
				lines = lines[len(lines)-tail:]
			}
			header := fmt.Sprintf("Session %s [%s]\n", sess.ID, sess.Status)
			if len(lines) == 0 {
				return header + "(no output yet)", nil
			}
			return header + strings.Join(lines, "\n"), nil
		},
	})

	e.Register(&Tool{
		Name:        "kill_session",
		Description: "Terminate a background shell session.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"force": {"type": "boolean", "description": "SIGKILL instead of SIGTERM"}
			},
			"required": ["session_id"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			id, err := requiredStringArg(args, "session_id")
			if err != nil {
				return "", err
			}
			if err := runner.Kill(id, boolArg(args, "force")); err != nil {
				return "", err
			}
			return fmt.Sprintf("Session %s terminated", id), nil
		},
	})

	e.Register(&Tool{
		Name:        "change_model",
		Description: "Switch the model used for this chat. Empty model restores the default.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"model": {"type": "string"}
			}
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			chatID, ok := ChatIDFrom(ctx)
			if !ok {
				return "", fmt.Errorf("no chat bound to this call")
			}
			model := stringArg(args, "model")
			if err := sessions.SetModel(chatID, model); err != nil {
				return "", err
			}
			if model == "" {
				return fmt.Sprintf("Model reset to default (%s)", llm.Model()), nil
			}
			return fmt.Sprintf("Model for this chat set to %s", model), nil
		},
	})
}
