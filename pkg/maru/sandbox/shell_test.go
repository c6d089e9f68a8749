package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestRunner(t *testing.T, allowed string) *Runner {
	t.Helper()
	policy := NewPathPolicy([]string{allowed})
	return NewRunner(policy, true, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	runner := newTestRunner(t, dir)

	out, err := runner.Run(context.Background(), "echo hello", dir, 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("output = %q", out)
	}
}

func TestRunDeniesDisallowedWorkingDirectory(t *testing.T) {
	runner := NewRunner(&PathPolicy{roots: []string{"/nonexistent-root"}}, true, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := runner.Run(context.Background(), "echo hi", "/etc", time.Second)
	if err == nil {
		t.Fatal("disallowed working directory accepted")
	}
	if !strings.Contains(err.Error(), "Access denied") {
		t.Errorf("error = %v", err)
	}
}

func TestRunTimesOut(t *testing.T) {
	dir := t.TempDir()
	runner := newTestRunner(t, dir)

	start := time.Now()
	_, err := runner.Run(context.Background(), "sleep 10", dir, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestSpawnAndSessionLifecycle(t *testing.T) {
	dir := t.TempDir()
	runner := newTestRunner(t, dir)

	sess, err := runner.Spawn("echo line1; echo line2", dir)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := runner.Get(sess.ID); got.Status != SessionRunning {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	got, ok := runner.Get(sess.ID)
	if !ok {
		t.Fatal("session not found")
	}
	if got.Status != SessionCompleted {
		t.Errorf("Status = %s", got.Status)
	}
	out := got.Output()
	if len(out) != 2 || out[0] != "line1" || out[1] != "line2" {
		t.Errorf("Output = %v", out)
	}
}

func TestSessionRingBufferWraps(t *testing.T) {
	s := &Session{}
	for i := 0; i < 7; i++ {
		s.appendLine(fmt.Sprintf("line%d", i), 5)
	}
	out := s.Output()
	if len(out) != 5 {
		t.Fatalf("Output = %d lines, want 5", len(out))
	}
	if out[0] != "line2" || out[4] != "line6" {
		t.Errorf("Output = %v", out)
	}
}

func TestTruncateOutputKeepsTail(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "line%d\n", i)
	}

	out := truncateOutput(b.String(), 5)
	if !strings.Contains(out, "line19") {
		t.Errorf("tail missing: %q", out)
	}
	if strings.Contains(out, "line3\n") {
		t.Errorf("head kept: %q", out)
	}
	if !strings.Contains(out, "truncated") {
		t.Error("truncation marker missing")
	}

	short := "a\nb\n"
	if got := truncateOutput(short, 5); got != short {
		t.Errorf("short output changed: %q", got)
	}
}

func TestFilterEnvStripsSecrets(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		"HOME=/home/user",
		"MARU_API_KEY=secret",
		"OPENAI_API_KEY=secret",
		"TELEGRAM_TOKEN=secret",
		"MY_SERVICE_API_KEY=secret",
		"DB_PASSWORD=secret",
		"LD_PRELOAD=evil.so",
		"LANG=en_US.UTF-8",
	}

	filtered := filterEnv(env)
	joined := strings.Join(filtered, "\n")
	for _, kept := range []string{"PATH=", "HOME=", "LANG="} {
		if !strings.Contains(joined, kept) {
			t.Errorf("benign variable %s stripped", kept)
		}
	}
	if strings.Contains(joined, "secret") || strings.Contains(joined, "evil.so") {
		t.Errorf("secret leaked: %v", filtered)
	}
}
