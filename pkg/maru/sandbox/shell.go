// Package sandbox – shell.go implements shell command execution for the
// run_command tool: foreground runs with a timeout, and detached background
// sessions supervised with a bounded ring buffer of output lines.
// Sensitive environment variables are stripped from every child process.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultForegroundTimeout bounds a foreground command.
	DefaultForegroundTimeout = 30 * time.Second

	// DefaultMaxOutputLines bounds a background session's ring buffer.
	DefaultMaxOutputLines = 1000

	// DefaultSessionTTL is how long a finished session is kept before reaping.
	DefaultSessionTTL = time.Hour
)

// blockedEnvPrefixes are env var name prefixes never passed to children.
var blockedEnvPrefixes = []string{
	"MARU_",
	"OPENAI_",
	"ANTHROPIC_",
	"AWS_",
	"GOOGLE_",
	"TELEGRAM_",
	"LD_",
	"DYLD_",
}

// blockedEnvSuffixes catch provider keys regardless of prefix.
var blockedEnvSuffixes = []string{
	"_API_KEY",
	"_TOKEN",
	"_SECRET",
	"_PASSWORD",
}

// SessionStatus is the lifecycle state of a background session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionKilled    SessionStatus = "killed"
	SessionError     SessionStatus = "error"
)

// Session supervises a single background shell process.
type Session struct {
	ID        string
	PID       int
	Command   string
	Dir       string
	StartTime time.Time
	EndTime   time.Time
	ExitCode  int
	Status    SessionStatus

	// lines is the bounded ring buffer of combined stdout/stderr lines.
	lines []string
	// next is the ring write position once the buffer wrapped.
	next    int
	wrapped bool

	cmd *exec.Cmd
	mu  sync.Mutex
}

// appendLine writes one output line into the ring buffer.
func (s *Session) appendLine(line string, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) < max {
		s.lines = append(s.lines, line)
		return
	}
	s.lines[s.next] = line
	s.next = (s.next + 1) % max
	s.wrapped = true
}

// Output returns the buffered output lines in order.
func (s *Session) Output() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wrapped {
		out := make([]string, len(s.lines))
		copy(out, s.lines)
		return out
	}
	out := make([]string, 0, len(s.lines))
	out = append(out, s.lines[s.next:]...)
	out = append(out, s.lines[:s.next]...)
	return out
}

// Runner executes shell commands and supervises background sessions.
type Runner struct {
	// policy guards the working directory of every command.
	policy *PathPolicy

	// permissive switches foreground runs to `sh -c` instead of direct exec.
	permissive bool

	maxOutputLines int
	sessionTTL     time.Duration

	sessions map[string]*Session
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRunner creates a shell runner bound to a path policy.
func NewRunner(policy *PathPolicy, permissive bool, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		policy:         policy,
		permissive:     permissive,
		maxOutputLines: DefaultMaxOutputLines,
		sessionTTL:     DefaultSessionTTL,
		sessions:       make(map[string]*Session),
		logger:         logger.With("component", "shell"),
	}
}

// Run executes a command in the foreground and returns its combined output.
// The context bounds the run; on timeout the process group is killed.
func (r *Runner) Run(ctx context.Context, command, dir string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultForegroundTimeout
	}
	cmd, err := r.buildCommand(command, dir)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	var output []byte
	var runErr error
	go func() {
		output, runErr = cmd.CombinedOutput()
		close(done)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		if cmd.Process != nil {
			killProcessGroup(cmd.Process.Pid, true)
		}
		<-done
		return truncateOutput(string(output), r.maxOutputLines),
			fmt.Errorf("command timed out after %s", timeout)
	}

	text := truncateOutput(string(output), r.maxOutputLines)
	if runErr != nil {
		return text, fmt.Errorf("command failed: %w", runErr)
	}
	return text, nil
}

// Spawn starts a command as a detached background session and returns its ID.
func (r *Runner) Spawn(command, dir string) (*Session, error) {
	cmd, err := r.buildCommand(command, dir)
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting command: %w", err)
	}

	session := &Session{
		ID:        uuid.NewString()[:8],
		PID:       cmd.Process.Pid,
		Command:   command,
		Dir:       cmd.Dir,
		StartTime: time.Now(),
		Status:    SessionRunning,
		cmd:       cmd,
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	go r.supervise(session, stdout)

	r.logger.Info("background session started",
		"session_id", session.ID,
		"pid", session.PID,
		"command", command,
	)
	return session, nil
}

// Get returns a session by ID.
func (r *Runner) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all known sessions, running and finished.
func (r *Runner) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Kill sends SIGTERM to the session's process group. With force, SIGKILL.
func (r *Runner) Kill(id string, force bool) error {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %q not found", id)
	}

	session.mu.Lock()
	running := session.Status == SessionRunning
	pid := session.PID
	session.mu.Unlock()
	if !running {
		return fmt.Errorf("session %q is not running", id)
	}

	if err := killProcessGroup(pid, force); err != nil {
		return fmt.Errorf("killing session %q: %w", id, err)
	}

	session.mu.Lock()
	session.Status = SessionKilled
	session.mu.Unlock()

	r.logger.Info("background session killed", "session_id", id, "force", force)
	return nil
}

// Reap removes finished sessions older than the TTL.
func (r *Runner) Reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	cutoff := time.Now().Add(-r.sessionTTL)
	for id, s := range r.sessions {
		s.mu.Lock()
		done := s.Status != SessionRunning && !s.EndTime.IsZero() && s.EndTime.Before(cutoff)
		s.mu.Unlock()
		if done {
			delete(r.sessions, id)
			reaped++
		}
	}
	return reaped
}

// ---------- Internal ----------

// buildCommand prepares an exec.Cmd with filtered environment, sandboxed
// working directory, and its own process group.
func (r *Runner) buildCommand(command, dir string) (*exec.Cmd, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	if dir == "" {
		dir, _ = os.UserHomeDir()
	}
	dir = ExpandHome(dir)
	if r.policy != nil && !r.policy.IsAllowed(dir) {
		return nil, fmt.Errorf("Access denied: working directory %q is outside the allowed paths", dir)
	}

	var cmd *exec.Cmd
	if r.permissive {
		cmd = exec.Command("sh", "-c", command)
	} else {
		fields := strings.Fields(command)
		cmd = exec.Command(fields[0], fields[1:]...)
	}
	cmd.Dir = dir
	cmd.Env = filterEnv(os.Environ())
	setProcessGroup(cmd)
	return cmd, nil
}

// supervise reads session output into the ring buffer until the process exits.
func (r *Runner) supervise(session *Session, stdout interface{ Read([]byte) (int, error) }) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				idx := bytes.IndexByte(buf, '\n')
				if idx < 0 {
					break
				}
				session.appendLine(string(buf[:idx]), r.maxOutputLines)
				buf = buf[idx+1:]
			}
		}
		if err != nil {
			break
		}
	}
	if len(buf) > 0 {
		session.appendLine(string(buf), r.maxOutputLines)
	}

	err := session.cmd.Wait()

	session.mu.Lock()
	session.EndTime = time.Now()
	if session.Status == SessionRunning {
		if err != nil {
			session.Status = SessionError
			if exitErr, ok := err.(*exec.ExitError); ok {
				session.ExitCode = exitErr.ExitCode()
				session.Status = SessionCompleted
			}
		} else {
			session.Status = SessionCompleted
		}
	}
	status := session.Status
	code := session.ExitCode
	session.mu.Unlock()

	r.logger.Info("background session finished",
		"session_id", session.ID,
		"status", string(status),
		"exit_code", code,
	)
}

// filterEnv strips sensitive variables from the child environment.
func filterEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if blockedEnvName(name) {
			continue
		}
		filtered = append(filtered, kv)
	}
	return filtered
}

// blockedEnvName reports whether an env var must be stripped.
func blockedEnvName(name string) bool {
	for _, prefix := range blockedEnvPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, suffix := range blockedEnvSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// truncateOutput keeps the last maxLines lines of text.
func truncateOutput(text string, maxLines int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text
	}
	kept := lines[len(lines)-maxLines:]
	return fmt.Sprintf("[... %d lines truncated ...]\n%s",
		len(lines)-maxLines, strings.Join(kept, "\n"))
}
