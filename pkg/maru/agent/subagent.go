// Package agent – subagent.go implements background sub-agents. A sub-agent
// gets its own short conversation with full tool access, works on one task,
// and reports its result back to the parent chat. Concurrency is bounded so
// a burst of spawns cannot exhaust the API.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentSubAgents bounds parallel sub-agent work.
const maxConcurrentSubAgents = 4

// SubAgentStatus is the lifecycle state of a sub-agent.
type SubAgentStatus string

const (
	SubAgentRunning   SubAgentStatus = "running"
	SubAgentDone      SubAgentStatus = "done"
	SubAgentFailed    SubAgentStatus = "failed"
	SubAgentCancelled SubAgentStatus = "cancelled"
)

// SubAgent is one background task.
type SubAgent struct {
	ID         string
	ChatID     int64
	Task       string
	Status     SubAgentStatus
	Result     string
	StartedAt  time.Time
	FinishedAt time.Time

	cancel context.CancelFunc
}

// SubAgentManager spawns and tracks sub-agents.
type SubAgentManager struct {
	llm      *LLMClient
	executor *ToolExecutor
	send     SendFunc

	mu     sync.Mutex
	agents map[string]*SubAgent
	group  *errgroup.Group

	baseCtx context.Context
	logger  *slog.Logger
}

// NewSubAgentManager creates the manager. baseCtx bounds the lifetime of
// all sub-agents.
func NewSubAgentManager(baseCtx context.Context, llm *LLMClient, executor *ToolExecutor, send SendFunc, logger *slog.Logger) *SubAgentManager {
	group := &errgroup.Group{}
	group.SetLimit(maxConcurrentSubAgents)
	return &SubAgentManager{
		llm:      llm,
		executor: executor,
		send:     send,
		agents:   make(map[string]*SubAgent),
		group:    group,
		baseCtx:  baseCtx,
		logger:   logger.With("component", "subagent"),
	}
}

// Spawn starts a sub-agent for the task. Returns immediately with its id.
func (m *SubAgentManager) Spawn(chatID int64, task string) (*SubAgent, error) {
	if task == "" {
		return nil, fmt.Errorf("task is empty")
	}

	ctx, cancel := context.WithTimeout(m.baseCtx, 10*time.Minute)
	sub := &SubAgent{
		ID:        uuid.NewString()[:8],
		ChatID:    chatID,
		Task:      task,
		Status:    SubAgentRunning,
		StartedAt: time.Now(),
		cancel:    cancel,
	}

	m.mu.Lock()
	m.agents[sub.ID] = sub
	m.mu.Unlock()

	m.group.Go(func() error {
		defer cancel()
		m.run(ctx, sub)
		return nil
	})
	m.logger.Info("sub-agent spawned", "id", sub.ID, "chat_id", chatID)
	return sub, nil
}

// run drives the sub-agent's own tool loop and delivers the result.
func (m *SubAgentManager) run(ctx context.Context, sub *SubAgent) {
	result, err := m.work(ctx, sub)

	m.mu.Lock()
	sub.FinishedAt = time.Now()
	switch {
	case ctx.Err() != nil && sub.Status == SubAgentCancelled:
		// Cancel already recorded the status.
	case err != nil:
		sub.Status = SubAgentFailed
		sub.Result = err.Error()
	default:
		sub.Status = SubAgentDone
		sub.Result = result
	}
	status, text := sub.Status, sub.Result
	m.mu.Unlock()

	if status == SubAgentCancelled {
		return
	}

	header := fmt.Sprintf("Background task %s finished", sub.ID)
	if status == SubAgentFailed {
		header = fmt.Sprintf("Background task %s failed", sub.ID)
	}
	sendCtx, cancel := context.WithTimeout(m.baseCtx, 30*time.Second)
	defer cancel()
	if err := m.send(sendCtx, sub.ChatID, header+"\n\n"+text); err != nil {
		m.logger.Warn("sub-agent result send failed", "id", sub.ID, "error", err)
	}
}

// work runs the bounded tool loop for one task.
func (m *SubAgentManager) work(ctx context.Context, sub *SubAgent) (string, error) {
	ctx = WithChatID(ctx, sub.ChatID)
	history := []Message{
		{Role: "system", Content: "You are a background worker for a personal assistant. Complete the task using your tools, then reply with a concise result. Do not ask questions; make reasonable assumptions."},
		{Role: "user", Content: sub.Task},
	}

	for i := 0; i < MaxToolIterations; i++ {
		resp, err := m.llm.Complete(ctx, CompletionRequest{
			Messages: history,
			Tools:    m.executor.Definitions(),
		})
		if err != nil {
			return "", err
		}

		history = append(history, Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}
		for _, call := range resp.ToolCalls {
			result := m.executor.Execute(ctx, call)
			history = append(history, Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}
	return "", fmt.Errorf("tool iteration limit reached")
}

// List returns the chat's sub-agents, newest first.
func (m *SubAgentManager) List(chatID int64) []*SubAgent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SubAgent
	for _, sub := range m.agents {
		if sub.ChatID == chatID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel stops a running sub-agent.
func (m *SubAgentManager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("no sub-agent %s", id)
	}
	if sub.Status != SubAgentRunning {
		return fmt.Errorf("sub-agent %s already %s", id, sub.Status)
	}
	sub.Status = SubAgentCancelled
	sub.Result = "cancelled"
	sub.FinishedAt = time.Now()
	sub.cancel()
	return nil
}
