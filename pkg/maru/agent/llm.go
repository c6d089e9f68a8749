// Package agent – llm.go implements the LLM client for chat completions
// with tool use and streaming. Uses the OpenAI-compatible API format, which
// works with OpenAI, Anthropic proxies, and any compatible endpoint.
// Transient failures (network errors, 5xx, 429) are retried with
// exponential backoff; other 4xx responses are terminal.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultAPITimeout bounds a single completion attempt.
	DefaultAPITimeout = 120 * time.Second

	// MaxRetries is the retry budget for transient failures.
	MaxRetries = 3

	initialRetryDelay = 500 * time.Millisecond
	backoffMultiplier = 2
	maxRetryDelay     = 8 * time.Second
)

// ---------- Message Types ----------

// Message is one conversation entry in OpenAI chat format. The same shape
// is used in memory, on the wire, and in the persisted JSONL log.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

// ToolDefinition is an OpenAI-compatible tool definition.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function exposed to the LLM.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a tool invocation requested by the LLM.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and serialized arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// LLMUsage holds token usage reported by the API.
type LLMUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is the parsed outcome of a completion.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        LLMUsage
}

// StreamCallback receives text deltas as they arrive, along with the
// accumulated text so far. Tool call deltas are not forwarded.
type StreamCallback func(delta, accumulated string)

// ---------- Wire Types ----------

type chatRequest struct {
	Model         string           `json:"model"`
	Messages      []wireMessage    `json:"messages"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
	StreamOptions *streamOptions   `json:"stream_options,omitempty"`
}

// wireMessage strips local-only fields (timestamps) from Message.
type wireMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage LLMUsage  `json:"usage"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// streamChunk is one SSE data event of a streamed completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *LLMUsage `json:"usage"`
	Error *apiError `json:"error"`
}

// ---------- Client ----------

// LLMClient talks to the LLM provider.
type LLMClient struct {
	baseURL    string
	apiKey     string
	model      string
	smallModel string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLLMClient creates a client from config.
func NewLLMClient(cfg *Config, logger *slog.Logger) *LLMClient {
	baseURL := cfg.API.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &LLMClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.API.APIKey,
		model:      cfg.Model,
		smallModel: cfg.SmallModel,
		httpClient: &http.Client{Timeout: DefaultAPITimeout},
		logger:     logger.With("component", "llm"),
	}
}

// Model returns the default model identifier.
func (c *LLMClient) Model() string { return c.model }

// SmallModel returns the model used for cheap calls (summaries, heartbeats).
func (c *LLMClient) SmallModel() string {
	if c.smallModel != "" {
		return c.smallModel
	}
	return c.model
}

// CompletionRequest describes one completion call.
type CompletionRequest struct {
	// Model overrides the client default when non-empty.
	Model string

	// Messages is the full prompt, system message included.
	Messages []Message

	// Tools is the tool catalogue, nil for plain completions.
	Tools []ToolDefinition

	// Stream, when non-nil, switches to SSE streaming and receives text
	// deltas as they arrive.
	Stream StreamCallback
}

// Complete runs a chat completion with retries. Transient errors (network,
// 5xx, 429) retry with exponential backoff up to MaxRetries; other 4xx
// errors return immediately.
func (c *LLMClient) Complete(ctx context.Context, req CompletionRequest) (*LLMResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key not configured. Run 'maru config set-key' or set MARU_API_KEY")
	}

	delay := initialRetryDelay
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying LLM call",
				"attempt", attempt,
				"delay", delay.String(),
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= backoffMultiplier
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}

		resp, err := c.doComplete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var terminal *terminalError
		if errors.As(err, &terminal) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("LLM call failed after %d retries: %w", MaxRetries, lastErr)
}

// terminalError marks failures that must not be retried.
type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// doComplete performs one attempt.
func (c *LLMClient) doComplete(ctx context.Context, req CompletionRequest) (*LLMResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	wire := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		wire[i] = wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
	}

	body := chatRequest{
		Model:    model,
		Messages: wire,
		Tools:    req.Tools,
	}
	if req.Stream != nil {
		body.Stream = true
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &terminalError{fmt.Errorf("marshaling request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &terminalError{fmt.Errorf("creating request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending chat completion",
		"model", model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"stream", req.Stream != nil,
	)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		err := fmt.Errorf("API returned %d: %s", httpResp.StatusCode, truncateForLog(string(raw), 500))
		// 429 and 5xx are transient; everything else in 4xx is terminal.
		if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 &&
			httpResp.StatusCode != http.StatusTooManyRequests {
			return nil, &terminalError{err}
		}
		return nil, err
	}

	var resp *LLMResponse
	if req.Stream != nil {
		resp, err = c.readStream(httpResp.Body, req.Stream)
	} else {
		resp, err = c.readResponse(httpResp.Body)
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("chat completion done",
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.FinishReason,
		"tool_calls", len(resp.ToolCalls),
	)
	return resp, nil
}

// readResponse parses a non-streaming completion body.
func (c *LLMClient) readResponse(body io.Reader) (*LLMResponse, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if parsed.Error != nil {
		return nil, &terminalError{fmt.Errorf("API error: %s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	choice := parsed.Choices[0]
	return &LLMResponse{
		Content:      strings.TrimSpace(choice.Message.Content),
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage:        parsed.Usage,
	}, nil
}

// readStream consumes an SSE stream, forwarding text deltas to the callback
// and assembling tool call fragments by index.
func (c *LLMClient) readStream(body io.Reader, callback StreamCallback) (*LLMResponse, error) {
	var (
		content      strings.Builder
		finishReason string
		usage        LLMUsage
		toolCalls    = make(map[int]*ToolCall)
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("parsing stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return nil, &terminalError{fmt.Errorf("API error: %s", chunk.Error.Message)}
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			callback(choice.Delta.Content, content.String())
		}
		for _, tc := range choice.Delta.ToolCalls {
			call, ok := toolCalls[tc.Index]
			if !ok {
				call = &ToolCall{Type: "function"}
				toolCalls[tc.Index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	indexes := make([]int, 0, len(toolCalls))
	for i := range toolCalls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	calls := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		calls = append(calls, *toolCalls[i])
	}

	return &LLMResponse{
		Content:      strings.TrimSpace(content.String()),
		ToolCalls:    calls,
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
