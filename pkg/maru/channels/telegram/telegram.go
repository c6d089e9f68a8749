// Package telegram implements the Maru channel for the Telegram Bot API
// directly via HTTP, with no external dependencies.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - Send/edit/delete text messages
//   - Typing indicators (sendChatAction)
//   - Photo download via getFile, capped in size
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/marubot/maru/pkg/maru/channels"
)

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Telegram Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// PollTimeoutSeconds is the long-poll timeout passed to getUpdates.
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds"`

	// MaxImageBytes caps downloaded photo size. Default: 10 MiB.
	MaxImageBytes int64 `yaml:"max_image_bytes"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollTimeoutSeconds: 30,
		MaxImageBytes:      10 << 20,
	}
}

// Telegram implements channels.Channel over the Bot API.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is https://api.telegram.org/bot<token>.
	baseURL string

	// fileURL is https://api.telegram.org/file/bot<token>.
	fileURL string

	// messages carries inbound events to the runtime.
	messages chan *channels.IncomingMessage

	connected atomic.Bool

	// offset is the last processed update ID + 1.
	offset int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Telegram channel instance.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollTimeoutSeconds <= 0 {
		cfg.PollTimeoutSeconds = 30
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 10 << 20
	}
	return &Telegram{
		cfg:      cfg,
		logger:   logger.With("component", "telegram"),
		client:   &http.Client{Timeout: time.Duration(cfg.PollTimeoutSeconds+15) * time.Second},
		baseURL:  "https://api.telegram.org/bot" + cfg.Token,
		fileURL:  "https://api.telegram.org/file/bot" + cfg.Token,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token and starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if t.connected.Load() {
		return nil
	}

	t.ctx, t.cancel = context.WithCancel(ctx)

	me, err := t.getMe()
	if err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	t.logger.Info("telegram: connected", "bot", me.Username, "id", me.ID)
	t.connected.Store(true)

	go t.pollLoop()
	return nil
}

// Disconnect stops the polling loop.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// SendMessage sends text to a chat and returns the message ID.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	if !t.connected.Load() {
		return 0, channels.ErrChannelDisconnected
	}
	var lastID int64
	for _, chunk := range channels.SplitMessage(text, channels.DefaultMaxMessageLength) {
		result, err := t.apiCall(ctx, "sendMessage", map[string]any{
			"chat_id": chatID,
			"text":    chunk,
		})
		if err != nil {
			return 0, err
		}
		var sent struct {
			MessageID int64 `json:"message_id"`
		}
		if err := json.Unmarshal(result, &sent); err != nil {
			return 0, fmt.Errorf("telegram: parsing sendMessage result: %w", err)
		}
		lastID = sent.MessageID
	}
	return lastID, nil
}

// EditMessage replaces the text of a previously sent message.
func (t *Telegram) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	text = channels.Truncate(text, channels.DefaultMaxMessageLength)
	_, err := t.apiCall(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	})
	return err
}

// DeleteMessage removes a previously sent message.
func (t *Telegram) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	_, err := t.apiCall(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

// SendTyping sends a "typing..." chat action.
func (t *Telegram) SendTyping(ctx context.Context, chatID int64) error {
	if !t.connected.Load() {
		return nil
	}
	_, err := t.apiCall(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
	return err
}

// DownloadFile fetches a file's bytes via getFile, enforcing the size cap.
func (t *Telegram) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	result, err := t.apiCall(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, fmt.Errorf("telegram: getFile failed: %w", err)
	}
	var info struct {
		FilePath string `json:"file_path"`
		FileSize int64  `json:"file_size"`
	}
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("telegram: parsing getFile result: %w", err)
	}
	if info.FileSize > t.cfg.MaxImageBytes {
		return nil, channels.ErrFileTooLarge
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.fileURL+"/"+info.FilePath, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: creating download request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("telegram: reading file: %w", err)
	}
	if int64(len(data)) > t.cfg.MaxImageBytes {
		return nil, channels.ErrFileTooLarge
	}
	return data, nil
}

// Receive returns the incoming messages channel.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage {
	return t.messages
}

// ---------- Wire Types ----------

type botUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      *struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Date    int64  `json:"date"`
		Text    string `json:"text"`
		Caption string `json:"caption"`
		Photo   []struct {
			FileID   string `json:"file_id"`
			FileSize int64  `json:"file_size"`
		} `json:"photo"`
	} `json:"message"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// ---------- Internal ----------

// getMe verifies the bot token.
func (t *Telegram) getMe() (*botUser, error) {
	result, err := t.apiCall(context.Background(), "getMe", nil)
	if err != nil {
		return nil, err
	}
	var me botUser
	if err := json.Unmarshal(result, &me); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &me, nil
}

// pollLoop runs getUpdates long polling until the context is cancelled.
func (t *Telegram) pollLoop() {
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		result, err := t.apiCall(t.ctx, "getUpdates", map[string]any{
			"offset":          t.offset,
			"timeout":         t.cfg.PollTimeoutSeconds,
			"allowed_updates": []string{"message"},
		})
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.logger.Warn("telegram: getUpdates failed, backing off", "error", err)
			select {
			case <-time.After(3 * time.Second):
			case <-t.ctx.Done():
				return
			}
			continue
		}

		var updates []update
		if err := json.Unmarshal(result, &updates); err != nil {
			t.logger.Warn("telegram: parsing updates failed", "error", err)
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.dispatch(u)
		}
	}
}

// dispatch converts a Bot API update into an IncomingMessage.
func (t *Telegram) dispatch(u update) {
	m := u.Message
	if m == nil {
		return
	}

	msg := &channels.IncomingMessage{
		ChatID:    m.Chat.ID,
		Timestamp: time.Unix(m.Date, 0),
	}
	if m.From != nil {
		msg.UserID = m.From.ID
	}

	switch {
	case len(m.Photo) > 0:
		msg.Type = channels.MessageImage
		msg.Caption = m.Caption
		// Telegram lists photo sizes smallest first; take the largest
		// that fits the cap.
		for i := len(m.Photo) - 1; i >= 0; i-- {
			if m.Photo[i].FileSize <= t.cfg.MaxImageBytes {
				msg.FileID = m.Photo[i].FileID
				break
			}
		}
		if msg.FileID == "" {
			t.logger.Warn("telegram: photo exceeds size cap, dropped", "chat_id", m.Chat.ID)
			return
		}
	case m.Text != "":
		msg.Type = channels.MessageText
		msg.Text = m.Text
	default:
		return
	}

	select {
	case t.messages <- msg:
	default:
		t.logger.Warn("telegram: inbound queue full, dropping message", "chat_id", m.Chat.ID)
	}
}

// apiCall posts a JSON payload to a Bot API method and returns the result.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("telegram: marshaling %s payload: %w", method, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, body)
	if err != nil {
		return nil, fmt.Errorf("telegram: creating %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram: reading %s response: %w", method, err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("telegram: parsing %s response: %w", method, err)
	}
	if !apiResp.OK {
		return nil, fmt.Errorf("telegram: %s returned %d: %s", method, apiResp.ErrorCode, apiResp.Description)
	}
	return apiResp.Result, nil
}
