// Package agent – assistant.go wires the channel to the agent. It enforces
// the chat allow-list and rate limit, keeps per-chat ordering, enriches
// messages with fetched URL content, and streams the reply into an edited
// placeholder message.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marubot/maru/pkg/maru/channels"
	"github.com/marubot/maru/pkg/maru/external"
)

const (
	// typingRefreshInterval re-sends the typing indicator, which platforms
	// expire after a few seconds.
	typingRefreshInterval = 4500 * time.Millisecond

	// streamEditInterval throttles placeholder edits while streaming.
	streamEditInterval = 1200 * time.Millisecond

	// maxEnrichedURLs caps URL fetches per inbound message.
	maxEnrichedURLs = 3

	// shutdownGrace is how long in-flight turns get to finish on stop.
	shutdownGrace = 5 * time.Second

	// streamingCursor marks an in-progress streamed reply.
	streamingCursor = " ▌"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// Assistant is the top-level runtime: channel in, agent turns, channel out.
type Assistant struct {
	cfg     *Config
	channel channels.Channel
	agent   *Agent
	fetcher *external.Fetcher
	limiter *RateLimiter

	allowed map[int64]bool

	// queues serializes turns per chat while chats stay concurrent.
	mu     sync.Mutex
	queues map[int64]chan *channels.IncomingMessage

	wg     sync.WaitGroup
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewAssistant wires the runtime.
func NewAssistant(cfg *Config, channel channels.Channel, agent *Agent, fetcher *external.Fetcher, logger *slog.Logger) *Assistant {
	allowed := make(map[int64]bool, len(cfg.Access.AllowedChats))
	for _, id := range cfg.Access.AllowedChats {
		allowed[id] = true
	}
	return &Assistant{
		cfg:     cfg,
		channel: channel,
		agent:   agent,
		fetcher: fetcher,
		limiter: NewRateLimiter(cfg.Access.RateLimit, time.Duration(cfg.Access.RateWindowSeconds)*time.Second),
		allowed: allowed,
		queues:  make(map[int64]chan *channels.IncomingMessage),
		logger:  logger.With("component", "assistant"),
	}
}

// Send delivers text to a chat, splitting long messages.
func (a *Assistant) Send(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range channels.SplitMessage(text, channels.DefaultMaxMessageLength) {
		if _, err := a.channel.SendMessage(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Run connects the channel and processes messages until ctx is cancelled.
func (a *Assistant) Run(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.channel.Connect(ctx); err != nil {
		return fmt.Errorf("connecting channel: %w", err)
	}
	a.logger.Info("assistant running", "channel", a.channel.Name(), "allowed_chats", len(a.allowed))

	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case msg, ok := <-a.channel.Receive():
			if !ok {
				return a.shutdown()
			}
			a.dispatch(ctx, msg)
		}
	}
}

// Stop cancels the run loop.
func (a *Assistant) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

// shutdown disconnects and waits for in-flight turns, bounded by the grace
// period.
func (a *Assistant) shutdown() error {
	a.logger.Info("shutting down", "grace", shutdownGrace.String())
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		a.logger.Warn("shutdown grace expired with turns in flight")
	}
	return a.channel.Disconnect()
}

// dispatch routes a message to its chat's serial queue.
func (a *Assistant) dispatch(ctx context.Context, msg *channels.IncomingMessage) {
	if !a.allowed[msg.ChatID] {
		a.logger.Warn("message from unauthorized chat dropped", "chat_id", msg.ChatID, "user_id", msg.UserID)
		return
	}

	a.mu.Lock()
	queue, ok := a.queues[msg.ChatID]
	if !ok {
		queue = make(chan *channels.IncomingMessage, 16)
		a.queues[msg.ChatID] = queue
		a.wg.Add(1)
		go a.chatWorker(ctx, queue)
	}
	a.mu.Unlock()

	select {
	case queue <- msg:
	default:
		a.logger.Warn("chat queue full, message dropped", "chat_id", msg.ChatID)
	}
}

// chatWorker processes one chat's messages in order.
func (a *Assistant) chatWorker(ctx context.Context, queue <-chan *channels.IncomingMessage) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-queue:
			a.handleMessage(ctx, msg)
		}
	}
}

// handleMessage runs one inbound message end to end.
func (a *Assistant) handleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	text := strings.TrimSpace(msg.Text)
	if msg.Type == channels.MessageImage {
		note := a.imageNote(ctx, msg)
		if caption := strings.TrimSpace(msg.Caption); caption != "" {
			text = caption + "\n\n" + note
		} else {
			text = note
		}
	}
	if text == "" {
		return
	}

	if !a.limiter.Allow(msg.ChatID) {
		a.logger.Warn("rate limited", "chat_id", msg.ChatID)
		if _, err := a.channel.SendMessage(ctx, msg.ChatID, "Slow down a little; try again in a minute."); err != nil {
			a.logger.Warn("rate limit notice failed", "error", err)
		}
		return
	}

	if reply, handled := a.agent.HandleCommand(ctx, msg.ChatID, text); handled {
		if err := a.Send(ctx, msg.ChatID, reply); err != nil {
			a.logger.Warn("command reply failed", "chat_id", msg.ChatID, "error", err)
		}
		return
	}

	stopTyping := a.keepTyping(ctx, msg.ChatID)
	defer stopTyping()

	text = a.enrichURLs(ctx, text)

	streamer := newStreamEditor(a.channel, msg.ChatID, a.logger)
	reply, err := a.agent.RunTurn(ctx, msg.ChatID, text, streamer.onDelta)
	if err != nil {
		a.logger.Error("turn failed", "chat_id", msg.ChatID, "error", err)
		streamer.discard(ctx)
		if _, err := a.channel.SendMessage(ctx, msg.ChatID, "Something went wrong handling that; please try again."); err != nil {
			a.logger.Warn("error notice failed", "error", err)
		}
		return
	}
	if reply == "" {
		reply = "(no reply)"
	}
	streamer.finish(ctx, reply)
}

// imageNote downloads an inbound image and turns it into a note for the
// turn. The chat completion wire format is text-only, so the image lands in
// the media directory and the note carries its path; the file tools can
// read it from there.
func (a *Assistant) imageNote(ctx context.Context, msg *channels.IncomingMessage) string {
	if msg.FileID == "" {
		return "[The user sent an image, but the channel provided no file reference]"
	}
	blob, err := a.channel.DownloadFile(ctx, msg.FileID)
	if err != nil {
		a.logger.Warn("image download failed", "chat_id", msg.ChatID, "error", err)
		return "[The user sent an image, but downloading it failed]"
	}

	dir := filepath.Join(a.cfg.DataDir, "media")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		a.logger.Warn("media dir unavailable", "error", err)
		return fmt.Sprintf("[The user sent an image (%d KB), but it could not be saved]", len(blob)/1024)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d-%d.jpg", msg.ChatID, time.Now().UnixNano()))
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		a.logger.Warn("saving image failed", "path", path, "error", err)
		return fmt.Sprintf("[The user sent an image (%d KB), but it could not be saved]", len(blob)/1024)
	}
	return fmt.Sprintf("[The user sent an image (%d KB), saved at %s]", len(blob)/1024, path)
}

// keepTyping shows a typing indicator until the returned stop func is called.
func (a *Assistant) keepTyping(ctx context.Context, chatID int64) func() {
	ctx, cancel := context.WithCancel(ctx)
	if err := a.channel.SendTyping(ctx, chatID); err != nil {
		a.logger.Debug("typing indicator failed", "error", err)
	}
	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.channel.SendTyping(ctx, chatID); err != nil {
					return
				}
			}
		}
	}()
	return cancel
}

// enrichURLs appends fetched content for up to maxEnrichedURLs links in the
// message. Fetch failures are skipped silently; the SSRF guard inside the
// fetcher rejects private targets.
func (a *Assistant) enrichURLs(ctx context.Context, text string) string {
	urls := urlPattern.FindAllString(text, maxEnrichedURLs)
	if len(urls) == 0 {
		return text
	}

	results := make([]string, len(urls))
	group, gctx := errgroup.WithContext(ctx)
	for i, url := range urls {
		i, url := i, url
		group.Go(func() error {
			content, err := a.fetcher.Fetch(gctx, url)
			if err != nil {
				a.logger.Debug("url enrichment skipped", "url", url, "error", err)
				return nil
			}
			results[i] = fmt.Sprintf("\n\n[Content of %s]\n%s", url, content)
			return nil
		})
	}
	_ = group.Wait()

	var b strings.Builder
	b.WriteString(text)
	for _, r := range results {
		b.WriteString(r)
	}
	return b.String()
}

// ---------- Streaming Editor ----------

// streamEditor shows the reply as it streams: a placeholder message is sent
// on the first delta and edited on a throttle, with a cursor marker while
// text is still arriving.
type streamEditor struct {
	channel channels.Channel
	chatID  int64
	logger  *slog.Logger

	mu        sync.Mutex
	messageID int64
	lastEdit  time.Time
	lastText  string
}

func newStreamEditor(channel channels.Channel, chatID int64, logger *slog.Logger) *streamEditor {
	return &streamEditor{channel: channel, chatID: chatID, logger: logger}
}

// onDelta is the StreamCallback fed into the turn.
func (s *streamEditor) onDelta(_, accumulated string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Long replies get split at the end; don't stream past one message.
	if len(accumulated) >= channels.DefaultMaxMessageLength-len(streamingCursor) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.messageID == 0 {
		id, err := s.channel.SendMessage(ctx, s.chatID, accumulated+streamingCursor)
		if err != nil {
			s.logger.Debug("stream placeholder failed", "error", err)
			return
		}
		s.messageID = id
		s.lastEdit = time.Now()
		s.lastText = accumulated
		return
	}

	if time.Since(s.lastEdit) < streamEditInterval || accumulated == s.lastText {
		return
	}
	if err := s.channel.EditMessage(ctx, s.chatID, s.messageID, accumulated+streamingCursor); err != nil {
		s.logger.Debug("stream edit failed", "error", err)
		return
	}
	s.lastEdit = time.Now()
	s.lastText = accumulated
}

// finish replaces the placeholder with the final text, splitting overflow
// into follow-up messages.
func (s *streamEditor) finish(ctx context.Context, final string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks := channels.SplitMessage(final, channels.DefaultMaxMessageLength)

	start := 0
	if s.messageID != 0 {
		if err := s.channel.EditMessage(ctx, s.chatID, s.messageID, chunks[0]); err != nil {
			s.logger.Debug("final edit failed", "error", err)
		} else {
			start = 1
		}
	}
	for _, chunk := range chunks[start:] {
		if _, err := s.channel.SendMessage(ctx, s.chatID, chunk); err != nil {
			s.logger.Warn("reply send failed", "chat_id", s.chatID, "error", err)
			return
		}
	}
}

// discard removes the placeholder after a failed turn.
func (s *streamEditor) discard(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messageID == 0 {
		return
	}
	if err := s.channel.DeleteMessage(ctx, s.chatID, s.messageID); err != nil {
		s.logger.Debug("placeholder delete failed", "error", err)
	}
	s.messageID = 0
}
