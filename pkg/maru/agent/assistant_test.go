package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/marubot/maru/pkg/maru/channels"
	"github.com/marubot/maru/pkg/maru/external"
	"github.com/marubot/maru/pkg/maru/security"
)

// fakeChannel records outbound traffic and serves a canned file download.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []string
	nextID  int64
	file    []byte
	fileErr error
}

func (f *fakeChannel) Name() string                  { return "fake" }
func (f *fakeChannel) Connect(context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error             { return nil }
func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage {
	return make(chan *channels.IncomingMessage)
}

func (f *fakeChannel) SendMessage(_ context.Context, _ int64, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeChannel) EditMessage(_ context.Context, _, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) > 0 {
		f.sent[len(f.sent)-1] = text
	}
	return nil
}

func (f *fakeChannel) DeleteMessage(context.Context, int64, int64) error { return nil }
func (f *fakeChannel) SendTyping(context.Context, int64) error           { return nil }

func (f *fakeChannel) DownloadFile(context.Context, string) ([]byte, error) {
	return f.file, f.fileErr
}

func (f *fakeChannel) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestAssistant(t *testing.T, handler http.HandlerFunc, fake *fakeChannel) *Assistant {
	t.Helper()
	a := newTestAgent(t, handler)
	a.cfg.Access.AllowedChats = []int64{7}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fetcher := external.NewFetcher(security.NewSSRFGuard(logger))
	return NewAssistant(a.cfg, fake, a, fetcher, logger)
}

func TestHandleMessageDownloadsInboundImage(t *testing.T) {
	fake := &fakeChannel{file: []byte("not really a jpeg")}
	asst := newTestAssistant(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"content": "nice photo"}, "finish_reason": "stop"}]}`)
	}, fake)

	asst.handleMessage(context.Background(), &channels.IncomingMessage{
		ChatID: 7, Type: channels.MessageImage, FileID: "f1",
	})

	hist := asst.agent.sessions.Snapshot(7).History
	if len(hist) == 0 {
		t.Fatal("image message never reached the pipeline")
	}
	userMsg := hist[0].Content
	if !strings.Contains(userMsg, "saved at") {
		t.Errorf("user message = %q, want saved image note", userMsg)
	}
	saved, err := filepath.Glob(filepath.Join(asst.cfg.DataDir, "media", "7-*.jpg"))
	if err != nil || len(saved) != 1 {
		t.Errorf("saved media files = %v (%v)", saved, err)
	}
	if sent := fake.sentTexts(); len(sent) == 0 || sent[len(sent)-1] != "nice photo" {
		t.Errorf("sent = %v", sent)
	}
}

func TestHandleMessageKeepsImageCaption(t *testing.T) {
	fake := &fakeChannel{file: []byte("bytes")}
	asst := newTestAssistant(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"content": "ok"}, "finish_reason": "stop"}]}`)
	}, fake)

	asst.handleMessage(context.Background(), &channels.IncomingMessage{
		ChatID: 7, Type: channels.MessageImage, FileID: "f1", Caption: "look at this",
	})

	hist := asst.agent.sessions.Snapshot(7).History
	if len(hist) == 0 {
		t.Fatal("captioned image dropped")
	}
	if got := hist[0].Content; !strings.HasPrefix(got, "look at this") || !strings.Contains(got, "saved at") {
		t.Errorf("user message = %q", got)
	}
}

func TestHandleMessageImageDownloadFailureStillProcessed(t *testing.T) {
	fake := &fakeChannel{fileErr: fmt.Errorf("gone")}
	asst := newTestAssistant(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"content": "ok"}, "finish_reason": "stop"}]}`)
	}, fake)

	asst.handleMessage(context.Background(), &channels.IncomingMessage{
		ChatID: 7, Type: channels.MessageImage, FileID: "f1",
	})

	hist := asst.agent.sessions.Snapshot(7).History
	if len(hist) == 0 {
		t.Fatal("image with failed download dropped silently")
	}
	if got := hist[0].Content; !strings.Contains(got, "downloading it failed") {
		t.Errorf("user message = %q", got)
	}
}
