package external

import (
	"context"
	"strings"
	"testing"

	"github.com/marubot/maru/pkg/maru/security"
)

func TestFetchBlocksLoopback(t *testing.T) {
	f := NewFetcher(security.NewSSRFGuard(nil))

	urls := []string{
		"http://127.0.0.1:8080/admin",
		"http://localhost/metrics",
		"http://[::1]/",
	}
	for _, u := range urls {
		if _, err := f.Fetch(context.Background(), u); err == nil {
			t.Errorf("Fetch(%q) succeeded, want SSRF rejection", u)
		}
	}
}

func TestFetchRejectsEmptyURL(t *testing.T) {
	f := NewFetcher(security.NewSSRFGuard(nil))
	if _, err := f.Fetch(context.Background(), "   "); err == nil {
		t.Error("Fetch with blank URL should fail")
	}
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>body { color: red }</style>
<script>alert("hi")</script></head>
<body><h1>Title</h1>
<p>First paragraph.</p>

<p>Second <b>paragraph</b>.</p></body></html>`

	got := htmlToText(html)
	if strings.Contains(got, "alert") || strings.Contains(got, "color: red") {
		t.Errorf("script/style content leaked into text: %q", got)
	}
	for _, want := range []string{"Title", "First paragraph.", "Second paragraph."} {
		if !strings.Contains(got, want) {
			t.Errorf("text missing %q: %q", want, got)
		}
	}
}

func TestRemoveBlocksUnclosedTag(t *testing.T) {
	html := `before<script>never closed`
	if got := removeBlocks(html, "script"); got != "before" {
		t.Errorf("removeBlocks = %q, want %q", got, "before")
	}
}
