// Package external – fetch.go implements the web fetch adapter used by the
// web_fetch tool and by URL enrichment in the turn pipeline. Every request
// passes the SSRF guard first; responses are byte-capped and HTML is reduced
// to readable text.
package external

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marubot/maru/pkg/maru/security"
)

const (
	// fetchMaxBytes caps how much of a response body is read.
	fetchMaxBytes = 512 << 10

	// fetchMaxChars caps the extracted text handed to the LLM.
	fetchMaxChars = 10000
)

// Fetcher downloads user-supplied URLs safely.
type Fetcher struct {
	client *http.Client
	guard  *security.SSRFGuard
}

// NewFetcher creates a fetch adapter. guard must not be nil.
func NewFetcher(guard *security.SSRFGuard) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: 20 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				// Redirect targets get the same treatment as the original URL.
				return guard.IsAllowed(req.URL.String())
			},
		},
		guard: guard,
	}
}

// Fetch downloads a URL and returns its content as text. HTML responses are
// stripped to visible text; everything else is returned verbatim up to the
// character cap.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	if err := f.guard.IsAllowed(rawURL); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Maru/1.0")
	req.Header.Set("Accept", "text/html,text/plain,application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching URL: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	content := string(body)
	if strings.Contains(contentType, "text/html") {
		content = htmlToText(content)
	}
	if len(content) > fetchMaxChars {
		content = content[:fetchMaxChars] + "\n... [truncated]"
	}

	return fmt.Sprintf("Status: %d\nContent-Type: %s\n\n%s",
		resp.StatusCode, contentType, content), nil
}

// htmlToText strips script/style blocks and tags, then collapses whitespace.
func htmlToText(html string) string {
	for _, block := range []string{"script", "style", "noscript"} {
		html = removeBlocks(html, block)
	}
	text := stripTags(html)

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// removeBlocks drops <tag ...>...</tag> sections, case-insensitively.
func removeBlocks(html, tag string) string {
	lower := strings.ToLower(html)
	open := "<" + tag
	close := "</" + tag + ">"

	var b strings.Builder
	pos := 0
	for {
		start := strings.Index(lower[pos:], open)
		if start < 0 {
			b.WriteString(html[pos:])
			break
		}
		start += pos
		end := strings.Index(lower[start:], close)
		if end < 0 {
			b.WriteString(html[pos:start])
			break
		}
		b.WriteString(html[pos:start])
		pos = start + end + len(close)
	}
	return b.String()
}
