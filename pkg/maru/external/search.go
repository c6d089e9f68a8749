// Package external – search.go implements the web search adapter. Uses the
// Brave Search API when a key is configured, falling back to DuckDuckGo's
// HTML endpoint otherwise.
package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// SearchClient performs web searches and formats results for the LLM.
type SearchClient struct {
	client     *http.Client
	braveKey   string
	maxResults int
	braveURL   string
	ddgURL     string
}

// NewSearchClient creates a search adapter. braveKey may be empty.
func NewSearchClient(braveKey string, maxResults int) *SearchClient {
	if maxResults <= 0 {
		maxResults = 8
	}
	return &SearchClient{
		client:     &http.Client{Timeout: DefaultHTTPTimeout},
		braveKey:   braveKey,
		maxResults: maxResults,
		braveURL:   "https://api.search.brave.com/res/v1/web/search",
		ddgURL:     "https://html.duckduckgo.com/html/",
	}
}

// searchResult is one formatted hit.
type searchResult struct {
	title   string
	url     string
	snippet string
}

// Search runs the query and returns a numbered text listing of results.
func (s *SearchClient) Search(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	var results []searchResult
	var err error
	if s.braveKey != "" {
		results, err = s.searchBrave(ctx, query)
	} else {
		results, err = s.searchDDG(ctx, query)
	}
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for: %s\n\n", query)
	for i, r := range results {
		if i >= s.maxResults {
			break
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n\n", i+1, r.title, r.url, r.snippet)
	}
	return sb.String(), nil
}

// searchBrave queries the Brave Search API.
func (s *SearchClient) searchBrave(ctx context.Context, query string) ([]searchResult, error) {
	reqURL := fmt.Sprintf("%s?q=%s&count=%d", s.braveURL, url.QueryEscape(query), s.maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.braveKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("brave search returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 200<<10)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing brave results: %w", err)
	}

	results := make([]searchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, searchResult{title: r.Title, url: r.URL, snippet: r.Description})
	}
	return results, nil
}

// searchDDG scrapes DuckDuckGo's HTML endpoint.
func (s *SearchClient) searchDDG(ctx context.Context, query string) ([]searchResult, error) {
	reqURL := s.ddgURL + "?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Maru/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 100<<10))
	return parseDDGResults(string(body)), nil
}

// parseDDGResults extracts result blocks from DuckDuckGo HTML. Each result
// anchor carries class result__a; snippets carry class result__snippet.
func parseDDGResults(html string) []searchResult {
	var results []searchResult

	parts := strings.Split(html, "result__a")
	for _, part := range parts[1:] {
		var r searchResult

		if hrefIdx := strings.Index(part, `href="`); hrefIdx >= 0 {
			start := hrefIdx + 6
			if end := strings.Index(part[start:], `"`); end > 0 {
				r.url = unwrapDDGRedirect(part[start : start+end])
			}
		}

		if gt := strings.Index(part, ">"); gt >= 0 {
			if close := strings.Index(part[gt:], "</a>"); close > 0 {
				r.title = stripTags(part[gt+1 : gt+close])
			}
		}

		if snip := strings.Index(part, "result__snippet"); snip >= 0 {
			if start := strings.Index(part[snip:], ">"); start >= 0 {
				if end := strings.Index(part[snip+start:], "</"); end > 0 {
					r.snippet = stripTags(part[snip+start+1 : snip+start+end])
				}
			}
		}

		if r.title != "" && r.url != "" {
			results = append(results, r)
		}
	}
	return results
}

// unwrapDDGRedirect pulls the target URL out of DuckDuckGo's uddg redirect.
func unwrapDDGRedirect(raw string) string {
	idx := strings.Index(raw, "uddg=")
	if idx < 0 {
		return raw
	}
	target := raw[idx+5:]
	if amp := strings.Index(target, "&"); amp >= 0 {
		target = target[:amp]
	}
	if decoded, err := url.QueryUnescape(target); err == nil {
		return decoded
	}
	return target
}

// stripTags removes HTML tags and trims whitespace.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
