// Package agent – web_tools.go registers the outbound web tools. All URL
// fetching goes through the SSRF guard inside the fetcher.
package agent

import (
	"context"
	"encoding/json"

	"github.com/marubot/maru/pkg/maru/external"
)

// RegisterWebTools adds weather, search and fetch tools.
func RegisterWebTools(e *ToolExecutor, weather *external.WeatherClient, search *external.SearchClient, fetcher *external.Fetcher) {
	e.Register(&Tool{
		Name:        "get_weather",
		Description: "Get current weather for a location. Defaults to Seoul.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"location": {"type": "string", "description": "City name, e.g. Seoul, Busan, Tokyo"}
			}
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			return weather.Current(ctx, stringArg(args, "location"))
		},
	})

	e.Register(&Tool{
		Name:        "web_search",
		Description: "Search the web and return titles, URLs and snippets.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string"}
			},
			"required": ["query"]
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			query, err := requiredStringArg(args, "query")
			if err != nil {
				return "", err
			}
			return search.Search(ctx, query)
		},
	})

	e.Register(&Tool{
		Name:        "web_fetch",
		Description: "Fetch a URL and return its readable text content. Private and internal addresses are blocked.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string"}
			},
			"required": ["url"]
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			url, err := requiredStringArg(args, "url")
			if err != nil {
				return "", err
			}
			return fetcher.Fetch(ctx, url)
		},
	})
}
