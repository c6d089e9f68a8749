// Package agent – memory_tools.go registers the long-term memory tools.
// Saves append to MEMORY.md, searches run the hybrid index, and the persona
// file feeds the next system prompt.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marubot/maru/pkg/maru/memory"
)

// personaFileName is the persona override file under the data directory.
const personaFileName = "PERSONA.md"

// RegisterMemoryTools adds memory and persona tools. The index may be nil
// when memory is disabled; saves still work, searches fall back to keyword
// matching over the files.
func RegisterMemoryTools(e *ToolExecutor, store *memory.FileStore, index *memory.Index, dataDir string, maxResults int) {
	if maxResults <= 0 {
		maxResults = 3
	}

	e.Register(&Tool{
		Name:        "save_memory",
		Description: "Save a durable fact about the user or their life to long-term memory.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {"type": "string", "description": "The fact to remember, one or two sentences"},
				"category": {"type": "string", "description": "One of: preference, fact, event, task"}
			},
			"required": ["content"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			content, err := requiredStringArg(args, "content")
			if err != nil {
				return "", err
			}
			category := stringArg(args, "category")
			if category == "" {
				category = "fact"
			}
			if err := store.Save(memory.Entry{
				Content:   content,
				Category:  category,
				Timestamp: time.Now(),
			}); err != nil {
				return "", err
			}
			return "Saved to memory.", nil
		},
	})

	e.Register(&Tool{
		Name:        "memory_search",
		Description: "Search long-term memory for relevant facts.",
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

			var lines []string
			if index != nil {
				for _, hit := range index.Retrieve(ctx, query, maxResults) {
					lines = append(lines, fmt.Sprintf("- [%s] %s", hit.Entry.Category, hit.Entry.Content))
				}
			} else {
				entries, err := store.SearchKeyword(query, maxResults)
				if err != nil {
					return "", err
				}
				for _, entry := range entries {
					lines = append(lines, fmt.Sprintf("- [%s] %s", entry.Category, entry.Content))
				}
			}
			if len(lines) == 0 {
				return "No matching memories.", nil
			}
			return strings.Join(lines, "\n"), nil
		},
	})

	e.Register(&Tool{
		Name:        "memory_reindex",
		Description: "Rebuild the memory search index from the memory files.",
		Run: func(ctx context.Context, _ map[string]any) (string, error) {
			if index == nil {
				return "", fmt.Errorf("memory index is disabled")
			}
			n, err := index.Reindex(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Reindexed %d memory chunks.", n), nil
		},
	})

	e.Register(&Tool{
		Name:        "save_persona",
		Description: "Update the assistant's persona notes. These are added to every future system prompt.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {"type": "string", "description": "Persona notes in markdown, replaces the previous notes"}
			},
			"required": ["content"]
		}`),
		Run: func(_ context.Context, args map[string]any) (string, error) {
			content, err := requiredStringArg(args, "content")
			if err != nil {
				return "", err
			}
			path := filepath.Join(dataDir, personaFileName)
			if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
				return "", err
			}
			return "Persona updated.", nil
		},
	})
}

// LoadPersona reads the persona file. Missing file returns empty.
func LoadPersona(dataDir string) string {
	data, err := os.ReadFile(filepath.Join(dataDir, personaFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
