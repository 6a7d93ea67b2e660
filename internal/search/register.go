package search

import (
	"context"
	"fmt"

	"github.com/vaakya/vaakya/internal/capability"
)

// Register adds the web_search capability backed by mgr. A manager with
// no providers registers nothing.
func Register(r *capability.Registry, mgr *Manager) error {
	if !mgr.Configured() {
		return nil
	}

	return r.Register(&capability.Capability{
		Name:        "web_search",
		Description: "Search the web and return a ranked list of results with titles, URLs, and snippets.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query string.",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return (1-10).",
					"minimum":     1,
					"maximum":     MaxCount,
				},
				"language": map[string]any{
					"type":        "string",
					"description": "ISO 639-1 language code for results (e.g., 'en', 'de').",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("web_search: query is required")
			}

			opts := Options{}
			if count, ok := args["count"].(float64); ok && count > 0 {
				opts.Count = int(count)
			}
			if lang, ok := args["language"].(string); ok {
				opts.Language = lang
			}

			return mgr.Search(ctx, query, opts)
		},
	})
}
