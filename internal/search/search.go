// Package search provides a pluggable web search interface.
//
// Each backend implements the [Provider] interface and is registered
// by name. The [Manager] selects a provider based on configuration,
// clamps result counts and snippet lengths, and exposes a single
// [Manager.Search] method that the capability layer calls.
package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxCount is the hard ceiling on results per query regardless of
// configuration.
const MaxCount = 10

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means the configured default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "searxng", "duckduckgo").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers  map[string]Provider
	primary    string
	maxResults int
	snippetLen int
}

// NewManager creates a search manager. The primary provider name
// determines which backend is used by default. maxResults and
// snippetLen bound what any query may return; zero values fall back
// to 5 results and 200 characters.
func NewManager(primary string, maxResults, snippetLen int) *Manager {
	if maxResults <= 0 || maxResults > MaxCount {
		maxResults = 5
	}
	if snippetLen <= 0 {
		snippetLen = 200
	}
	return &Manager{
		providers:  make(map[string]Provider),
		primary:    primary,
		maxResults: maxResults,
		snippetLen: snippetLen,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	return m.SearchWith(ctx, m.primary, query, opts)
}

// SearchWith runs a query against a specific named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	opts.Count = m.clampCount(opts.Count)
	results, err := p.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if len(results) > opts.Count {
		results = results[:opts.Count]
	}
	for i := range results {
		results[i].Snippet = truncateSnippet(results[i].Snippet, m.snippetLen)
	}
	return results, nil
}

func (m *Manager) clampCount(count int) int {
	if count <= 0 {
		return m.maxResults
	}
	if count > m.maxResults {
		return m.maxResults
	}
	return count
}

// Providers returns the names of all registered providers.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// truncateSnippet cuts s to at most limit bytes, breaking at a word
// boundary when one is close. Without a word boundary the cut backs up
// to the previous rune boundary so a multi-byte character is never
// split.
func truncateSnippet(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if i := strings.LastIndexByte(s[:limit], ' '); i > limit/2 {
		return s[:i] + "…"
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "…"
}

// FormatResults builds a human-readable result string.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r.Title)
		b.WriteString("\n   ")
		b.WriteString(r.URL)
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}
