// Package llm provides the language model backend client.
//
// The session loop treats the backend as a black box: it sends the
// current message window and receives raw generated text. Whether that
// text contains function calls is the parser's business, not the
// client's. Non-determinism is expected; given the same window the
// backend may produce different text.
package llm

import "context"

// Message is one chat message in the window sent to the backend.
type Message struct {
	Role    string `json:"role"` // system, user, assistant, tool
	Content string `json:"content"`
}

// Completion is one backend response.
type Completion struct {
	// Content is the raw generated text, unparsed.
	Content string
	// Model is the model that produced the completion.
	Model string
	// PromptTokens and OutputTokens are usage counts when the backend
	// reports them, zero otherwise.
	PromptTokens int
	OutputTokens int
}

// Client is the model backend interface. Implementations must honor
// ctx cancellation; any transport or API failure is fatal to the
// calling session and wraps [ErrBackend].
type Client interface {
	// Chat sends the message window and returns the completion.
	Chat(ctx context.Context, messages []Message) (*Completion, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}
