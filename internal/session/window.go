package session

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a session's conversation window.
type Message struct {
	ID      string    `json:"id"`
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Tokens  int       `json:"tokens"`
	Pinned  bool      `json:"pinned,omitempty"`
	Time    time.Time `json:"time"`
}

// Window owns the ordered message sequence of one session and its
// running token total. It is not safe for concurrent use; the session
// loop is the only writer.
type Window struct {
	tok    *Tokenizer
	budget int
	msgs   []Message
	total  int
}

// NewWindow creates a window with the given token budget. A budget of
// zero disables eviction.
func NewWindow(tok *Tokenizer, budget int) *Window {
	return &Window{tok: tok, budget: budget}
}

// Append adds a message, counting its tokens on insert. Pinned
// messages (the system prompt) are exempt from eviction.
func (w *Window) Append(role, content string, pinned bool) Message {
	m := Message{
		ID:      uuid.NewString(),
		Role:    role,
		Content: content,
		Tokens:  w.tok.Count(content),
		Pinned:  pinned,
		Time:    time.Now(),
	}
	w.msgs = append(w.msgs, m)
	w.total += m.Tokens
	return m
}

// EvictToBudget drops the oldest evictable messages until the running
// total fits the budget, and returns how many were dropped. Pinned
// messages and the most recent user message are never evicted, even
// when the window still exceeds the budget afterwards.
func (w *Window) EvictToBudget() int {
	if w.budget <= 0 || w.total <= w.budget {
		return 0
	}

	lastUser := -1
	for i := len(w.msgs) - 1; i >= 0; i-- {
		if w.msgs[i].Role == RoleUser {
			lastUser = i
			break
		}
	}

	evicted := 0
	for w.total > w.budget {
		idx := -1
		for i := range w.msgs {
			if w.msgs[i].Pinned || i == lastUser {
				continue
			}
			idx = i
			break
		}
		if idx == -1 {
			break
		}
		w.total -= w.msgs[idx].Tokens
		w.msgs = append(w.msgs[:idx], w.msgs[idx+1:]...)
		if idx < lastUser {
			lastUser--
		}
		evicted++
	}
	return evicted
}

// Total returns the current token total.
func (w *Window) Total() int { return w.total }

// Budget returns the configured token budget.
func (w *Window) Budget() int { return w.budget }

// Len returns the number of messages in the window.
func (w *Window) Len() int { return len(w.msgs) }

// Messages returns a snapshot of the window contents.
func (w *Window) Messages() []Message {
	out := make([]Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}
