// Package session drives the function-calling loop: send the window to
// the model, parse operation calls out of the reply, dispatch them,
// feed the results back, and repeat until the model answers in plain
// text or the round cap trips. Each session is one conversation with
// its own window; sessions share nothing but the registry and backend.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaakya/vaakya/internal/capability"
	"github.com/vaakya/vaakya/internal/events"
	"github.com/vaakya/vaakya/internal/llm"
	"github.com/vaakya/vaakya/internal/parser"
)

// ErrRoundCapExceeded is returned in the Outcome when the model keeps
// requesting operations past the configured round limit.
var ErrRoundCapExceeded = errors.New("round cap exceeded")

// Config bounds a session's resource use.
type Config struct {
	// SystemPrompt is pinned at the head of the window.
	SystemPrompt string
	// TokenBudget caps the window size; zero disables eviction.
	TokenBudget int
	// MaxRounds caps model rounds per user turn. Zero means 8.
	MaxRounds int
}

// Outcome is the terminal report of one user turn. A turn that ends in
// StateAborted still carries whatever content and results accumulated
// before the failure.
type Outcome struct {
	SessionID  string              `json:"session_id"`
	Content    string              `json:"content"`
	Results    []capability.Result `json:"results,omitempty"`
	Warnings   []string            `json:"warnings,omitempty"`
	Rounds     int                 `json:"rounds"`
	State      State               `json:"state"`
	Transcript []Message           `json:"-"`
	Err        error               `json:"-"`
}

// Session is one conversation. A single goroutine drives each turn;
// Run serializes concurrent callers.
type Session struct {
	id         string
	client     llm.Client
	dispatcher *capability.Dispatcher
	window     *Window
	maxRounds  int
	bus        *events.Bus
	logger     *slog.Logger

	// turnMu serializes whole turns; only one Run proceeds at a time.
	turnMu sync.Mutex

	// mu guards the fields below plus all window access, so readers
	// like Transcript see a consistent window mid-turn.
	mu         sync.Mutex
	state      State
	created    time.Time
	lastActive time.Time
}

// New creates a session with a fresh window. The system prompt, when
// non-empty, is appended pinned so eviction can never drop it.
func New(client llm.Client, dispatcher *capability.Dispatcher, tok *Tokenizer, cfg Config, bus *events.Bus, logger *slog.Logger) *Session {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:         uuid.NewString(),
		client:     client,
		dispatcher: dispatcher,
		window:     NewWindow(tok, cfg.TokenBudget),
		maxRounds:  cfg.MaxRounds,
		bus:        bus,
		logger:     logger,
		state:      StateIdle,
		created:    time.Now(),
	}
	if cfg.SystemPrompt != "" {
		s.window.Append(RoleSystem, cfg.SystemPrompt, true)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.created }

// LastActive returns when the session last ran a turn.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Transcript returns a snapshot of the conversation window.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Messages()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run executes one user turn to completion and returns its outcome.
// The loop per round: call the model, parse the reply, dispatch any
// operation calls, and append their results. Every append evicts back
// to the token budget. A reply with no calls ends the turn; a backend
// failure or the round cap aborts it with partial results.
func (s *Session) Run(ctx context.Context, userText string) *Outcome {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()

	start := time.Now()
	s.bus.Publish(events.Event{
		Source: events.SourceSession,
		Kind:   events.KindTurnStart,
		Data:   map[string]any{"session_id": s.id, "text_len": len(userText)},
	})

	s.append(RoleUser, userText)

	var results []capability.Result
	var parseWarnings []string
	var lastContent string
	rounds := 0

	for round := 1; round <= s.maxRounds; round++ {
		rounds = round
		s.setState(StateAwaitingModel)
		s.bus.Publish(events.Event{
			Source: events.SourceSession,
			Kind:   events.KindRoundStart,
			Data:   map[string]any{"session_id": s.id, "round": round},
		})

		if err := ctx.Err(); err != nil {
			return s.finish(start, rounds, results, parseWarnings, lastContent, fmt.Errorf("turn cancelled: %w", err))
		}

		comp, err := s.client.Chat(ctx, s.chatMessages())
		if err != nil {
			return s.finish(start, rounds, results, parseWarnings, lastContent, fmt.Errorf("model call: %w", err))
		}
		s.bus.Publish(events.Event{
			Source: events.SourceSession,
			Kind:   events.KindModelCall,
			Data: map[string]any{
				"session_id":    s.id,
				"round":         round,
				"model":         comp.Model,
				"prompt_tokens": comp.PromptTokens,
				"output_tokens": comp.OutputTokens,
			},
		})

		s.setState(StateParsing)
		calls, warnings := parser.Parse(comp.Content)
		for _, w := range warnings {
			s.logger.Warn("malformed call fragment",
				"session", s.id,
				"reason", w.Reason)
			parseWarnings = append(parseWarnings, w.Reason)
		}

		s.append(RoleAssistant, comp.Content)
		lastContent = parser.Strip(comp.Content)

		if len(calls) == 0 {
			return s.finish(start, rounds, results, parseWarnings, lastContent, nil)
		}

		s.setState(StateDispatching)
		for _, call := range calls {
			s.bus.Publish(events.Event{
				Source: events.SourceDispatch,
				Kind:   events.KindCallDispatched,
				Data:   map[string]any{"session_id": s.id, "capability": call.Name},
			})
			callStart := time.Now()
			res := s.dispatcher.Dispatch(ctx, call)
			s.bus.Publish(events.Event{
				Source: events.SourceDispatch,
				Kind:   events.KindCallDone,
				Data: map[string]any{
					"session_id":  s.id,
					"capability":  call.Name,
					"ok":          res.OK(),
					"duration_ms": time.Since(callStart).Milliseconds(),
				},
			})
			results = append(results, res)
			s.append(RoleTool, res.JSON())
		}
	}

	return s.finish(start, rounds, results, parseWarnings, lastContent, ErrRoundCapExceeded)
}

// finish records the terminal state and assembles the outcome. A nil
// err means the turn completed; anything else aborts it with partial
// content.
func (s *Session) finish(start time.Time, rounds int, results []capability.Result, warnings []string, content string, err error) *Outcome {
	st := StateDone
	if err != nil {
		st = StateAborted
	}
	s.setState(st)

	if err != nil {
		s.logger.Warn("turn aborted",
			"session", s.id,
			"rounds", rounds,
			"error", err)
	} else {
		s.logger.Info("turn complete",
			"session", s.id,
			"rounds", rounds,
			"operations", len(results),
			"elapsed", time.Since(start))
	}

	s.bus.Publish(events.Event{
		Source: events.SourceSession,
		Kind:   events.KindTurnComplete,
		Data: map[string]any{
			"session_id": s.id,
			"rounds":     rounds,
			"state":      string(st),
			"elapsed_ms": time.Since(start).Milliseconds(),
		},
	})

	return &Outcome{
		SessionID:  s.id,
		Content:    content,
		Results:    results,
		Warnings:   warnings,
		Rounds:     rounds,
		State:      st,
		Transcript: s.Transcript(),
		Err:        err,
	}
}

// append adds a message and immediately evicts back to budget, so the
// window never holds more than the budget between appends.
func (s *Session) append(role string, content string) {
	s.mu.Lock()
	s.window.Append(role, content, false)
	evicted := s.window.EvictToBudget()
	total := s.window.Total()
	s.mu.Unlock()

	if evicted > 0 {
		s.logger.Debug("window evicted",
			"session", s.id,
			"evicted", evicted,
			"total_tokens", total)
		s.bus.Publish(events.Event{
			Source: events.SourceSession,
			Kind:   events.KindEvicted,
			Data:   map[string]any{"session_id": s.id, "evicted": evicted, "total_tokens": total},
		})
	}
}

func (s *Session) chatMessages() []llm.Message {
	msgs := s.Transcript()
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
