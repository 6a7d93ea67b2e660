package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vaakya/vaakya/internal/capability"
	"github.com/vaakya/vaakya/internal/events"
	"github.com/vaakya/vaakya/internal/llm"
)

// scriptedClient replays canned completions in order. Calls past the
// end of the script repeat the final entry, or fail with err if set.
type scriptedClient struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (c *scriptedClient) Chat(_ context.Context, _ []llm.Message) (*llm.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i >= len(c.replies) {
		if c.err != nil {
			return nil, c.err
		}
		i = len(c.replies) - 1
	}
	return &llm.Completion{Content: c.replies[i], Model: "test-model"}, nil
}

func (c *scriptedClient) Ping(context.Context) error { return nil }

func (c *scriptedClient) chatCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func echoDispatcher(t *testing.T) *capability.Dispatcher {
	t.Helper()
	r := capability.NewRegistry()
	r.MustRegister(&capability.Capability{
		Name:        "echo",
		Description: "Echo the input back.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	})
	r.MustRegister(&capability.Capability{
		Name:        "always_fails",
		Description: "Fails on every call.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, fmt.Errorf("boom")
		},
	})
	return capability.NewDispatcher(r, time.Second, nil)
}

func newTestSession(client llm.Client, d *capability.Dispatcher, cfg Config) *Session {
	return New(client, d, NewTokenizer(), cfg, nil, nil)
}

const echoCall = `<tool_call>{"name":"echo","arguments":{"text":"ping"}}</tool_call>`

func TestRunPlainAnswer(t *testing.T) {
	client := &scriptedClient{replies: []string{"The answer is 42."}}
	s := newTestSession(client, echoDispatcher(t), Config{SystemPrompt: "be brief"})

	out := s.Run(context.Background(), "what is the answer?")
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.State != StateDone {
		t.Errorf("State = %s, want done", out.State)
	}
	if out.Content != "The answer is 42." {
		t.Errorf("Content = %q", out.Content)
	}
	if out.Rounds != 1 {
		t.Errorf("Rounds = %d, want 1", out.Rounds)
	}
	if len(out.Results) != 0 {
		t.Errorf("Results = %v, want none", out.Results)
	}
}

func TestRunOneToolRound(t *testing.T) {
	client := &scriptedClient{replies: []string{
		"Let me check. " + echoCall,
		"It said ping.",
	}}
	s := newTestSession(client, echoDispatcher(t), Config{})

	out := s.Run(context.Background(), "run the echo")
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.State != StateDone || out.Rounds != 2 {
		t.Errorf("state %s rounds %d, want done after 2", out.State, out.Rounds)
	}
	if len(out.Results) != 1 {
		t.Fatalf("Results = %d, want 1", len(out.Results))
	}
	if !out.Results[0].OK() || out.Results[0].Payload != "ping" {
		t.Errorf("unexpected result: %+v", out.Results[0])
	}
	if out.Content != "It said ping." {
		t.Errorf("Content = %q", out.Content)
	}

	// The tool result must have been fed back into the window.
	var sawTool bool
	for _, m := range out.Transcript {
		if m.Role == RoleTool && strings.Contains(m.Content, `"status":"ok"`) {
			sawTool = true
		}
	}
	if !sawTool {
		t.Error("no tool message in transcript")
	}
}

func TestRunFailedCallContinues(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`<tool_call>{"name":"always_fails","arguments":{}}</tool_call>` + echoCall,
		"One worked, one did not.",
	}}
	s := newTestSession(client, echoDispatcher(t), Config{})

	out := s.Run(context.Background(), "try both")
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("Results = %d, want 2", len(out.Results))
	}
	if out.Results[0].OK() {
		t.Error("failing capability reported ok")
	}
	if !out.Results[1].OK() {
		t.Error("echo should still run after the failure before it")
	}
}

func TestRunRoundCap(t *testing.T) {
	// The model never stops asking for operations.
	client := &scriptedClient{replies: []string{"working on it " + echoCall}}
	s := newTestSession(client, echoDispatcher(t), Config{MaxRounds: 3})

	out := s.Run(context.Background(), "loop forever")
	if !errors.Is(out.Err, ErrRoundCapExceeded) {
		t.Fatalf("Err = %v, want ErrRoundCapExceeded", out.Err)
	}
	if out.State != StateAborted {
		t.Errorf("State = %s, want aborted", out.State)
	}
	if out.Rounds != 3 {
		t.Errorf("Rounds = %d, want 3", out.Rounds)
	}
	if client.chatCalls() != 3 {
		t.Errorf("model called %d times, want 3", client.chatCalls())
	}
	// Partial work is still reported.
	if len(out.Results) != 3 {
		t.Errorf("Results = %d, want 3", len(out.Results))
	}
	if out.Content != "working on it" {
		t.Errorf("partial content = %q", out.Content)
	}
}

func TestRunBackendFailureMidTurn(t *testing.T) {
	client := &scriptedClient{
		replies: []string{"checking " + echoCall},
		err:     fmt.Errorf("%w: connection refused", llm.ErrBackend),
	}
	s := newTestSession(client, echoDispatcher(t), Config{})

	out := s.Run(context.Background(), "do the thing")
	if !errors.Is(out.Err, llm.ErrBackend) {
		t.Fatalf("Err = %v, want wrapped ErrBackend", out.Err)
	}
	if out.State != StateAborted {
		t.Errorf("State = %s, want aborted", out.State)
	}
	// The first round's result survives the abort.
	if len(out.Results) != 1 || !out.Results[0].OK() {
		t.Errorf("partial results lost: %+v", out.Results)
	}
	if out.Content != "checking" {
		t.Errorf("partial content = %q", out.Content)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{replies: []string{"never used"}}
	s := newTestSession(client, echoDispatcher(t), Config{})

	out := s.Run(ctx, "hello")
	if out.State != StateAborted {
		t.Errorf("State = %s, want aborted", out.State)
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", out.Err)
	}
	if client.chatCalls() != 0 {
		t.Error("model called despite cancelled context")
	}
}

func TestRunPublishesEvents(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	client := &scriptedClient{replies: []string{echoCall, "done"}}
	s := New(client, echoDispatcher(t), NewTokenizer(), Config{}, bus, nil)
	s.Run(context.Background(), "go")

	kinds := make(map[string]int)
	for {
		select {
		case e := <-ch:
			kinds[e.Kind]++
			continue
		default:
		}
		break
	}
	for _, want := range []string{
		events.KindTurnStart,
		events.KindRoundStart,
		events.KindModelCall,
		events.KindCallDispatched,
		events.KindCallDone,
		events.KindTurnComplete,
	} {
		if kinds[want] == 0 {
			t.Errorf("no %s event published", want)
		}
	}
}

func TestSystemPromptPinned(t *testing.T) {
	client := &scriptedClient{replies: []string{"ok"}}
	s := newTestSession(client, echoDispatcher(t), Config{SystemPrompt: "be terse"})

	msgs := s.Transcript()
	if len(msgs) != 1 || msgs[0].Role != RoleSystem || !msgs[0].Pinned {
		t.Fatalf("unexpected initial transcript: %+v", msgs)
	}
}

func TestManagerLifecycle(t *testing.T) {
	client := &scriptedClient{replies: []string{"ok"}}
	m := NewManager(client, echoDispatcher(t), Config{}, nil, nil)

	s1 := m.Create()
	s2 := m.Create()
	if s1.ID() == s2.ID() {
		t.Fatal("sessions share an ID")
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}

	got, ok := m.Get(s1.ID())
	if !ok || got != s1 {
		t.Error("Get returned the wrong session")
	}

	if !m.Remove(s1.ID()) {
		t.Error("Remove reported missing session")
	}
	if m.Remove(s1.ID()) {
		t.Error("second Remove should report false")
	}
	if _, ok := m.Get(s1.ID()); ok {
		t.Error("removed session still retrievable")
	}
}

func TestSessionsIsolated(t *testing.T) {
	client := &scriptedClient{replies: []string{"fine"}}
	m := NewManager(client, echoDispatcher(t), Config{SystemPrompt: "sys"}, nil, nil)

	s1 := m.Create()
	s2 := m.Create()
	s1.Run(context.Background(), "only in s1")

	for _, msg := range s2.Transcript() {
		if strings.Contains(msg.Content, "only in s1") {
			t.Fatal("message leaked between sessions")
		}
	}
}

func TestRunConcurrentTurnsSerialized(t *testing.T) {
	client := &scriptedClient{replies: []string{"acknowledged"}}
	s := newTestSession(client, echoDispatcher(t), Config{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out := s.Run(context.Background(), fmt.Sprintf("turn %d", n))
			if out.Err != nil {
				t.Errorf("turn %d failed: %v", n, out.Err)
			}
		}(i)
	}
	wg.Wait()

	// Each turn contributes exactly one user and one assistant message.
	if got := len(s.Transcript()); got != 8 {
		t.Errorf("transcript length = %d, want 8", got)
	}
	if client.chatCalls() != 4 {
		t.Errorf("model called %d times, want 4", client.chatCalls())
	}
}

func TestRunKeepsWindowWithinBudget(t *testing.T) {
	filler := strings.Repeat("lorem ipsum dolor sit amet ", 20)
	client := &scriptedClient{replies: []string{
		filler + echoCall,
		filler + echoCall,
		"All done.",
	}}
	s := newTestSession(client, echoDispatcher(t), Config{TokenBudget: 80})

	out := s.Run(context.Background(), "fill the window")
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	// Appends evict immediately, so the window never settles over
	// budget while the protected messages fit.
	if total := s.window.Total(); total > 80 {
		t.Errorf("window holds %d tokens after the turn, budget is 80", total)
	}
}

func TestRunWarningsSurfaced(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`<tool_call>{not json}</tool_call> ` + echoCall,
		"Done anyway.",
	}}
	s := newTestSession(client, echoDispatcher(t), Config{})

	out := s.Run(context.Background(), "one good, one broken")
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if len(out.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one", out.Warnings)
	}
	if len(out.Results) != 1 {
		t.Errorf("Results = %d, want 1 (the valid call)", len(out.Results))
	}
}
