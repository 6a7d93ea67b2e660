package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vaakya/vaakya/internal/capability"
	"github.com/vaakya/vaakya/internal/events"
	"github.com/vaakya/vaakya/internal/llm"
	"github.com/vaakya/vaakya/internal/session"
	"github.com/vaakya/vaakya/internal/transcribe"
	"github.com/vaakya/vaakya/internal/transcript"
)

// fakeBackend replays canned completions and reports a fixed health
// state.
type fakeBackend struct {
	replies []string
	calls   int
	chatErr error
	pingErr error
}

func (f *fakeBackend) Chat(_ context.Context, _ []llm.Message) (*llm.Completion, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	i := f.calls
	f.calls++
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return &llm.Completion{Content: f.replies[i], Model: "test-model"}, nil
}

func (f *fakeBackend) Ping(context.Context) error { return f.pingErr }

func testServer(t *testing.T, backend *fakeBackend) (*Server, *httptest.Server) {
	t.Helper()

	registry := capability.NewRegistry()
	registry.MustRegister(&capability.Capability{
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

	bus := events.New()
	dispatcher := capability.NewDispatcher(registry, time.Second, nil)
	sessions := session.NewManager(backend, dispatcher, session.Config{MaxRounds: 4}, bus, nil)

	s := NewServer("127.0.0.1", 0, sessions, registry, backend, bus, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/sessions", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: HTTP %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.ID
}

func postTurn(t *testing.T, srv *httptest.Server, id, text string) (*http.Response, turnResponse) {
	t.Helper()
	body, _ := json.Marshal(turnRequest{Text: text})
	resp, err := http.Post(fmt.Sprintf("%s/v1/sessions/%s/turns", srv.URL, id), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out turnResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return resp, out
}

func TestTurnPlainAnswer(t *testing.T) {
	_, srv := testServer(t, &fakeBackend{replies: []string{"Certainly, **done**."}})
	id := createSession(t, srv)

	resp, out := postTurn(t, srv, id, "do nothing")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("HTTP %d", resp.StatusCode)
	}
	if out.State != "done" || out.Rounds != 1 {
		t.Errorf("state %s rounds %d", out.State, out.Rounds)
	}
	if out.Content != "Certainly, **done**." {
		t.Errorf("Content = %q", out.Content)
	}
	if out.Speakable != "Certainly, done." {
		t.Errorf("Speakable = %q", out.Speakable)
	}
}

func TestTurnWithOperation(t *testing.T) {
	backend := &fakeBackend{replies: []string{
		`<tool_call>{"name":"echo","arguments":{"text":"hi"}}</tool_call>`,
		"The echo said hi.",
	}}
	_, srv := testServer(t, backend)
	id := createSession(t, srv)

	_, out := postTurn(t, srv, id, "echo hi")
	if out.State != "done" {
		t.Errorf("state = %s", out.State)
	}
	if len(out.Results) != 1 || out.Results[0].Call != "echo" {
		t.Fatalf("results = %+v", out.Results)
	}
}

func TestTurnValidation(t *testing.T) {
	_, srv := testServer(t, &fakeBackend{replies: []string{"ok"}})
	id := createSession(t, srv)

	resp, err := http.Post(srv.URL+"/v1/sessions/"+id+"/turns", "application/json", strings.NewReader(`{"text":""}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty text: HTTP %d, want 400", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/v1/sessions/nope/turns", "application/json", strings.NewReader(`{"text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing session: HTTP %d, want 404", resp.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	_, srv := testServer(t, &fakeBackend{replies: []string{"ok"}})
	id := createSession(t, srv)

	resp, err := http.Get(srv.URL + "/v1/sessions")
	if err != nil {
		t.Fatal(err)
	}
	var listing struct {
		Count int `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&listing)
	resp.Body.Close()
	if listing.Count != 1 {
		t.Errorf("count = %d, want 1", listing.Count)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/sessions/"+id, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete: HTTP %d, want 204", resp.StatusCode)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("double delete: HTTP %d, want 404", resp.StatusCode)
	}
}

func TestCapabilitiesEndpoint(t *testing.T) {
	_, srv := testServer(t, &fakeBackend{replies: []string{"ok"}})

	resp, err := http.Get(srv.URL + "/v1/capabilities")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out struct {
		Count        int              `json:"count"`
		Capabilities []map[string]any `json:"capabilities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Count != 1 {
		t.Errorf("count = %d, want 1", out.Count)
	}
}

func TestHealthz(t *testing.T) {
	_, srv := testServer(t, &fakeBackend{replies: []string{"ok"}})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("HTTP %d, want 200", resp.StatusCode)
	}

	_, srv = testServer(t, &fakeBackend{replies: []string{"ok"}, pingErr: fmt.Errorf("down")})
	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("HTTP %d, want 503", resp.StatusCode)
	}
}

func TestTranscribeUnconfigured(t *testing.T) {
	_, srv := testServer(t, &fakeBackend{replies: []string{"ok"}})
	resp, err := http.Post(srv.URL+"/v1/transcribe", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("HTTP %d, want 503", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	s, srv := testServer(t, &fakeBackend{replies: []string{"remembered"}})

	store, err := transcript.Open(t.TempDir() + "/t.db")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	s.SetTranscriptStore(store)

	id := createSession(t, srv)
	postTurn(t, srv, id, "note this down")

	resp, err := http.Get(srv.URL + "/v1/history/" + id)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("HTTP %d", resp.StatusCode)
	}
	var out struct {
		Messages []session.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Messages) != 2 {
		t.Errorf("got %d stored messages, want 2", len(out.Messages))
	}
}

func TestEventStream(t *testing.T) {
	_, srv := testServer(t, &fakeBackend{replies: []string{"hello"}})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	id := createSession(t, srv)
	postTurn(t, srv, id, "say hello")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var seen []string
	for range 4 {
		var evt events.Event
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event: %v (saw %v)", err, seen)
		}
		seen = append(seen, evt.Kind)
	}
	if seen[0] != events.KindSessionCreated {
		t.Errorf("first event = %q, want session_created", seen[0])
	}
	if seen[1] != events.KindTurnStart {
		t.Errorf("second event = %q, want turn_start", seen[1])
	}
}

func TestSessionLifecycleEvents(t *testing.T) {
	_, srv := testServer(t, &fakeBackend{replies: []string{"hello"}})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	id := createSession(t, srv)
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/sessions/"+id, nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{events.KindSessionCreated, events.KindSessionRemoved} {
		var evt events.Event
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if evt.Kind != want {
			t.Errorf("event kind = %q, want %q", evt.Kind, want)
		}
		if evt.Source != events.SourceAPI {
			t.Errorf("event source = %q, want %q", evt.Source, events.SourceAPI)
		}
		if evt.Data["session_id"] != id {
			t.Errorf("session_id = %v, want %s", evt.Data["session_id"], id)
		}
	}
}

func TestTurnAbortedMapsTo502(t *testing.T) {
	_, srv := testServer(t, &fakeBackend{chatErr: fmt.Errorf("backend gone")})
	id := createSession(t, srv)

	resp, out := postTurn(t, srv, id, "anything")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("HTTP %d, want 502", resp.StatusCode)
	}
	if out.State != "aborted" || out.Error == "" {
		t.Errorf("state %s error %q", out.State, out.Error)
	}
}

func TestTurnWarningsReported(t *testing.T) {
	_, srv := testServer(t, &fakeBackend{replies: []string{
		`<tool_call>{broken</tool_call> All set.`,
	}})
	id := createSession(t, srv)

	_, out := postTurn(t, srv, id, "go")
	if len(out.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one entry", out.Warnings)
	}
}

func TestTurnMultipartAudio(t *testing.T) {
	stt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":"what time is it","language":"en"}`)
	}))
	defer stt.Close()

	s, srv := testServer(t, &fakeBackend{replies: []string{"It is noon."}})
	s.SetTranscriber(transcribe.New(stt.URL, time.Second))
	id := createSession(t, srv)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", "clip.wav")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("RIFF fake wav"))
	mw.Close()

	resp, err := http.Post(srv.URL+"/v1/sessions/"+id+"/turns", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("HTTP %d", resp.StatusCode)
	}
	var out turnResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Content != "It is noon." {
		t.Errorf("Content = %q", out.Content)
	}
}

func TestTurnMultipartWithoutTranscriber(t *testing.T) {
	_, srv := testServer(t, &fakeBackend{replies: []string{"ok"}})
	id := createSession(t, srv)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("audio", "clip.wav")
	part.Write([]byte("bytes"))
	mw.Close()

	resp, err := http.Post(srv.URL+"/v1/sessions/"+id+"/turns", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("HTTP %d, want 400", resp.StatusCode)
	}
}

func TestSessionEventStreamFilters(t *testing.T) {
	_, srv := testServer(t, &fakeBackend{replies: []string{"hello"}})

	watched := createSession(t, srv)
	other := createSession(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + watched + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	postTurn(t, srv, other, "noise")
	postTurn(t, srv, watched, "signal")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt events.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got := evt.Data["session_id"]; got != watched {
		t.Errorf("first event from session %v, want %s", got, watched)
	}
}
