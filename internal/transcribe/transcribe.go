// Package transcribe converts recorded speech to text through an
// external transcription service (a Whisper-compatible HTTP endpoint).
// The agent itself stays audio-format agnostic; whatever bytes the
// client captured are forwarded as-is.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/vaakya/vaakya/internal/httpkit"
)

// ErrUnavailable wraps failures reaching the transcription service.
var ErrUnavailable = errors.New("transcription service unavailable")

// Client calls the transcription service.
type Client struct {
	url        string
	httpClient *http.Client
}

// New creates a transcription client for the given endpoint URL. A
// zero timeout means 60 seconds; long recordings transcribe slowly.
func New(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		url: url,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
		),
	}
}

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool { return c != nil && c.url != "" }

// Result is the service's transcription of one audio clip.
type Result struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Transcribe uploads audio and returns the recognized text. filename
// carries the format hint ("clip.wav", "clip.ogg"); language is an
// optional ISO 639-1 hint.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename, language string) (*Result, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: no endpoint configured", ErrUnavailable)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}
	if filename == "" {
		filename = "audio.wav"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("write audio: %w", err)
	}
	if language != "" {
		_ = w.WriteField("language", language)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, body)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
