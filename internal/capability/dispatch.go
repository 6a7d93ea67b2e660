package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vaakya/vaakya/internal/parser"
)

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result is the normalized outcome of one dispatched call. It is fed
// back into the conversation as a tool message, so every field must
// serialize cleanly.
type Result struct {
	Call    string `json:"call"`
	Status  string `json:"status"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Status == StatusOK }

// JSON renders the result for inclusion in a tool message. A result
// that fails to marshal (handler returned a non-serializable payload)
// degrades to an error form rather than corrupting the transcript.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(Result{
			Call:   r.Call,
			Status: StatusError,
			Error:  "result not serializable: " + err.Error(),
		})
		return string(fallback)
	}
	return string(data)
}

func errorResult(call string, format string, a ...any) Result {
	return Result{Call: call, Status: StatusError, Error: fmt.Sprintf(format, a...)}
}

// Dispatcher resolves parsed calls against the registry, validates
// arguments, applies the per-call timeout, and normalizes every
// outcome into a Result. Handler failures and panics never propagate
// past Dispatch.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. A zero timeout means 30 seconds.
func NewDispatcher(registry *Registry, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, timeout: timeout, logger: logger}
}

// Dispatch executes one call and returns its normalized result.
//
// The handler runs under its own deadline, detached from the caller's
// cancellation: a client disconnect must not kill a filesystem effect
// mid-write. A hung handler is abandoned at the deadline and reported
// as a timeout error.
func (d *Dispatcher) Dispatch(ctx context.Context, call parser.Call) Result {
	spec, err := d.registry.Lookup(call.Name)
	if err != nil {
		d.logger.Warn("dispatch to unknown capability", "name", call.Name)
		return errorResult(call.Name, "unknown capability: %s", call.Name)
	}

	if err := validateArgs(call.Arguments, spec.Parameters); err != nil {
		d.logger.Warn("dispatch rejected", "name", call.Name, "error", err)
		return errorResult(call.Name, "%s", err)
	}

	handlerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	type outcome struct {
		payload any
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", rec)}
			}
		}()
		payload, err := spec.Handler(handlerCtx, call.Arguments)
		done <- outcome{payload: payload, err: err}
	}()

	start := time.Now()
	select {
	case out := <-done:
		if out.err != nil {
			d.logger.Warn("capability failed",
				"name", call.Name,
				"error", out.err,
				"duration", time.Since(start))
			return errorResult(call.Name, "%s", out.err)
		}
		d.logger.Debug("capability complete",
			"name", call.Name,
			"duration", time.Since(start))
		return Result{Call: call.Name, Status: StatusOK, Payload: out.payload}

	case <-handlerCtx.Done():
		d.logger.Warn("capability timed out", "name", call.Name, "timeout", d.timeout)
		return errorResult(call.Name, "operation timed out after %s", d.timeout)
	}
}

// DispatchAll executes calls sequentially in the given order. A failure
// at position i never prevents dispatch of i+1; each call reports its
// own result.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []parser.Call) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, d.Dispatch(ctx, call))
	}
	return results
}
