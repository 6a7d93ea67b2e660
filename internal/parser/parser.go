// Package parser extracts structured function calls from raw model output.
//
// Small models that lack native function-calling emit calls inline as
// tagged JSON:
//
//	<tool_call>
//	{"name": "list_files", "arguments": {"path": "."}}
//	</tool_call>
//
// Parse recognizes this one convention, extracts every occurrence in
// source order, and skips malformed fragments individually instead of
// failing the whole parse. The package is pure and stateless: identical
// input always yields identical output.
package parser

import (
	"encoding/json"
	"strings"
)

const (
	startTag = "<tool_call>"
	endTag   = "</tool_call>"
)

// Call is one parsed function-call descriptor. Immutable once created.
type Call struct {
	// Name is the capability to invoke.
	Name string `json:"name"`
	// Arguments are the decoded call arguments. Never nil.
	Arguments map[string]any `json:"arguments"`
	// Raw is the original text fragment the call was parsed from,
	// including the surrounding tags.
	Raw string `json:"-"`
}

// Warning records a malformed fragment that was skipped during parsing.
// Warnings are recoverable: they are surfaced to the caller and logged,
// never raised as errors.
type Warning struct {
	Fragment string
	Reason   string
}

// callPayload is the JSON shape inside a tool_call block.
type callPayload struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Parse scans raw model output and returns every well-formed call in
// source order, plus one warning per malformed fragment. An empty call
// slice means the text contains no call syntax and should be treated
// as the final natural-language answer.
func Parse(raw string) ([]Call, []Warning) {
	var calls []Call
	var warnings []Warning

	rest := raw
	for {
		start := strings.Index(rest, startTag)
		if start < 0 {
			break
		}
		after := rest[start+len(startTag):]

		end := strings.Index(after, endTag)
		if end < 0 {
			warnings = append(warnings, Warning{
				Fragment: strings.TrimSpace(rest[start:]),
				Reason:   "unterminated tool_call block",
			})
			break
		}

		fragment := rest[start : start+len(startTag)+end+len(endTag)]
		body := strings.TrimSpace(after[:end])
		rest = after[end+len(endTag):]

		var payload callPayload
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			warnings = append(warnings, Warning{
				Fragment: fragment,
				Reason:   "invalid JSON: " + err.Error(),
			})
			continue
		}
		if payload.Name == "" {
			warnings = append(warnings, Warning{
				Fragment: fragment,
				Reason:   "missing function name",
			})
			continue
		}
		if payload.Arguments == nil {
			payload.Arguments = map[string]any{}
		}

		calls = append(calls, Call{
			Name:      payload.Name,
			Arguments: payload.Arguments,
			Raw:       fragment,
		})
	}

	return calls, warnings
}

// Strip returns raw with every well-formed call block removed, leaving
// only the surrounding natural-language text. Malformed fragments are
// left in place.
func Strip(raw string) string {
	calls, _ := Parse(raw)
	out := raw
	for _, c := range calls {
		out = strings.Replace(out, c.Raw, "", 1)
	}
	return strings.TrimSpace(out)
}

// Render serializes the call back to its textual form. Parsing the
// rendered form yields an equivalent call.
func (c Call) Render() string {
	body, err := json.Marshal(callPayload{Name: c.Name, Arguments: c.Arguments})
	if err != nil {
		// Arguments decoded from JSON always re-marshal.
		return startTag + endTag
	}
	return startTag + string(body) + endTag
}
