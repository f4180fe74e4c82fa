// Package tools provides the tool registry and dispatcher for CortexVoice.
// Tools live on external MCP servers; the registry exposes them as one flat
// namespace and the dispatcher executes batches of calls against it.
package tools

import (
	"errors"
)

// Common errors
var (
	ErrUnknownTool       = errors.New("unknown tool")
	ErrServerUnavailable = errors.New("tool server unavailable")
	ErrCallTimeout       = errors.New("tool call timeout")
)

// Tool is one callable operation discovered on a tool server.
// Immutable after registration; discarded when its server disconnects.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"` // sanitized parameter schema
	Server      string         `json:"server"` // owning server name
}

// CallRequest is one tool invocation requested by the model.
type CallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CallResult is the outcome of one CallRequest. Exactly one result is
// produced per request; failures are carried in Err, never dropped.
type CallResult struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text,omitempty"`
	Err  string `json:"error,omitempty"`
}

// OK reports whether the call succeeded.
func (r CallResult) OK() bool {
	return r.Err == ""
}

// Output returns the text to feed back to the model, with errors rendered
// as plain text so the model always receives closure on every call.
func (r CallResult) Output() string {
	if r.Err != "" {
		return "Error: " + r.Err
	}
	return r.Text
}

// errResult builds a failed result for a request.
func errResult(req CallRequest, msg string) CallResult {
	return CallResult{ID: req.ID, Name: req.Name, Err: msg}
}
