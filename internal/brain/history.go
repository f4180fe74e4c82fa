package brain

import (
	"sync"
	"time"
)

// HistoryConfig configures the conversation history window.
type HistoryConfig struct {
	// SystemPrompt is the initial system turn; survives Clear and trimming.
	SystemPrompt string
	// MaxTurns is the maximum number of non-system turns to retain
	// (default: 40). Unlimited growth is not safe against model context
	// limits, so older turns fall off a sliding window.
	MaxTurns int
}

// History tracks the ordered conversation turns for one session.
// Append-only except for Clear, which resets to the system turn. Owned by a
// single writer (the orchestrator); readers get snapshot copies.
type History struct {
	mu     sync.RWMutex
	turns  []Turn
	config HistoryConfig
}

// NewHistory creates a History seeded with the system turn.
func NewHistory(config HistoryConfig) *History {
	if config.MaxTurns <= 0 {
		config.MaxTurns = 40
	}

	h := &History{config: config}
	h.reset()
	return h
}

func (h *History) reset() {
	h.turns = h.turns[:0]
	if h.config.SystemPrompt != "" {
		h.turns = append(h.turns, Turn{
			Role:      RoleSystem,
			Content:   h.config.SystemPrompt,
			Timestamp: time.Now(),
		})
	}
}

// Append records a turn and trims the window if needed.
func (h *History) Append(turn Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	h.turns = append(h.turns, turn)
	h.trimLocked()
}

// AppendUser records a user turn.
func (h *History) AppendUser(text string) {
	h.Append(Turn{Role: RoleUser, Content: text})
}

// AppendAssistant records an assistant turn, with any tool calls it made.
func (h *History) AppendAssistant(text string, calls []ToolCall) {
	h.Append(Turn{Role: RoleAssistant, Content: text, ToolCalls: calls})
}

// AppendToolResult records one tool result turn keyed to its call.
func (h *History) AppendToolResult(callID, output string) {
	h.Append(Turn{Role: RoleTool, Content: output, ToolCallID: callID})
}

// trimLocked enforces the sliding window. The cut always lands on a user
// turn so an assistant tool-call turn is never separated from its results.
func (h *History) trimLocked() {
	systemTurns := 0
	if len(h.turns) > 0 && h.turns[0].Role == RoleSystem {
		systemTurns = 1
	}

	excess := len(h.turns) - systemTurns - h.config.MaxTurns
	if excess <= 0 {
		return
	}

	cut := systemTurns + excess
	for cut < len(h.turns) && h.turns[cut].Role != RoleUser {
		cut++
	}

	kept := h.turns[:systemTurns]
	h.turns = append(kept, h.turns[cut:]...)
}

// Turns returns a copy of all turns.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns, including the system turn.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Clear resets the history to the initial system turn.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reset()
}

// LastAssistantText returns the content of the most recent assistant turn,
// or empty if none exists.
func (h *History) LastAssistantText() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].Role == RoleAssistant && h.turns[i].Content != "" {
			return h.turns[i].Content
		}
	}
	return ""
}

// SuccessfulToolOutputs returns the text of tool result turns that did not
// carry an error, oldest first. Used to synthesize a best-effort answer when
// the iteration ceiling is reached.
func (h *History) SuccessfulToolOutputs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []string
	for _, turn := range h.turns {
		if turn.Role != RoleTool || turn.Content == "" {
			continue
		}
		if len(turn.Content) >= 6 && turn.Content[:6] == "Error:" {
			continue
		}
		out = append(out, turn.Content)
	}
	return out
}
