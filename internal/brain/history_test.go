package brain

import (
	"fmt"
	"testing"
)

func TestNewHistory_SeedsSystemTurn(t *testing.T) {
	h := NewHistory(HistoryConfig{SystemPrompt: "You are a voice assistant."})

	if h.Len() != 1 {
		t.Fatalf("expected 1 turn, got %d", h.Len())
	}
	turns := h.Turns()
	if turns[0].Role != RoleSystem {
		t.Errorf("expected system role, got %s", turns[0].Role)
	}
	if turns[0].Content != "You are a voice assistant." {
		t.Errorf("unexpected system content: %s", turns[0].Content)
	}
}

func TestNewHistory_DefaultMaxTurns(t *testing.T) {
	h := NewHistory(HistoryConfig{})
	if h.config.MaxTurns != 40 {
		t.Errorf("expected default MaxTurns=40, got %d", h.config.MaxTurns)
	}
}

func TestHistory_AppendAndSnapshot(t *testing.T) {
	h := NewHistory(HistoryConfig{SystemPrompt: "sys"})

	h.AppendUser("hello")
	h.AppendAssistant("hi there", nil)

	turns := h.Turns()
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[1].Role != RoleUser || turns[1].Content != "hello" {
		t.Errorf("unexpected user turn: %+v", turns[1])
	}
	if turns[2].Role != RoleAssistant || turns[2].Content != "hi there" {
		t.Errorf("unexpected assistant turn: %+v", turns[2])
	}

	// Snapshot must be a copy, not a live reference
	turns[1].Content = "mutated"
	if h.Turns()[1].Content != "hello" {
		t.Error("expected snapshot mutation not to affect history")
	}
}

func TestHistory_Clear_ResetsToSystemTurn(t *testing.T) {
	h := NewHistory(HistoryConfig{SystemPrompt: "sys"})
	h.AppendUser("one")
	h.AppendAssistant("two", nil)

	h.Clear()

	if h.Len() != 1 {
		t.Fatalf("expected only system turn after clear, got %d", h.Len())
	}
	if h.Turns()[0].Role != RoleSystem {
		t.Error("expected system turn to survive clear")
	}
}

func TestHistory_TrimsSlidingWindow(t *testing.T) {
	h := NewHistory(HistoryConfig{SystemPrompt: "sys", MaxTurns: 4})

	for i := 0; i < 5; i++ {
		h.AppendUser(fmt.Sprintf("question %d", i))
		h.AppendAssistant(fmt.Sprintf("answer %d", i), nil)
	}

	turns := h.Turns()
	if turns[0].Role != RoleSystem {
		t.Fatal("expected system turn to survive trimming")
	}
	if len(turns) > 5 { // system + MaxTurns
		t.Errorf("expected at most 5 turns, got %d", len(turns))
	}
	// Window must start on a user turn
	if turns[1].Role != RoleUser {
		t.Errorf("expected window to start on user turn, got %s", turns[1].Role)
	}
	if turns[len(turns)-1].Content != "answer 4" {
		t.Errorf("expected newest turn to survive, got %s", turns[len(turns)-1].Content)
	}
}

func TestHistory_TrimNeverSplitsToolResults(t *testing.T) {
	h := NewHistory(HistoryConfig{SystemPrompt: "sys", MaxTurns: 3})

	h.AppendUser("first")
	h.AppendAssistant("", []ToolCall{{ID: "c1", Name: "search", Arguments: "{}"}})
	h.AppendToolResult("c1", "result one")
	h.AppendUser("second")
	h.AppendAssistant("done", nil)

	turns := h.Turns()
	for _, turn := range turns {
		if turn.Role == RoleTool {
			// If a tool result survived, its assistant turn must precede it
			found := false
			for _, prev := range turns {
				if prev.Role == RoleAssistant && len(prev.ToolCalls) > 0 {
					found = true
				}
				if prev.ToolCallID == turn.ToolCallID && found {
					break
				}
			}
			if !found {
				t.Error("tool result turn kept without its assistant tool-call turn")
			}
		}
	}
	if turns[1].Role != RoleUser {
		t.Errorf("expected trim cut on a user turn, got %s", turns[1].Role)
	}
}

func TestHistory_SuccessfulToolOutputs(t *testing.T) {
	h := NewHistory(HistoryConfig{SystemPrompt: "sys"})
	h.AppendToolResult("c1", "meeting at 3pm")
	h.AppendToolResult("c2", "Error: calendar offline")
	h.AppendToolResult("c3", "two notes found")

	outputs := h.SuccessfulToolOutputs()
	if len(outputs) != 2 {
		t.Fatalf("expected 2 successful outputs, got %d", len(outputs))
	}
	if outputs[0] != "meeting at 3pm" || outputs[1] != "two notes found" {
		t.Errorf("unexpected outputs: %v", outputs)
	}
}

func TestHistory_LastAssistantText(t *testing.T) {
	h := NewHistory(HistoryConfig{SystemPrompt: "sys"})
	if h.LastAssistantText() != "" {
		t.Error("expected empty text with no assistant turns")
	}

	h.AppendAssistant("first answer", nil)
	h.AppendUser("follow up")
	h.AppendAssistant("second answer", nil)

	if got := h.LastAssistantText(); got != "second answer" {
		t.Errorf("expected most recent assistant text, got %q", got)
	}
}
