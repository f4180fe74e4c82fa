package voice

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexvoice/internal/brain"
	"github.com/normanking/cortexvoice/internal/speech"
	"github.com/normanking/cortexvoice/internal/tools"
)

// scriptedModel replays canned responses in order. When the script runs out
// it keeps returning the last response.
type scriptedModel struct {
	responses []*brain.Response
	calls     int
	onCall    func(call int)
}

func (m *scriptedModel) Complete(ctx context.Context, history *brain.History, catalog []tools.Tool) (*brain.Response, error) {
	m.calls++
	if m.onCall != nil {
		m.onCall(m.calls)
	}
	idx := m.calls - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

type staticCatalog struct {
	tools []tools.Tool
}

func (c staticCatalog) ListTools() []tools.Tool {
	return c.tools
}

// echoExecutor returns "ran <name>" for every request and records what it saw.
type echoExecutor struct {
	batches [][]tools.CallRequest
}

func (e *echoExecutor) ExecuteAll(ctx context.Context, reqs []tools.CallRequest) []tools.CallResult {
	e.batches = append(e.batches, reqs)
	out := make([]tools.CallResult, len(reqs))
	for i, req := range reqs {
		out[i] = tools.CallResult{ID: req.ID, Name: req.Name, Text: "ran " + req.Name}
	}
	return out
}

// recordingSpeaker captures enqueued items; bumping gen simulates barge-in
// cancelling playback mid-turn.
type recordingSpeaker struct {
	gen     uint64
	items   []speech.Item
	dropped []string
}

func (s *recordingSpeaker) Generation() uint64 { return s.gen }

func (s *recordingSpeaker) TryEnqueue(gen uint64, text string, kind speech.Kind, rate float64) (speech.Item, bool) {
	if gen != s.gen {
		s.dropped = append(s.dropped, text)
		return speech.Item{}, false
	}
	item := speech.Item{Text: text, Kind: kind, Rate: rate}
	s.items = append(s.items, item)
	return item, true
}

func newTestOrchestrator(model ModelClient, executor ToolExecutor, speaker Speaker) *Orchestrator {
	history := brain.NewHistory(brain.HistoryConfig{SystemPrompt: "You are a voice assistant."})
	catalog := staticCatalog{tools: []tools.Tool{
		{Name: "search", Description: "Search the index", Server: "memory"},
	}}
	return NewOrchestrator(model, catalog, executor, speaker, history, nil, zerolog.Nop(), Config{})
}

func TestOrchestrator_DirectAnswer(t *testing.T) {
	model := &scriptedModel{responses: []*brain.Response{
		{Text: "It's sunny today."},
	}}
	speaker := &recordingSpeaker{}
	o := newTestOrchestrator(model, &echoExecutor{}, speaker)

	answer, err := o.HandleUserTurn(context.Background(), "what's the weather?")
	require.NoError(t, err)
	assert.Equal(t, "It's sunny today.", answer)

	require.Len(t, speaker.items, 1)
	assert.Equal(t, speech.KindAnswer, speaker.items[0].Kind)
	assert.Equal(t, 1.0, speaker.items[0].Rate)

	turns := o.History().Turns()
	require.Len(t, turns, 3) // system, user, assistant
	assert.Equal(t, brain.RoleUser, turns[1].Role)
	assert.Equal(t, brain.RoleAssistant, turns[2].Role)
}

func TestOrchestrator_ToolCallRoundThenAnswer(t *testing.T) {
	model := &scriptedModel{responses: []*brain.Response{
		{ToolCalls: []brain.ToolCall{{ID: "call_1", Name: "search", Arguments: `{"query":"weather"}`}}},
		{Text: "Sunny, 22 degrees."},
	}}
	executor := &echoExecutor{}
	o := newTestOrchestrator(model, executor, &recordingSpeaker{})

	answer, err := o.HandleUserTurn(context.Background(), "what's the weather?")
	require.NoError(t, err)
	assert.Equal(t, "Sunny, 22 degrees.", answer)
	assert.Equal(t, 2, model.calls)

	require.Len(t, executor.batches, 1)
	require.Len(t, executor.batches[0], 1)
	assert.Equal(t, "search", executor.batches[0][0].Name)
	assert.Equal(t, "weather", executor.batches[0][0].Arguments["query"])

	// History replays the tool exchange: user, assistant(calls), tool, assistant.
	turns := o.History().Turns()
	require.Len(t, turns, 5)
	assert.Equal(t, brain.RoleTool, turns[3].Role)
	assert.Equal(t, "ran search", turns[3].Content)
	assert.Equal(t, "call_1", turns[3].ToolCallID)
}

func TestOrchestrator_ThinkingToolSpokenAsReasoning(t *testing.T) {
	model := &scriptedModel{responses: []*brain.Response{
		{ToolCalls: []brain.ToolCall{
			{ID: "call_1", Name: "think", Arguments: `{"thought":"Let me check the index."}`},
			{ID: "call_2", Name: "search", Arguments: `{"query":"notes"}`},
		}},
		{Text: "Found three notes."},
	}}
	executor := &echoExecutor{}
	speaker := &recordingSpeaker{}
	o := newTestOrchestrator(model, executor, speaker)

	answer, err := o.HandleUserTurn(context.Background(), "find my notes")
	require.NoError(t, err)
	assert.Equal(t, "Found three notes.", answer)

	// The thinking call never reaches the executor.
	require.Len(t, executor.batches, 1)
	require.Len(t, executor.batches[0], 1)
	assert.Equal(t, "search", executor.batches[0][0].Name)

	// Reasoning speaks at the fast rate, the answer at normal rate.
	require.Len(t, speaker.items, 2)
	assert.Equal(t, speech.KindReasoning, speaker.items[0].Kind)
	assert.Equal(t, "Let me check the index.", speaker.items[0].Text)
	assert.Equal(t, 1.8, speaker.items[0].Rate)
	assert.Equal(t, speech.KindAnswer, speaker.items[1].Kind)

	// Both calls still get result turns, in call order.
	turns := o.History().Turns()
	var toolTurns []brain.Turn
	for _, turn := range turns {
		if turn.Role == brain.RoleTool {
			toolTurns = append(toolTurns, turn)
		}
	}
	require.Len(t, toolTurns, 2)
	assert.Equal(t, "call_1", toolTurns[0].ToolCallID)
	assert.Equal(t, "Noted.", toolTurns[0].Content)
	assert.Equal(t, "call_2", toolTurns[1].ToolCallID)
}

func TestOrchestrator_MalformedArgumentsFailOnlyThatCall(t *testing.T) {
	model := &scriptedModel{responses: []*brain.Response{
		{ToolCalls: []brain.ToolCall{
			{ID: "call_1", Name: "search", Arguments: `{not valid json`},
			{ID: "call_2", Name: "search", Arguments: `{"query":"ok"}`},
		}},
		{Text: "Done."},
	}}
	executor := &echoExecutor{}
	o := newTestOrchestrator(model, executor, &recordingSpeaker{})

	_, err := o.HandleUserTurn(context.Background(), "do two things")
	require.NoError(t, err)

	// Only the valid call was dispatched.
	require.Len(t, executor.batches, 1)
	require.Len(t, executor.batches[0], 1)
	assert.Equal(t, "call_2", executor.batches[0][0].ID)

	// Both calls got result turns; the malformed one carries an error.
	var toolTurns []brain.Turn
	for _, turn := range o.History().Turns() {
		if turn.Role == brain.RoleTool {
			toolTurns = append(toolTurns, turn)
		}
	}
	require.Len(t, toolTurns, 2)
	assert.True(t, strings.HasPrefix(toolTurns[0].Content, "Error: invalid arguments"))
	assert.Equal(t, "ran search", toolTurns[1].Content)
}

func TestOrchestrator_IterationCeilingYieldsBestEffortAnswer(t *testing.T) {
	// The model never stops asking for tools.
	var responses []*brain.Response
	for i := 0; i < 20; i++ {
		responses = append(responses, &brain.Response{
			ToolCalls: []brain.ToolCall{{
				ID:        fmt.Sprintf("call_%d", i),
				Name:      "search",
				Arguments: `{"query":"more"}`,
			}},
		})
	}
	model := &scriptedModel{responses: responses}
	speaker := &recordingSpeaker{}
	o := newTestOrchestrator(model, &echoExecutor{}, speaker)

	answer, err := o.HandleUserTurn(context.Background(), "keep digging")
	require.NoError(t, err)
	assert.NotEmpty(t, answer)
	assert.Contains(t, answer, "ran search")
	assert.Equal(t, 15, model.calls)

	// The best-effort answer is still spoken.
	require.NotEmpty(t, speaker.items)
	last := speaker.items[len(speaker.items)-1]
	assert.Equal(t, speech.KindAnswer, last.Kind)
}

func TestOrchestrator_InterruptedTurnStopsSpeakingButKeepsHistory(t *testing.T) {
	model := &scriptedModel{responses: []*brain.Response{
		{ToolCalls: []brain.ToolCall{
			{ID: "call_1", Name: "think", Arguments: `{"thought":"Checking the calendar."}`},
		}},
		{Text: "Your meeting is at 3pm."},
	}}
	speaker := &recordingSpeaker{}
	o := newTestOrchestrator(model, &echoExecutor{}, speaker)

	// Playback is cancelled between the reasoning round and the final
	// answer, as a barge-in would do.
	model.onCall = func(call int) {
		if call == 2 {
			speaker.gen++
		}
	}

	answer, err := o.HandleUserTurn(context.Background(), "when is my meeting?")
	require.NoError(t, err)
	assert.Equal(t, "Your meeting is at 3pm.", answer)

	// The reasoning before the interruption played; the answer after it
	// must not.
	require.Len(t, speaker.items, 1)
	assert.Equal(t, speech.KindReasoning, speaker.items[0].Kind)
	assert.Equal(t, []string{"Your meeting is at 3pm."}, speaker.dropped)

	// History still records the full turn.
	turns := o.History().Turns()
	last := turns[len(turns)-1]
	assert.Equal(t, brain.RoleAssistant, last.Role)
	assert.Equal(t, "Your meeting is at 3pm.", last.Content)
}

func TestOrchestrator_EmptyInputIsIgnored(t *testing.T) {
	model := &scriptedModel{responses: []*brain.Response{{Text: "should not be called"}}}
	o := newTestOrchestrator(model, &echoExecutor{}, &recordingSpeaker{})

	answer, err := o.HandleUserTurn(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, answer)
	assert.Equal(t, 0, model.calls)
}

func TestOrchestrator_CatalogCarriesThinkingTool(t *testing.T) {
	o := newTestOrchestrator(&scriptedModel{responses: []*brain.Response{{Text: "ok"}}}, &echoExecutor{}, nil)

	catalog := o.catalogWithThinkingTool()
	require.Len(t, catalog, 2)
	assert.Equal(t, "think", catalog[1].Name)
	props, ok := catalog[1].Schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "thought")
}
