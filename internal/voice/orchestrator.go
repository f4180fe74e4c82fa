// Package voice runs the conversation loop: user turns go in, the model
// reasons (possibly across several tool-call rounds), and spoken answers
// come out through the speech scheduler.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/brain"
	"github.com/normanking/cortexvoice/internal/bus"
	"github.com/normanking/cortexvoice/internal/speech"
	"github.com/normanking/cortexvoice/internal/tools"
)

const (
	defaultMaxIterations = 15
	defaultThinkingTool  = "think"
	defaultReasoningRate = 1.8
	defaultAnswerRate    = 1.0
)

// ModelClient is the completion seam; satisfied by *brain.Client.
type ModelClient interface {
	Complete(ctx context.Context, history *brain.History, catalog []tools.Tool) (*brain.Response, error)
}

// ToolSource provides the current tool catalog; satisfied by *tools.Registry.
type ToolSource interface {
	ListTools() []tools.Tool
}

// ToolExecutor runs batches of tool calls; satisfied by *tools.Dispatcher.
type ToolExecutor interface {
	ExecuteAll(ctx context.Context, reqs []tools.CallRequest) []tools.CallResult
}

// Speaker queues speech output; satisfied by *speech.Scheduler. A turn
// captures Generation once at its start and passes it to every TryEnqueue:
// after barge-in cancels playback, the turn's remaining speech carries the
// stale generation and is dropped instead of played.
type Speaker interface {
	Generation() uint64
	TryEnqueue(gen uint64, text string, kind speech.Kind, rate float64) (speech.Item, bool)
}

// Config tunes the orchestration loop.
type Config struct {
	MaxIterations int     // tool-call rounds per user turn, default 15
	ThinkingTool  string  // virtual tool name spoken as reasoning, default "think"
	ReasoningRate float64 // playback rate for reasoning fragments, default 1.8
	AnswerRate    float64 // playback rate for final answers, default 1.0
}

// Orchestrator drives one conversation: it owns the history and runs the
// submit / tool-call / resubmit loop until the model produces a final answer
// or the iteration ceiling is hit.
type Orchestrator struct {
	model    ModelClient
	catalog  ToolSource
	executor ToolExecutor
	speaker  Speaker
	history  *brain.History
	eventBus *bus.EventBus
	logger   zerolog.Logger
	config   Config
}

// NewOrchestrator wires the conversation loop together.
func NewOrchestrator(model ModelClient, catalog ToolSource, executor ToolExecutor, speaker Speaker, history *brain.History, eventBus *bus.EventBus, logger zerolog.Logger, cfg Config) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.ThinkingTool == "" {
		cfg.ThinkingTool = defaultThinkingTool
	}
	if cfg.ReasoningRate <= 0 {
		cfg.ReasoningRate = defaultReasoningRate
	}
	if cfg.AnswerRate <= 0 {
		cfg.AnswerRate = defaultAnswerRate
	}

	return &Orchestrator{
		model:    model,
		catalog:  catalog,
		executor: executor,
		speaker:  speaker,
		history:  history,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "voice").Logger(),
		config:   cfg,
	}
}

// History exposes the conversation history (for the session and status layers).
func (o *Orchestrator) History() *brain.History {
	return o.history
}

// ResetHistory clears the conversation back to the system prompt.
func (o *Orchestrator) ResetHistory() {
	o.history.Clear()
	o.logger.Info().Msg("Conversation history reset")
	if o.eventBus != nil {
		o.eventBus.Publish(bus.Event{Type: bus.EventTypeHistoryReset})
	}
}

// HandleUserTurn processes one user utterance to completion and returns the
// final answer text. The answer (and any reasoning along the way) is also
// queued on the speech scheduler.
func (o *Orchestrator) HandleUserTurn(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	o.logger.Info().Str("text", text).Msg("User turn started")
	o.history.AppendUser(text)

	catalog := o.catalogWithThinkingTool()

	// The generation ties this turn's speech to the cancellation state at
	// its start. Barge-in bumps it, after which the turn keeps running (its
	// history survives) but enqueues no more audio.
	var gen uint64
	if o.speaker != nil {
		gen = o.speaker.Generation()
	}

	for iteration := 0; iteration < o.config.MaxIterations; iteration++ {
		resp, err := o.model.Complete(ctx, o.history, catalog)
		if err != nil {
			return "", fmt.Errorf("model turn: %w", err)
		}

		if !resp.HasToolCalls() {
			answer := strings.TrimSpace(resp.Text)
			o.history.AppendAssistant(answer, nil)
			o.speakAnswer(answer, gen)
			o.logger.Info().Int("iterations", iteration+1).Msg("User turn completed")
			return answer, nil
		}

		o.history.AppendAssistant(resp.Text, resp.ToolCalls)
		o.runToolCalls(ctx, resp.ToolCalls, gen)
	}

	// Iteration ceiling: synthesize a best-effort answer from whatever the
	// tools returned instead of going silent.
	answer := o.bestEffortAnswer()
	o.logger.Warn().Int("maxIterations", o.config.MaxIterations).Msg("Iteration ceiling reached, answering best-effort")
	o.history.AppendAssistant(answer, nil)
	o.speakAnswer(answer, gen)
	return answer, nil
}

// runToolCalls executes one round of tool calls and appends exactly one
// result turn per call, in call order.
func (o *Orchestrator) runToolCalls(ctx context.Context, calls []brain.ToolCall, gen uint64) {
	results := make([]tools.CallResult, len(calls))

	var reqs []tools.CallRequest
	var reqIdx []int

	for i, call := range calls {
		if call.Name == o.config.ThinkingTool {
			results[i] = tools.CallResult{ID: call.ID, Name: call.Name, Text: o.handleThinking(call, gen)}
			continue
		}

		args, err := parseArguments(call.Arguments)
		if err != nil {
			// Malformed arguments fail that call only; the model still
			// receives a result for it.
			o.logger.Warn().Str("tool", call.Name).Err(err).Msg("Malformed tool arguments")
			results[i] = tools.CallResult{ID: call.ID, Name: call.Name, Err: fmt.Sprintf("invalid arguments: %v", err)}
			continue
		}

		reqs = append(reqs, tools.CallRequest{ID: call.ID, Name: call.Name, Arguments: args})
		reqIdx = append(reqIdx, i)
	}

	if len(reqs) > 0 {
		executed := o.executor.ExecuteAll(ctx, reqs)
		for j, res := range executed {
			results[reqIdx[j]] = res
		}
	}

	for i, call := range calls {
		o.history.AppendToolResult(call.ID, results[i].Output())
	}
}

// handleThinking speaks a reasoning fragment aloud at the faster rate and
// acknowledges the call so the model keeps going. Once the turn is
// interrupted the fragment is dropped silently; the model still gets its
// result turn.
func (o *Orchestrator) handleThinking(call brain.ToolCall, gen uint64) string {
	var payload struct {
		Thought string `json:"thought"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &payload); err != nil || strings.TrimSpace(payload.Thought) == "" {
		return "Noted."
	}

	thought := strings.TrimSpace(payload.Thought)
	o.logger.Debug().Str("thought", thought).Msg("Reasoning aloud")
	if o.speaker != nil {
		if _, ok := o.speaker.TryEnqueue(gen, thought, speech.KindReasoning, o.config.ReasoningRate); !ok {
			return "Noted."
		}
	}
	if o.eventBus != nil {
		o.eventBus.Publish(bus.Event{
			Type: bus.EventTypeReasoning,
			Data: map[string]any{"text": thought},
		})
	}
	return "Noted."
}

func (o *Orchestrator) speakAnswer(answer string, gen uint64) {
	if answer == "" {
		return
	}
	if o.speaker != nil {
		if _, ok := o.speaker.TryEnqueue(gen, answer, speech.KindAnswer, o.config.AnswerRate); !ok {
			return
		}
	}
	if o.eventBus != nil {
		o.eventBus.Publish(bus.Event{
			Type: bus.EventTypeAnswer,
			Data: map[string]any{"text": answer},
		})
	}
}

// bestEffortAnswer builds a reply from successful tool outputs gathered so
// far. Never returns empty text.
func (o *Orchestrator) bestEffortAnswer() string {
	outputs := o.history.SuccessfulToolOutputs()
	if len(outputs) == 0 {
		return "I wasn't able to complete that request."
	}

	// Keep it short enough to speak.
	joined := strings.Join(outputs, " ")
	if len(joined) > 600 {
		joined = joined[:600] + "..."
	}
	return "Here's what I found so far: " + joined
}

// catalogWithThinkingTool appends the virtual thinking tool to the server
// catalog. The model calls it like any other tool; the orchestrator handles
// it locally.
func (o *Orchestrator) catalogWithThinkingTool() []tools.Tool {
	catalog := o.catalog.ListTools()
	out := make([]tools.Tool, 0, len(catalog)+1)
	out = append(out, catalog...)
	out = append(out, tools.Tool{
		Name:        o.config.ThinkingTool,
		Description: "Say a short thought out loud while you work. Use this to narrate your reasoning between tool calls.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"thought": map[string]any{
					"type":        "string",
					"description": "The thought to speak aloud, one or two sentences.",
				},
			},
			"required": []any{"thought"},
		},
	})
	return out
}

// parseArguments decodes the raw JSON arguments a model attached to a call.
// Empty arguments are a valid empty object.
func parseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
