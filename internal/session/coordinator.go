// Package session coordinates the conversation lifecycle: who is talking,
// when listening may start, and how barge-in interrupts playback.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/bus"
	"github.com/normanking/cortexvoice/internal/speech"
	"github.com/normanking/cortexvoice/internal/stt"
)

// State is the coordinator's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
)

var (
	// ErrSpeaking is returned when listening cannot start because the
	// assistant is mid-playback and barge-in is disabled.
	ErrSpeaking = errors.New("assistant is speaking")
	// ErrBusy is returned when a turn is already being processed.
	ErrBusy = errors.New("a turn is already in progress")
)

// ConversationHandler runs one user turn; satisfied by *voice.Orchestrator.
type ConversationHandler interface {
	HandleUserTurn(ctx context.Context, text string) (string, error)
}

// SpeechController is the slice of the speech scheduler the session needs;
// satisfied by *speech.Scheduler.
type SpeechController interface {
	CancelAll()
	Pending() int
	OnItemStart(func(speech.Item))
	OnItemEnd(func(speech.Item))
}

// Config tunes session behavior.
type Config struct {
	// AllowBargeIn lets user speech interrupt assistant playback.
	AllowBargeIn bool
}

// Coordinator owns the session state machine:
//
//	Idle -> Listening -> Processing -> Speaking -> Idle
//
// Barge-in cuts Speaking short and returns to Listening. State transitions
// publish session.* events so the status stream can mirror them.
type Coordinator struct {
	handler  ConversationHandler
	speaker  SpeechController
	filter   *stt.TranscriptFilter
	eventBus *bus.EventBus
	logger   zerolog.Logger
	config   Config

	mu           sync.Mutex
	state        State
	activeItemID string
	processing   bool
	interrupted  bool   // the in-flight turn was barged in on
	turnGen      uint64 // bumps per turn; a superseded turn must not touch state
}

// NewCoordinator wires the state machine to the speech scheduler's item
// callbacks so Speaking tracks actual playback.
func NewCoordinator(handler ConversationHandler, speaker SpeechController, filter *stt.TranscriptFilter, cfg Config, eventBus *bus.EventBus, logger zerolog.Logger) *Coordinator {
	if filter == nil {
		filter = stt.NewTranscriptFilter(nil)
	}

	c := &Coordinator{
		handler:  handler,
		speaker:  speaker,
		filter:   filter,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "session").Logger(),
		config:   cfg,
		state:    StateIdle,
	}

	if speaker != nil {
		speaker.OnItemStart(c.onSpeechItemStart)
		speaker.OnItemEnd(c.onSpeechItemEnd)
	}

	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveSpeechItem returns the ID of the item currently playing, if any.
func (c *Coordinator) ActiveSpeechItem() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeItemID
}

// BeginListening transitions into Listening. While the assistant is speaking
// this fails unless barge-in is allowed, in which case playback is cut off
// first.
func (c *Coordinator) BeginListening() error {
	c.mu.Lock()
	if c.state == StateSpeaking {
		if !c.config.AllowBargeIn {
			c.mu.Unlock()
			return ErrSpeaking
		}
		c.mu.Unlock()
		c.RequestInterrupt()
		c.mu.Lock()
	}
	if c.processing && !c.interrupted {
		c.mu.Unlock()
		return ErrBusy
	}
	c.setStateLocked(StateListening)
	c.mu.Unlock()
	return nil
}

// RequestInterrupt cancels all queued and in-flight speech and moves the
// session to Listening. Safe to call in any state; outside Speaking it only
// clears the queue. A turn still running keeps going (its history survives),
// but its remaining speech is dropped and a new utterance may supersede it.
func (c *Coordinator) RequestInterrupt() {
	if c.speaker != nil {
		c.speaker.CancelAll()
	}

	c.mu.Lock()
	wasSpeaking := c.state == StateSpeaking
	c.activeItemID = ""
	if c.processing {
		c.interrupted = true
	}
	if wasSpeaking {
		c.setStateLocked(StateListening)
	}
	c.mu.Unlock()

	if wasSpeaking {
		c.logger.Info().Msg("Playback interrupted by user")
		if c.eventBus != nil {
			c.eventBus.Publish(bus.Event{Type: bus.EventTypeSessionInterrupt})
		}
	}
}

// EndListening takes the final transcript, filters fillers, and runs the
// conversation turn to completion. Filler-only transcripts return the session
// to Idle without a model round-trip.
func (c *Coordinator) EndListening(ctx context.Context, transcript string) (string, error) {
	cleaned, meaningful := c.filter.Clean(transcript)
	if !meaningful {
		c.logger.Debug().Str("transcript", transcript).Msg("Transcript was filler only, ignoring")
		c.mu.Lock()
		if c.state == StateListening {
			c.setStateLocked(StateIdle)
		}
		c.mu.Unlock()
		return "", nil
	}

	c.mu.Lock()
	if c.processing && !c.interrupted {
		c.mu.Unlock()
		return "", ErrBusy
	}
	// An interrupted turn may still be running; this one supersedes it.
	c.interrupted = false
	c.turnGen++
	gen := c.turnGen
	c.processing = true
	c.setStateLocked(StateProcessing)
	c.mu.Unlock()

	answer, err := c.handler.HandleUserTurn(ctx, cleaned)

	c.mu.Lock()
	if gen != c.turnGen {
		// A newer turn owns the session state now.
		c.mu.Unlock()
		c.logger.Debug().Msg("Superseded turn finished")
		return answer, err
	}
	c.processing = false
	c.interrupted = false
	if err != nil {
		// Keep Listening alive if the user already barged back in.
		if c.state != StateListening {
			c.setStateLocked(StateIdle)
		}
		c.mu.Unlock()

		c.logger.Error().Err(err).Msg("Turn failed")
		if c.eventBus != nil {
			c.eventBus.Publish(bus.Event{
				Type: bus.EventTypeSessionError,
				Data: map[string]any{"error": err.Error()},
			})
		}
		return "", err
	}
	// If the answer queued speech, the item-start callback flips the state
	// to Speaking; otherwise we are done.
	if c.state == StateProcessing {
		c.setStateLocked(StateIdle)
	}
	c.mu.Unlock()

	return answer, nil
}

// onSpeechItemStart marks the session as speaking whichever item just began.
func (c *Coordinator) onSpeechItemStart(item speech.Item) {
	c.mu.Lock()
	c.activeItemID = item.ID
	if c.state != StateSpeaking {
		c.setStateLocked(StateSpeaking)
	}
	c.mu.Unlock()
}

// onSpeechItemEnd returns to Idle once nothing is left to play.
func (c *Coordinator) onSpeechItemEnd(item speech.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeItemID == item.ID {
		c.activeItemID = ""
	}

	// Mid-turn reasoning items end while the turn is still processing; stay
	// out of the way unless playback truly drained.
	if c.state != StateSpeaking {
		return
	}
	if c.processing {
		c.setStateLocked(StateProcessing)
		return
	}
	if c.speaker != nil && c.speaker.Pending() > 0 {
		return
	}
	c.setStateLocked(StateIdle)
}

// setStateLocked updates the state and publishes the matching session event.
// Callers hold c.mu.
func (c *Coordinator) setStateLocked(state State) {
	if c.state == state {
		return
	}
	old := c.state
	c.state = state
	c.logger.Info().Str("old", string(old)).Str("new", string(state)).Msg("Session state changed")

	if c.eventBus == nil {
		return
	}
	var eventType bus.EventType
	switch state {
	case StateIdle:
		eventType = bus.EventTypeSessionIdle
	case StateListening:
		eventType = bus.EventTypeSessionListening
	case StateProcessing:
		eventType = bus.EventTypeSessionProcessing
	case StateSpeaking:
		eventType = bus.EventTypeSessionSpeaking
	}
	c.eventBus.Publish(bus.Event{
		Type: eventType,
		Data: map[string]any{"old": string(old), "new": string(state)},
	})
}
