// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types for CortexVoice
const (
	// Session lifecycle events
	EventTypeSessionIdle       EventType = "session.idle"
	EventTypeSessionListening  EventType = "session.listening"
	EventTypeSessionProcessing EventType = "session.processing"
	EventTypeSessionSpeaking   EventType = "session.speaking"
	EventTypeSessionError      EventType = "session.error"
	EventTypeSessionInterrupt  EventType = "session.interrupt"

	// Audio capture events
	EventTypeSpeechStart EventType = "audio.speech_start"
	EventTypeSpeechEnd   EventType = "audio.speech_end"

	// STT events
	EventTypeTranscript        EventType = "stt.transcript"
	EventTypeTranscriptPartial EventType = "stt.partial"

	// Speech output events
	EventTypeSpeechItemQueued  EventType = "speech.item_queued"
	EventTypeSpeechItemStarted EventType = "speech.item_started"
	EventTypeSpeechItemEnded   EventType = "speech.item_ended"
	EventTypeSpeechCancelled   EventType = "speech.cancelled"

	// Conversation events
	EventTypeReasoning    EventType = "voice.reasoning"
	EventTypeAnswer       EventType = "voice.answer"
	EventTypeHistoryReset EventType = "voice.history_reset"

	// Tool events
	EventTypeToolServerConnected    EventType = "tools.server_connected"
	EventTypeToolServerDisconnected EventType = "tools.server_disconnected"
	EventTypeToolCallStarted        EventType = "tools.call_started"
	EventTypeToolCallCompleted      EventType = "tools.call_completed"

	// Config events
	EventTypeConfigReloaded EventType = "config.reloaded"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// SubscribeAll adds a handler that receives every published event.
// Used by the status stream to mirror all transitions to UIs.
func (b *EventBus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, handler)
}

// Publish sends an event to all subscribed handlers
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.all))
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		// Call handlers in goroutines to avoid blocking
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type])+len(b.all))
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
	b.all = nil
}
