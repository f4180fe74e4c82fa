package speech

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/bus"
)

// Scheduler owns the speech-output queue: a single consumer goroutine plays
// items strictly in sequence order, one at a time. CancelAll drops every
// pending item and stops the in-flight one; it is idempotent and safe to
// call concurrently with the consumer loop (the barge-in path).
type Scheduler struct {
	logger   zerolog.Logger
	eventBus *bus.EventBus
	synth    Synthesizer
	sink     Sink

	mu         sync.Mutex
	queue      []Item
	nextSeq    uint64
	generation uint64
	playCancel context.CancelFunc
	wake       chan struct{}
	done       chan struct{}
	running    bool

	onStart func(Item)
	onEnd   func(Item)
}

// NewScheduler creates a stopped scheduler. Call Start to begin consuming.
func NewScheduler(synth Synthesizer, sink Sink, eventBus *bus.EventBus, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger:   logger.With().Str("component", "speech").Logger(),
		eventBus: eventBus,
		synth:    synth,
		sink:     sink,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// OnItemStart registers the callback fired just before an item plays.
func (s *Scheduler) OnItemStart(fn func(Item)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStart = fn
}

// OnItemEnd registers the callback fired after an item finishes or is cut off.
func (s *Scheduler) OnItemEnd(fn func(Item)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnd = fn
}

// Start launches the consumer loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.consumeLoop()
	s.logger.Info().Msg("Speech scheduler started")
}

// Stop shuts the consumer down and drops anything still queued.
func (s *Scheduler) Stop() {
	s.CancelAll()
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.done)
	}
	s.mu.Unlock()
	s.logger.Info().Msg("Speech scheduler stopped")
}

// Generation returns the current cancellation generation. CancelAll bumps
// it, invalidating TryEnqueue calls that captured the old value.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Enqueue appends an item to the queue, assigning its sequence number.
// Returns the queued item (with ID and sequence filled in).
func (s *Scheduler) Enqueue(text string, kind Kind, rate float64) Item {
	s.mu.Lock()
	item := s.enqueueLocked(text, kind, rate)
	s.mu.Unlock()

	s.announceQueued(item)
	return item
}

// TryEnqueue appends an item only if gen still matches the current
// generation. A turn captures the generation when it starts; once barge-in
// cancels playback, the turn's remaining speech carries a stale generation
// and is dropped here instead of playing over the user.
func (s *Scheduler) TryEnqueue(gen uint64, text string, kind Kind, rate float64) (Item, bool) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug().Str("kind", string(kind)).Msg("Dropping speech from interrupted turn")
		return Item{}, false
	}
	item := s.enqueueLocked(text, kind, rate)
	s.mu.Unlock()

	s.announceQueued(item)
	return item, true
}

func (s *Scheduler) enqueueLocked(text string, kind Kind, rate float64) Item {
	s.nextSeq++
	item := Item{
		ID:       uuid.NewString(),
		Text:     text,
		Kind:     kind,
		Rate:     rate,
		Sequence: s.nextSeq,
	}
	s.queue = append(s.queue, item)
	return item
}

func (s *Scheduler) announceQueued(item Item) {
	s.logger.Debug().Str("kind", string(item.Kind)).Uint64("seq", item.Sequence).Msg("Speech item queued")
	if s.eventBus != nil {
		s.eventBus.Publish(bus.Event{
			Type: bus.EventTypeSpeechItemQueued,
			Data: map[string]any{"itemId": item.ID, "kind": string(item.Kind), "seq": item.Sequence},
		})
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// CancelAll drops all queued items and stops the in-flight one. After it
// returns, no audio from previously queued items will start, and the
// generation is bumped so stale TryEnqueue calls are rejected.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	s.generation++
	dropped := len(s.queue)
	s.queue = nil
	cancel := s.playCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if dropped > 0 || cancel != nil {
		s.logger.Info().Int("dropped", dropped).Msg("Speech queue cancelled")
		if s.eventBus != nil {
			s.eventBus.Publish(bus.Event{
				Type: bus.EventTypeSpeechCancelled,
				Data: map[string]any{"dropped": dropped},
			})
		}
	}
}

// Pending returns the number of queued-but-not-started items.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) consumeLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			// Pop and arm cancellation atomically so CancelAll either
			// empties the queue before the pop or cancels the play context
			// we are about to use. No audio starts after cancellation.
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			item := s.queue[0]
			s.queue = s.queue[1:]
			playCtx, cancel := context.WithCancel(context.Background())
			s.playCancel = cancel
			onStart, onEnd := s.onStart, s.onEnd
			s.mu.Unlock()

			s.playItem(playCtx, item, onStart, onEnd)

			s.mu.Lock()
			s.playCancel = nil
			s.mu.Unlock()
			cancel()
		}
	}
}

func (s *Scheduler) playItem(ctx context.Context, item Item, onStart, onEnd func(Item)) {
	if onStart != nil {
		onStart(item)
	}
	if s.eventBus != nil {
		s.eventBus.Publish(bus.Event{
			Type: bus.EventTypeSpeechItemStarted,
			Data: map[string]any{"itemId": item.ID, "kind": string(item.Kind), "seq": item.Sequence},
		})
	}
	defer func() {
		if onEnd != nil {
			onEnd(item)
		}
		if s.eventBus != nil {
			s.eventBus.Publish(bus.Event{
				Type: bus.EventTypeSpeechItemEnded,
				Data: map[string]any{"itemId": item.ID, "seq": item.Sequence},
			})
		}
	}()

	audio, err := s.synth.Synthesize(ctx, item.Text, item.Rate)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Str("itemId", item.ID).Msg("Synthesis failed")
		}
		return
	}

	// Cancellation may have landed between synthesis and playback.
	if ctx.Err() != nil {
		return
	}

	if err := s.sink.Play(ctx, audio); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Str("itemId", item.ID).Msg("Playback failed")
	}
}
