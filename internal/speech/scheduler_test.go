package speech

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSynth returns the text bytes unchanged so tests can match played audio
// back to items.
type fakeSynth struct{}

func (fakeSynth) Synthesize(ctx context.Context, text string, rate float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// blockingSink records played audio and can hold playback open until
// released, to let tests cancel mid-item.
type blockingSink struct {
	mu      sync.Mutex
	played  []string
	started chan string
	release chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (s *blockingSink) Play(ctx context.Context, audio []byte) error {
	s.started <- string(audio)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.release:
	}
	s.mu.Lock()
	s.played = append(s.played, string(audio))
	s.mu.Unlock()
	return nil
}

func (s *blockingSink) Played() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.played))
	copy(out, s.played)
	return out
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playback to start")
		return ""
	}
}

func TestScheduler_PlaysInSequenceOrder(t *testing.T) {
	sink := newBlockingSink()
	close(sink.release) // playback completes immediately

	done := make(chan Item, 16)
	s := NewScheduler(fakeSynth{}, sink, nil, zerolog.Nop())
	s.OnItemEnd(func(item Item) { done <- item })
	s.Start()
	defer s.Stop()

	s.Enqueue("one", KindReasoning, 1.8)
	s.Enqueue("two", KindReasoning, 1.8)
	s.Enqueue("three", KindAnswer, 1.0)

	var seqs []uint64
	for i := 0; i < 3; i++ {
		select {
		case item := <-done:
			seqs = append(seqs, item.Sequence)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for items")
		}
	}

	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("items played out of sequence order: %v", seqs)
		}
	}
	if got := sink.Played(); len(got) != 3 || got[0] != "one" || got[1] != "two" || got[2] != "three" {
		t.Fatalf("unexpected playback order: %v", got)
	}
}

func TestScheduler_CancelAllDropsQueuedAndInFlight(t *testing.T) {
	sink := newBlockingSink()

	s := NewScheduler(fakeSynth{}, sink, nil, zerolog.Nop())
	s.Start()
	defer s.Stop()

	s.Enqueue("A", KindReasoning, 1.8)
	s.Enqueue("B", KindAnswer, 1.0)

	// A is mid-playback, B still queued.
	waitFor(t, sink.started)

	s.CancelAll()

	// After cancellation, enqueue C; only C may be heard.
	close(sink.release)
	s.Enqueue("C", KindAnswer, 1.0)

	deadline := time.After(2 * time.Second)
	for {
		played := sink.Played()
		if len(played) > 0 {
			if len(played) != 1 || played[0] != "C" {
				t.Fatalf("expected only C to play, got %v", played)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("C never played")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestScheduler_TryEnqueueDropsStaleGeneration(t *testing.T) {
	sink := newBlockingSink()
	close(sink.release)

	s := NewScheduler(fakeSynth{}, sink, nil, zerolog.Nop())

	gen := s.Generation()
	if _, ok := s.TryEnqueue(gen, "before cancel", KindReasoning, 1.8); !ok {
		t.Fatal("enqueue with current generation must be accepted")
	}

	s.CancelAll()

	// The old generation is dead: nothing captured before the cancellation
	// may queue speech anymore.
	if _, ok := s.TryEnqueue(gen, "after cancel", KindAnswer, 1.0); ok {
		t.Fatal("enqueue with stale generation must be dropped")
	}
	if s.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d pending", s.Pending())
	}

	// A fresh generation queues normally.
	if _, ok := s.TryEnqueue(s.Generation(), "new turn", KindAnswer, 1.0); !ok {
		t.Fatal("enqueue with fresh generation must be accepted")
	}
	if s.Pending() != 1 {
		t.Fatalf("expected 1 pending item, got %d", s.Pending())
	}
}

func TestScheduler_CancelAllIsIdempotent(t *testing.T) {
	sink := newBlockingSink()
	close(sink.release)

	s := NewScheduler(fakeSynth{}, sink, nil, zerolog.Nop())
	s.Start()
	defer s.Stop()

	s.CancelAll()
	s.CancelAll()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.CancelAll()
		}()
	}
	wg.Wait()
}

func TestScheduler_ReportsStartAndEndTransitions(t *testing.T) {
	sink := newBlockingSink()
	close(sink.release)

	started := make(chan Item, 1)
	ended := make(chan Item, 1)
	s := NewScheduler(fakeSynth{}, sink, nil, zerolog.Nop())
	s.OnItemStart(func(item Item) { started <- item })
	s.OnItemEnd(func(item Item) { ended <- item })
	s.Start()
	defer s.Stop()

	queued := s.Enqueue("hello", KindAnswer, 1.0)

	select {
	case item := <-started:
		if item.ID != queued.ID {
			t.Errorf("started callback for wrong item: %s", item.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("start callback never fired")
	}
	select {
	case item := <-ended:
		if item.ID != queued.ID {
			t.Errorf("end callback for wrong item: %s", item.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("end callback never fired")
	}
}
