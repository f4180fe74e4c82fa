// Package speech provides the sequential, interruptible speech-output
// scheduler for CortexVoice.
package speech

import (
	"context"
)

// Kind distinguishes intermediate reasoning fragments from final answers.
type Kind string

const (
	KindReasoning Kind = "reasoning"
	KindAnswer    Kind = "answer"
)

// Item is one unit of queued speech output.
type Item struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Kind     Kind    `json:"kind"`
	Rate     float64 `json:"rate"`     // playback rate multiplier
	Sequence uint64  `json:"sequence"` // strict playback order
}

// Synthesizer converts text to audio bytes at a given rate. Implemented by
// the external speech engine adapter.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, rate float64) ([]byte, error)
}

// Sink plays synthesized audio. Implementations must honor ctx cancellation
// by stopping playback immediately.
type Sink interface {
	Play(ctx context.Context, audio []byte) error
}
