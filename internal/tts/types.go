// Package tts provides Text-to-Speech synthesis services for CortexVoice.
package tts

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("TTS provider unavailable")
	ErrTextTooLong         = errors.New("text exceeds maximum length")
	ErrTimeout             = errors.New("synthesis timeout")
)

// Provider is the interface all TTS providers must implement
type Provider interface {
	// Name returns the provider identifier (e.g., "openai")
	Name() string

	// Synthesize converts text to audio
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)

	// IsAvailable checks if the provider is usable
	IsAvailable() bool
}

// SynthesizeRequest represents a synthesis request
type SynthesizeRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed,omitempty"`  // 0.25 to 4.0
	Format  string  `json:"format,omitempty"` // wav, mp3, opus
}

// SynthesizeResponse represents a synthesis result
type SynthesizeResponse struct {
	Audio          []byte        `json:"audio"`           // Raw audio data
	Format         string        `json:"format"`          // Audio format
	SampleRate     int           `json:"sample_rate"`     // Sample rate in Hz
	ProcessingTime time.Duration `json:"processing_time"` // How long synthesis took
	VoiceID        string        `json:"voice_id"`        // Voice used
	Provider       string        `json:"provider"`        // Provider name
}

// Engine adapts a Provider to the speech scheduler's synthesizer contract:
// text plus a rate multiplier in, audio bytes out.
type Engine struct {
	provider Provider
	voice    string
}

// NewEngine wraps a provider with a fixed voice.
func NewEngine(provider Provider, voice string) *Engine {
	return &Engine{provider: provider, voice: voice}
}

// Synthesize converts text to audio at the given rate multiplier.
func (e *Engine) Synthesize(ctx context.Context, text string, rate float64) ([]byte, error) {
	if e.provider == nil || !e.provider.IsAvailable() {
		return nil, ErrProviderUnavailable
	}
	resp, err := e.provider.Synthesize(ctx, &SynthesizeRequest{
		Text:    text,
		VoiceID: e.voice,
		Speed:   rate,
	})
	if err != nil {
		return nil, err
	}
	return resp.Audio, nil
}
