// Package stt provides Speech-to-Text transcription services for CortexVoice.
package stt

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("STT provider unavailable")
	ErrAudioTooShort       = errors.New("audio too short for transcription")
	ErrTimeout             = errors.New("transcription timeout")
)

// Provider is the interface all STT providers must implement
type Provider interface {
	// Name returns the provider identifier (e.g., "deepgram-streaming")
	Name() string

	// IsAvailable checks if the provider is usable
	IsAvailable() bool

	// Transcribe converts a complete audio buffer to text
	Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error)

	// TranscribeStream handles streaming transcription
	TranscribeStream(ctx context.Context, audioStream <-chan []byte) (<-chan *TranscribeResponse, error)
}

// TranscribeRequest represents a transcription request
type TranscribeRequest struct {
	Audio      []byte `json:"-"`                  // Raw audio data
	Format     string `json:"format,omitempty"`   // Audio format (wav, pcm)
	SampleRate int    `json:"sample_rate"`        // Sample rate in Hz
	Channels   int    `json:"channels"`           // Number of channels
	Language   string `json:"language,omitempty"` // Language code (e.g., "en")
}

// TranscribeResponse represents a transcription result
type TranscribeResponse struct {
	Text           string        `json:"text"`            // Transcribed text
	Confidence     float64       `json:"confidence"`      // Overall confidence (0-1)
	Language       string        `json:"language"`        // Detected/specified language
	Duration       time.Duration `json:"duration"`        // Audio duration
	ProcessingTime time.Duration `json:"processing_time"` // How long transcription took
	Words          []Word        `json:"words,omitempty"` // Word-level timestamps
	IsFinal        bool          `json:"is_final"`        // True if this is a final result
}

// Word represents a word with timestamp
type Word struct {
	Word       string        `json:"word"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float64       `json:"confidence"`
}
