// Package audio provides microphone capture coordination and VAD for CortexVoice.
package audio

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrCaptureNotStarted = errors.New("capture not started")
	ErrInvalidFormat     = errors.New("invalid audio format")
	ErrBufferFull        = errors.New("audio buffer full")
)

// Format represents audio encoding format
type Format string

const (
	FormatWAV Format = "wav"
	FormatPCM Format = "pcm"
	FormatMP3 Format = "mp3"
)

// CaptureConfig holds microphone capture configuration
type CaptureConfig struct {
	SampleRate      int     `json:"sample_rate"`       // Default: 16000 Hz for STT
	Channels        int     `json:"channels"`          // Default: 1 (mono)
	BitDepth        int     `json:"bit_depth"`         // Default: 16
	ChunkDurationMs int     `json:"chunk_duration_ms"` // Default: 100ms
	VADThreshold    float64 `json:"vad_threshold"`     // Default: 0.01
	SmoothingFrames int     `json:"smoothing_frames"`  // VAD smoothing window, default 5
	MaxSilenceMs    int     `json:"max_silence_ms"`    // Silence before speech end, default 500
	MinSpeechMs     int     `json:"min_speech_ms"`     // Minimum speech duration, default 250
}

// DefaultCaptureConfig returns sensible defaults
func DefaultCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		SampleRate:      16000,
		Channels:        1,
		BitDepth:        16,
		ChunkDurationMs: 100,
		VADThreshold:    0.01,
		SmoothingFrames: 5,
		MaxSilenceMs:    500,
		MinSpeechMs:     250,
	}
}

// Chunk represents one captured audio chunk
type Chunk struct {
	Data       []byte        `json:"data"`        // Raw audio bytes
	Format     Format        `json:"format"`      // Audio format
	SampleRate int           `json:"sample_rate"` // Sample rate in Hz
	Channels   int           `json:"channels"`    // Number of channels
	Duration   time.Duration `json:"duration"`    // Duration of this chunk
	Timestamp  time.Time     `json:"timestamp"`   // When this chunk was captured
	IsSpeech   bool          `json:"is_speech"`   // VAD result
	RMS        float64       `json:"rms"`         // Root mean square (volume level)
}

// VADResult represents the result of voice activity detection
type VADResult struct {
	IsSpeech   bool    `json:"is_speech"`
	Confidence float64 `json:"confidence"`
	RMS        float64 `json:"rms"`
}

// SpeechSegment represents a complete speech segment
type SpeechSegment struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Audio     []byte        `json:"audio"`
	Format    Format        `json:"format"`
}
