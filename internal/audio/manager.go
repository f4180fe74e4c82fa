package audio

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/bus"
)

// Manager runs VAD over incoming PCM chunks and accumulates speech segments.
// Capture devices feed chunks in via ProcessChunk; the manager decides where
// utterances begin and end and hands completed segments to the registered
// callback.
type Manager struct {
	config   *CaptureConfig
	vad      *VAD
	eventBus *bus.EventBus
	logger   zerolog.Logger

	speechMu     sync.Mutex
	speechBuffer []byte
	speechStart  time.Time
	speechActive bool

	callbackMu    sync.RWMutex
	onSpeechStart func()
	onSpeechEnd   func(segment *SpeechSegment)
	onChunk       func(chunk *Chunk)
}

// NewManager creates an audio manager with its own VAD.
func NewManager(config *CaptureConfig, eventBus *bus.EventBus, logger zerolog.Logger) *Manager {
	if config == nil {
		config = DefaultCaptureConfig()
	}

	smoothing := config.SmoothingFrames
	if smoothing <= 0 {
		smoothing = 5
	}
	vad := NewVAD(&VADConfig{
		Threshold:       config.VADThreshold,
		SmoothingFrames: smoothing,
		MinSpeechMs:     config.MinSpeechMs,
		MaxSilenceMs:    config.MaxSilenceMs,
	})

	return &Manager{
		config:       config,
		vad:          vad,
		eventBus:     eventBus,
		logger:       logger.With().Str("component", "audio").Logger(),
		speechBuffer: make([]byte, 0, config.SampleRate*2*10), // 10s at 16-bit mono
	}
}

// OnSpeechStart registers a callback for when speech starts. Used for
// barge-in: the session interrupts playback the moment the user speaks.
func (m *Manager) OnSpeechStart(callback func()) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.onSpeechStart = callback
}

// OnSpeechEnd registers a callback for completed speech segments.
func (m *Manager) OnSpeechEnd(callback func(segment *SpeechSegment)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.onSpeechEnd = callback
}

// OnChunk registers a callback invoked for every processed chunk, speech or
// not. Streaming STT taps this.
func (m *Manager) OnChunk(callback func(chunk *Chunk)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.onChunk = callback
}

// ProcessChunk runs VAD on raw PCM data and advances the speech accumulator.
func (m *Manager) ProcessChunk(pcm []byte) {
	result := m.vad.Process(pcm, m.config.BitDepth)

	chunk := &Chunk{
		Data:       pcm,
		Format:     FormatPCM,
		SampleRate: m.config.SampleRate,
		Channels:   m.config.Channels,
		Timestamp:  time.Now(),
		IsSpeech:   result.IsSpeech,
		RMS:        result.RMS,
	}

	bytesPerSample := m.config.BitDepth / 8
	samples := len(pcm) / (bytesPerSample * m.config.Channels)
	chunk.Duration = time.Duration(samples) * time.Second / time.Duration(m.config.SampleRate)

	m.callbackMu.RLock()
	onChunk := m.onChunk
	m.callbackMu.RUnlock()
	if onChunk != nil {
		onChunk(chunk)
	}

	m.handleSpeechDetection(chunk)
}

func (m *Manager) handleSpeechDetection(chunk *Chunk) {
	m.speechMu.Lock()
	defer m.speechMu.Unlock()

	if chunk.IsSpeech {
		if !m.speechActive {
			m.speechActive = true
			m.speechStart = chunk.Timestamp
			m.speechBuffer = m.speechBuffer[:0]

			m.logger.Debug().Msg("Speech started")

			m.callbackMu.RLock()
			callback := m.onSpeechStart
			m.callbackMu.RUnlock()
			if callback != nil {
				go callback()
			}

			if m.eventBus != nil {
				m.eventBus.Publish(bus.Event{
					Type: bus.EventTypeSpeechStart,
					Data: map[string]any{"timestamp": chunk.Timestamp},
				})
			}
		}

		m.speechBuffer = append(m.speechBuffer, chunk.Data...)
		return
	}

	if !m.speechActive {
		return
	}

	// Speech ended
	m.speechActive = false
	endTime := chunk.Timestamp
	duration := endTime.Sub(m.speechStart)

	if duration < time.Duration(m.config.MinSpeechMs)*time.Millisecond {
		m.logger.Debug().Dur("duration", duration).Msg("Speech segment too short, discarding")
		m.speechBuffer = m.speechBuffer[:0]
		return
	}

	audio := make([]byte, len(m.speechBuffer))
	copy(audio, m.speechBuffer)
	m.speechBuffer = m.speechBuffer[:0]

	segment := &SpeechSegment{
		StartTime: m.speechStart,
		EndTime:   endTime,
		Duration:  duration,
		Audio:     audio,
		Format:    FormatPCM,
	}

	m.logger.Debug().Dur("duration", duration).Int("bytes", len(audio)).Msg("Speech ended")

	m.callbackMu.RLock()
	callback := m.onSpeechEnd
	m.callbackMu.RUnlock()
	if callback != nil {
		go callback(segment)
	}

	if m.eventBus != nil {
		m.eventBus.Publish(bus.Event{
			Type: bus.EventTypeSpeechEnd,
			Data: map[string]any{"duration": duration, "audio_len": len(audio)},
		})
	}
}

// Reset clears VAD state and any partial speech accumulation.
func (m *Manager) Reset() {
	m.speechMu.Lock()
	m.speechActive = false
	m.speechBuffer = m.speechBuffer[:0]
	m.speechMu.Unlock()
	m.vad.Reset()
}

// Config returns the capture configuration.
func (m *Manager) Config() *CaptureConfig {
	return m.config
}
