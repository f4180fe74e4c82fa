package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const deepgramModel = "nova-2"

// deepgramWSEndpoint is a var so tests can point it at a local server.
var deepgramWSEndpoint = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider streams PCM audio to Deepgram over a WebSocket and emits
// interim and final transcripts as they arrive.
type DeepgramProvider struct {
	apiKey string
	logger zerolog.Logger
	config *DeepgramConfig

	conn        *websocket.Conn
	connMu      sync.Mutex
	isConnected bool

	transcriptCh chan *TranscribeResponse
	closeCh      chan struct{}
}

// DeepgramConfig holds Deepgram streaming configuration
type DeepgramConfig struct {
	APIKey         string        `json:"api_key"`
	Model          string        `json:"model"`
	Language       string        `json:"language"`
	SampleRate     int           `json:"sample_rate"`
	Encoding       string        `json:"encoding"`
	Channels       int           `json:"channels"`
	InterimResults bool          `json:"interim_results"`
	Punctuate      bool          `json:"punctuate"`
	Timeout        time.Duration `json:"timeout"`
}

// DefaultDeepgramConfig returns sensible defaults for 16kHz mono PCM
func DefaultDeepgramConfig() *DeepgramConfig {
	return &DeepgramConfig{
		Model:          deepgramModel,
		Language:       "en-US",
		SampleRate:     16000,
		Encoding:       "linear16",
		Channels:       1,
		InterimResults: true,
		Punctuate:      true,
		Timeout:        30 * time.Second,
	}
}

// NewDeepgramProvider creates a streaming Deepgram provider. The API key
// falls back to the DEEPGRAM_API_KEY environment variable.
func NewDeepgramProvider(logger zerolog.Logger, config *DeepgramConfig) *DeepgramProvider {
	if config == nil {
		config = DefaultDeepgramConfig()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("DEEPGRAM_API_KEY")
	}

	return &DeepgramProvider{
		apiKey:  apiKey,
		logger:  logger.With().Str("provider", "deepgram-streaming").Logger(),
		config:  config,
		closeCh: make(chan struct{}),
	}
}

func (p *DeepgramProvider) Name() string {
	return "deepgram-streaming"
}

func (p *DeepgramProvider) IsAvailable() bool {
	return p.apiKey != ""
}

type deepgramMessage struct {
	Type        string            `json:"type"`
	Duration    float64           `json:"duration,omitempty"`
	IsFinal     bool              `json:"is_final,omitempty"`
	SpeechFinal bool              `json:"speech_final,omitempty"`
	Channel     deepgramChannel   `json:"channel,omitempty"`
	Metadata    *deepgramMetadata `json:"metadata,omitempty"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives,omitempty"`
}

type deepgramAlternative struct {
	Transcript string         `json:"transcript"`
	Confidence float64        `json:"confidence"`
	Words      []deepgramWord `json:"words,omitempty"`
}

type deepgramWord struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

type deepgramMetadata struct {
	RequestID string `json:"request_id"`
}

func (p *DeepgramProvider) connect(ctx context.Context) error {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	if p.isConnected && p.conn != nil {
		return nil
	}

	url := fmt.Sprintf("%s?model=%s&language=%s&encoding=%s&sample_rate=%d&channels=%d&punctuate=%t&interim_results=%t",
		deepgramWSEndpoint,
		p.config.Model,
		p.config.Language,
		p.config.Encoding,
		p.config.SampleRate,
		p.config.Channels,
		p.config.Punctuate,
		p.config.InterimResults,
	)

	header := http.Header{}
	header.Set("Authorization", "Token "+p.apiKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			p.logger.Error().
				Int("status", resp.StatusCode).
				Err(err).
				Msg("Deepgram WebSocket connection failed")
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	p.conn = conn
	p.isConnected = true
	p.logger.Info().Msg("Connected to Deepgram streaming STT")

	return nil
}

// StartStreaming opens the WebSocket and begins emitting transcripts.
func (p *DeepgramProvider) StartStreaming(ctx context.Context) (<-chan *TranscribeResponse, error) {
	if p.apiKey == "" {
		return nil, ErrProviderUnavailable
	}

	if err := p.connect(ctx); err != nil {
		return nil, err
	}

	p.connMu.Lock()
	conn := p.conn
	p.connMu.Unlock()

	p.transcriptCh = make(chan *TranscribeResponse, 32)

	go p.readResponses(ctx, conn, p.transcriptCh)

	return p.transcriptCh, nil
}

// readResponses owns the read side of one stream. The conn and channel are
// passed in at spawn; StopStreaming may nil out p.conn concurrently, and
// closing the conn is what unblocks ReadMessage below.
func (p *DeepgramProvider) readResponses(ctx context.Context, conn *websocket.Conn, out chan<- *TranscribeResponse) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.closeCh:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debug().Msg("Deepgram connection closed normally")
				return
			}
			p.logger.Error().Err(err).Msg("Error reading Deepgram response")
			return
		}

		var msg deepgramMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			p.logger.Warn().Err(err).Str("message", string(message)).Msg("Failed to parse Deepgram message")
			continue
		}

		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) > 0 {
				alt := msg.Channel.Alternatives[0]
				if alt.Transcript != "" {
					resp := &TranscribeResponse{
						Text:       alt.Transcript,
						Confidence: alt.Confidence,
						Language:   p.config.Language,
						Duration:   time.Duration(msg.Duration * float64(time.Second)),
						IsFinal:    msg.IsFinal || msg.SpeechFinal,
					}

					for _, w := range alt.Words {
						resp.Words = append(resp.Words, Word{
							Word:       w.Word,
							Start:      time.Duration(w.Start * float64(time.Second)),
							End:        time.Duration(w.End * float64(time.Second)),
							Confidence: w.Confidence,
						})
					}

					select {
					case out <- resp:
						p.logger.Debug().
							Str("text", alt.Transcript).
							Bool("final", resp.IsFinal).
							Float64("confidence", alt.Confidence).
							Msg("Deepgram transcript")
					default:
						p.logger.Warn().Msg("Transcript channel full, dropping")
					}
				}
			}

		case "Metadata":
			p.logger.Debug().
				Str("requestID", msg.Metadata.RequestID).
				Msg("Deepgram metadata received")

		case "UtteranceEnd":
			p.logger.Debug().Msg("Deepgram utterance end")

		case "Error":
			p.logger.Error().Str("message", string(message)).Msg("Deepgram error")
		}
	}
}

// SendAudio writes one PCM chunk to the open stream.
func (p *DeepgramProvider) SendAudio(audio []byte) error {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	if !p.isConnected || p.conn == nil {
		return fmt.Errorf("not connected")
	}

	return p.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// StopStreaming closes the stream politely so Deepgram flushes final results.
func (p *DeepgramProvider) StopStreaming() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	if p.conn == nil {
		return nil
	}

	closeMsg := []byte(`{"type": "CloseStream"}`)
	if err := p.conn.WriteMessage(websocket.TextMessage, closeMsg); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to send close message")
	}

	err := p.conn.Close()
	p.conn = nil
	p.isConnected = false

	p.logger.Info().Msg("Deepgram streaming stopped")
	return err
}

// Transcribe sends a complete buffer through the streaming API and waits for
// the final transcript.
func (p *DeepgramProvider) Transcribe(ctx context.Context, req *TranscribeRequest) (*TranscribeResponse, error) {
	transcriptCh, err := p.StartStreaming(ctx)
	if err != nil {
		return nil, err
	}
	defer p.StopStreaming()

	// Pace audio in ~100ms chunks so Deepgram treats it as live speech.
	chunkSize := p.config.SampleRate * 2 / 10
	for i := 0; i < len(req.Audio); i += chunkSize {
		end := i + chunkSize
		if end > len(req.Audio) {
			end = len(req.Audio)
		}
		if err := p.SendAudio(req.Audio[i:end]); err != nil {
			return nil, err
		}
		time.Sleep(100 * time.Millisecond)
	}

	timeout := time.NewTimer(5 * time.Second)
	defer timeout.Stop()

	var lastResponse *TranscribeResponse
	for {
		select {
		case resp, ok := <-transcriptCh:
			if !ok {
				if lastResponse != nil {
					return lastResponse, nil
				}
				return nil, fmt.Errorf("no transcription received")
			}
			if resp.IsFinal {
				return resp, nil
			}
			lastResponse = resp

		case <-timeout.C:
			if lastResponse != nil {
				lastResponse.IsFinal = true
				return lastResponse, nil
			}
			return nil, ErrTimeout

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TranscribeStream pipes an audio channel into the WebSocket and returns the
// transcript channel.
func (p *DeepgramProvider) TranscribeStream(ctx context.Context, audioStream <-chan []byte) (<-chan *TranscribeResponse, error) {
	transcriptCh, err := p.StartStreaming(ctx)
	if err != nil {
		return nil, err
	}

	resultCh := make(chan *TranscribeResponse, 32)

	go func() {
		defer p.StopStreaming()

		for {
			select {
			case <-ctx.Done():
				return
			case audio, ok := <-audioStream:
				if !ok {
					return
				}
				if err := p.SendAudio(audio); err != nil {
					p.logger.Error().Err(err).Msg("Failed to send audio")
					return
				}
			}
		}
	}()

	go func() {
		defer close(resultCh)
		for resp := range transcriptCh {
			select {
			case resultCh <- resp:
			case <-ctx.Done():
				return
			}
		}
	}()

	return resultCh, nil
}

// Close tears the provider down for good.
func (p *DeepgramProvider) Close() error {
	close(p.closeCh)
	return p.StopStreaming()
}
