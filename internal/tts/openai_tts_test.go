package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func withTestEndpoint(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	orig := openAISpeechEndpoint
	openAISpeechEndpoint = ts.URL
	t.Cleanup(func() { openAISpeechEndpoint = orig })
}

func TestOpenAIProvider_Synthesize(t *testing.T) {
	var gotReq openAITTSRequest
	withTestEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %s", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte("fake-mp3-bytes"))
	})

	p := NewOpenAIProvider(zerolog.Nop(), &OpenAIConfig{APIKey: "sk-test", Model: "tts-1", DefaultVoice: VoiceNova, Speed: 1.0})

	resp, err := p.Synthesize(context.Background(), &SynthesizeRequest{
		Text:  "hello there",
		Speed: 1.8,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if string(resp.Audio) != "fake-mp3-bytes" {
		t.Errorf("unexpected audio: %q", resp.Audio)
	}
	if resp.SampleRate != 24000 || resp.Format != "mp3" {
		t.Errorf("unexpected response metadata: %+v", resp)
	}
	if gotReq.Voice != VoiceNova {
		t.Errorf("expected default voice, got %s", gotReq.Voice)
	}
	if gotReq.Speed != 1.8 {
		t.Errorf("expected rate to pass through, got %f", gotReq.Speed)
	}
	if gotReq.Input != "hello there" {
		t.Errorf("unexpected input: %q", gotReq.Input)
	}
}

func TestOpenAIProvider_APIError(t *testing.T) {
	withTestEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid voice"}`, http.StatusBadRequest)
	})

	p := NewOpenAIProvider(zerolog.Nop(), &OpenAIConfig{APIKey: "sk-test"})
	_, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "hi"})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestOpenAIProvider_MissingKeyUnavailable(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	p := NewOpenAIProvider(zerolog.Nop(), &OpenAIConfig{})

	if p.IsAvailable() {
		t.Error("provider without key should be unavailable")
	}
	if _, err := p.Synthesize(context.Background(), &SynthesizeRequest{Text: "hi"}); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestClampSpeed(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0}, // unset passes through so config default applies
		{0.1, 0.25},
		{1.0, 1.0},
		{1.8, 1.8},
		{5.0, 4.0},
	}
	for _, tt := range tests {
		if got := clampSpeed(tt.in); got != tt.want {
			t.Errorf("clampSpeed(%f) = %f, want %f", tt.in, got, tt.want)
		}
	}
}

// fakeProvider lets the engine be tested without HTTP.
type fakeProvider struct {
	available bool
	lastReq   *SynthesizeRequest
}

func (p *fakeProvider) Name() string      { return "fake" }
func (p *fakeProvider) IsAvailable() bool { return p.available }
func (p *fakeProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	p.lastReq = req
	return &SynthesizeResponse{Audio: []byte(req.Text)}, nil
}

func TestEngine_PassesVoiceAndRate(t *testing.T) {
	provider := &fakeProvider{available: true}
	e := NewEngine(provider, VoiceShimmer)

	audio, err := e.Synthesize(context.Background(), "thinking aloud", 1.8)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "thinking aloud" {
		t.Errorf("unexpected audio: %q", audio)
	}
	if provider.lastReq.VoiceID != VoiceShimmer {
		t.Errorf("expected voice %s, got %s", VoiceShimmer, provider.lastReq.VoiceID)
	}
	if provider.lastReq.Speed != 1.8 {
		t.Errorf("expected speed 1.8, got %f", provider.lastReq.Speed)
	}
}

func TestEngine_UnavailableProvider(t *testing.T) {
	e := NewEngine(&fakeProvider{available: false}, VoiceNova)
	if _, err := e.Synthesize(context.Background(), "hi", 1.0); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}
