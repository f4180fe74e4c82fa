// Package app assembles the CortexVoice runtime: configuration, logging,
// tool servers, the model client, speech in and out, and the session state
// machine, wired together over the event bus.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/audio"
	"github.com/normanking/cortexvoice/internal/brain"
	"github.com/normanking/cortexvoice/internal/bus"
	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/session"
	"github.com/normanking/cortexvoice/internal/speech"
	"github.com/normanking/cortexvoice/internal/status"
	"github.com/normanking/cortexvoice/internal/stt"
	"github.com/normanking/cortexvoice/internal/tools"
	"github.com/normanking/cortexvoice/internal/tts"
	"github.com/normanking/cortexvoice/internal/voice"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	config     *config.Config
	configPath string
	zlog       zerolog.Logger
	eventBus   *bus.EventBus

	registry     *tools.Registry
	dispatcher   *tools.Dispatcher
	scheduler    *speech.Scheduler
	orchestrator *voice.Orchestrator
	coordinator  *session.Coordinator
	audioManager *audio.Manager
	capture      *audio.CommandCapture
	sttProvider  *stt.DeepgramProvider
	statusServer *status.Server
	watcher      *config.Watcher
}

// New loads configuration and constructs the full component graph. Nothing
// external is contacted until Run.
func New(configPath string, logger Logger) (*App, error) {
	config.LoadEnvFile()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	zlog := logger.Zerolog()
	eventBus := bus.NewEventBus()

	registry := tools.NewRegistry(cfg.Tools, eventBus, zlog)
	dispatcher := tools.NewDispatcher(registry, cfg.Tools, eventBus, zlog)

	modelClient := brain.NewClient(cfg.Brain, zlog)
	history := brain.NewHistory(brain.HistoryConfig{
		SystemPrompt: cfg.Brain.SystemPrompt,
		MaxTurns:     cfg.Brain.MaxTurns,
	})

	ttsProvider := tts.NewOpenAIProvider(zlog, &tts.OpenAIConfig{
		APIKey:       cfg.TTS.APIKey,
		Model:        cfg.TTS.Model,
		DefaultVoice: cfg.TTS.Voice,
		Speed:        cfg.TTS.AnswerSpeed,
		Timeout:      cfg.TTS.Timeout,
	})
	engine := tts.NewEngine(ttsProvider, cfg.TTS.Voice)

	player, err := audio.NewPlayer(zlog)
	if err != nil {
		return nil, fmt.Errorf("audio output: %w", err)
	}

	scheduler := speech.NewScheduler(engine, player, eventBus, zlog)

	orchestrator := voice.NewOrchestrator(
		modelClient, registry, dispatcher, scheduler, history, eventBus, zlog,
		voice.Config{
			MaxIterations: cfg.Brain.MaxIterations,
			ThinkingTool:  cfg.Brain.ThinkingTool,
			ReasoningRate: cfg.TTS.ReasoningSpeed,
			AnswerRate:    cfg.TTS.AnswerSpeed,
		},
	)

	var filter *stt.TranscriptFilter
	if cfg.STT.FilterFillers {
		filter = stt.NewTranscriptFilter(nil)
	} else {
		filter = stt.NewTranscriptFilter([]string{})
	}

	coordinator := session.NewCoordinator(
		orchestrator, scheduler, filter,
		session.Config{AllowBargeIn: cfg.Session.AllowBargeIn},
		eventBus, zlog,
	)

	captureConfig := &audio.CaptureConfig{
		SampleRate:   cfg.Audio.SampleRate,
		Channels:     cfg.Audio.Channels,
		BitDepth:     cfg.Audio.BitDepth,
		VADThreshold: cfg.Audio.VADThreshold,
		MaxSilenceMs: cfg.Audio.MaxSilenceMs,
		MinSpeechMs:  cfg.Audio.MinSpeechMs,
	}
	audioManager := audio.NewManager(captureConfig, eventBus, zlog)
	capture := audio.NewCommandCapture(captureConfig, audioManager, zlog)

	sttProvider := stt.NewDeepgramProvider(zlog, &stt.DeepgramConfig{
		APIKey:         cfg.STT.APIKey,
		Model:          cfg.STT.Model,
		Language:       cfg.STT.Language,
		SampleRate:     cfg.Audio.SampleRate,
		Encoding:       "linear16",
		Channels:       cfg.Audio.Channels,
		InterimResults: cfg.STT.InterimResults,
		Punctuate:      true,
		Timeout:        cfg.STT.Timeout,
	})

	var statusServer *status.Server
	if cfg.Status.Enabled {
		statusServer = status.NewServer(cfg.Status.Addr, eventBus, zlog)
	}

	a := &App{
		config:       cfg,
		configPath:   configPath,
		zlog:         zlog.With().Str("component", "app").Logger(),
		eventBus:     eventBus,
		registry:     registry,
		dispatcher:   dispatcher,
		scheduler:    scheduler,
		orchestrator: orchestrator,
		coordinator:  coordinator,
		audioManager: audioManager,
		capture:      capture,
		sttProvider:  sttProvider,
		statusServer: statusServer,
	}

	a.wireVoicePipeline()
	return a, nil
}

// Logger is the slice of the logging layer the app needs.
type Logger interface {
	Zerolog() zerolog.Logger
}

// wireVoicePipeline connects microphone speech events to the session:
// speech start fires barge-in, completed segments get transcribed and run
// through the conversation.
func (a *App) wireVoicePipeline() {
	a.audioManager.OnSpeechStart(func() {
		if a.coordinator.State() == session.StateSpeaking {
			a.coordinator.RequestInterrupt()
		}
		if err := a.coordinator.BeginListening(); err != nil {
			a.zlog.Debug().Err(err).Msg("Cannot start listening")
		}
	})

	// Segments are handled off the capture loop so the microphone keeps
	// running while a turn is in flight; a barge-in utterance can then
	// supersede it.
	a.audioManager.OnSpeechEnd(func(segment *audio.SpeechSegment) {
		go a.handleSegment(segment)
	})
}

// handleSegment transcribes one speech segment and runs it through the
// session.
func (a *App) handleSegment(segment *audio.SpeechSegment) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	resp, err := a.sttProvider.Transcribe(ctx, &stt.TranscribeRequest{
		Audio:      segment.Audio,
		Format:     string(segment.Format),
		SampleRate: a.config.Audio.SampleRate,
		Channels:   a.config.Audio.Channels,
		Language:   a.config.STT.Language,
	})
	if err != nil {
		a.zlog.Error().Err(err).Msg("Transcription failed")
		a.eventBus.Publish(bus.Event{
			Type: bus.EventTypeSessionError,
			Data: map[string]any{"error": err.Error()},
		})
		return
	}

	a.eventBus.Publish(bus.Event{
		Type: bus.EventTypeTranscript,
		Data: map[string]any{"text": resp.Text, "confidence": resp.Confidence},
	})

	if _, err := a.coordinator.EndListening(ctx, resp.Text); err != nil {
		a.zlog.Error().Err(err).Msg("Turn failed")
	}
}

// Run starts every component and blocks until the context is cancelled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	connected := a.registry.ConnectAll(connectCtx, a.config.Tools.Servers)
	cancel()
	a.zlog.Info().Int("servers", connected).Int("tools", len(a.registry.ListTools())).Msg("Tool servers ready")

	a.scheduler.Start()

	if a.statusServer != nil {
		if err := a.statusServer.Start(); err != nil {
			return fmt.Errorf("status server: %w", err)
		}
	}

	if err := a.capture.Start(ctx); err != nil {
		// Without a microphone the agent still runs; tools and the status
		// stream stay usable for text-driven clients.
		a.zlog.Warn().Err(err).Msg("Audio capture unavailable")
	}

	if a.configPath != "" {
		watcher, err := config.NewWatcher(a.configPath, a.zlog, a.onConfigReload)
		if err != nil {
			a.zlog.Warn().Err(err).Msg("Config watcher unavailable")
		} else {
			a.watcher = watcher
		}
	}

	a.zlog.Info().Str("model", a.config.Brain.Model).Msg("CortexVoice running")
	<-ctx.Done()

	a.shutdown()
	return nil
}

// HandleText runs one typed user turn, bypassing the microphone.
func (a *App) HandleText(ctx context.Context, text string) (string, error) {
	if err := a.coordinator.BeginListening(); err != nil {
		return "", err
	}
	return a.coordinator.EndListening(ctx, text)
}

// RunOnce connects tool servers, runs a single text turn, lets the answer
// finish playing, and shuts everything down. The CLI's ask command.
func (a *App) RunOnce(ctx context.Context, text string) (string, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a.registry.ConnectAll(connectCtx, a.config.Tools.Servers)
	cancel()

	a.scheduler.Start()
	defer a.shutdown()

	answer, err := a.HandleText(ctx, text)
	if err != nil {
		return "", err
	}

	// Wait for playback to drain before tearing the scheduler down. The
	// grace period lets the consumer pick the answer up first.
	time.Sleep(200 * time.Millisecond)
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		if a.coordinator.State() != session.StateSpeaking && a.scheduler.Pending() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return answer, nil
		case <-time.After(50 * time.Millisecond):
		}
	}
	return answer, nil
}

func (a *App) onConfigReload(cfg *config.Config) {
	a.config = cfg
	a.zlog.Info().Msg("Configuration reloaded")
	a.eventBus.Publish(bus.Event{Type: bus.EventTypeConfigReloaded})
}

func (a *App) shutdown() {
	a.zlog.Info().Msg("Shutting down")

	if a.watcher != nil {
		a.watcher.Close() //nolint:errcheck
	}
	a.capture.Stop()
	a.scheduler.Stop()
	a.registry.Close()

	if a.statusServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.statusServer.Stop(ctx) //nolint:errcheck
		cancel()
	}
}
