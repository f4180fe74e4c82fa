// Package config provides configuration management for CortexVoice
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Brain   BrainConfig   `mapstructure:"brain"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	TTS     TTSConfig     `mapstructure:"tts"`
	STT     STTConfig     `mapstructure:"stt"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Session SessionConfig `mapstructure:"session"`
	Status  StatusConfig  `mapstructure:"status"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BrainConfig configures the language model client
type BrainConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	SystemPrompt  string        `mapstructure:"system_prompt"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxIterations int           `mapstructure:"max_iterations"` // tool-call rounds per turn
	MaxTurns      int           `mapstructure:"max_turns"`      // history sliding window
	ThinkingTool  string        `mapstructure:"thinking_tool"`  // tool name treated as reasoning
}

// ToolServerConfig describes one external tool server
type ToolServerConfig struct {
	Name      string        `mapstructure:"name"`
	Transport string        `mapstructure:"transport"` // stdio://cmd args, sse://url, http://url
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ToolsConfig configures the tool registry and dispatcher
type ToolsConfig struct {
	Servers        []ToolServerConfig `mapstructure:"servers"`
	CallTimeout    time.Duration      `mapstructure:"call_timeout"`
	MaxConcurrency int                `mapstructure:"max_concurrency"` // 0 = unlimited within a turn
}

// TTSConfig configures text-to-speech
type TTSConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Voice          string        `mapstructure:"voice"`
	AnswerSpeed    float64       `mapstructure:"answer_speed"`    // final answers
	ReasoningSpeed float64       `mapstructure:"reasoning_speed"` // intermediate thinking
	Timeout        time.Duration `mapstructure:"timeout"`
}

// STTConfig configures speech-to-text
type STTConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Language       string        `mapstructure:"language"`
	InterimResults bool          `mapstructure:"interim_results"`
	FilterFillers  bool          `mapstructure:"filter_fillers"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// AudioConfig configures the capture path
type AudioConfig struct {
	SampleRate   int     `mapstructure:"sample_rate"`
	Channels     int     `mapstructure:"channels"`
	BitDepth     int     `mapstructure:"bit_depth"`
	VADThreshold float64 `mapstructure:"vad_threshold"`
	MaxSilenceMs int     `mapstructure:"max_silence_ms"`
	MinSpeechMs  int     `mapstructure:"min_speech_ms"`
}

// SessionConfig configures the session coordinator
type SessionConfig struct {
	AllowBargeIn bool `mapstructure:"allow_barge_in"`
}

// StatusConfig configures the status websocket server
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// Dir returns the CortexVoice configuration directory.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cortexvoice")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("brain.base_url", "https://api.openai.com/v1")
	v.SetDefault("brain.model", "gpt-4o")
	v.SetDefault("brain.system_prompt", "You are CortexVoice, a helpful voice assistant. Keep answers short and speakable.")
	v.SetDefault("brain.temperature", 0.5)
	v.SetDefault("brain.max_tokens", 2000)
	v.SetDefault("brain.timeout", 60*time.Second)
	v.SetDefault("brain.max_iterations", 15)
	v.SetDefault("brain.max_turns", 40)
	v.SetDefault("brain.thinking_tool", "think")

	v.SetDefault("tools.call_timeout", 30*time.Second)
	v.SetDefault("tools.max_concurrency", 0)

	v.SetDefault("tts.model", "tts-1")
	v.SetDefault("tts.voice", "nova")
	v.SetDefault("tts.answer_speed", 1.0)
	v.SetDefault("tts.reasoning_speed", 1.8)
	v.SetDefault("tts.timeout", 30*time.Second)

	v.SetDefault("stt.model", "nova-2")
	v.SetDefault("stt.language", "en-US")
	v.SetDefault("stt.interim_results", true)
	v.SetDefault("stt.filter_fillers", true)
	v.SetDefault("stt.timeout", 30*time.Second)

	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.bit_depth", 16)
	v.SetDefault("audio.vad_threshold", 0.01)
	v.SetDefault("audio.max_silence_ms", 500)
	v.SetDefault("audio.min_speech_ms", 250)

	v.SetDefault("session.allow_barge_in", true)

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.addr", "127.0.0.1:8765")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", filepath.Join(Dir(), "logs"))
	v.SetDefault("logging.console", true)
}

// Load reads configuration from the given path (or the default location),
// applies defaults and environment overrides, and returns the result.
// A missing config file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	LoadEnvFile()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides fills API keys from the environment when not configured.
func applyEnvOverrides(cfg *Config) {
	if cfg.Brain.APIKey == "" {
		cfg.Brain.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.TTS.APIKey == "" {
		cfg.TTS.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.STT.APIKey == "" {
		cfg.STT.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	}
}

// LoadEnvFile loads API keys from ~/.cortexvoice/.env into the process
// environment. Existing environment values win.
func LoadEnvFile() {
	envPath := filepath.Join(Dir(), ".env")
	file, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"'")
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
