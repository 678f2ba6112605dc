package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Local transcriber modes
const (
	TranscriberLive     = "live"     // input transcription delivered by the live service
	TranscriberDeepgram = "deepgram" // input transcription from a separate Deepgram stream
)

// Config holds all configuration for the voice client
type Config struct {
	// Port for the local UI bridge, health and metrics endpoints
	Port string `envconfig:"PORT" default:"8090"`

	// Start a streaming session as soon as the process is up
	AutoStart bool `envconfig:"AUTO_START" default:"false"`

	// Conversational service
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY" required:"true"`
	LiveURL      string `envconfig:"LIVE_URL" default:"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"`
	LiveModel    string `envconfig:"LIVE_MODEL" default:"models/gemini-2.0-flash-live-001"`
	TextModel    string `envconfig:"TEXT_MODEL" default:"gemini-2.0-flash"`
	TTSModel     string `envconfig:"TTS_MODEL" default:"gemini-2.5-flash-preview-tts"`
	VoiceName    string `envconfig:"VOICE_NAME" default:"Puck"`
	SystemPrompt string `envconfig:"SYSTEM_PROMPT" default:""`
	LiveTimeout  int    `envconfig:"LIVE_SETUP_TIMEOUT" default:"10"` // seconds to wait for setup acknowledgment

	// Audio processing configuration
	CaptureDevice      string  `envconfig:"CAPTURE_DEVICE" default:""`           // Hex device ID; empty selects the default microphone
	CaptureSampleRate  int     `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"` // Microphone rate, also the outbound wire rate
	CaptureBlockSize   int     `envconfig:"CAPTURE_BLOCK_SIZE" default:"4096"`   // Samples per captured block
	OutputSampleRate   int     `envconfig:"OUTPUT_SAMPLE_RATE" default:"24000"`  // Playback rate
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"0.01"` // RMS threshold on [-1,1] samples
	IdleTimeoutMs      int     `envconfig:"IDLE_TIMEOUT_MS" default:"2000"`      // Pose returns to neutral after this much audio silence
	SendQueueSize      int     `envconfig:"SEND_QUEUE_SIZE" default:"32"`        // Outbound blocks buffered before dropping

	// Local participant transcription
	LocalTranscriber string `envconfig:"LOCAL_TRANSCRIBER" default:"live"` // live, deepgram
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.CaptureSampleRate <= 0 || c.OutputSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive (capture=%d, output=%d)", c.CaptureSampleRate, c.OutputSampleRate)
	}
	if c.CaptureBlockSize <= 0 {
		return fmt.Errorf("CAPTURE_BLOCK_SIZE must be positive, got %d", c.CaptureBlockSize)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("SEND_QUEUE_SIZE must be positive, got %d", c.SendQueueSize)
	}

	c.LocalTranscriber = strings.ToLower(strings.TrimSpace(c.LocalTranscriber))
	switch c.LocalTranscriber {
	case TranscriberLive:
	case TranscriberDeepgram:
		if strings.TrimSpace(c.DeepgramAPIKey) == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when LOCAL_TRANSCRIBER=deepgram")
		}
	default:
		return fmt.Errorf("LOCAL_TRANSCRIBER must be %q or %q, got %q", TranscriberLive, TranscriberDeepgram, c.LocalTranscriber)
	}

	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
