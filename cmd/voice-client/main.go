package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/bridge"
	"github.com/lexiqai/voice-client/internal/config"
	"github.com/lexiqai/voice-client/internal/conversation"
	"github.com/lexiqai/voice-client/internal/device"
	"github.com/lexiqai/voice-client/internal/live"
	"github.com/lexiqai/voice-client/internal/llm"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/resilience"
	"github.com/lexiqai/voice-client/internal/stt"
	"github.com/lexiqai/voice-client/internal/tts"
)

var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("live_model", cfg.LiveModel).
		Str("local_transcriber", cfg.LocalTranscriber).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice client starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Voice client failed")
		os.Exit(1)
	}
	logger.Info().Msg("Voice client exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	genaiBreaker := newBreaker("genai", cfg, logger)

	// Non-streaming path
	gen, err := llm.NewGenerator(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return err
	}
	replier := llm.NewClient(gen, llm.Config{
		Model:        cfg.TextModel,
		SystemPrompt: cfg.SystemPrompt,
		Retry:        retry,
	}, genaiBreaker, logger)
	synth := tts.NewClient(gen, tts.Config{
		Model:      cfg.TTSModel,
		VoiceName:  cfg.VoiceName,
		SampleRate: cfg.OutputSampleRate,
		Retry:      retry,
	}, genaiBreaker, logger)

	// Streaming channel
	liveClient := live.NewClient(live.Config{
		URL:                cfg.LiveURL,
		APIKey:             cfg.GeminiAPIKey,
		Model:              cfg.LiveModel,
		VoiceName:          cfg.VoiceName,
		SystemPrompt:       cfg.SystemPrompt,
		InputSampleRate:    cfg.CaptureSampleRate,
		OutputSampleRate:   cfg.OutputSampleRate,
		InputTranscription: cfg.LocalTranscriber == config.TranscriberLive,
		SetupTimeout:       time.Duration(cfg.LiveTimeout) * time.Second,
		SendQueueSize:      cfg.SendQueueSize,
	}, logger)

	// Audio devices
	devices, err := device.NewContext(logger)
	if err != nil {
		return err
	}
	defer devices.Close()

	mixer := audio.NewMixer(cfg.OutputSampleRate)
	defer mixer.Close()

	speaker := device.NewSpeaker(devices, mixer, cfg.OutputSampleRate, logger)
	if err := speaker.Start(); err != nil {
		return err
	}
	defer speaker.Stop()

	microphone := device.NewMicrophone(devices, cfg.CaptureSampleRate, cfg.CaptureDevice, logger)

	var newTranscriber func() stt.Transcriber
	if cfg.LocalTranscriber == config.TranscriberDeepgram {
		deepgramBreaker := newBreaker("deepgram", cfg, logger)
		newTranscriber = func() stt.Transcriber {
			return stt.NewDeepgramClient(stt.DeepgramConfig{
				APIKey:     cfg.DeepgramAPIKey,
				Model:      cfg.DeepgramModel,
				Language:   cfg.DeepgramLanguage,
				SampleRate: cfg.CaptureSampleRate,
				QueueSize:  cfg.SendQueueSize,
				Reconnect: &resilience.ReconnectConfig{
					MaxAttempts: cfg.ReconnectMaxAttempts,
					Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
					Multiplier:  2.0,
					MaxBackoff:  30 * time.Second,
				},
			}, deepgramBreaker, logger)
		}
	}

	session := conversation.NewSession(conversation.Options{
		Dialer:         liveClient,
		Source:         microphone,
		Engine:         mixer,
		Replier:        replier,
		Synthesizer:    synth,
		NewTranscriber: newTranscriber,
		BlockSize:      cfg.CaptureBlockSize,
		VADThreshold:   cfg.VADEnergyThreshold,
		IdleTimeout:    time.Duration(cfg.IdleTimeoutMs) * time.Millisecond,
		DialRetry:      retry,
		Logger:         logger,
	})
	defer session.Close()

	// Create HTTP server
	mux := http.NewServeMux()
	mux.Handle("/ui", bridge.NewServer(ctx, session, bridge.Config{}, logger))
	mux.HandleFunc("/health", observability.HealthCheckHandler(version, func() string {
		return session.State().String()
	}))
	mux.HandleFunc("/ready", observability.ReadinessHandler(version,
		observability.NamedCheck{Name: "audio_devices", Check: devices.Check},
		observability.NamedCheck{Name: "live", Check: func(ctx context.Context) (bool, error) {
			if !strings.HasPrefix(cfg.LiveURL, "ws") {
				return false, fmt.Errorf("invalid LIVE_URL %q", cfg.LiveURL)
			}
			return true, nil
		}},
		observability.NamedCheck{Name: "genai", Check: func(ctx context.Context) (bool, error) {
			if genaiBreaker.GetState() == resilience.StateOpen {
				return false, resilience.ErrCircuitOpen
			}
			return true, nil
		}},
	))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// WriteTimeout stays unset: /ui connections are long-lived
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ui", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.AutoStart {
		go func() {
			if err := session.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("Auto-start failed")
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info().Msg("Shutting down...")

	// Session first so UI connections see the close
	session.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// newBreaker creates a circuit breaker that reports its state as a metric
func newBreaker(name string, cfg *config.Config, logger zerolog.Logger) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(name, cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	cb.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger.Warn().
			Str("service", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	})
	observability.UpdateCircuitBreakerState(name, int(resilience.StateClosed))
	return cb
}
