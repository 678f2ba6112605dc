package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/resilience"
)

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

// Message forwards transcription results
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// Error overrides the default handler to use our custom error handling
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// streamConn is the part of the Deepgram websocket client used for streaming
type streamConn interface {
	Connect() bool
	Write(p []byte) (int, error)
	Finish()
}

type dialFunc func(ctx context.Context, callback *messageCallbackHandler) (streamConn, error)

// DeepgramConfig holds streaming transcription settings
type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	QueueSize  int
	Reconnect  *resilience.ReconnectConfig
}

// DeepgramClient implements Transcriber using Deepgram's streaming API
type DeepgramClient struct {
	cfg     DeepgramConfig
	dial    dialFunc
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger

	queue   chan []byte
	results chan TranscriptionResult

	mu           sync.Mutex
	conn         streamConn
	active       bool
	reconnecting bool
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewDeepgramClient creates a new Deepgram streaming client
func NewDeepgramClient(cfg DeepgramConfig, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *DeepgramClient {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("deepgram", 5, 30*time.Second)
	}
	d := &DeepgramClient{
		cfg:     cfg,
		breaker: breaker,
		logger:  logger.With().Str("component", "stt").Logger(),
		queue:   make(chan []byte, cfg.QueueSize),
		results: make(chan TranscriptionResult, 100),
	}
	d.dial = d.dialDeepgram
	return d
}

func (d *DeepgramClient) options() *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:       d.cfg.Model,
		Language:    d.cfg.Language,
		Punctuate:   true,
		SmartFormat: true,
		Encoding:    "linear16",
		Channels:    1,
		SampleRate:  d.cfg.SampleRate,
	}
}

func (d *DeepgramClient) dialDeepgram(ctx context.Context, callback *messageCallbackHandler) (streamConn, error) {
	client, err := listenClient.NewWSUsingCallback(ctx, d.cfg.APIKey, nil, d.options(), callback)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Start opens the stream and starts the writer
func (d *DeepgramClient) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.ctx != nil {
		d.mu.Unlock()
		return fmt.Errorf("deepgram client already started")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	if err := d.connect(); err != nil {
		d.cancel()
		return err
	}

	go d.writeLoop()
	d.logger.Info().
		Str("model", d.cfg.Model).
		Str("language", d.cfg.Language).
		Int("sample_rate", d.cfg.SampleRate).
		Msg("Deepgram streaming client started")
	return nil
}

func (d *DeepgramClient) connect() error {
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleMessage,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			d.logger.Warn().Interface("error", errorResponse).Msg("Deepgram error")
			d.breaker.RecordResult(false)
			observability.IncrementCircuitBreakerFailures("deepgram")
			d.markLost()
			return nil
		},
	}

	return d.breaker.Execute(d.ctx, func(ctx context.Context) error {
		conn, err := d.dial(ctx, callback)
		if err != nil {
			return fmt.Errorf("failed to create Deepgram client: %w", err)
		}
		if !conn.Connect() {
			return fmt.Errorf("failed to connect to Deepgram")
		}

		d.mu.Lock()
		if ctx.Err() != nil {
			d.mu.Unlock()
			conn.Finish()
			return ctx.Err()
		}
		d.conn = conn
		d.active = true
		d.mu.Unlock()
		return nil
	})
}

// handleMessage forwards final transcription segments
func (d *DeepgramClient) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Results", "Message":
		if !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		result := TranscriptionResult{
			Text:        alt.Transcript,
			SpeechFinal: msg.SpeechFinal,
			Confidence:  alt.Confidence,
			StartTime:   msg.Start,
			Duration:    msg.Duration,
		}

		select {
		case d.results <- result:
			d.logger.Debug().Str("text", alt.Transcript).Float64("confidence", alt.Confidence).Msg("Deepgram final transcription")
		default:
			d.logger.Warn().Msg("Transcript channel full, dropping transcription")
		}

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Deepgram message")
	}
}

// SendAudio queues a block for the writer. It never blocks.
func (d *DeepgramClient) SendAudio(pcm []byte) error {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return ErrNotActive
	}

	select {
	case d.queue <- pcm:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *DeepgramClient) writeLoop() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case pcm := <-d.queue:
			d.mu.Lock()
			conn, active := d.conn, d.active
			d.mu.Unlock()
			if !active || conn == nil {
				// Dropped while reconnecting
				continue
			}

			err := d.breaker.Call(func() error {
				if _, err := conn.Write(pcm); err != nil {
					return fmt.Errorf("failed to send audio to Deepgram: %w", err)
				}
				return nil
			})
			if err != nil {
				d.logger.Warn().Err(err).Msg("Deepgram write failed")
				observability.IncrementCircuitBreakerFailures("deepgram")
				d.markLost()
			}
		}
	}
}

// markLost flags the stream as down and starts one reconnection loop
func (d *DeepgramClient) markLost() {
	d.mu.Lock()
	if d.ctx == nil || d.ctx.Err() != nil || d.reconnecting {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.reconnecting = true
	d.mu.Unlock()

	go d.reconnect()
}

func (d *DeepgramClient) reconnect() {
	defer func() {
		d.mu.Lock()
		d.reconnecting = false
		d.mu.Unlock()
	}()

	err := resilience.Reconnect(d.ctx, d.logger, func(ctx context.Context) error {
		return d.connect()
	}, d.cfg.Reconnect)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to reconnect Deepgram client")
	}
}

// Results delivers final segments
func (d *DeepgramClient) Results() <-chan TranscriptionResult {
	return d.results
}

// Close ends the stream. Calling it again is a no-op.
func (d *DeepgramClient) Close() error {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return nil
	}
	d.cancel()
	conn := d.conn
	wasActive := d.active
	d.conn = nil
	d.active = false
	d.mu.Unlock()

	if conn != nil && wasActive {
		conn.Finish()
		d.logger.Info().Msg("Deepgram streaming client stopped")
	}
	return nil
}

// IsActive returns whether the stream is currently connected
func (d *DeepgramClient) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}
