// Package tts synthesizes speech for the non-streaming exchange path.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/llm"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/resilience"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// ErrNoAudio is returned when the response carried no audio part
var ErrNoAudio = errors.New("model returned no audio")

// Config holds synthesis settings
type Config struct {
	Model      string
	VoiceName  string
	SampleRate int // assumed rate when the MIME type has none
	Retry      *resilience.RetryConfig
}

// Client turns reply text into a playable chunk
type Client struct {
	gen     llm.Generator
	cfg     Config
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewClient creates a synthesis client
func NewClient(gen llm.Generator, cfg Config, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *Client {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.OutputSampleRate
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("genai", 5, 30*time.Second)
	}
	return &Client{
		gen:     gen,
		cfg:     cfg,
		breaker: breaker,
		logger:  logger.With().Str("component", "tts").Logger(),
	}
}

func (c *Client) requestConfig() *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
	}
	if c.cfg.VoiceName != "" {
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.cfg.VoiceName},
			},
		}
	}
	return config
}

// Synthesize requests speech for text and returns it as a single PCM16 chunk
func (c *Client) Synthesize(ctx context.Context, text string) (audio.AudioChunk, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.AudioChunk{}, errors.New("empty text")
	}

	started := time.Now()
	var resp *genai.GenerateContentResponse
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			resp, err = c.gen.GenerateContent(ctx, c.cfg.Model, genai.Text(text), c.requestConfig())
			return err
		})
	}, c.cfg.Retry, resilience.IsRetryableNetworkError)
	if err != nil {
		observability.ObserveExchangeStage("synthesize", started, false)
		observability.RecordError("synthesize_failed", "tts")
		return audio.AudioChunk{}, fmt.Errorf("speech request failed: %w", err)
	}

	chunk, err := c.chunkFrom(resp)
	if err != nil {
		observability.ObserveExchangeStage("synthesize", started, false)
		return audio.AudioChunk{}, err
	}
	observability.ObserveExchangeStage("synthesize", started, true)

	c.logger.Debug().
		Int("bytes", len(chunk.Data)).
		Int("sample_rate", chunk.SampleRate).
		Dur("latency", time.Since(started)).
		Msg("Speech synthesized")
	return chunk, nil
}

// chunkFrom concatenates the audio parts of the first candidate
func (c *Client) chunkFrom(resp *genai.GenerateContentResponse) (audio.AudioChunk, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return audio.AudioChunk{}, ErrNoAudio
	}

	chunk := audio.AudioChunk{Channels: 1}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := strings.ToLower(part.InlineData.MIMEType)
		if mime != "" && !strings.HasPrefix(mime, "audio/pcm") && !strings.HasPrefix(mime, "audio/l16") {
			c.logger.Warn().Str("mime_type", part.InlineData.MIMEType).Msg("Skipping unsupported audio part")
			continue
		}
		rate := audio.ParseSampleRate(part.InlineData.MIMEType, c.cfg.SampleRate)
		if chunk.SampleRate != 0 && rate != chunk.SampleRate {
			c.logger.Warn().Int("sample_rate", rate).Msg("Skipping audio part with mismatched rate")
			continue
		}
		chunk.SampleRate = rate
		chunk.Data = append(chunk.Data, part.InlineData.Data...)
	}

	if len(chunk.Data) == 0 {
		return audio.AudioChunk{}, ErrNoAudio
	}
	return chunk, nil
}
