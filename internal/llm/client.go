// Package llm requests complete text replies for the non-streaming exchange path.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/resilience"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// maxHistory bounds the number of contents replayed on each request
const maxHistory = 20

// ErrEmptyReply is returned when the model produced no text
var ErrEmptyReply = errors.New("model returned no text")

// Generator is the subset of the genai Models service used here
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGenerator creates a Gemini API backed generator
func NewGenerator(ctx context.Context, apiKey string) (Generator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client.Models, nil
}

// Config holds reply settings
type Config struct {
	Model        string
	SystemPrompt string
	Retry        *resilience.RetryConfig
}

// Client produces full text replies and remembers the exchange history
type Client struct {
	gen     Generator
	cfg     Config
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger

	mu      sync.Mutex
	history []*genai.Content
}

// NewClient creates a reply client. breaker may be shared with other genai users.
func NewClient(gen Generator, cfg Config, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *Client {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("genai", 5, 30*time.Second)
	}
	return &Client{
		gen:     gen,
		cfg:     cfg,
		breaker: breaker,
		logger:  logger.With().Str("component", "llm").Logger(),
	}
}

// Reply sends text with the running history and returns the model's answer
func (c *Client) Reply(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty prompt")
	}

	started := time.Now()
	user := genai.NewContentFromText(text, genai.RoleUser)

	c.mu.Lock()
	contents := append(append([]*genai.Content(nil), c.history...), user)
	c.mu.Unlock()

	var config *genai.GenerateContentConfig
	if c.cfg.SystemPrompt != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(c.cfg.SystemPrompt, genai.RoleUser),
		}
	}

	var resp *genai.GenerateContentResponse
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			resp, err = c.gen.GenerateContent(ctx, c.cfg.Model, contents, config)
			return err
		})
	}, c.cfg.Retry, resilience.IsRetryableNetworkError)
	if err != nil {
		observability.ObserveExchangeStage("reply", started, false)
		observability.RecordError("reply_failed", "llm")
		return "", fmt.Errorf("reply request failed: %w", err)
	}

	reply := strings.TrimSpace(TextFrom(resp))
	if reply == "" {
		observability.ObserveExchangeStage("reply", started, false)
		return "", ErrEmptyReply
	}
	observability.ObserveExchangeStage("reply", started, true)

	c.mu.Lock()
	c.history = append(c.history, user, genai.NewContentFromText(reply, genai.RoleModel))
	if len(c.history) > maxHistory {
		c.history = append([]*genai.Content(nil), c.history[len(c.history)-maxHistory:]...)
	}
	c.mu.Unlock()

	c.logger.Debug().
		Int("prompt_len", len(text)).
		Int("reply_len", len(reply)).
		Dur("latency", time.Since(started)).
		Msg("Reply received")
	return reply, nil
}

// Reset forgets the exchange history
func (c *Client) Reset() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

// TextFrom joins the non-thought text parts of the first candidate
func TextFrom(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
