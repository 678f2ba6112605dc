package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/resilience"
	"github.com/lexiqai/voice-client/internal/transcript"
	"github.com/rs/zerolog"
)

const (
	writeTimeout = 10 * time.Second
	eventBuffer  = 64
)

// Config holds connection and session settings
type Config struct {
	URL          string
	APIKey       string
	Model        string
	VoiceName    string
	SystemPrompt string

	InputSampleRate    int  // rate of outbound PCM blocks
	OutputSampleRate   int  // assumed rate of inbound audio without a rate parameter
	InputTranscription bool // ask the service to transcribe the local participant

	SetupTimeout  time.Duration
	SendQueueSize int
}

// Client dials the streaming service
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewClient creates a client with cfg
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = 10 * time.Second
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 32
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = 16000
	}
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = audio.OutputSampleRate
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.SetupTimeout,
			ReadBufferSize:   16384,
			WriteBufferSize:  16384,
		},
		logger: logger.With().Str("component", "live").Logger(),
	}
}

// Dial connects, sends setup and waits for the acknowledgment
func (c *Client) Dial(ctx context.Context) (Channel, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	ws, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("failed to connect to live service (status %d): %w", resp.StatusCode, err)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, resilience.NewRetryableError(err)
			}
			return nil, err
		}
		return nil, resilience.NewRetryableError(fmt.Errorf("failed to connect to live service: %w", err))
	}

	// Unblock the handshake read if the caller gives up
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	err = c.handshake(ws)
	if !stop() {
		ws.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		ws.Close()
		return nil, err
	}

	c.logger.Info().Str("model", c.cfg.Model).Msg("Live session established")
	return newConn(ws, c.cfg, c.logger), nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid live URL: %w", err)
	}
	if c.cfg.APIKey != "" {
		q := u.Query()
		q.Set("key", c.cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) setupMessage() SetupMessage {
	setup := Setup{
		Model: c.cfg.Model,
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
		OutputAudioTranscription: &struct{}{},
	}
	if c.cfg.VoiceName != "" {
		setup.GenerationConfig.SpeechConfig = &SpeechConfig{
			VoiceConfig: VoiceConfig{PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: c.cfg.VoiceName}},
		}
	}
	if c.cfg.SystemPrompt != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: c.cfg.SystemPrompt}}}
	}
	if c.cfg.InputTranscription {
		setup.InputAudioTranscription = &struct{}{}
	}
	return SetupMessage{Setup: setup}
}

func (c *Client) handshake(ws *websocket.Conn) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(c.setupMessage()); err != nil {
		return fmt.Errorf("failed to send setup: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.SetupTimeout))
	defer ws.SetReadDeadline(time.Time{})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("setup not acknowledged: %w", err)
		}
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("invalid setup response: %w", err)
		}
		if msg.SetupComplete != nil {
			return nil
		}
		c.logger.Debug().Msg("Ignoring frame received before setup acknowledgment")
	}
}

// Conn is an established streaming connection
type Conn struct {
	ws     *websocket.Conn
	logger zerolog.Logger

	inputMime  string
	outputRate int

	events chan Event
	send   chan []byte
	done   chan struct{}

	closeOnce sync.Once
	failOnce  sync.Once
	failErr   error
	seq       uint64
}

func newConn(ws *websocket.Conn, cfg Config, logger zerolog.Logger) *Conn {
	c := &Conn{
		ws:         ws,
		logger:     logger,
		inputMime:  audio.PCMMimeType(cfg.InputSampleRate),
		outputRate: cfg.OutputSampleRate,
		events:     make(chan Event, eventBuffer),
		send:       make(chan []byte, cfg.SendQueueSize),
		done:       make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Events returns the inbound event stream
func (c *Conn) Events() <-chan Event {
	return c.events
}

// SendAudio queues pcm for transmission. It never blocks: a full queue returns
// ErrQueueFull and a closed connection returns ErrChannelClosed.
func (c *Conn) SendAudio(pcm []byte) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	select {
	case c.send <- pcm:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close ends the connection. Events stops without a terminal event.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.ws.Close()
	})
	return nil
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// fail records the first transport error and tears the socket down so readLoop reports it
func (c *Conn) fail(err error) {
	c.failOnce.Do(func() {
		c.failErr = err
		c.ws.Close()
	})
}

func (c *Conn) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case pcm := <-c.send:
			msg := RealtimeInputMessage{RealtimeInput: RealtimeInput{Audio: &Blob{
				MimeType: c.inputMime,
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}}}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				if !c.closed() {
					c.fail(fmt.Errorf("failed to send audio: %w", err))
				}
				return
			}
			observability.RecordCaptureBlockSent(len(pcm))
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed() {
				return
			}
			// Settle failErr so it is safe to read
			c.failOnce.Do(func() {})
			switch {
			case c.failErr != nil:
				c.emit(Event{Type: EventError, Err: c.failErr})
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.logger.Info().Msg("Live service closed the connection")
				c.emit(Event{Type: EventClosed})
			default:
				c.emit(Event{Type: EventError, Err: fmt.Errorf("live connection lost: %w", err)})
			}
			c.ws.Close()
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.fail(fmt.Errorf("invalid server message: %w", err))
			continue
		}
		if !c.dispatch(&msg) {
			return
		}
	}
}

// dispatch turns one server frame into events in a fixed order. It returns false once the connection was closed locally.
func (c *Conn) dispatch(msg *ServerMessage) bool {
	if msg.GoAway != nil {
		c.logger.Warn().Str("time_left", msg.GoAway.TimeLeft).Msg("Live service is going away")
		if !c.emit(Event{Type: EventGoAway, TimeLeft: msg.GoAway.TimeLeft}) {
			return false
		}
	}

	sc := msg.ServerContent
	if sc == nil {
		return true
	}

	if sc.Interrupted {
		if !c.emit(Event{Type: EventInterrupted}) {
			return false
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !c.emit(Event{Type: EventTranscript, Role: transcript.RoleLocal, Text: sc.InputTranscription.Text}) {
			return false
		}
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				c.logger.Warn().Err(err).Msg("Dropping audio part with invalid base64")
				observability.RecordChunkDropped("base64")
				continue
			}
			c.seq++
			chunk := audio.AudioChunk{
				Data:       pcm,
				SampleRate: audio.ParseSampleRate(part.InlineData.MimeType, c.outputRate),
				Channels:   1,
				Seq:        c.seq,
			}
			if !c.emit(Event{Type: EventAudio, Audio: chunk}) {
				return false
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !c.emit(Event{Type: EventTranscript, Role: transcript.RoleRemote, Text: sc.OutputTranscription.Text}) {
			return false
		}
	}
	if sc.TurnComplete {
		if !c.emit(Event{Type: EventTurnComplete}) {
			return false
		}
	}
	return true
}
