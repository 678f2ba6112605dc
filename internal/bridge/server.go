// Package bridge exposes the session boundary to a UI over a websocket.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/conversation"
)

const writeTimeout = 5 * time.Second

// Controller is the session surface the UI drives
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Exchange(ctx context.Context, text string) error
	Subscribe() (<-chan conversation.Snapshot, func())
	Tap() audio.FrequencyTap
	Playing() bool
}

// Config holds bridge settings
type Config struct {
	SpectrumBins     int
	SpectrumInterval time.Duration
}

// Server upgrades UI connections and streams state and spectrum frames
type Server struct {
	ctx      context.Context
	ctrl     Controller
	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a bridge. Sessions started from the UI live until ctx ends.
func NewServer(ctx context.Context, ctrl Controller, cfg Config, logger zerolog.Logger) *Server {
	if cfg.SpectrumBins <= 0 {
		cfg.SpectrumBins = 32
	}
	if cfg.SpectrumInterval <= 0 {
		cfg.SpectrumInterval = 50 * time.Millisecond
	}
	return &Server{
		ctx:    ctx,
		ctrl:   ctrl,
		cfg:    cfg,
		logger: logger.With().Str("component", "bridge").Logger(),
		upgrader: websocket.Upgrader{
			// The bridge listens for a local UI only
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// ServeHTTP handles one UI connection
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade UI connection")
		return
	}
	defer conn.Close()

	c := &client{
		server: s,
		conn:   conn,
		out:    make(chan any, 8),
		done:   make(chan struct{}),
	}
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("UI connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	c.readLoop()
	close(c.done)
	wg.Wait()
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("UI disconnected")
}

type client struct {
	server *Server
	conn   *websocket.Conn
	out    chan any
	done   chan struct{}
}

// reply queues a message for the writer without blocking the reader
func (c *client) reply(msg any) {
	select {
	case c.out <- msg:
	case <-c.done:
	default:
		c.server.logger.Warn().Msg("UI reply queue full, dropping message")
	}
}

func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn().Err(err).Msg("UI read error")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(ErrorMessage{Type: "error", Error: "invalid command"})
			continue
		}
		c.handle(cmd)
	}
}

func (c *client) handle(cmd Command) {
	ctrl := c.server.ctrl
	switch cmd.Type {
	case CommandStart:
		go func() {
			err := ctrl.Start(c.server.ctx)
			if err != nil && !errors.Is(err, conversation.ErrSessionStopped) {
				c.reply(ErrorMessage{Type: "error", Command: cmd.Type, Error: err.Error()})
			}
		}()

	case CommandStop:
		ctrl.Stop()

	case CommandSendText:
		if cmd.Text == "" {
			c.reply(ErrorMessage{Type: "error", Command: cmd.Type, Error: "text is required"})
			return
		}
		go func() {
			err := ctrl.Exchange(c.server.ctx, cmd.Text)
			if err != nil && !errors.Is(err, conversation.ErrExchangeCancelled) {
				c.reply(ErrorMessage{Type: "error", Command: cmd.Type, Error: err.Error()})
			}
		}()

	default:
		c.reply(ErrorMessage{Type: "error", Command: cmd.Type, Error: "unknown command"})
	}
}

// writeLoop owns every write on the connection
func (c *client) writeLoop() {
	snapshots, unsubscribe := c.server.ctrl.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(c.server.cfg.SpectrumInterval)
	defer ticker.Stop()

	for {
		var msg any
		select {
		case <-c.done:
			return
		case snap, ok := <-snapshots:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			msg = StateMessage{Type: "state", Snapshot: snap}
		case m := <-c.out:
			msg = m
		case <-ticker.C:
			tap := c.server.ctrl.Tap()
			if tap == nil || !c.server.ctrl.Playing() {
				continue
			}
			msg = SpectrumMessage{Type: "spectrum", Bins: tap.Spectrum(c.server.cfg.SpectrumBins)}
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			c.server.logger.Warn().Err(err).Msg("UI write failed")
			_ = c.conn.Close()
			return
		}
	}
}
