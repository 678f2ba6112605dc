package conversation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/live"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/stt"
)

// sessionResources owns everything one streaming session acquires.
// release is the single teardown path; anything registered after it ran is released on arrival.
type sessionResources struct {
	ctx     context.Context
	cancel  context.CancelFunc
	id      string
	logger  zerolog.Logger
	metrics *observability.SessionMetrics

	// connected gates the capture handler; set once the channel is acknowledged
	connected atomic.Bool

	mu          sync.Mutex
	released    bool
	capture     *audio.ActiveCapture
	channel     live.Channel
	transcriber stt.Transcriber
}

func newSessionResources(ctx context.Context, logger zerolog.Logger) *sessionResources {
	id := observability.NewSessionID()
	ctx, cancel := context.WithCancel(ctx)
	r := &sessionResources{
		ctx:     ctx,
		cancel:  cancel,
		id:      id,
		logger:  observability.WithSessionID(logger, id),
		metrics: observability.NewSessionMetrics(id),
	}
	r.metrics.RecordSessionStart()
	return r
}

func (r *sessionResources) setCapture(c *audio.ActiveCapture) bool {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		_ = audio.StopCapture(c)
		return false
	}
	r.capture = c
	r.mu.Unlock()
	return true
}

func (r *sessionResources) setChannel(ch live.Channel) bool {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		_ = ch.Close()
		return false
	}
	r.channel = ch
	r.mu.Unlock()
	return true
}

func (r *sessionResources) setTranscriber(t stt.Transcriber) bool {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		_ = t.Close()
		return false
	}
	r.transcriber = t
	r.mu.Unlock()
	return true
}

// outputs returns the send targets for a captured block, or nil before the session is connected
func (r *sessionResources) outputs() (live.Channel, stt.Transcriber) {
	if !r.connected.Load() {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, nil
	}
	return r.channel, r.transcriber
}

// release stops capture, closes the transcriber and the channel. Safe to call repeatedly from any goroutine
// except the capture thread.
func (r *sessionResources) release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.connected.Store(false)
	capture, channel, transcriber := r.capture, r.channel, r.transcriber
	r.capture, r.channel, r.transcriber = nil, nil, nil
	r.mu.Unlock()

	r.cancel()

	if err := audio.StopCapture(capture); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to stop capture")
	}
	if transcriber != nil {
		_ = transcriber.Close()
	}
	if channel != nil {
		_ = channel.Close()
	}

	r.metrics.RecordSessionEnd()
	r.logger.Info().Msg("Session resources released")
}
