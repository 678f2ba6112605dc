package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/live"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/resilience"
	"github.com/lexiqai/voice-client/internal/stt"
	"github.com/lexiqai/voice-client/internal/transcript"
)

const (
	defaultIdleTimeout = 2 * time.Second
	subscriberBuffer   = 16
)

// Replier produces a complete text reply
type Replier interface {
	Reply(ctx context.Context, text string) (string, error)
}

// Synthesizer turns text into one PCM16 chunk
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.AudioChunk, error)
}

// Options wires a Session to its collaborators
type Options struct {
	Dialer      live.Dialer
	Source      audio.CaptureSource
	Engine      audio.RenderEngine
	Replier     Replier
	Synthesizer Synthesizer

	// NewTranscriber, when set, supplies a separate local-participant transcriber per session
	NewTranscriber func() stt.Transcriber

	BlockSize    int
	VADThreshold float64
	IdleTimeout  time.Duration
	DialRetry    *resilience.RetryConfig
	Logger       zerolog.Logger
}

// Session is the conversation state machine. All transitions and inbound
// events are applied under mu, one at a time.
type Session struct {
	dialer         live.Dialer
	source         audio.CaptureSource
	engine         audio.RenderEngine
	replier        Replier
	synth          Synthesizer
	newTranscriber func() stt.Transcriber
	encoder        *audio.CaptureEncoder
	vad            *audio.VoiceActivityDetector
	transcripts    *transcript.Aggregator
	idleTimeout    time.Duration
	dialRetry      *resilience.RetryConfig
	logger         zerolog.Logger

	// speaking is written by the capture thread
	speaking atomic.Bool

	mu          sync.Mutex
	closed      bool
	state       State
	pose        Pose
	errMsg      string
	res         *sessionResources
	scheduler   *audio.Scheduler
	idleTimer   *time.Timer
	idleGen     uint64
	exchangeGen uint64
	exchangeEnd context.CancelFunc
	subscribers map[int]chan Snapshot
	nextSub     int
}

// NewSession creates an idle session
func NewSession(opts Options) *Session {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	logger := opts.Logger.With().Str("component", "session").Logger()
	return &Session{
		dialer:         opts.Dialer,
		source:         opts.Source,
		engine:         opts.Engine,
		replier:        opts.Replier,
		synth:          opts.Synthesizer,
		newTranscriber: opts.NewTranscriber,
		encoder:        audio.NewCaptureEncoder(opts.BlockSize, opts.Logger),
		vad:            audio.NewVoiceActivityDetector(opts.VADThreshold),
		transcripts:    transcript.NewAggregator(),
		idleTimeout:    opts.IdleTimeout,
		dialRetry:      opts.DialRetry,
		logger:         logger,
		state:          StateIdle,
		pose:           PoseAway,
		subscribers:    make(map[int]chan Snapshot),
	}
}

// Start acquires the microphone and opens the live channel. It blocks until
// the session is connected or has failed. ctx bounds the whole session.
func (m *Session) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrSessionActive
	}
	m.cancelExchangeLocked()
	res := newSessionResources(ctx, m.logger)
	m.res = res
	m.errMsg = ""
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	res.logger.Info().Msg("Starting session")

	capture, err := m.encoder.Start(m.source, m.blockHandler(res))
	if err != nil {
		observability.RecordError("device_acquisition", "session")
		return m.failStart(res, fmt.Errorf("failed to acquire microphone: %w", err))
	}
	if !res.setCapture(capture) {
		return ErrSessionStopped
	}

	var channel live.Channel
	err = resilience.Retry(res.ctx, func(ctx context.Context) error {
		ch, err := m.dialer.Dial(ctx)
		if err != nil {
			res.logger.Warn().Err(err).Msg("Live dial attempt failed")
			return err
		}
		channel = ch
		return nil
	}, m.dialRetry, resilience.IsRetryableNetworkError)
	if err != nil {
		observability.RecordError("channel_open", "session")
		return m.failStart(res, fmt.Errorf("failed to open live channel: %w", err))
	}
	if !res.setChannel(channel) {
		return ErrSessionStopped
	}

	var transcriber stt.Transcriber
	if m.newTranscriber != nil {
		t := m.newTranscriber()
		if err := t.Start(res.ctx); err != nil {
			res.logger.Warn().Err(err).Msg("Local transcriber unavailable, continuing without it")
			observability.RecordError("transcriber_start", "session")
		} else if res.setTranscriber(t) {
			transcriber = t
		}
	}

	m.mu.Lock()
	if m.res != res {
		m.mu.Unlock()
		res.release()
		return ErrSessionStopped
	}
	res.connected.Store(true)
	m.pose = PoseNeutral
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	go m.pump(res, channel)
	if transcriber != nil {
		go m.pumpTranscripts(res, transcriber)
	}

	res.logger.Info().Msg("Session connected")
	return nil
}

// failStart handles a Connecting failure: release, Error, then Idle with the message kept
func (m *Session) failStart(res *sessionResources, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.res != res {
		res.release()
		return ErrSessionStopped
	}
	res.logger.Error().Err(err).Msg("Session failed to start")
	m.teardownLocked(err)
	return err
}

// Stop ends the streaming session and clears any surfaced error
func (m *Session) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.res == nil {
		if m.errMsg != "" {
			m.errMsg = ""
			m.notifyLocked()
		}
		return
	}
	m.errMsg = ""
	m.teardownLocked(nil)
}

// Close tears down everything for process shutdown. Safe from any state.
func (m *Session) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.cancelExchangeLocked()
	if m.res != nil {
		m.teardownLocked(nil)
	}
	m.stopIdleTimerLocked()
	m.dropSchedulerLocked()
	m.closed = true
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
}

// teardownLocked runs the single teardown path. A nil cause is an explicit stop.
func (m *Session) teardownLocked(cause error) {
	res := m.res
	m.res = nil

	if cause != nil {
		m.errMsg = cause.Error()
		m.setStateLocked(StateError)
	} else {
		m.setStateLocked(StateDisconnecting)
	}

	m.stopIdleTimerLocked()
	if res != nil {
		res.release()
	}
	m.dropSchedulerLocked()
	m.transcripts.Finalize(transcript.RoleLocal)
	m.transcripts.Finalize(transcript.RoleRemote)
	m.speaking.Store(false)
	observability.SetSpeaking(false)

	m.pose = PoseAway
	m.setStateLocked(StateIdle)
}

// blockHandler runs on the capture thread: VAD, then a non-blocking send
func (m *Session) blockHandler(res *sessionResources) audio.BlockHandler {
	return func(block audio.CapturedBlock, pcm []byte) {
		speaking := m.vad.Evaluate(block)
		m.speaking.Store(speaking)
		observability.SetSpeaking(speaking)

		channel, transcriber := res.outputs()
		if channel == nil {
			observability.RecordCaptureBlockDropped("not_connected")
			return
		}
		if err := channel.SendAudio(pcm); err != nil {
			observability.RecordCaptureBlockDropped(dropReason(err))
		}
		if transcriber != nil {
			if err := transcriber.SendAudio(pcm); err != nil {
				observability.RecordCaptureBlockDropped("transcriber_" + dropReason(err))
			}
		}
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, live.ErrQueueFull), errors.Is(err, stt.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, live.ErrChannelClosed), errors.Is(err, stt.ErrNotActive):
		return "closed"
	}
	return "error"
}

// pump applies inbound events in channel order
func (m *Session) pump(res *sessionResources, channel live.Channel) {
	for ev := range channel.Events() {
		m.mu.Lock()
		if m.res != res {
			m.mu.Unlock()
			return
		}
		m.handleEventLocked(res, ev)
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.res == res {
		m.teardownLocked(errors.New("live connection lost"))
	}
}

func (m *Session) handleEventLocked(res *sessionResources, ev live.Event) {
	switch ev.Type {
	case live.EventAudio:
		if _, err := m.playbackLocked().Enqueue(ev.Audio); err != nil {
			return
		}
		m.setPoseLocked(PoseThinking)
		m.restartIdleTimerLocked()

	case live.EventTranscript:
		m.appendLocked(ev.Role, ev.Text)

	case live.EventTurnComplete:
		_, local := m.transcripts.Finalize(transcript.RoleLocal)
		_, remote := m.transcripts.Finalize(transcript.RoleRemote)
		if local || remote {
			m.notifyLocked()
		}

	case live.EventInterrupted:
		cancelled := 0
		if m.scheduler != nil {
			cancelled = m.scheduler.CancelAll()
		}
		m.transcripts.Discard(transcript.RoleRemote)
		m.stopIdleTimerLocked()
		res.logger.Debug().Int("cancelled_units", cancelled).Msg("Remote turn interrupted")
		m.pose = PoseListening
		m.notifyLocked()

	case live.EventGoAway:
		res.logger.Warn().Str("time_left", ev.TimeLeft).Msg("Live service is going away")

	case live.EventError:
		observability.RecordError("channel", "session")
		res.logger.Error().Err(ev.Err).Msg("Live channel error")
		m.teardownLocked(fmt.Errorf("live channel error: %w", ev.Err))

	case live.EventClosed:
		res.logger.Warn().Msg("Live channel closed by the service")
		m.teardownLocked(errors.New("live channel closed by the service"))
	}
}

// appendLocked applies a transcript delta and derives the listening pose
func (m *Session) appendLocked(role transcript.Role, text string) {
	if _, ok := m.transcripts.Append(role, text); !ok {
		return
	}
	if role == transcript.RoleLocal && m.speaking.Load() {
		m.pose = PoseListening
	}
	m.notifyLocked()
}

// pumpTranscripts feeds final segments from the separate local transcriber
func (m *Session) pumpTranscripts(res *sessionResources, t stt.Transcriber) {
	for {
		select {
		case <-res.ctx.Done():
			return
		case result := <-t.Results():
			m.mu.Lock()
			if m.res != res {
				m.mu.Unlock()
				return
			}
			text := result.Text
			if m.transcripts.IsOpen(transcript.RoleLocal) {
				text = " " + text
			}
			m.appendLocked(transcript.RoleLocal, text)
			m.mu.Unlock()
		}
	}
}

// playbackLocked returns the scheduler, building it on first use
func (m *Session) playbackLocked() *audio.Scheduler {
	if m.scheduler == nil {
		m.scheduler = audio.NewScheduler(m.engine, m.logger)
	}
	return m.scheduler
}

func (m *Session) dropSchedulerLocked() {
	if m.scheduler == nil {
		return
	}
	m.scheduler.CancelAll()
	m.scheduler = nil
}

// restingPoseLocked is the pose shown when nothing is happening
func (m *Session) restingPoseLocked() Pose {
	if m.state == StateConnected {
		return PoseNeutral
	}
	return PoseAway
}

// restartIdleTimerLocked replaces any pending idle timer
func (m *Session) restartIdleTimerLocked() {
	m.stopIdleTimerLocked()
	gen := m.idleGen
	m.idleTimer = time.AfterFunc(m.idleTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.idleGen || m.closed {
			return
		}
		m.idleTimer = nil
		m.setPoseLocked(m.restingPoseLocked())
	})
}

func (m *Session) stopIdleTimerLocked() {
	m.idleGen++
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

func (m *Session) setPoseLocked(p Pose) {
	if m.pose == p {
		return
	}
	m.pose = p
	m.notifyLocked()
}

func (m *Session) setStateLocked(s State) {
	m.state = s
	observability.SetSessionState(s.String())
	m.notifyLocked()
}

func (m *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:     m.state,
		Connected: m.state == StateConnected,
		Error:     m.errMsg,
		Pose:      m.pose,
		Messages:  m.transcripts.Messages(),
	}
}

// notifyLocked publishes the current snapshot. Slow subscribers lose older snapshots, never the latest.
func (m *Session) notifyLocked() {
	if len(m.subscribers) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for _, ch := range m.subscribers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Subscribe returns a stream of snapshots, starting with the current one, and a cancel func
func (m *Session) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Snapshot, subscriberBuffer)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = ch
	ch <- m.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(ch)
			}
		})
	}
}

// Snapshot returns the current UI boundary
func (m *Session) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// State returns the lifecycle state
func (m *Session) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Tap exposes the render engine's frequency tap
func (m *Session) Tap() audio.FrequencyTap {
	return m.engine.Tap()
}

// Playing reports whether scheduled audio is still pending
func (m *Session) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduler != nil && m.scheduler.Pending()
}
