package conversation

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/live"
	"github.com/lexiqai/voice-client/internal/resilience"
	"github.com/lexiqai/voice-client/internal/stt"
	"github.com/lexiqai/voice-client/internal/transcript"
)

const testBlockSize = 256

type fakeSource struct {
	mu       sync.Mutex
	onFrames func([]float32)
	startErr error
	starts   int
	stops    int
}

func (f *fakeSource) SampleRate() int { return 16000 }

func (f *fakeSource) Start(onFrames func([]float32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.onFrames = onFrames
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.onFrames = nil
	return nil
}

func (f *fakeSource) push(samples []float32) {
	f.mu.Lock()
	cb := f.onFrames
	f.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

func (f *fakeSource) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeChannel struct {
	events chan live.Event

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan live.Event, 16)}
}

func (c *fakeChannel) Events() <-chan live.Event { return c.events }

func (c *fakeChannel) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return live.ErrChannelClosed
	}
	c.sent = append(c.sent, pcm)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// serverClose simulates the transport ending on its own
func (c *fakeChannel) serverClose(ev *live.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev != nil {
		c.events <- *ev
	}
	c.closed = true
	close(c.events)
}

type fakeDialer struct {
	mu      sync.Mutex
	channel *fakeChannel
	errs    []error
	block   bool
	dials   int
	entered chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context) (live.Channel, error) {
	d.mu.Lock()
	d.dials++
	var err error
	if len(d.errs) > 0 {
		err = d.errs[0]
		d.errs = d.errs[1:]
	}
	block, entered := d.block, d.entered
	d.mu.Unlock()

	if block {
		if entered != nil {
			close(entered)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return d.channel, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeReplier struct {
	reply string
	err   error
	block bool
}

func (r *fakeReplier) Reply(ctx context.Context, text string) (string, error) {
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.reply, r.err
}

type fakeSynth struct {
	err error
}

func (s *fakeSynth) Synthesize(ctx context.Context, text string) (audio.AudioChunk, error) {
	if s.err != nil {
		return audio.AudioChunk{}, s.err
	}
	return pcmChunk(0.5), nil
}

type fakeTranscriber struct {
	results chan stt.TranscriptionResult
	closed  chan struct{}
	once    sync.Once
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{
		results: make(chan stt.TranscriptionResult, 4),
		closed:  make(chan struct{}),
	}
}

func (t *fakeTranscriber) Start(ctx context.Context) error { return nil }
func (t *fakeTranscriber) SendAudio(pcm []byte) error      { return nil }
func (t *fakeTranscriber) Results() <-chan stt.TranscriptionResult {
	return t.results
}
func (t *fakeTranscriber) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func pcmChunk(seconds float64) audio.AudioChunk {
	n := int(seconds * audio.OutputSampleRate)
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(1000)))
	}
	return audio.AudioChunk{Data: data, SampleRate: audio.OutputSampleRate, Channels: 1}
}

func constant(v float32, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

type harness struct {
	session *Session
	source  *fakeSource
	dialer  *fakeDialer
	channel *fakeChannel
	mixer   *audio.Mixer
	replier *fakeReplier
	synth   *fakeSynth
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		source:  &fakeSource{},
		channel: newFakeChannel(),
		mixer:   audio.NewMixer(audio.OutputSampleRate),
		replier: &fakeReplier{reply: "hi there"},
		synth:   &fakeSynth{},
	}
	h.dialer = &fakeDialer{channel: h.channel}
	h.session = NewSession(Options{
		Dialer:      h.dialer,
		Source:      h.source,
		Engine:      h.mixer,
		Replier:     h.replier,
		Synthesizer: h.synth,
		BlockSize:   testBlockSize,
		IdleTimeout: 100 * time.Millisecond,
		DialRetry: &resilience.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2,
		},
		Logger: zerolog.Nop(),
	})
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Expected session to start, got %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func activeUnits(m *Session) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scheduler == nil {
		return 0
	}
	return len(m.scheduler.Active())
}

func collectStates(ch <-chan Snapshot) []State {
	var states []State
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return states
			}
			if len(states) == 0 || states[len(states)-1] != snap.State {
				states = append(states, snap.State)
			}
		default:
			return states
		}
	}
}

func TestSession_InitialSnapshot(t *testing.T) {
	h := newHarness(t)

	snap := h.session.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("Expected idle, got %s", snap.State)
	}
	if snap.Pose != PoseAway {
		t.Errorf("Expected pose away, got %s", snap.Pose)
	}
	if snap.Connected {
		t.Error("Expected not connected")
	}
}

func TestSession_StartConnects(t *testing.T) {
	h := newHarness(t)
	updates, cancel := h.session.Subscribe()
	defer cancel()

	h.start(t)

	snap := h.session.Snapshot()
	if snap.State != StateConnected || !snap.Connected {
		t.Errorf("Expected connected, got %s", snap.State)
	}
	if snap.Pose != PoseNeutral {
		t.Errorf("Expected pose neutral, got %s", snap.Pose)
	}

	states := collectStates(updates)
	expected := []State{StateIdle, StateConnecting, StateConnected}
	if len(states) != len(expected) {
		t.Fatalf("Expected states %v, got %v", expected, states)
	}
	for i := range expected {
		if states[i] != expected[i] {
			t.Errorf("Expected states %v, got %v", expected, states)
			break
		}
	}
}

func TestSession_StartWhileActive(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if err := h.session.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive, got %v", err)
	}
}

func TestSession_CaptureSendsBlocks(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.source.push(constant(0.1, testBlockSize*2+10))

	if got := h.channel.sentCount(); got != 2 {
		t.Fatalf("Expected 2 blocks sent, got %d", got)
	}
	h.channel.mu.Lock()
	size := len(h.channel.sent[0])
	h.channel.mu.Unlock()
	if size != testBlockSize*2 {
		t.Errorf("Expected %d bytes per block, got %d", testBlockSize*2, size)
	}
}

func TestSession_BlocksBeforeConnectedAreDropped(t *testing.T) {
	h := newHarness(t)
	h.dialer.block = true
	h.dialer.entered = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.session.Start(context.Background()) }()
	<-h.dialer.entered

	h.source.push(constant(0.1, testBlockSize))
	if got := h.channel.sentCount(); got != 0 {
		t.Errorf("Expected no blocks sent while connecting, got %d", got)
	}

	h.session.Stop()
	<-done
}

func TestSession_AudioSchedulesAndIdleReturnsToNeutral(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.channel.events <- live.Event{Type: live.EventAudio, Audio: pcmChunk(0.5)}
	h.channel.events <- live.Event{Type: live.EventAudio, Audio: pcmChunk(0.3)}

	waitFor(t, "two scheduled units", func() bool { return activeUnits(h.session) == 2 })
	if pose := h.session.Snapshot().Pose; pose != PoseThinking {
		t.Errorf("Expected pose thinking, got %s", pose)
	}

	h.session.mu.Lock()
	units := h.session.scheduler.Active()
	h.session.mu.Unlock()
	if units[0].EndTime != units[1].StartTime {
		t.Errorf("Expected gapless units, got end %v and start %v", units[0].EndTime, units[1].StartTime)
	}

	waitFor(t, "pose neutral after idle", func() bool { return h.session.Snapshot().Pose == PoseNeutral })
}

func TestSession_AudioRestartsIdleTimer(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.channel.events <- live.Event{Type: live.EventAudio, Audio: pcmChunk(0.5)}
	waitFor(t, "first scheduled unit", func() bool { return activeUnits(h.session) == 1 })

	time.Sleep(70 * time.Millisecond)
	h.channel.events <- live.Event{Type: live.EventAudio, Audio: pcmChunk(0.5)}
	waitFor(t, "second scheduled unit", func() bool { return activeUnits(h.session) == 2 })

	// Past the first timer's deadline, well before the second one
	time.Sleep(45 * time.Millisecond)
	if pose := h.session.Snapshot().Pose; pose != PoseThinking {
		t.Errorf("Expected pose thinking after the first deadline, got %s", pose)
	}

	waitFor(t, "pose neutral after idle", func() bool { return h.session.Snapshot().Pose == PoseNeutral })
}

func TestSession_LocalTranscriptWhileSpeaking(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.source.push(constant(0.5, testBlockSize))
	h.channel.events <- live.Event{Type: live.EventTranscript, Role: transcript.RoleLocal, Text: "hel"}
	h.channel.events <- live.Event{Type: live.EventTranscript, Role: transcript.RoleLocal, Text: "lo"}

	waitFor(t, "local transcript", func() bool {
		msgs := h.session.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Text == "hello"
	})
	snap := h.session.Snapshot()
	if snap.Pose != PoseListening {
		t.Errorf("Expected pose listening, got %s", snap.Pose)
	}
	if snap.Messages[0].IsFinal {
		t.Error("Expected message to still be open")
	}
}

func TestSession_LocalTranscriptWhileSilent(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.source.push(constant(0, testBlockSize))
	h.channel.events <- live.Event{Type: live.EventTranscript, Role: transcript.RoleLocal, Text: "hi"}

	waitFor(t, "local transcript", func() bool { return len(h.session.Snapshot().Messages) == 1 })
	if pose := h.session.Snapshot().Pose; pose != PoseNeutral {
		t.Errorf("Expected pose neutral, got %s", pose)
	}
}

func TestSession_TurnCompleteFinalizesBoth(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.channel.events <- live.Event{Type: live.EventTranscript, Role: transcript.RoleLocal, Text: "question"}
	h.channel.events <- live.Event{Type: live.EventTranscript, Role: transcript.RoleRemote, Text: "answer"}
	h.channel.events <- live.Event{Type: live.EventTurnComplete}

	waitFor(t, "both finalized", func() bool {
		msgs := h.session.Snapshot().Messages
		return len(msgs) == 2 && msgs[0].IsFinal && msgs[1].IsFinal
	})
}

func TestSession_InterruptedCancelsPlaybackAndDiscards(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.channel.events <- live.Event{Type: live.EventTranscript, Role: transcript.RoleRemote, Text: "long ans"}
	h.channel.events <- live.Event{Type: live.EventAudio, Audio: pcmChunk(0.5)}
	h.channel.events <- live.Event{Type: live.EventAudio, Audio: pcmChunk(0.5)}
	waitFor(t, "scheduled audio", func() bool { return activeUnits(h.session) == 2 })

	h.channel.events <- live.Event{Type: live.EventInterrupted}
	waitFor(t, "pose listening", func() bool { return h.session.Snapshot().Pose == PoseListening })

	if n := activeUnits(h.session); n != 0 {
		t.Errorf("Expected no active units, got %d", n)
	}
	if n := h.mixer.Active(); n != 0 {
		t.Errorf("Expected no voices in the mixer, got %d", n)
	}
	for _, msg := range h.session.Snapshot().Messages {
		if msg.Role == transcript.RoleRemote {
			t.Errorf("Expected remote partial to be discarded, got %+v", msg)
		}
	}

	h.session.mu.Lock()
	next := h.session.scheduler.NextStartTime()
	h.session.mu.Unlock()
	if next != 0 {
		t.Errorf("Expected playback clock reset, got %v", next)
	}
}

func TestSession_ChannelErrorTearsDown(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	updates, cancel := h.session.Subscribe()
	defer cancel()

	h.channel.events <- live.Event{Type: live.EventAudio, Audio: pcmChunk(0.5)}
	h.channel.events <- live.Event{Type: live.EventError, Err: errors.New("socket reset")}

	waitFor(t, "idle", func() bool { return h.session.State() == StateIdle })

	snap := h.session.Snapshot()
	if snap.Error == "" {
		t.Error("Expected an error message")
	}
	if snap.Pose != PoseAway || snap.Connected {
		t.Errorf("Expected disconnected pose away, got %s connected=%v", snap.Pose, snap.Connected)
	}
	if h.source.stopCount() != 1 {
		t.Errorf("Expected capture stopped once, got %d", h.source.stopCount())
	}
	if !h.channel.isClosed() {
		t.Error("Expected channel closed")
	}
	if n := h.mixer.Active(); n != 0 {
		t.Errorf("Expected playback cancelled, got %d voices", n)
	}

	states := collectStates(updates)
	sawError := false
	for _, s := range states {
		if s == StateError {
			sawError = true
		}
	}
	if !sawError || states[len(states)-1] != StateIdle {
		t.Errorf("Expected error then idle, got %v", states)
	}
}

func TestSession_ServerCloseTearsDown(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.channel.serverClose(&live.Event{Type: live.EventClosed})

	waitFor(t, "idle", func() bool { return h.session.State() == StateIdle })
	if h.session.Snapshot().Error == "" {
		t.Error("Expected an error message")
	}
}

func TestSession_EventsEndWithoutNotice(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.channel.serverClose(nil)

	waitFor(t, "idle", func() bool { return h.session.State() == StateIdle })
	if got := h.session.Snapshot().Error; got != "live connection lost" {
		t.Errorf("Expected 'live connection lost', got %q", got)
	}
}

func TestSession_DeviceFailure(t *testing.T) {
	h := newHarness(t)
	h.source.startErr = errors.New("permission denied")

	err := h.session.Start(context.Background())
	if err == nil {
		t.Fatal("Expected error")
	}

	snap := h.session.Snapshot()
	if snap.State != StateIdle || snap.Error == "" {
		t.Errorf("Expected idle with error, got %s %q", snap.State, snap.Error)
	}
	if h.dialer.dialCount() != 0 {
		t.Errorf("Expected no dial, got %d", h.dialer.dialCount())
	}
}

func TestSession_DialFailureReleasesCapture(t *testing.T) {
	h := newHarness(t)
	h.dialer.errs = []error{errors.New("invalid api key")}

	if err := h.session.Start(context.Background()); err == nil {
		t.Fatal("Expected error")
	}

	if h.dialer.dialCount() != 1 {
		t.Errorf("Expected 1 dial for a non-retryable error, got %d", h.dialer.dialCount())
	}
	if h.source.stopCount() != 1 {
		t.Errorf("Expected capture released, got %d stops", h.source.stopCount())
	}
	snap := h.session.Snapshot()
	if snap.State != StateIdle || snap.Error == "" {
		t.Errorf("Expected idle with error, got %s %q", snap.State, snap.Error)
	}

	h.dialer.mu.Lock()
	h.dialer.errs = nil
	h.dialer.mu.Unlock()
	h.start(t)
	if h.session.Snapshot().Error != "" {
		t.Error("Expected error cleared on a new session")
	}
}

func TestSession_StopClearsError(t *testing.T) {
	h := newHarness(t)
	h.source.startErr = errors.New("permission denied")
	if err := h.session.Start(context.Background()); err == nil {
		t.Fatal("Expected error")
	}

	updates, cancel := h.session.Subscribe()
	defer cancel()
	<-updates

	h.session.Stop()

	snap := h.session.Snapshot()
	if snap.State != StateIdle || snap.Error != "" {
		t.Errorf("Expected idle without error, got %s %q", snap.State, snap.Error)
	}
	select {
	case update := <-updates:
		if update.Error != "" {
			t.Errorf("Expected cleared error in update, got %q", update.Error)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a snapshot after the error was cleared")
	}
}

func TestSession_DialRetriesRetryableErrors(t *testing.T) {
	h := newHarness(t)
	h.dialer.errs = []error{
		resilience.NewRetryableError(errors.New("connection refused")),
		resilience.NewRetryableError(errors.New("connection refused")),
	}

	h.start(t)

	if h.dialer.dialCount() != 3 {
		t.Errorf("Expected 3 dials, got %d", h.dialer.dialCount())
	}
}

func TestSession_Stop(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.channel.events <- live.Event{Type: live.EventAudio, Audio: pcmChunk(0.5)}
	waitFor(t, "scheduled audio", func() bool { return activeUnits(h.session) == 1 })

	updates, cancel := h.session.Subscribe()
	defer cancel()

	h.session.Stop()
	h.session.Stop()

	snap := h.session.Snapshot()
	if snap.State != StateIdle || snap.Error != "" || snap.Pose != PoseAway {
		t.Errorf("Expected clean idle, got %+v", snap)
	}
	if !h.channel.isClosed() {
		t.Error("Expected channel closed")
	}
	if h.source.stopCount() != 1 {
		t.Errorf("Expected capture stopped once, got %d", h.source.stopCount())
	}
	if h.mixer.Active() != 0 {
		t.Errorf("Expected playback cancelled, got %d voices", h.mixer.Active())
	}

	states := collectStates(updates)
	if len(states) != 3 || states[1] != StateDisconnecting || states[2] != StateIdle {
		t.Errorf("Expected [connected disconnecting idle], got %v", states)
	}
}

func TestSession_StopWhileConnecting(t *testing.T) {
	h := newHarness(t)
	h.dialer.block = true
	h.dialer.entered = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.session.Start(context.Background()) }()
	<-h.dialer.entered

	if s := h.session.State(); s != StateConnecting {
		t.Fatalf("Expected connecting, got %s", s)
	}
	h.session.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionStopped) {
			t.Errorf("Expected ErrSessionStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Start to return after Stop")
	}

	if s := h.session.State(); s != StateIdle {
		t.Errorf("Expected idle, got %s", s)
	}
	if h.source.stopCount() != 1 {
		t.Errorf("Expected capture released once, got %d", h.source.stopCount())
	}
}

func TestSession_Exchange(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if err := h.session.Exchange(context.Background(), "  hello  "); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !h.channel.isClosed() {
		t.Error("Expected streaming session torn down")
	}
	snap := h.session.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("Expected idle, got %s", snap.State)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(snap.Messages))
	}
	if snap.Messages[0].Role != transcript.RoleLocal || snap.Messages[0].Text != "hello" || !snap.Messages[0].IsFinal {
		t.Errorf("Unexpected local message %+v", snap.Messages[0])
	}
	if snap.Messages[1].Role != transcript.RoleRemote || snap.Messages[1].Text != "hi there" || !snap.Messages[1].IsFinal {
		t.Errorf("Unexpected remote message %+v", snap.Messages[1])
	}
	if n := activeUnits(h.session); n != 1 {
		t.Errorf("Expected 1 scheduled unit, got %d", n)
	}
	if snap.Pose != PoseThinking {
		t.Errorf("Expected pose thinking while speaking, got %s", snap.Pose)
	}

	waitFor(t, "pose away after idle", func() bool { return h.session.Snapshot().Pose == PoseAway })
}

func TestSession_ExchangeErrorIsScoped(t *testing.T) {
	h := newHarness(t)
	h.replier.err = errors.New("quota exceeded")

	err := h.session.Exchange(context.Background(), "hello")
	if err == nil {
		t.Fatal("Expected error")
	}

	snap := h.session.Snapshot()
	if snap.Error == "" {
		t.Error("Expected error surfaced")
	}
	if snap.State != StateIdle {
		t.Errorf("Expected idle, got %s", snap.State)
	}
	if len(snap.Messages) != 1 {
		t.Errorf("Expected only the local message, got %d", len(snap.Messages))
	}

	h.start(t)
	if h.session.Snapshot().Error != "" {
		t.Error("Expected error cleared by a new session")
	}
}

func TestSession_ExchangeSynthesisFailure(t *testing.T) {
	h := newHarness(t)
	h.synth.err = errors.New("no audio")

	if err := h.session.Exchange(context.Background(), "hello"); err == nil {
		t.Fatal("Expected error")
	}
	snap := h.session.Snapshot()
	if len(snap.Messages) != 2 {
		t.Errorf("Expected reply text kept, got %d messages", len(snap.Messages))
	}
	if activeUnits(h.session) != 0 {
		t.Error("Expected nothing scheduled")
	}
}

func TestSession_StartCancelsExchange(t *testing.T) {
	h := newHarness(t)
	h.replier.block = true

	done := make(chan error, 1)
	go func() { done <- h.session.Exchange(context.Background(), "hello") }()
	waitFor(t, "exchange in flight", func() bool { return len(h.session.Snapshot().Messages) == 1 })

	h.start(t)

	select {
	case err := <-done:
		if !errors.Is(err, ErrExchangeCancelled) {
			t.Errorf("Expected ErrExchangeCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected exchange to be cancelled")
	}
	if s := h.session.State(); s != StateConnected {
		t.Errorf("Expected connected, got %s", s)
	}
}

func TestSession_ExchangeValidation(t *testing.T) {
	h := newHarness(t)

	if err := h.session.Exchange(context.Background(), "   "); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestSession_LocalTranscriber(t *testing.T) {
	h := newHarness(t)
	tr := newFakeTranscriber()
	h.session.newTranscriber = func() stt.Transcriber { return tr }

	h.start(t)
	tr.results <- stt.TranscriptionResult{Text: "hello"}
	tr.results <- stt.TranscriptionResult{Text: "world"}

	waitFor(t, "local transcript", func() bool {
		msgs := h.session.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Text == "hello world"
	})

	h.session.Stop()
	select {
	case <-tr.closed:
	default:
		t.Error("Expected transcriber closed on stop")
	}
}

func TestSession_Close(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	updates, _ := h.session.Subscribe()

	h.session.Close()
	h.session.Close()

	if !h.channel.isClosed() {
		t.Error("Expected channel closed")
	}
	for range updates {
	}
	if err := h.session.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := h.session.Exchange(context.Background(), "hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestSession_SubscribeCancel(t *testing.T) {
	h := newHarness(t)
	updates, cancel := h.session.Subscribe()

	cancel()
	cancel()

	for range updates {
	}
	h.start(t)
}
