package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionStates = []string{"idle", "connecting", "connected", "disconnecting", "error"}

var (
	// Session metrics
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_client_session_state",
		Help: "Current session state (1 for the active state, 0 otherwise)",
	}, []string{"state"})

	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_sessions_total",
		Help: "Total number of streaming sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_session_duration_seconds",
		Help:    "Duration of streaming sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Playback metrics
	chunksScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_playback_chunks_scheduled_total",
		Help: "Inbound audio chunks scheduled for playback",
	})

	chunksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_playback_chunks_dropped_total",
		Help: "Inbound audio chunks dropped before playback",
	}, []string{"reason"})

	scheduledSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_playback_scheduled_seconds_total",
		Help: "Seconds of audio scheduled for playback",
	})

	playbackCancels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_playback_cancellations_total",
		Help: "Number of times all scheduled playback was cancelled",
	})

	unitsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_playback_units_cancelled_total",
		Help: "Scheduled units stopped by cancellation",
	})

	// Capture metrics
	captureBlocksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_capture_blocks_sent_total",
		Help: "Captured blocks handed to the outbound channel",
	})

	captureBlocksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_capture_blocks_dropped_total",
		Help: "Captured blocks dropped instead of sent",
	}, []string{"reason"})

	vadSpeaking = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_vad_speaking",
		Help: "Latest voice activity reading (1=speaking)",
	})

	// Transcript metrics
	transcriptsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_transcripts_finalized_total",
		Help: "Transcript messages finalized",
	}, []string{"role"})

	transcriptsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_transcripts_discarded_total",
		Help: "Open transcript buffers discarded on interruption",
	}, []string{"role"})

	// Non-streaming exchange metrics
	exchangeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_client_exchange_latency_seconds",
		Help:    "Non-streaming exchange latency per stage",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage", "status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_client_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// SessionMetrics tracks metrics for a single streaming session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
	ended     bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	sessionsTotal.Inc()
}

// RecordSessionEnd records the end of a session. Repeated calls are ignored.
func (m *SessionMetrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordError records an error outside of a session
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// SetSessionState marks state as the active session state
func SetSessionState(state string) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}

// RecordChunkScheduled records an audio chunk laid on the playback clock
func RecordChunkScheduled(durationSeconds float64) {
	chunksScheduled.Inc()
	scheduledSeconds.Add(durationSeconds)
}

// RecordChunkDropped records an inbound chunk that could not be played
func RecordChunkDropped(reason string) {
	chunksDropped.WithLabelValues(reason).Inc()
}

// RecordPlaybackCancel records a cancel-all and how many units it stopped
func RecordPlaybackCancel(units int) {
	playbackCancels.Inc()
	unitsCancelled.Add(float64(units))
}

// RecordCaptureBlockSent records a block handed to the channel
func RecordCaptureBlockSent(bytes int) {
	captureBlocksSent.Inc()
	audioBytesProcessed.WithLabelValues("out").Add(float64(bytes))
}

// RecordCaptureBlockDropped records a block that was not sent
func RecordCaptureBlockDropped(reason string) {
	captureBlocksDropped.WithLabelValues(reason).Inc()
}

// SetSpeaking records the latest voice activity reading
func SetSpeaking(speaking bool) {
	if speaking {
		vadSpeaking.Set(1)
		return
	}
	vadSpeaking.Set(0)
}

// RecordTranscriptFinalized records a finalized transcript message
func RecordTranscriptFinalized(role string) {
	transcriptsFinalized.WithLabelValues(role).Inc()
}

// RecordTranscriptDiscarded records a discarded open transcript buffer
func RecordTranscriptDiscarded(role string) {
	transcriptsDiscarded.WithLabelValues(role).Inc()
}

// ObserveExchangeStage records the latency of one non-streaming exchange stage
func ObserveExchangeStage(stage string, started time.Time, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	exchangeLatency.WithLabelValues(stage, status).Observe(time.Since(started).Seconds())
}

// RecordAudioBytes records audio bytes processed
func RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
