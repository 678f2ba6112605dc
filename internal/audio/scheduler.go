package audio

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/rs/zerolog"
)

// ScheduledUnit is a chunk bound to a slot on the playback clock
type ScheduledUnit struct {
	ID        uint64
	Seq       uint64
	StartTime float64
	EndTime   float64

	voice Voice
}

// Scheduler lays inbound chunks end to end on the engine clock.
// It owns the playback clock and the set of active units.
type Scheduler struct {
	engine RenderEngine
	logger zerolog.Logger

	mu            sync.Mutex
	nextStartTime float64
	active        map[uint64]*ScheduledUnit
	nextID        uint64
}

// NewScheduler creates a scheduler rendering through engine
func NewScheduler(engine RenderEngine, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		engine: engine,
		logger: logger.With().Str("component", "scheduler").Logger(),
		active: make(map[uint64]*ScheduledUnit),
	}
}

// Enqueue decodes the chunk and schedules it right after everything already queued,
// or at the current engine time if the queue has drained. A chunk that cannot be
// decoded or scheduled is dropped and leaves the clock untouched.
func (s *Scheduler) Enqueue(chunk AudioChunk) (ScheduledUnit, error) {
	samples, err := DecodeChunk(chunk, s.engine.SampleRate())
	if err != nil {
		s.drop(chunk, "decode", err)
		return ScheduledUnit{}, err
	}
	duration := float64(len(samples)) / float64(s.engine.SampleRate())

	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(s.engine.Now(), s.nextStartTime)

	s.nextID++
	id := s.nextID
	voice, err := s.engine.Schedule(samples, start, func() { s.complete(id) })
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDecode, err)
		s.drop(chunk, "engine", err)
		return ScheduledUnit{}, err
	}

	unit := &ScheduledUnit{
		ID:        id,
		Seq:       chunk.Seq,
		StartTime: start,
		EndTime:   start + duration,
		voice:     voice,
	}
	s.active[id] = unit
	s.nextStartTime = unit.EndTime

	observability.RecordChunkScheduled(duration)
	observability.RecordAudioBytes("in", int64(len(chunk.Data)))
	return *unit, nil
}

func (s *Scheduler) drop(chunk AudioChunk, reason string, err error) {
	s.logger.Warn().
		Err(err).
		Uint64("seq", chunk.Seq).
		Int("bytes", len(chunk.Data)).
		Str("reason", reason).
		Msg("Dropping inbound audio chunk")
	observability.RecordChunkDropped(reason)
}

// complete runs when a unit finishes on its own. Units already cancelled are ignored.
func (s *Scheduler) complete(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// CancelAll stops every scheduled or playing unit and rewinds the clock so the
// next chunk starts immediately. It returns the number of units stopped.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	units := make([]*ScheduledUnit, 0, len(s.active))
	for _, u := range s.active {
		units = append(units, u)
	}
	s.active = make(map[uint64]*ScheduledUnit)
	s.nextStartTime = 0
	s.mu.Unlock()

	for _, u := range units {
		u.voice.Stop()
	}

	observability.RecordPlaybackCancel(len(units))
	if len(units) > 0 {
		s.logger.Debug().Int("units", len(units)).Msg("Cancelled scheduled playback")
	}
	return len(units)
}

// NextStartTime returns the earliest time the next chunk may start
func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStartTime
}

// Active returns the units still scheduled or playing, ordered by start time
func (s *Scheduler) Active() []ScheduledUnit {
	s.mu.Lock()
	defer s.mu.Unlock()

	units := make([]ScheduledUnit, 0, len(s.active))
	for _, u := range s.active {
		units = append(units, *u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].StartTime < units[j].StartTime })
	return units
}

// Pending reports whether any unit is still scheduled or playing
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}

// Tap exposes the engine's output analyser
func (s *Scheduler) Tap() FrequencyTap {
	return s.engine.Tap()
}
