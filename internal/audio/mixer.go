package audio

import (
	"errors"
	"math"
	"sync"
)

// ErrEngineClosed is returned when scheduling on a closed mixer
var ErrEngineClosed = errors.New("render engine closed")

// Mixer is a software render engine. Its clock advances only as Render pulls frames,
// so a device callback driving Render makes the clock follow the hardware.
type Mixer struct {
	rate int

	mu      sync.Mutex
	frames  int64
	voices  map[uint64]*mixerVoice
	nextID  uint64
	closed  bool
	history *SampleRing
	tap     *Analyser
}

type mixerVoice struct {
	mixer   *Mixer
	id      uint64
	samples []float32
	start   int64
	onEnded func()
}

// NewMixer creates a mono mixer rendering at sampleRate
func NewMixer(sampleRate int) *Mixer {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}
	m := &Mixer{
		rate:    sampleRate,
		voices:  make(map[uint64]*mixerVoice),
		history: NewSampleRing(DefaultFFTSize),
	}
	m.tap = NewAnalyser(DefaultFFTSize, m.history.Latest)
	return m
}

// Now returns rendered frames as seconds
func (m *Mixer) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.frames) / float64(m.rate)
}

// SampleRate returns the render rate
func (m *Mixer) SampleRate() int {
	return m.rate
}

// Tap returns the analyser fed by the rendered output
func (m *Mixer) Tap() FrequencyTap {
	return m.tap
}

// Schedule places samples on the mixer timeline
func (m *Mixer) Schedule(samples []float32, at float64, onEnded func()) (Voice, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples to schedule")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrEngineClosed
	}

	start := int64(math.Round(at * float64(m.rate)))
	if start < m.frames {
		start = m.frames
	}

	m.nextID++
	v := &mixerVoice{
		mixer:   m,
		id:      m.nextID,
		samples: samples,
		start:   start,
		onEnded: onEnded,
	}
	m.voices[v.id] = v
	return v, nil
}

// Stop removes the voice from the timeline
func (v *mixerVoice) Stop() {
	v.mixer.mu.Lock()
	delete(v.mixer.voices, v.id)
	v.mixer.mu.Unlock()
}

// Active returns the number of voices still on the timeline
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Render mixes the next len(out) frames into out and advances the clock
func (m *Mixer) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	var ended []func()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	from := m.frames
	to := from + int64(len(out))
	for id, v := range m.voices {
		end := v.start + int64(len(v.samples))
		lo := max(v.start, from)
		hi := min(end, to)
		for f := lo; f < hi; f++ {
			out[f-from] += v.samples[f-v.start]
		}
		if end <= to {
			delete(m.voices, id)
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
		}
	}
	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	m.frames = to
	m.mu.Unlock()

	m.history.Overwrite(out)

	for _, fn := range ended {
		fn()
	}
}

// Close drops every voice and rejects further scheduling
func (m *Mixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.voices = make(map[uint64]*mixerVoice)
}
