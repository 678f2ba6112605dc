package audio

// Voice is a handle on one scheduled piece of audio
type Voice interface {
	// Stop silences the voice immediately. Stopping twice is harmless.
	Stop()
}

// FrequencyTap exposes a read-only view of the rendered signal for visualisation
type FrequencyTap interface {
	// Spectrum returns bins magnitudes in [0, 1], low frequencies first
	Spectrum(bins int) []float64
}

// RenderEngine plays sample buffers at positions on its own clock
type RenderEngine interface {
	// Now returns the engine clock in seconds. It never goes backwards.
	Now() float64
	// SampleRate is the rate every scheduled buffer must already be at
	SampleRate() int
	// Schedule plays samples starting at the given clock time. A time in the past plays immediately.
	// onEnded runs once after natural completion; it does not run for stopped voices.
	// It must never run before Schedule returns, and never with an engine lock held.
	Schedule(samples []float32, at float64, onEnded func()) (Voice, error)
	// Tap returns the analyser attached to the output stage, or nil
	Tap() FrequencyTap
}
