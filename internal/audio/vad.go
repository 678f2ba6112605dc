package audio

import "math"

// DefaultEnergyThreshold is the RMS level, in full-scale units, above which a block counts as speech
const DefaultEnergyThreshold = 0.01

// VoiceActivityDetector flags blocks whose energy exceeds a fixed threshold.
// It keeps no state between blocks; temporal smoothing is left to the caller.
type VoiceActivityDetector struct {
	threshold float64
}

// NewVoiceActivityDetector creates a detector. A non-positive threshold selects the default.
func NewVoiceActivityDetector(threshold float64) *VoiceActivityDetector {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return &VoiceActivityDetector{threshold: threshold}
}

// Evaluate reports whether the block looks like speech
func (v *VoiceActivityDetector) Evaluate(block CapturedBlock) bool {
	return RMS(block.Samples) > v.threshold
}

// Threshold returns the configured energy threshold
func (v *VoiceActivityDetector) Threshold() float64 {
	return v.threshold
}

// RMS calculates the root mean square of the samples
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
