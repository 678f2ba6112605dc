package audio

import (
	"errors"
	"strconv"
	"strings"
)

const (
	// OutputSampleRate is the fixed rate inbound speech is rendered at
	OutputSampleRate = 24000
	// DefaultBlockSize is the number of samples per captured block
	DefaultBlockSize = 4096
)

// ErrDecode marks an inbound chunk that could not be turned into samples
var ErrDecode = errors.New("audio decode failed")

// AudioChunk is one inbound piece of PCM16LE audio
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
	Seq        uint64
}

// CapturedBlock is a fixed-size window of microphone samples. It must not be modified once produced.
type CapturedBlock struct {
	Samples    []float32
	SampleRate int
	Seq        uint64
}

// Duration returns the block length in seconds
func (b CapturedBlock) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// PCMMimeType builds the MIME type for raw 16-bit PCM at rate
func PCMMimeType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParseSampleRate extracts the rate parameter of an audio MIME type, or returns fallback
func ParseSampleRate(mimeType string, fallback int) int {
	for _, param := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}
