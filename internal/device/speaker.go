package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// Renderer fills out with the next block of mono samples
type Renderer interface {
	Render(out []float32)
}

// Speaker pulls audio from a Renderer on the playback device thread
type Speaker struct {
	ctx        *Context
	renderer   Renderer
	sampleRate int
	logger     zerolog.Logger

	mu      sync.Mutex
	device  *malgo.Device
	scratch []float32
}

// NewSpeaker creates a mono PCM16 speaker driving renderer at sampleRate
func NewSpeaker(ctx *Context, renderer Renderer, sampleRate int, logger zerolog.Logger) *Speaker {
	return &Speaker{
		ctx:        ctx,
		renderer:   renderer,
		sampleRate: sampleRate,
		logger:     logger.With().Str("component", "speaker").Logger(),
	}
}

// Start opens the playback device
func (s *Speaker) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return errors.New("speaker already started")
	}

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = uint32(s.sampleRate)
	config.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			s.scratch = renderS16(s.renderer, out[:frameCount*2], s.scratch)
		},
	}

	dev, err := malgo.InitDevice(s.ctx.ctx.Context, config, callbacks)
	if err != nil {
		return fmt.Errorf("failed to init speaker: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("failed to start speaker: %w", err)
	}

	s.device = dev
	s.logger.Info().Int("sample_rate", s.sampleRate).Msg("Speaker started")
	return nil
}

// Stop closes the playback device. Safe to call repeatedly.
func (s *Speaker) Stop() error {
	s.mu.Lock()
	dev := s.device
	s.device = nil
	s.mu.Unlock()

	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	if err != nil {
		return fmt.Errorf("failed to stop speaker: %w", err)
	}
	return nil
}

// renderS16 renders len(out)/2 samples into out as PCM16LE, reusing scratch
func renderS16(r Renderer, out []byte, scratch []float32) []float32 {
	frames := len(out) / 2
	if cap(scratch) < frames {
		scratch = make([]float32, frames)
	}
	scratch = scratch[:frames]
	r.Render(scratch)

	for i, v := range scratch {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(v)))
	}
	return scratch
}

func toInt16(v float32) int16 {
	switch {
	case v != v:
		return 0
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	}
	return int16(v * 32767)
}
