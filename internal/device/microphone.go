package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/audio"
)

// Microphone is a mono PCM16 capture device. It implements audio.CaptureSource
// and can be started again after Stop.
type Microphone struct {
	ctx        *Context
	sampleRate int
	deviceID   string
	logger     zerolog.Logger

	mu     sync.Mutex
	device *malgo.Device
}

// NewMicrophone creates a microphone capturing at sampleRate. An empty deviceID selects the default device.
func NewMicrophone(ctx *Context, sampleRate int, deviceID string, logger zerolog.Logger) *Microphone {
	return &Microphone{
		ctx:        ctx,
		sampleRate: sampleRate,
		deviceID:   deviceID,
		logger:     logger.With().Str("component", "microphone").Logger(),
	}
}

// SampleRate returns the capture rate
func (m *Microphone) SampleRate() int {
	return m.sampleRate
}

// Start opens the device and delivers frames from the device thread
func (m *Microphone) Start(onFrames func(samples []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return errors.New("microphone already started")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	if m.deviceID != "" {
		devID, err := parseDeviceID(m.deviceID)
		if err != nil {
			return err
		}
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			samples, err := framesFromS16(data)
			if err != nil {
				return
			}
			onFrames(samples)
		},
	}

	dev, err := malgo.InitDevice(m.ctx.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("failed to init microphone: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("failed to start microphone: %w", err)
	}

	m.device = dev
	m.logger.Info().Int("sample_rate", m.sampleRate).Msg("Microphone started")
	return nil
}

// Stop halts capture and releases the device. Safe before Start and when repeated.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	dev := m.device
	m.device = nil
	m.mu.Unlock()

	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	if err != nil {
		return fmt.Errorf("failed to stop microphone: %w", err)
	}
	m.logger.Info().Msg("Microphone stopped")
	return nil
}

// framesFromS16 converts one mono PCM16LE period into samples
func framesFromS16(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return audio.DecodePCM16(data, 1)
}
