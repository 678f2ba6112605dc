// Package device binds the audio core to the host's microphone and speaker through miniaudio.
package device

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// DeviceInfo identifies an audio device
type DeviceInfo struct {
	ID   string
	Name string
}

// Context owns the miniaudio context shared by the microphone and speaker
type Context struct {
	ctx    *malgo.AllocatedContext
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewContext initializes the audio backend
func NewContext(logger zerolog.Logger) (*Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug().Str("component", "device").Msg(message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}
	return &Context{ctx: ctx, logger: logger.With().Str("component", "device").Logger()}, nil
}

// CaptureDevices lists the available capture devices
func (c *Context) CaptureDevices() ([]DeviceInfo, error) {
	return c.devices(malgo.Capture)
}

// PlaybackDevices lists the available playback devices
func (c *Context) PlaybackDevices() ([]DeviceInfo, error) {
	return c.devices(malgo.Playback)
}

func (c *Context) devices(kind malgo.DeviceType) ([]DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("audio context closed")
	}

	devices, err := c.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

// Check reports whether at least one capture and one playback device exist
func (c *Context) Check(ctx context.Context) (bool, error) {
	capture, err := c.CaptureDevices()
	if err != nil {
		return false, err
	}
	playback, err := c.PlaybackDevices()
	if err != nil {
		return false, err
	}
	if len(capture) == 0 {
		return false, errors.New("no capture device")
	}
	if len(playback) == 0 {
		return false, errors.New("no playback device")
	}
	return true, nil
}

// Close releases the backend. Devices must be stopped first.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.ctx.Uninit()
	c.ctx.Free()
}

func parseDeviceID(id string) (*malgo.DeviceID, error) {
	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("invalid device ID: %w", err)
	}
	var devID malgo.DeviceID
	copy(devID[:], idBytes)
	return &devID, nil
}
