package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// CaptureSource is a microphone-like producer of mono float32 frames.
// Start begins delivering frames of arbitrary length to onFrames from the device thread.
// Stop halts delivery and releases the device; it must be safe to call before Start.
type CaptureSource interface {
	SampleRate() int
	Start(onFrames func(samples []float32)) error
	Stop() error
}

// BlockHandler receives each captured block together with its PCM16LE encoding.
// It runs on the capture thread and must not block.
type BlockHandler func(block CapturedBlock, pcm []byte)

// CaptureEncoder cuts a capture stream into fixed-size blocks and encodes them
type CaptureEncoder struct {
	blockSize int
	logger    zerolog.Logger
}

// NewCaptureEncoder creates an encoder emitting blocks of blockSize samples
func NewCaptureEncoder(blockSize int, logger zerolog.Logger) *CaptureEncoder {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &CaptureEncoder{
		blockSize: blockSize,
		logger:    logger.With().Str("component", "capture").Logger(),
	}
}

// BlockSize returns the number of samples per emitted block
func (e *CaptureEncoder) BlockSize() int {
	return e.blockSize
}

// Start attaches to src and emits blocks to handler until the capture is stopped
func (e *CaptureEncoder) Start(src CaptureSource, handler BlockHandler) (*ActiveCapture, error) {
	if src == nil {
		return nil, errors.New("nil capture source")
	}
	if handler == nil {
		return nil, errors.New("nil block handler")
	}

	c := &ActiveCapture{
		src:       src,
		handler:   handler,
		blockSize: e.blockSize,
		rate:      src.SampleRate(),
		ring:      NewSampleRing(e.blockSize * 4),
		logger:    e.logger,
	}

	if err := src.Start(c.onFrames); err != nil {
		c.markStopped()
		_ = src.Stop()
		return nil, fmt.Errorf("failed to start capture: %w", err)
	}

	e.logger.Debug().Int("sample_rate", c.rate).Int("block_size", e.blockSize).Msg("Capture started")
	return c, nil
}

// ActiveCapture is a running capture attached to a source
type ActiveCapture struct {
	src       CaptureSource
	handler   BlockHandler
	blockSize int
	rate      int
	ring      *SampleRing
	logger    zerolog.Logger

	mu      sync.Mutex
	stopped bool
	seq     uint64

	stopOnce sync.Once
	stopErr  error
}

func (c *ActiveCapture) onFrames(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	for len(samples) > 0 {
		n := c.ring.Write(samples)
		samples = samples[n:]
		for c.ring.Available() >= c.blockSize {
			block := make([]float32, c.blockSize)
			c.ring.Read(block)
			c.seq++
			c.handler(CapturedBlock{Samples: block, SampleRate: c.rate, Seq: c.seq}, EncodePCM16(block))
		}
	}
}

func (c *ActiveCapture) markStopped() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

// Stop detaches the handler and releases the source. After Stop returns no more
// blocks are delivered. Calling it again is a no-op.
func (c *ActiveCapture) Stop() error {
	c.stopOnce.Do(func() {
		// Detach first so a device thread waiting on the lock exits before the device stops
		c.markStopped()
		c.ring.Clear()
		if err := c.src.Stop(); err != nil {
			c.stopErr = fmt.Errorf("failed to stop capture: %w", err)
			c.logger.Warn().Err(err).Msg("Capture source stop failed")
		}
	})
	return c.stopErr
}

// Blocks returns the number of blocks emitted so far
func (c *ActiveCapture) Blocks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// StopCapture stops c. A nil capture is a no-op.
func StopCapture(c *ActiveCapture) error {
	if c == nil {
		return nil
	}
	return c.Stop()
}
