package audio

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// fakeSource delivers frames only when the test pushes them
type fakeSource struct {
	mu       sync.Mutex
	rate     int
	cb       func([]float32)
	startErr error
	starts   int
	stops    int
}

func (f *fakeSource) SampleRate() int { return f.rate }

func (f *fakeSource) Start(onFrames func([]float32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.cb = onFrames
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

// push simulates the device thread, which keeps firing until the device is stopped
func (f *fakeSource) push(samples []float32) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

type blockRecorder struct {
	mu     sync.Mutex
	blocks []CapturedBlock
	pcm    [][]byte
}

func (r *blockRecorder) handle(block CapturedBlock, pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, block)
	r.pcm = append(r.pcm, pcm)
}

func TestCaptureEncoder_ReblocksFrames(t *testing.T) {
	src := &fakeSource{rate: 16000}
	rec := &blockRecorder{}
	enc := NewCaptureEncoder(4, zerolog.Nop())

	c, err := enc.Start(src, rec.handle)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	src.push([]float32{0.1, 0.2, 0.3})
	if len(rec.blocks) != 0 {
		t.Fatalf("Expected no block before 4 samples, got %d", len(rec.blocks))
	}
	src.push([]float32{0.4, 0.5, 0.6, 0.7, 0.8, 0.9})

	if len(rec.blocks) != 2 {
		t.Fatalf("Expected 2 blocks, got %d", len(rec.blocks))
	}
	first := rec.blocks[0]
	if first.Seq != 1 || first.SampleRate != 16000 || len(first.Samples) != 4 {
		t.Errorf("Unexpected first block %+v", first)
	}
	if first.Samples[0] != 0.1 || first.Samples[3] != 0.4 {
		t.Errorf("Expected first block to start at 0.1 and end at 0.4, got %v", first.Samples)
	}
	if rec.blocks[1].Seq != 2 || rec.blocks[1].Samples[0] != 0.5 {
		t.Errorf("Unexpected second block %+v", rec.blocks[1])
	}
	if len(rec.pcm[0]) != 8 {
		t.Errorf("Expected 8 PCM bytes per block, got %d", len(rec.pcm[0]))
	}
	if c.Blocks() != 2 {
		t.Errorf("Expected 2 blocks counted, got %d", c.Blocks())
	}
}

func TestCaptureEncoder_LargeFrameSpansRing(t *testing.T) {
	src := &fakeSource{rate: 16000}
	rec := &blockRecorder{}
	enc := NewCaptureEncoder(4, zerolog.Nop())

	if _, err := enc.Start(src, rec.handle); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// Larger than the ring's capacity in one callback
	src.push(make([]float32, 4*10+2))
	if len(rec.blocks) != 10 {
		t.Errorf("Expected 10 blocks, got %d", len(rec.blocks))
	}
}

func TestCaptureEncoder_StopDetachesAndIsIdempotent(t *testing.T) {
	src := &fakeSource{rate: 16000}
	rec := &blockRecorder{}
	enc := NewCaptureEncoder(2, zerolog.Nop())

	c, err := enc.Start(src, rec.handle)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	src.push([]float32{0.1, 0.2})

	if err := c.Stop(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Expected second stop to be a no-op, got %v", err)
	}
	if src.stops != 1 {
		t.Errorf("Expected source stopped once, got %d", src.stops)
	}

	// A late device callback after stop is ignored
	src.push([]float32{0.3, 0.4})
	if len(rec.blocks) != 1 {
		t.Errorf("Expected no blocks after stop, got %d", len(rec.blocks))
	}
}

func TestCaptureEncoder_StartFailureReleasesSource(t *testing.T) {
	src := &fakeSource{rate: 16000, startErr: errors.New("permission denied")}
	enc := NewCaptureEncoder(4, zerolog.Nop())

	c, err := enc.Start(src, func(CapturedBlock, []byte) {})
	if err == nil {
		t.Fatal("Expected start error")
	}
	if c != nil {
		t.Error("Expected no capture on failure")
	}
	if src.stops != 1 {
		t.Errorf("Expected source released after failed start, got %d stops", src.stops)
	}
}

func TestStopCapture_Nil(t *testing.T) {
	if err := StopCapture(nil); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestCaptureEncoder_DefaultBlockSize(t *testing.T) {
	enc := NewCaptureEncoder(0, zerolog.Nop())
	if enc.BlockSize() != DefaultBlockSize {
		t.Errorf("Expected %d, got %d", DefaultBlockSize, enc.BlockSize())
	}
}
