package audio

import (
	"sync"
)

// SampleRing is a thread-safe ring buffer of float32 samples
type SampleRing struct {
	buffer []float32
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewSampleRing creates a ring that holds up to capacity samples
func NewSampleRing(capacity int) *SampleRing {
	if capacity < 1 {
		capacity = 1
	}
	// One slot stays empty to tell full from empty
	return &SampleRing{
		buffer: make([]float32, capacity+1),
		size:   capacity + 1,
	}
}

// Write copies as many samples as fit and returns how many were written
func (rb *SampleRing) Write(data []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for _, s := range data {
		if (rb.write+1)%rb.size == rb.read {
			break
		}
		rb.buffer[rb.write] = s
		rb.write = (rb.write + 1) % rb.size
		written++
	}
	return written
}

// Overwrite writes all of data, dropping the oldest samples when full
func (rb *SampleRing) Overwrite(data []float32) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, s := range data {
		if (rb.write+1)%rb.size == rb.read {
			rb.read = (rb.read + 1) % rb.size
		}
		rb.buffer[rb.write] = s
		rb.write = (rb.write + 1) % rb.size
	}
}

// Read moves up to len(data) samples out of the ring and returns the count
func (rb *SampleRing) Read(data []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for i := range data {
		if rb.read == rb.write {
			break
		}
		data[i] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
		read++
	}
	return read
}

// Latest copies the most recent samples into dst without consuming them.
// Missing history is zero-filled at the front.
func (rb *SampleRing) Latest(dst []float32) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	avail := rb.available()
	n := min(len(dst), avail)
	pad := len(dst) - n
	for i := 0; i < pad; i++ {
		dst[i] = 0
	}
	start := (rb.write - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		dst[pad+i] = rb.buffer[(start+i)%rb.size]
	}
}

// Available returns the number of samples available to read
func (rb *SampleRing) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.available()
}

func (rb *SampleRing) available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Space returns the number of samples that can be written
func (rb *SampleRing) Space() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size - rb.available() - 1
}

// Clear empties the ring
func (rb *SampleRing) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.write = 0
}

// IsEmpty returns true if the ring is empty
func (rb *SampleRing) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.read == rb.write
}
