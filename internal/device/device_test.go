package device

import (
	"encoding/binary"
	"testing"
)

type rampRenderer struct {
	calls int
}

func (r *rampRenderer) Render(out []float32) {
	r.calls++
	for i := range out {
		out[i] = float32(i) / float32(len(out))
	}
}

func TestRenderS16(t *testing.T) {
	r := &rampRenderer{}
	out := make([]byte, 8)

	scratch := renderS16(r, out, nil)

	if len(scratch) != 4 {
		t.Fatalf("Expected 4 frames, got %d", len(scratch))
	}
	if r.calls != 1 {
		t.Errorf("Expected 1 render call, got %d", r.calls)
	}
	if got := int16(binary.LittleEndian.Uint16(out[0:])); got != 0 {
		t.Errorf("Expected first sample 0, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(out[4:])); got != 16383 {
		t.Errorf("Expected third sample 16383, got %d", got)
	}
}

func TestRenderS16_ReusesScratch(t *testing.T) {
	r := &rampRenderer{}
	scratch := make([]float32, 0, 16)

	got := renderS16(r, make([]byte, 8), scratch)
	if cap(got) != 16 {
		t.Errorf("Expected scratch to be reused, got cap %d", cap(got))
	}
}

func TestToInt16(t *testing.T) {
	nan := float32(0)
	nan = nan / nan

	tests := []struct {
		in       float32
		expected int16
	}{
		{0, 0},
		{1, 32767},
		{2, 32767},
		{-1, -32768},
		{-3, -32768},
		{nan, 0},
	}
	for _, tt := range tests {
		if got := toInt16(tt.in); got != tt.expected {
			t.Errorf("toInt16(%v): Expected %d, got %d", tt.in, tt.expected, got)
		}
	}
}

func TestFramesFromS16(t *testing.T) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint16(data[0:], uint16(16384))
	neg := int16(-16384)
	binary.LittleEndian.PutUint16(data[2:], uint16(neg))

	samples, err := framesFromS16(data)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(samples) != 2 || samples[0] != 0.5 || samples[1] != -0.5 {
		t.Errorf("Expected [0.5 -0.5], got %v", samples)
	}

	samples, err = framesFromS16(nil)
	if err != nil || samples != nil {
		t.Errorf("Expected empty period to yield nothing, got %v, %v", samples, err)
	}
}

func TestMicrophone_StopBeforeStart(t *testing.T) {
	m := &Microphone{}
	if err := m.Stop(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Expected repeated stop to be a no-op, got %v", err)
	}
}

func TestSpeaker_StopBeforeStart(t *testing.T) {
	s := &Speaker{}
	if err := s.Stop(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}
