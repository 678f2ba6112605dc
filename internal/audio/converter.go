package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodePCM16 converts interleaved 16-bit little-endian PCM into mono float32 samples in [-1, 1).
// Multi-channel input is down-mixed by averaging each frame.
func DecodePCM16(data []byte, channels int) ([]float32, error) {
	if channels <= 0 {
		channels = 1
	}
	if channels > 8 {
		return nil, fmt.Errorf("%w: unsupported channel count %d", ErrDecode, channels)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty PCM data", ErrDecode)
	}
	frameBytes := 2 * channels
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: PCM data length %d is not a multiple of %d", ErrDecode, len(data), frameBytes)
	}

	frames := len(data) / frameBytes
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(data[off:]))) / 32768
		}
		samples[i] = sum / float32(channels)
	}
	return samples, nil
}

// EncodePCM16 converts float32 samples into 16-bit little-endian PCM, clipping to full scale
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	if s >= 1 {
		return math.MaxInt16
	}
	if s <= -1 {
		return math.MinInt16
	}
	return int16(s * 32768)
}

// Resample performs linear interpolation resampling
func Resample(samples []float32, inputRate, outputRate int) []float32 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(math.Round(float64(len(samples)) * ratio))
	if outputLength == 0 {
		outputLength = 1
	}
	output := make([]float32, outputLength)

	last := len(samples) - 1
	for i := range output {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		if idx0 >= last {
			output[i] = samples[last]
			continue
		}
		frac := float32(srcPos - float64(idx0))
		output[i] = samples[idx0]*(1-frac) + samples[idx0+1]*frac
	}
	return output
}

// DecodeChunk turns an inbound chunk into mono samples at targetRate
func DecodeChunk(chunk AudioChunk, targetRate int) ([]float32, error) {
	samples, err := DecodePCM16(chunk.Data, chunk.Channels)
	if err != nil {
		return nil, err
	}
	rate := chunk.SampleRate
	if rate <= 0 {
		rate = targetRate
	}
	return Resample(samples, rate, targetRate), nil
}
