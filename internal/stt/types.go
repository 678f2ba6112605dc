// Package stt transcribes the local participant through a separate Deepgram stream.
package stt

import (
	"context"
	"errors"
)

// ErrNotActive is returned when audio is sent to a transcriber that is not running
var ErrNotActive = errors.New("transcriber is not active")

// ErrQueueFull is returned when the transcriber cannot take another block without blocking
var ErrQueueFull = errors.New("transcriber queue full")

// TranscriptionResult represents a final transcription segment
type TranscriptionResult struct {
	// Text is the transcribed text
	Text string

	// SpeechFinal marks the last segment of an utterance
	SpeechFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the start time of the segment in seconds
	StartTime float64

	// Duration is the duration of the segment in seconds
	Duration float64
}

// Transcriber is a streaming speech-to-text session for the local participant
type Transcriber interface {
	// Start opens the streaming session
	Start(ctx context.Context) error

	// SendAudio queues a PCM16LE block without blocking
	SendAudio(pcm []byte) error

	// Results delivers final segments. It is never closed; stop reading after Close.
	Results() <-chan TranscriptionResult

	// Close ends the session and stops any reconnection
	Close() error
}
