package live

import (
	"context"
	"errors"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/transcript"
)

var (
	// ErrChannelClosed is returned when sending on a channel that is no longer open
	ErrChannelClosed = errors.New("live channel closed")
	// ErrQueueFull is returned when the outbound queue has no room for another block
	ErrQueueFull = errors.New("live send queue full")
)

// EventType enumerates inbound channel events
type EventType int

const (
	EventAudio EventType = iota
	EventTranscript
	EventTurnComplete
	EventInterrupted
	EventGoAway
	EventError
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventTranscript:
		return "transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventGoAway:
		return "go_away"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// Event is one demultiplexed inbound signal
type Event struct {
	Type     EventType
	Audio    audio.AudioChunk // EventAudio
	Role     transcript.Role  // EventTranscript
	Text     string           // EventTranscript
	TimeLeft string           // EventGoAway
	Err      error            // EventError
}

// Channel is an open streaming connection. Events is closed once the
// connection ends; EventError or EventClosed precedes that unless Close was called.
type Channel interface {
	Events() <-chan Event
	// SendAudio queues one PCM16LE block without blocking
	SendAudio(pcm []byte) error
	Close() error
}

// Dialer opens channels. Dial returns once the service acknowledged setup.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}
