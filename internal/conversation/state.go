// Package conversation runs the voice session: it connects capture, the live
// channel, playback and transcripts, and publishes the boundary the UI renders.
package conversation

import (
	"errors"

	"github.com/lexiqai/voice-client/internal/transcript"
)

var (
	// ErrSessionActive is returned by Start while a session is connecting or connected
	ErrSessionActive = errors.New("session already active")
	// ErrSessionStopped is returned by Start when Stop won the race against connecting
	ErrSessionStopped = errors.New("session stopped before it connected")
	// ErrClosed is returned once Close has been called
	ErrClosed = errors.New("session closed")
	// ErrExchangeCancelled is returned by Exchange when a newer request or a streaming session replaced it
	ErrExchangeCancelled = errors.New("exchange cancelled")
)

// State is the streaming session lifecycle state
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	}
	return "unknown"
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Pose is the animation signal derived from the conversation
type Pose string

const (
	PoseNeutral   Pose = "neutral"
	PoseListening Pose = "listening"
	PoseThinking  Pose = "thinking"
	PoseAway      Pose = "away"
)

// Snapshot is the UI boundary at one instant
type Snapshot struct {
	State     State                    `json:"state"`
	Connected bool                     `json:"connected"`
	Error     string                   `json:"error,omitempty"`
	Pose      Pose                     `json:"pose"`
	Messages  []transcript.ChatMessage `json:"messages"`
}
