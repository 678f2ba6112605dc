// Package transcript accumulates incremental transcription text into chat messages.
package transcript

import (
	"sync"

	"github.com/google/uuid"
	"github.com/lexiqai/voice-client/internal/observability"
)

// Role identifies who is speaking
type Role string

const (
	RoleLocal  Role = "local"
	RoleRemote Role = "remote"
)

// ChatMessage is the visible projection of a transcript buffer
type ChatMessage struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

type buffer struct {
	index int
	text  string
}

// Aggregator keeps at most one open buffer per role and the ordered message list
type Aggregator struct {
	mu       sync.Mutex
	open     map[Role]*buffer
	messages []ChatMessage
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{open: make(map[Role]*buffer)}
}

// Append adds delta to the role's open message, opening a new one if needed.
// An empty delta with nothing open creates no message and returns false.
func (a *Aggregator) Append(role Role, delta string) (ChatMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if b, ok := a.open[role]; ok {
		b.text += delta
		a.messages[b.index].Text = b.text
		return a.messages[b.index], true
	}

	if delta == "" {
		return ChatMessage{}, false
	}

	msg := ChatMessage{
		ID:   uuid.NewString(),
		Role: role,
		Text: delta,
	}
	a.messages = append(a.messages, msg)
	a.open[role] = &buffer{index: len(a.messages) - 1, text: delta}
	return msg, true
}

// Add records a complete message for role. Any open buffer for the role is finalized first.
func (a *Aggregator) Add(role Role, text string) ChatMessage {
	a.Finalize(role)

	a.mu.Lock()
	defer a.mu.Unlock()

	msg := ChatMessage{
		ID:      uuid.NewString(),
		Role:    role,
		Text:    text,
		IsFinal: true,
	}
	a.messages = append(a.messages, msg)
	observability.RecordTranscriptFinalized(string(role))
	return msg
}

// Finalize closes the role's open buffer and returns the final message.
// With nothing open it returns false and changes nothing.
func (a *Aggregator) Finalize(role Role) (ChatMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.open[role]
	if !ok {
		return ChatMessage{}, false
	}
	delete(a.open, role)

	a.messages[b.index].IsFinal = true
	observability.RecordTranscriptFinalized(string(role))
	return a.messages[b.index], true
}

// Discard drops the role's open buffer and its partial message without finalizing it
func (a *Aggregator) Discard(role Role) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.open[role]
	if !ok {
		return
	}
	delete(a.open, role)

	a.messages = append(a.messages[:b.index], a.messages[b.index+1:]...)
	for _, other := range a.open {
		if other.index > b.index {
			other.index--
		}
	}
	observability.RecordTranscriptDiscarded(string(role))
}

// IsOpen reports whether role has an open buffer
func (a *Aggregator) IsOpen(role Role) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.open[role]
	return ok
}

// Messages returns a copy of all messages in creation order
func (a *Aggregator) Messages() []ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ChatMessage(nil), a.messages...)
}

// Reset forgets every message and buffer
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = make(map[Role]*buffer)
	a.messages = nil
}
