package bridge

import "github.com/lexiqai/voice-client/internal/conversation"

// Command types sent by the UI
const (
	CommandStart    = "start"
	CommandStop     = "stop"
	CommandSendText = "send_text"
)

// Command is one UI request
type Command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// StateMessage carries a session snapshot to the UI
type StateMessage struct {
	Type string `json:"type"`
	conversation.Snapshot
}

// SpectrumMessage carries normalized frequency bins for visualization
type SpectrumMessage struct {
	Type string    `json:"type"`
	Bins []float64 `json:"bins"`
}

// ErrorMessage reports a rejected or failed command
type ErrorMessage struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
	Error   string `json:"error"`
}
