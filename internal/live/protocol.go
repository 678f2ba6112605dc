// Package live implements the bidirectional streaming channel to the conversational service.
package live

// Client → server

// SetupMessage is the first frame sent on a new connection
type SetupMessage struct {
	Setup Setup `json:"setup"`
}

// Setup configures the model session
type Setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *Content          `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}         `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}         `json:"outputAudioTranscription,omitempty"`
}

// GenerationConfig selects response modality and voice
type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

// SpeechConfig holds the voice selection
type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

// VoiceConfig wraps a prebuilt voice
type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

// PrebuiltVoiceConfig names a service voice
type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

// Content is a role-tagged list of parts
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is either text or inline binary data
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Blob is base64 data with its MIME type
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// RealtimeInputMessage carries one captured audio block
type RealtimeInputMessage struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

// RealtimeInput is streamed user input
type RealtimeInput struct {
	Audio *Blob `json:"audio,omitempty"`
}

// Server → client

// ServerMessage is any frame received from the service
type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// ServerContent is incremental model output
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// Transcription is a text delta for one side of the conversation
type Transcription struct {
	Text string `json:"text"`
}

// GoAway warns that the service will close the connection soon
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}
