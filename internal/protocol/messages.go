package protocol

import "time"

// AudioFrame represents PCM audio data streamed from capture clients.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript carries the full text of the current utterance.
type Transcript struct {
	Text      string    `json:"text"`
	Partial   bool      `json:"partial"`
	Timestamp time.Time `json:"timestamp"`
}

// CaptionLabel is a snapshot of the visible caption lines.
type CaptionLabel struct {
	Lines     []string  `json:"lines"`
	Timestamp time.Time `json:"timestamp"`
}

// TextStream carries the plain caption text for external consumers.
type TextStream struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Warning is a transient, non-fatal notice for the user.
type Warning struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ModelRequest asks the runtime to hot-swap the recognition model.
type ModelRequest struct {
	Path string `json:"path"`
}

// PauseRequest pauses or resumes processing.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// LayoutRequest changes the caption width.
type LayoutRequest struct {
	MaxTextWidth int `json:"max_text_width"`
}

// ControlReply answers every control request.
type ControlReply struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	ActiveModel string `json:"active_model,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectCaptionLabel      = "captions.label"
	SubjectCaptionWarning    = "captions.warning"
	SubjectTextStream        = "captions.text.stream"

	SubjectControlModel  = "captions.ctrl.model"
	SubjectControlPause  = "captions.ctrl.pause"
	SubjectControlFlush  = "captions.ctrl.flush"
	SubjectControlLayout = "captions.ctrl.layout"
)
