package voice

import "errors"

// State is the lifecycle position of the current voice turn.
type State string

const (
	StateIdle          State = "idle"
	StateRecording     State = "recording"
	StateFinalizing    State = "finalizing"
	StateTranscribing  State = "transcribing"
	StateAwaitingReply State = "awaiting_reply"
	StateSpeaking      State = "speaking"
	StateAborted       State = "aborted"
)

// Active reports whether a voice turn is in progress in s.
func (s State) Active() bool {
	switch s {
	case StateIdle, StateAborted, "":
		return false
	default:
		return true
	}
}

// Outcome is how a voice turn ended.
type Outcome string

const (
	OutcomeNone                Outcome = ""
	OutcomeCompleted           Outcome = "completed"
	OutcomeNoAudio             Outcome = "no_audio"
	OutcomeNoSpeech            Outcome = "no_speech"
	OutcomeTranscriptionFailed Outcome = "transcription_failed"
	OutcomeReplyFailed         Outcome = "reply_failed"
	OutcomeDeviceFailed        Outcome = "device_failed"
	OutcomeAborted             Outcome = "aborted"
)

// User-visible notices appended to the transcript.
const (
	NoticeNoAudio          = "No audio captured."
	NoticeNoSpeech         = "No speech detected."
	NoticeNoReply          = "No response from assistant."
	noticeMicrophoneFailed = "Microphone access failed"
	noticeVoiceFlowFailed  = "Voice flow failed"
)

var (
	ErrNotRecording = errors.New("no voice turn is recording")
	ErrTurnActive   = errors.New("a voice turn is already active")
)

// Result summarizes a finished voice turn.
type Result struct {
	Outcome    Outcome `json:"outcome"`
	Transcript string  `json:"transcript,omitempty"`
	Reply      string  `json:"reply,omitempty"`
}
