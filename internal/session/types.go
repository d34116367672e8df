package session

import (
	"os"
	"sync"
	"time"
)

// Phase represents the recording lifecycle state of the current question
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePermission Phase = "permission"
	PhaseRecording  Phase = "recording"
	PhaseReview     Phase = "review"
	PhaseUploading  Phase = "uploading"
	PhaseSubmitted  Phase = "submitted"
	PhaseError      Phase = "error"
)

// Stage is the content stage of the current question: the intro prompt or the question prompt
type Stage string

const (
	StageIntro    Stage = "intro"
	StageQuestion Stage = "question"
)

// Source identifies a logical owner of the exclusive playback channel
type Source string

const (
	SourceNone     Source = ""
	SourceIntro    Source = "intro"
	SourceQuestion Source = "question"
	SourceAnswer   Source = "answer"
)

func (s Source) String() string {
	if s == SourceNone {
		return "none"
	}
	return string(s)
}

// Question is one spoken-response item of a session
type Question struct {
	Number         int           `json:"number"`
	Prompt         string        `json:"prompt"`
	Type           string        `json:"type,omitempty"`
	IntroAudioURL  string        `json:"intro_audio_url,omitempty"`
	PromptAudioURL string        `json:"prompt_audio_url,omitempty"`
	TimeLimit      time.Duration `json:"time_limit,omitempty"`
}

// HasIntro reports whether the question carries intro content
func (q Question) HasIntro() bool {
	return q.IntroAudioURL != ""
}

// initialStage is the content stage a question starts in
func (q Question) initialStage() Stage {
	if q.HasIntro() {
		return StageIntro
	}
	return StageQuestion
}

// Artifact is the encoded recording captured for one question.
// Path is a transient handle (temp file) used for review playback.
type Artifact struct {
	Data     []byte
	Duration time.Duration
	MimeType string
	Path     string

	releaseOnce sync.Once
}

// Release removes the transient handle. Safe to call more than once.
func (a *Artifact) Release() {
	if a == nil {
		return
	}
	a.releaseOnce.Do(func() {
		if a.Path != "" {
			os.Remove(a.Path)
		}
	})
}

// CaptureStatus mirrors the status signal of the capture primitive
type CaptureStatus string

const (
	CaptureIdle             CaptureStatus = "idle"
	CaptureRecording        CaptureStatus = "recording"
	CaptureStopped          CaptureStatus = "stopped"
	CapturePermissionDenied CaptureStatus = "permission_denied"
	CaptureError            CaptureStatus = "error"
)

// ToastLevel is the severity of a user-facing toast
type ToastLevel string

const (
	ToastInfo    ToastLevel = "info"
	ToastWarning ToastLevel = "warning"
	ToastError   ToastLevel = "error"
)

// Telemetry event names
const (
	EventRecordStart       = "record_start"
	EventRecordStop        = "record_stop"
	EventRecordAutoStop    = "record_autostop"
	EventRecordCancel      = "record_cancel"
	EventCaptureError      = "capture_error"
	EventSubmitSuccess     = "submit_success"
	EventSubmitError       = "submit_error"
	EventFinishSuccess     = "finish_success"
	EventFinishError       = "finish_error"
	EventPermissionDenied  = "permission_denied"
	EventPermissionGranted = "permission_granted"
	EventPlaybackError     = "playback_error"
)

// Snapshot is the state exposed to the hosting UI
type Snapshot struct {
	AttemptID              string        `json:"attempt_id"`
	Phase                  Phase         `json:"phase"`
	Stage                  Stage         `json:"stage"`
	Question               *Question     `json:"question,omitempty"`
	Index                  int           `json:"index"`
	Total                  int           `json:"total"`
	ElapsedMs              int64         `json:"elapsed_ms"`
	LimitMs                int64         `json:"limit_ms"`
	RecordingProgress      float64       `json:"recording_progress"`
	HeldBy                 Source        `json:"held_by"`
	Capture                CaptureStatus `json:"capture"`
	CanStart               bool          `json:"can_start"`
	CanSubmit              bool          `json:"can_submit"`
	CanRetry               bool          `json:"can_retry"`
	CanPlayIntro           bool          `json:"can_play_intro"`
	CanReplayQuestionAudio bool          `json:"can_replay_question_audio"`
	CanToggleAnswer        bool          `json:"can_toggle_answer"`
	Busy                   bool          `json:"busy"`
	ArtifactDurationMs     int64         `json:"artifact_duration_ms,omitempty"`
	ErrorMessage           string        `json:"error_message,omitempty"`
	Submitted              []int         `json:"submitted"`
	FinalizedAttemptID     string        `json:"finalized_attempt_id,omitempty"`
	Done                   bool          `json:"done"`
}
