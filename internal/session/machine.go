package session

import (
	"fmt"
	"time"
)

// Op is the async operation currently in flight, if any
type Op string

const (
	OpNone        Op = ""
	OpStarting    Op = "starting"
	OpStopping    Op = "stopping"
	OpSubmitting  Op = "submitting"
	OpFinishing   Op = "finishing"
	OpAuthorizing Op = "authorizing"
)

// State is everything the transition function needs to decide a step.
// It holds no resources; the controller owns those.
type State struct {
	Phase    Phase
	Stage    Stage
	Lock     AudioLock
	Playback PlaybackState
	Question Question
	IsLast   bool
	// HasAttempt is false when the gateway session id is missing.
	HasAttempt bool
	Limit      time.Duration

	Pending   Op
	Ticking   bool
	StartedAt time.Time
	Elapsed   time.Duration

	HasArtifact      bool
	ArtifactDuration time.Duration
	// Accepted is set once the gateway accepted the current answer.
	Accepted bool
	// DiscardNextCapture is consumed by the next capture stop result.
	DiscardNextCapture bool

	ErrorMessage string
	Done         bool
}

// Trigger is an input to Transition: a user action or an async completion
type Trigger interface {
	trigger()
}

type (
	Load struct {
		Question   Question
		Playback   PlaybackState
		IsLast     bool
		HasAttempt bool
		Limit      time.Duration
	}

	StartRequested        struct{}
	StopRequested         struct{ At time.Time }
	CancelRequested       struct{}
	SubmitRequested       struct{}
	RetryRequested        struct{}
	ReRecordRequested     struct{}
	AuthorizeRequested    struct{}
	PlayIntroRequested    struct{}
	PlayQuestionRequested struct{}
	ToggleAnswerRequested struct{}

	CaptureStarted     struct{ At time.Time }
	CaptureStartFailed struct {
		PermissionDenied bool
		Err              error
	}
	CaptureSaved      struct{}
	CaptureStopFailed struct{ Err error }
	CaptureFailed     struct{ Err error }
	Tick              struct{ Now time.Time }

	PlaybackEnded  struct{ Source Source }
	PlaybackPaused struct{ Source Source }
	PlaybackFailed struct {
		Source Source
		Err    error
	}

	SubmitSucceeded struct{}
	SubmitFailed    struct {
		Kind    ErrorKind
		Message string
	}
	FinishSucceeded struct{ FinalizedAttemptID string }
	FinishFailed    struct {
		Kind    ErrorKind
		Message string
	}

	AuthorizeSucceeded struct{}
	AuthorizeFailed    struct{ Err error }
)

func (Load) trigger()                  {}
func (StartRequested) trigger()        {}
func (StopRequested) trigger()         {}
func (CancelRequested) trigger()       {}
func (SubmitRequested) trigger()       {}
func (RetryRequested) trigger()        {}
func (ReRecordRequested) trigger()     {}
func (AuthorizeRequested) trigger()    {}
func (PlayIntroRequested) trigger()    {}
func (PlayQuestionRequested) trigger() {}
func (ToggleAnswerRequested) trigger() {}
func (CaptureStarted) trigger()        {}
func (CaptureStartFailed) trigger()    {}
func (CaptureSaved) trigger()          {}
func (CaptureStopFailed) trigger()     {}
func (CaptureFailed) trigger()         {}
func (Tick) trigger()                  {}
func (PlaybackEnded) trigger()         {}
func (PlaybackPaused) trigger()        {}
func (PlaybackFailed) trigger()        {}
func (SubmitSucceeded) trigger()       {}
func (SubmitFailed) trigger()          {}
func (FinishSucceeded) trigger()       {}
func (FinishFailed) trigger()          {}
func (AuthorizeSucceeded) trigger()    {}
func (AuthorizeFailed) trigger()       {}

// Effect is a side effect requested by Transition, executed by the controller
type Effect interface {
	effect()
}

type (
	StartCapture  struct{}
	StopCapture   struct{}
	StartTicker   struct{}
	StopTicker    struct{}
	Play          struct{ Source Source }
	Pause         struct{ Source Source }
	SubmitAnswer  struct{}
	FinishAttempt struct{}
	Authorize     struct{}
	// AdoptArtifact keeps the capture result as the question's artifact.
	AdoptArtifact struct{ Duration time.Duration }
	// DiscardArtifact drops a capture result that arrived after a cancel.
	DiscardArtifact struct{}
	// ReleaseArtifact drops the question's current artifact.
	ReleaseArtifact struct{}
	MarkSubmitted   struct{}
	Advance         struct{}
	Complete        struct{ FinalizedAttemptID string }
	Toast           struct {
		Level   ToastLevel
		Message string
	}
	Emit struct {
		Name   string
		Reason string
	}
)

func (StartCapture) effect()    {}
func (StopCapture) effect()     {}
func (StartTicker) effect()     {}
func (StopTicker) effect()      {}
func (Play) effect()            {}
func (Pause) effect()           {}
func (SubmitAnswer) effect()    {}
func (FinishAttempt) effect()   {}
func (Authorize) effect()       {}
func (AdoptArtifact) effect()   {}
func (DiscardArtifact) effect() {}
func (ReleaseArtifact) effect() {}
func (MarkSubmitted) effect()   {}
func (Advance) effect()         {}
func (Complete) effect()        {}
func (Toast) effect()           {}
func (Emit) effect()            {}

// Transition computes the next state and the side effects for one trigger.
// It performs no I/O.
func Transition(s State, t Trigger) (State, []Effect) {
	prev := s.Phase
	var fx []Effect

	switch t := t.(type) {
	case Load:
		s = State{
			Phase:      PhaseIdle,
			Stage:      t.Question.initialStage(),
			Playback:   t.Playback,
			Question:   t.Question,
			IsLast:     t.IsLast,
			HasAttempt: t.HasAttempt,
			Limit:      t.Limit,
		}
		prev = PhaseIdle
		// Autoplay the first prompt of the new question.
		if s.Stage == StageIntro {
			fx = play(&s, fx, SourceIntro)
		} else if s.Question.PromptAudioURL != "" {
			fx = play(&s, fx, SourceQuestion)
		}
		return s, fx

	case StartRequested:
		if s.Done || s.Pending != OpNone {
			break
		}
		if s.Phase == PhasePermission {
			fx = append(fx, Toast{Level: ToastWarning, Message: "Microphone access is required. Authorize the microphone and try again."})
			break
		}
		if s.Phase != PhaseIdle {
			break
		}
		if s.Stage == StageIntro {
			if s.Lock.HeldBy == SourceIntro || !s.Lock.Allows(SourceIntro) {
				fx = append(fx, refusePlay(s, SourceIntro))
				break
			}
			fx = play(&s, fx, SourceIntro)
			break
		}
		if !s.Lock.Free() {
			fx = append(fx, Toast{Level: ToastWarning, Message: "Wait for the audio to finish before recording."})
			break
		}
		s.Pending = OpStarting
		fx = append(fx, StartCapture{})

	case CaptureStarted:
		if s.Pending != OpStarting || s.Phase != PhaseIdle {
			break
		}
		s.Pending = OpNone
		s.Phase = PhaseRecording
		s.StartedAt = t.At
		s.Elapsed = 0
		s.Ticking = true
		fx = append(fx, StartTicker{}, Emit{Name: EventRecordStart})

	case CaptureStartFailed:
		if s.Pending != OpStarting {
			break
		}
		s.Pending = OpNone
		if t.PermissionDenied {
			s.Phase = PhasePermission
			fx = append(fx,
				Toast{Level: ToastError, Message: "Microphone access was denied. Allow access to record your answer."},
				Emit{Name: EventPermissionDenied, Reason: errReason(t.Err)})
			break
		}
		s.Phase = PhaseError
		s.ErrorMessage = "Recording could not be started. Please record again."
		fx = append(fx,
			Toast{Level: ToastError, Message: s.ErrorMessage},
			Emit{Name: EventCaptureError, Reason: errReason(t.Err)})

	case StopRequested:
		if s.Phase != PhaseRecording || s.Pending != OpNone {
			break
		}
		s.Elapsed = clampElapsed(t.At.Sub(s.StartedAt), s.Limit)
		s.Ticking = false
		s.Pending = OpStopping
		fx = append(fx, StopTicker{}, StopCapture{}, Emit{Name: EventRecordStop})

	case Tick:
		if s.Phase != PhaseRecording || !s.Ticking {
			break
		}
		s.Elapsed = t.Now.Sub(s.StartedAt)
		if s.Limit <= 0 || s.Elapsed < s.Limit || s.Pending != OpNone {
			break
		}
		s.Elapsed = s.Limit
		s.Ticking = false
		s.Pending = OpStopping
		fx = append(fx,
			StopTicker{},
			StopCapture{},
			Emit{Name: EventRecordAutoStop},
			Toast{Level: ToastInfo, Message: "Time is up. Your recording was stopped automatically."})

	case CancelRequested:
		if s.Phase != PhaseRecording {
			break
		}
		if s.Pending == OpNone {
			fx = append(fx, StopCapture{})
		}
		s.Phase = PhaseIdle
		s.Pending = OpStopping
		s.DiscardNextCapture = true
		s.Elapsed = 0
		fx = append(fx, Emit{Name: EventRecordCancel})

	case CaptureSaved:
		if s.DiscardNextCapture {
			s.DiscardNextCapture = false
			if s.Pending == OpStopping {
				s.Pending = OpNone
			}
			fx = append(fx, DiscardArtifact{})
			break
		}
		if s.Pending != OpStopping || s.Phase != PhaseRecording {
			fx = append(fx, DiscardArtifact{})
			break
		}
		s.Pending = OpNone
		s.Phase = PhaseReview
		s.HasArtifact = true
		s.Accepted = false
		s.ArtifactDuration = clampElapsed(s.Elapsed, s.Limit)
		fx = append(fx, AdoptArtifact{Duration: s.ArtifactDuration})

	case CaptureStopFailed:
		if s.DiscardNextCapture {
			s.DiscardNextCapture = false
			if s.Pending == OpStopping {
				s.Pending = OpNone
			}
			break
		}
		if s.Pending != OpStopping || s.Phase != PhaseRecording {
			break
		}
		s.Pending = OpNone
		s.Phase = PhaseError
		s.ErrorMessage = "Your recording could not be saved. Please record again."
		fx = append(fx,
			Toast{Level: ToastError, Message: s.ErrorMessage},
			Emit{Name: EventCaptureError, Reason: errReason(t.Err)})

	case CaptureFailed:
		if s.Phase != PhaseRecording || s.Pending != OpNone {
			break
		}
		s.Phase = PhaseError
		s.Pending = OpStopping
		s.DiscardNextCapture = true
		s.ErrorMessage = "The microphone stopped responding. Please record again."
		fx = append(fx,
			StopCapture{},
			Toast{Level: ToastError, Message: s.ErrorMessage},
			Emit{Name: EventCaptureError, Reason: errReason(t.Err)})

	case SubmitRequested, RetryRequested:
		if s.Pending != OpNone || !s.HasArtifact {
			break
		}
		if s.Phase != PhaseReview && s.Phase != PhaseError {
			break
		}
		if !s.HasAttempt {
			fx = append(fx,
				Toast{Level: ToastError, Message: "This test session is missing its identifier. Your answer cannot be submitted."},
				Emit{Name: EventSubmitError, Reason: "missing attempt id"})
			break
		}
		s.Phase = PhaseUploading
		s.ErrorMessage = ""
		if s.Accepted {
			s.Pending = OpFinishing
			fx = append(fx, FinishAttempt{})
			break
		}
		s.Pending = OpSubmitting
		fx = append(fx, SubmitAnswer{})

	case SubmitSucceeded:
		if s.Pending != OpSubmitting || s.Phase != PhaseUploading {
			break
		}
		s.Accepted = true
		fx = append(fx, MarkSubmitted{}, Emit{Name: EventSubmitSuccess})
		if s.IsLast {
			s.Pending = OpFinishing
			fx = append(fx, FinishAttempt{})
			break
		}
		s.Pending = OpNone
		s.Phase = PhaseIdle
		s.HasArtifact = false
		fx = append(fx, ReleaseArtifact{}, Advance{})

	case SubmitFailed:
		if s.Pending != OpSubmitting || s.Phase != PhaseUploading {
			break
		}
		s.Pending = OpNone
		s.Phase = PhaseError
		s.ErrorMessage = answerFailureMessage(t.Kind, t.Message, s.IsLast)
		fx = append(fx,
			Toast{Level: ToastError, Message: s.ErrorMessage},
			Emit{Name: EventSubmitError, Reason: kindReason(t.Kind, t.Message)})

	case FinishSucceeded:
		if s.Pending != OpFinishing || s.Phase != PhaseUploading {
			break
		}
		s.Pending = OpNone
		s.Phase = PhaseSubmitted
		s.Done = true
		fx = append(fx,
			Emit{Name: EventFinishSuccess},
			Complete{FinalizedAttemptID: t.FinalizedAttemptID},
			Toast{Level: ToastInfo, Message: "All answers submitted. Your test is complete."})

	case FinishFailed:
		if s.Pending != OpFinishing || s.Phase != PhaseUploading {
			break
		}
		s.Pending = OpNone
		s.Phase = PhaseError
		s.ErrorMessage = finishFailureMessage(t.Kind, t.Message)
		fx = append(fx,
			Toast{Level: ToastError, Message: s.ErrorMessage},
			Emit{Name: EventFinishError, Reason: kindReason(t.Kind, t.Message)})

	case ReRecordRequested:
		if s.Pending != OpNone || (s.Phase != PhaseReview && s.Phase != PhaseError) {
			break
		}
		s.Phase = PhaseIdle
		s.Stage = s.Question.initialStage()
		s.HasArtifact = false
		s.ArtifactDuration = 0
		s.Accepted = false
		s.Elapsed = 0
		s.ErrorMessage = ""
		fx = append(fx, ReleaseArtifact{})

	case AuthorizeRequested:
		if s.Phase != PhasePermission || s.Pending != OpNone {
			break
		}
		s.Pending = OpAuthorizing
		fx = append(fx, Authorize{})

	case AuthorizeSucceeded:
		if s.Pending != OpAuthorizing {
			break
		}
		s.Pending = OpNone
		s.Phase = PhaseIdle
		fx = append(fx,
			Emit{Name: EventPermissionGranted},
			Toast{Level: ToastInfo, Message: "Microphone access granted."})

	case AuthorizeFailed:
		if s.Pending != OpAuthorizing {
			break
		}
		s.Pending = OpNone
		fx = append(fx,
			Toast{Level: ToastError, Message: "Microphone access is still blocked."},
			Emit{Name: EventPermissionDenied, Reason: errReason(t.Err)})

	case PlayIntroRequested:
		if !s.Question.HasIntro() || !playable(s) || s.Lock.HeldBy == SourceIntro || !s.Lock.Allows(SourceIntro) {
			fx = append(fx, refusePlay(s, SourceIntro))
			break
		}
		fx = play(&s, fx, SourceIntro)

	case PlayQuestionRequested:
		if s.Question.PromptAudioURL == "" || !playable(s) || !s.Playback.IntroPlayed ||
			s.Lock.HeldBy == SourceQuestion || !s.Lock.Allows(SourceQuestion) {
			fx = append(fx, refusePlay(s, SourceQuestion))
			break
		}
		if s.Stage == StageIntro {
			s.Stage = StageQuestion
		}
		fx = play(&s, fx, SourceQuestion)

	case ToggleAnswerRequested:
		if !s.HasArtifact || (s.Phase != PhaseReview && s.Phase != PhaseError) || s.Pending != OpNone {
			fx = append(fx, refusePlay(s, SourceAnswer))
			break
		}
		if s.Lock.HeldBy == SourceAnswer {
			s.Lock = s.Lock.Release(SourceAnswer)
			fx = append(fx, Pause{Source: SourceAnswer})
			break
		}
		if !s.Lock.Allows(SourceAnswer) {
			fx = append(fx, refusePlay(s, SourceAnswer))
			break
		}
		fx = play(&s, fx, SourceAnswer)

	case PlaybackEnded:
		if s.Lock.HeldBy != t.Source {
			break
		}
		s.Lock = s.Lock.Release(t.Source)
		switch t.Source {
		case SourceIntro:
			s.Playback.IntroPlayed = true
			if s.Stage == StageIntro {
				s.Stage = StageQuestion
				if s.Question.PromptAudioURL != "" && s.Phase == PhaseIdle {
					fx = play(&s, fx, SourceQuestion)
				}
			}
		case SourceQuestion:
			s.Playback.QuestionPlayed = true
		}

	case PlaybackPaused:
		s.Lock = s.Lock.Release(t.Source)

	case PlaybackFailed:
		s.Lock = s.Lock.Release(t.Source)
		// A broken intro counts as heard so the question prompt stays reachable.
		if t.Source == SourceIntro && s.Stage == StageIntro {
			s.Stage = StageQuestion
			s.Playback.IntroPlayed = true
			if s.Question.PromptAudioURL != "" && s.Phase == PhaseIdle && s.Lock.Free() {
				fx = play(&s, fx, SourceQuestion)
			}
		}
		fx = append(fx,
			Toast{Level: ToastWarning, Message: fmt.Sprintf("The %s audio could not be played. You can try again.", t.Source)},
			Emit{Name: EventPlaybackError, Reason: t.Source.String() + ": " + errReason(t.Err)})
	}

	return settle(prev, s, fx)
}

// settle applies the side effects shared by every phase change
func settle(prev Phase, s State, fx []Effect) (State, []Effect) {
	if s.Phase == prev {
		return s, fx
	}
	if s.Ticking && s.Phase != PhaseRecording {
		s.Ticking = false
		fx = append(fx, StopTicker{})
	}
	if s.Lock.HeldBy == SourceAnswer {
		s.Lock = s.Lock.Release(SourceAnswer)
		fx = append(fx, Pause{Source: SourceAnswer})
	}
	return s, fx
}

// play hands the lock to src and starts it. A preempted holder is paused
// first so two sources are never audible together.
func play(s *State, fx []Effect, src Source) []Effect {
	lock, preempted := s.Lock.Acquire(src)
	s.Lock = lock
	if preempted != SourceNone {
		fx = append(fx, Pause{Source: preempted})
	}
	return append(fx, Play{Source: src})
}

// refusePlay explains why a playback request for src was not honored
func refusePlay(s State, src Source) Toast {
	switch {
	case s.Lock.HeldBy == src:
		return Toast{Level: ToastInfo, Message: fmt.Sprintf("The %s audio is already playing.", src)}
	case !s.Lock.Allows(src):
		return Toast{Level: ToastWarning, Message: fmt.Sprintf("Wait for the %s audio to finish.", s.Lock.HeldBy)}
	case src == SourceQuestion && s.Question.PromptAudioURL != "" && !s.Playback.IntroPlayed:
		return Toast{Level: ToastWarning, Message: "The question audio plays after the introduction."}
	case src == SourceAnswer && !s.HasArtifact:
		return Toast{Level: ToastWarning, Message: "There is no recorded answer to play yet."}
	default:
		return Toast{Level: ToastWarning, Message: fmt.Sprintf("The %s audio is not available right now.", src)}
	}
}

// playable reports whether prompt playback may start in the current phase
func playable(s State) bool {
	if s.Pending == OpStarting || s.Pending == OpStopping {
		return false
	}
	switch s.Phase {
	case PhaseIdle, PhaseReview, PhaseError:
		return true
	}
	return false
}

func clampElapsed(d, limit time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

func answerFailureMessage(kind ErrorKind, detail string, last bool) string {
	subject := "Your answer could not be submitted."
	if last {
		subject = "Your final answer could not be submitted."
	}
	return subject + " " + failureHint(kind, detail)
}

func finishFailureMessage(kind ErrorKind, detail string) string {
	return "Your answers were saved, but the test could not be finalized. " + failureHint(kind, detail)
}

func failureHint(kind ErrorKind, detail string) string {
	switch kind {
	case ErrorKindNetwork:
		return "Check your connection and retry."
	case ErrorKindValidation:
		if detail != "" {
			return "The server rejected the request: " + detail + "."
		}
		return "The server rejected the request."
	default:
		return "The server is unavailable right now. Please retry."
	}
}

func kindReason(kind ErrorKind, detail string) string {
	if detail == "" {
		return string(kind)
	}
	return string(kind) + ": " + detail
}

func errReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
