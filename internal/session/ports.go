package session

import (
	"context"
	"time"
)

// Capture is the platform recording primitive. Start resolves once the device
// is acquired; Stop resolves once the encoder has flushed.
type Capture interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*Artifact, error)
	// Probe performs a trial acquire/release of the capture device.
	Probe(ctx context.Context) error
	Status() CaptureStatus
	// Failures delivers errors raised while a capture is running.
	Failures() <-chan error
	Close() error
}

// PlaybackEventKind names the events a playback element emits
type PlaybackEventKind string

const (
	EventPlay  PlaybackEventKind = "play"
	EventPause PlaybackEventKind = "pause"
	EventEnded PlaybackEventKind = "ended"
	EventError PlaybackEventKind = "error"
)

// PlaybackEvent is emitted by an Element to its subscribers
type PlaybackEvent struct {
	Kind PlaybackEventKind
	Err  error
}

// Element is a bound audio element
type Element interface {
	Play(ctx context.Context) error
	Pause()
	// Subscribe attaches a listener; the returned func detaches it.
	Subscribe(fn func(PlaybackEvent)) (unsubscribe func())
	Close() error
}

// Speaker opens playback elements for a media URL or path
type Speaker interface {
	Open(url string) (Element, error)
}

// ErrorKind classifies a failed gateway call
type ErrorKind string

const (
	ErrorKindNetwork    ErrorKind = "network"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindServer     ErrorKind = "server"
)

// Result is the outcome of a gateway call: either OK with a Value, or a
// failure with a Kind and Message.
type Result[T any] struct {
	OK      bool
	Value   T
	Kind    ErrorKind
	Message string
}

func Ok[T any](v T) Result[T] {
	return Result[T]{OK: true, Value: v}
}

func Fail[T any](kind ErrorKind, message string) Result[T] {
	return Result[T]{Kind: kind, Message: message}
}

// Finalized is returned by a successful FinishAttempt
type Finalized struct {
	AttemptID string `json:"finalized_attempt_id"`
}

// Gateway is the remote grading service
type Gateway interface {
	SubmitAnswer(ctx context.Context, attemptID string, questionNumber int, artifact *Artifact) Result[struct{}]
	FinishAttempt(ctx context.Context, attemptID string) Result[Finalized]
}

// Telemetry is a structured event handed to the Notifier
type Telemetry struct {
	Name     string
	Attempt  string
	Question int
	Reason   string
}

// Notifier receives toasts and telemetry. Both calls are fire-and-forget.
type Notifier interface {
	Toast(level ToastLevel, message string)
	Emit(ev Telemetry)
}

// PartStore persists the preferred assessment part across sessions
type PartStore interface {
	SavePreferredPart(part string) error
}

// Ticker is a cancellable periodic ticker
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts time so the controller stays deterministic in tests
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}
