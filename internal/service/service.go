package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/speakcapture/internal/audio"
	"github.com/audiolibrelab/speakcapture/internal/config"
	"github.com/audiolibrelab/speakcapture/internal/gateway"
	"github.com/audiolibrelab/speakcapture/internal/notify"
	"github.com/audiolibrelab/speakcapture/internal/play"
	"github.com/audiolibrelab/speakcapture/internal/questions"
	"github.com/audiolibrelab/speakcapture/internal/session"
)

// Service represents the core speakcapture service interface shared by the
// terminal UI and the HTTP server
type Service interface {
	// Lifecycle
	Run(ctx context.Context) error
	Close()

	// Session operations
	Do(action Action) error
	Snapshot() session.Snapshot
	Updates() (<-chan session.Snapshot, func())
	Toasts() (<-chan notify.Toast, func())

	// Information operations
	GetConfig() *config.Config
	GetLastError() string
	RecentTelemetry(ctx context.Context, limit int) ([]notify.Event, error)
}

// Action names a user intent forwarded to the session controller
type Action string

const (
	ActionStart        Action = "start"
	ActionStop         Action = "stop"
	ActionCancel       Action = "cancel"
	ActionSubmit       Action = "submit"
	ActionRetry        Action = "retry"
	ActionReRecord     Action = "rerecord"
	ActionAuthorize    Action = "authorize"
	ActionPlayIntro    Action = "play_intro"
	ActionPlayQuestion Action = "play_question"
	ActionToggleAnswer Action = "toggle_answer"
)

// Deps overrides the collaborators built from configuration
type Deps struct {
	Capture   session.Capture
	Speaker   session.Speaker
	Gateway   session.Gateway
	Clock     session.Clock
	Parts     session.PartStore
	Notifiers []session.Notifier
}

// SessionService runs one recording session for a question set
type SessionService struct {
	cfg        *config.Config
	controller *session.Controller
	feed       *notify.Feed
	store      *notify.Store
	storeOnce  sync.Once

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New assembles the controller for set. Collaborators missing from deps are
// built from cfg.
func New(cfg *config.Config, set *questions.Set, deps Deps) (*SessionService, error) {
	s := &SessionService{cfg: cfg, feed: notify.NewFeed()}

	if deps.Capture == nil {
		deps.Capture = audio.NewFFmpegCapture(cfg.Capture)
	}
	if deps.Speaker == nil {
		deps.Speaker = play.New(cfg.Playback)
	}
	if deps.Gateway == nil {
		deps.Gateway = gateway.New(cfg.Gateway)
	}
	if deps.Parts == nil && cfg.File != "" {
		deps.Parts = config.PartFile{Path: cfg.File}
	}

	sinks := notify.Multi{notify.Logger{}, s.feed, errorTracker{s}}
	if cfg.Telemetry.Enabled {
		store, err := notify.OpenStore(cfg.Telemetry.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open telemetry journal: %w", err)
		}
		s.store = store
		sinks = append(sinks, store)
	}
	if cfg.Notifications.Desktop {
		sinks = append(sinks, notify.Desktop{})
	}
	sinks = append(sinks, deps.Notifiers...)

	// Only a part picked on the command line is remembered for next time.
	var preferred string
	if cfg.PartChosen {
		preferred = cfg.Part
	}

	controller, err := session.New(session.Options{
		AttemptID:    set.AttemptID,
		Part:         preferred,
		Questions:    set.Session(),
		TimeLimit:    s.timeLimit,
		TickInterval: cfg.Recording.TickInterval,
		StopTimeout:  cfg.Recording.StopTimeout,
		Clock:        deps.Clock,
		Capture:      deps.Capture,
		Speaker:      deps.Speaker,
		Gateway:      deps.Gateway,
		Notifier:     sinks,
		Parts:        deps.Parts,
	})
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.controller = controller

	slog.Debug("Session service created", "attempt", set.AttemptID, "part", cfg.Part, "questions", len(set.Questions))
	return s, nil
}

// timeLimit prefers the question's own limit over the part's limit for its type
func (s *SessionService) timeLimit(q session.Question) time.Duration {
	if q.TimeLimit > 0 {
		return q.TimeLimit
	}
	return s.cfg.TimeLimit(q.Type)
}

// Run drives the session until ctx is cancelled or Close is called
func (s *SessionService) Run(ctx context.Context) error {
	defer s.closeStore()
	return s.controller.Run(ctx)
}

func (s *SessionService) Close() {
	s.controller.Close()
}

// Do forwards action to the controller
func (s *SessionService) Do(action Action) error {
	select {
	case <-s.controller.Done():
		return session.ErrClosed
	default:
	}

	c := s.controller
	var fn func()
	switch action {
	case ActionStart:
		fn = c.StartRecording
	case ActionStop:
		fn = c.StopRecording
	case ActionCancel:
		fn = c.CancelRecording
	case ActionSubmit:
		fn = c.Submit
	case ActionRetry:
		fn = c.Retry
	case ActionReRecord:
		fn = c.ReRecord
	case ActionAuthorize:
		fn = c.Authorize
	case ActionPlayIntro:
		fn = c.PlayIntro
	case ActionPlayQuestion:
		fn = c.PlayQuestionAudio
	case ActionToggleAnswer:
		fn = c.ToggleAnswerPlayback
	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	slog.Debug("Service.Do called", "action", action)
	s.clearLastError()
	fn()
	return nil
}

func (s *SessionService) Snapshot() session.Snapshot {
	return s.controller.Snapshot()
}

func (s *SessionService) Updates() (<-chan session.Snapshot, func()) {
	return s.controller.Updates()
}

func (s *SessionService) Toasts() (<-chan notify.Toast, func()) {
	return s.feed.Subscribe()
}

// GetConfig returns the current configuration
func (s *SessionService) GetConfig() *config.Config {
	return s.cfg
}

// RecentTelemetry reads the journal when telemetry is enabled
func (s *SessionService) RecentTelemetry(ctx context.Context, limit int) ([]notify.Event, error) {
	if s.store == nil {
		return nil, fmt.Errorf("telemetry journal is disabled")
	}
	return s.store.Recent(ctx, limit)
}

func (s *SessionService) closeStore() {
	if s.store == nil {
		return
	}
	s.storeOnce.Do(func() {
		if err := s.store.Close(); err != nil {
			slog.Warn("Failed to close telemetry journal", "error", err)
		}
	})
}

// GetLastError returns the last error message (thread-safe)
func (s *SessionService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *SessionService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err
}

func (s *SessionService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// errorTracker keeps the latest error toast as the service's last error
type errorTracker struct {
	s *SessionService
}

func (e errorTracker) Toast(level session.ToastLevel, message string) {
	if level == session.ToastError {
		e.s.setLastError(message)
	}
}

func (errorTracker) Emit(session.Telemetry) {}
