package notify

import (
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/speakcapture/internal/session"
)

// Event is a telemetry record as stored and displayed
type Event struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Attempt  string    `json:"attempt"`
	Question int       `json:"question"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

func NewEvent(t session.Telemetry) Event {
	return Event{
		ID:       uuid.New().String(),
		Name:     t.Name,
		Attempt:  t.Attempt,
		Question: t.Question,
		Reason:   t.Reason,
		At:       time.Now().UTC(),
	}
}

// Logger writes toasts and telemetry to slog
type Logger struct{}

func (Logger) Toast(level session.ToastLevel, message string) {
	switch level {
	case session.ToastError:
		slog.Error(message, "toast", true)
	case session.ToastWarning:
		slog.Warn(message, "toast", true)
	default:
		slog.Info(message, "toast", true)
	}
}

func (Logger) Emit(t session.Telemetry) {
	attrs := []any{"event", t.Name, "attempt", t.Attempt, "question", t.Question}
	if t.Reason != "" {
		attrs = append(attrs, "reason", t.Reason)
	}
	slog.Info("Telemetry", attrs...)
}

// Multi fans every call out to each sink
type Multi []session.Notifier

func (m Multi) Toast(level session.ToastLevel, message string) {
	for _, n := range m {
		n.Toast(level, message)
	}
}

func (m Multi) Emit(t session.Telemetry) {
	for _, n := range m {
		n.Emit(t)
	}
}

// Desktop shows toasts as desktop notifications through notify-send
type Desktop struct {
	AppName string
}

func (d Desktop) Toast(level session.ToastLevel, message string) {
	urgency := "normal"
	if level == session.ToastError {
		urgency = "critical"
	}
	app := d.AppName
	if app == "" {
		app = "speakcapture"
	}
	go func() {
		err := exec.Command("notify-send",
			"--urgency", urgency,
			"--app-name", app,
			app, message,
		).Run()
		if err != nil {
			slog.Debug("Desktop notification failed", "error", err)
		}
	}()
}

// Emit is a no-op; telemetry is not shown on the desktop
func (Desktop) Emit(session.Telemetry) {}

// Toast is a user-facing message delivered to Feed subscribers
type Toast struct {
	Level   session.ToastLevel `json:"level"`
	Message string             `json:"message"`
	At      time.Time          `json:"at"`
}

// Feed broadcasts toasts to hosts such as the TUI and websocket clients.
// Subscribers that fall behind lose toasts rather than block the session.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan Toast
	nextID int
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Toast)}
}

func (f *Feed) Subscribe() (<-chan Toast, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan Toast, 16)
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
		})
	}
}

func (f *Feed) Toast(level session.ToastLevel, message string) {
	toast := Toast{Level: level, Message: message, At: time.Now()}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		select {
		case ch <- toast:
		default:
			slog.Debug("Toast dropped for slow subscriber", "subscriber", id)
		}
	}
}

func (*Feed) Emit(session.Telemetry) {}
