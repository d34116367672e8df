package sessiontest

import (
	"sync"

	"github.com/audiolibrelab/speakcapture/internal/session"
)

type ToastRecord struct {
	Level   session.ToastLevel
	Message string
}

// RecordingNotifier keeps every toast and telemetry event it receives
type RecordingNotifier struct {
	mu     sync.Mutex
	toasts []ToastRecord
	events []session.Telemetry
}

func (n *RecordingNotifier) Toast(level session.ToastLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, ToastRecord{Level: level, Message: message})
}

func (n *RecordingNotifier) Emit(ev session.Telemetry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *RecordingNotifier) Toasts() []ToastRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ToastRecord(nil), n.toasts...)
}

func (n *RecordingNotifier) Events() []session.Telemetry {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]session.Telemetry(nil), n.events...)
}

// Count returns how many events named name were emitted
func (n *RecordingNotifier) Count(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev.Name == name {
			c++
		}
	}
	return c
}

// PartRecorder is an in-memory session.PartStore
type PartRecorder struct {
	mu    sync.Mutex
	saved []string
}

func (p *PartRecorder) SavePreferredPart(part string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, part)
	return nil
}

func (p *PartRecorder) Saved() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.saved...)
}
