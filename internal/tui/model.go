package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/audiolibrelab/speakcapture/internal/notify"
	"github.com/audiolibrelab/speakcapture/internal/service"
	"github.com/audiolibrelab/speakcapture/internal/session"
)

// maxToasts is how many recent toasts stay on screen
const maxToasts = 3

// Port is the part of the session service the terminal UI drives
type Port interface {
	Do(action service.Action) error
	Snapshot() session.Snapshot
	Updates() (<-chan session.Snapshot, func())
	Toasts() (<-chan notify.Toast, func())
}

type snapshotMsg session.Snapshot

type toastMsg notify.Toast

type actionErrMsg struct{ err error }

type keyMap struct {
	Record   key.Binding
	Cancel   key.Binding
	Submit   key.Binding
	Retry    key.Binding
	ReRecord key.Binding
	Allow    key.Binding
	Intro    key.Binding
	Question key.Binding
	Listen   key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Record:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "record/stop")),
		Cancel:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel take")),
		Submit:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
		Retry:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "retry upload")),
		ReRecord: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "record again")),
		Allow:    key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "allow microphone")),
		Intro:    key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "intro audio")),
		Question: key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "question audio")),
		Listen:   key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "listen to answer")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:     key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Record, k.Submit, k.Listen, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Record, k.Cancel, k.Submit},
		{k.Retry, k.ReRecord, k.Allow},
		{k.Intro, k.Question, k.Listen},
		{k.Help, k.Quit},
	}
}

// Model renders the session snapshot and maps keys to session actions
type Model struct {
	port     Port
	updates  <-chan session.Snapshot
	toastsCh <-chan notify.Toast
	stop     []func()

	snap     session.Snapshot
	toasts   []notify.Toast
	status   string
	keys     keyMap
	help     help.Model
	showHelp bool
	bar      progress.Model
	width    int
}

func New(port Port) Model {
	updates, stopUpdates := port.Updates()
	toasts, stopToasts := port.Toasts()
	return Model{
		port:     port,
		updates:  updates,
		toastsCh: toasts,
		stop:     []func(){stopUpdates, stopToasts},
		snap:     port.Snapshot(),
		keys:     defaultKeys(),
		help:     help.New(),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitSnapshot(m.updates), waitToast(m.toastsCh))
}

func waitSnapshot(ch <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(<-ch)
	}
}

func waitToast(ch <-chan notify.Toast) tea.Cmd {
	return func() tea.Msg {
		return toastMsg(<-ch)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.bar.Width = min(msg.Width-8, 60)

	case snapshotMsg:
		m.snap = session.Snapshot(msg)
		return m, waitSnapshot(m.updates)

	case toastMsg:
		m.toasts = append(m.toasts, notify.Toast(msg))
		if len(m.toasts) > maxToasts {
			m.toasts = m.toasts[len(m.toasts)-maxToasts:]
		}
		return m, waitToast(m.toastsCh)

	case actionErrMsg:
		m.status = msg.err.Error()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		for _, stop := range m.stop {
			stop()
		}
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil
	case key.Matches(msg, m.keys.Record):
		if m.snap.Phase == session.PhaseRecording {
			return m, m.do(service.ActionStop)
		}
		return m, m.do(service.ActionStart)
	case key.Matches(msg, m.keys.Cancel):
		return m, m.do(service.ActionCancel)
	case key.Matches(msg, m.keys.Submit):
		return m, m.do(service.ActionSubmit)
	case key.Matches(msg, m.keys.Retry):
		return m, m.do(service.ActionRetry)
	case key.Matches(msg, m.keys.ReRecord):
		return m, m.do(service.ActionReRecord)
	case key.Matches(msg, m.keys.Allow):
		return m, m.do(service.ActionAuthorize)
	case key.Matches(msg, m.keys.Intro):
		return m, m.do(service.ActionPlayIntro)
	case key.Matches(msg, m.keys.Question):
		return m, m.do(service.ActionPlayQuestion)
	case key.Matches(msg, m.keys.Listen):
		return m, m.do(service.ActionToggleAnswer)
	}
	return m, nil
}

func (m Model) do(action service.Action) tea.Cmd {
	port := m.port
	return func() tea.Msg {
		if err := port.Do(action); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) View() string {
	s := m.snap
	var b strings.Builder

	header := titleStyle.Render("speakcapture")
	if s.Total > 0 {
		header += mutedStyle.Render(fmt.Sprintf("  question %d of %d", min(s.Index+1, s.Total), s.Total))
	}
	b.WriteString(header + "\n\n")

	if s.Question != nil {
		b.WriteString(promptStyle.Render(s.Question.Prompt) + "\n\n")
	}

	phase := phaseStyles[string(s.Phase)].Render(strings.ToUpper(string(s.Phase)))
	line := phase + mutedStyle.Render("  stage: "+string(s.Stage))
	if s.HeldBy != session.SourceNone {
		line += mutedStyle.Render("  playing: " + s.HeldBy.String())
	}
	if s.Capture == session.CapturePermissionDenied || s.Capture == session.CaptureError {
		line += toastStyles["warning"].Render("  mic: " + string(s.Capture))
	}
	if s.Busy {
		line += mutedStyle.Render("  working...")
	}
	b.WriteString(line + "\n")

	switch s.Phase {
	case session.PhaseRecording:
		b.WriteString(m.bar.ViewAs(s.RecordingProgress) + " " + clock(s.ElapsedMs) + " / " + clock(s.LimitMs) + "\n")
	case session.PhaseReview, session.PhaseError:
		if s.ArtifactDurationMs > 0 {
			b.WriteString(mutedStyle.Render("take: "+clock(s.ArtifactDurationMs)) + "\n")
		}
	}

	if s.ErrorMessage != "" {
		b.WriteString(toastStyles["error"].Render(s.ErrorMessage) + "\n")
	}
	if s.Done {
		b.WriteString(phaseStyles["submitted"].Render("Test complete. Attempt "+s.FinalizedAttemptID) + "\n")
	}

	if len(m.toasts) > 0 {
		b.WriteString("\n")
		for _, t := range m.toasts {
			b.WriteString(toastStyles[string(t.Level)].Render("• "+t.Message) + "\n")
		}
	}
	if m.status != "" {
		b.WriteString(mutedStyle.Render(m.status) + "\n")
	}

	b.WriteString("\n")
	if m.showHelp {
		b.WriteString(m.help.FullHelpView(m.keys.FullHelp()))
	} else {
		b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	}

	return appStyle.Render(b.String())
}

func clock(ms int64) string {
	d := (time.Duration(ms) * time.Millisecond).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
