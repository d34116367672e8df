package play

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/audiolibrelab/speakcapture/internal/config"
	"github.com/audiolibrelab/speakcapture/internal/session"
)

// preferredPlayers in order of preference
var preferredPlayers = []string{"ffplay", "mpv", "vlc"}

// Player opens playback elements backed by an external audio player
type Player struct {
	cfg config.PlaybackConfig

	once   sync.Once
	player string
	err    error
}

func New(cfg config.PlaybackConfig) *Player {
	return &Player{cfg: cfg}
}

// Open binds an element to url. Nothing plays until Element.Play.
func (p *Player) Open(url string) (session.Element, error) {
	player, err := p.findAudioPlayer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrPlaybackRejected, err)
	}
	return &Element{player: player, url: url, listeners: make(map[int]func(session.PlaybackEvent))}, nil
}

// PlayFile plays path to the end, blocking until the player exits
func (p *Player) PlayFile(ctx context.Context, path string) error {
	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	cmd := exec.CommandContext(ctx, player, playerArgs(player, path)...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	return nil
}

func (p *Player) findAudioPlayer() (string, error) {
	p.once.Do(func() {
		candidates := preferredPlayers
		if p.cfg.Player != "" {
			candidates = []string{p.cfg.Player}
		}
		for _, candidate := range candidates {
			if _, err := exec.LookPath(candidate); err == nil {
				p.player = candidate
				slog.Debug("Using audio player", "player", candidate)
				return
			}
		}
		p.err = fmt.Errorf("no audio player found (tried: %s)", strings.Join(candidates, ", "))
	})
	return p.player, p.err
}

func playerArgs(player, url string) []string {
	switch player {
	case "vlc":
		return []string{"-I", "dummy", "--play-and-exit", url}
	case "mpv":
		return []string{"--no-video", "--really-quiet", url}
	default:
		return []string{"-nodisp", "-autoexit", "-loglevel", "error", url}
	}
}

// Element plays one media URL in a player subprocess. Pausing stops the
// process; the next Play starts from the beginning.
type Element struct {
	player string
	url    string

	mu        sync.Mutex
	cmd       *exec.Cmd
	closed    bool
	listeners map[int]func(session.PlaybackEvent)
	nextID    int
}

func (e *Element) Play(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("%w: element closed", session.ErrPlaybackRejected)
	}
	if e.cmd != nil {
		e.mu.Unlock()
		return nil
	}

	cmd := exec.Command(e.player, playerArgs(e.player, e.url)...)
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", session.ErrPlaybackRejected, err)
	}
	e.cmd = cmd
	e.mu.Unlock()

	slog.Debug("Playback started", "player", e.player, "url", e.url, "pid", cmd.Process.Pid)
	go e.wait(cmd)
	e.emit(session.PlaybackEvent{Kind: session.EventPlay})
	return nil
}

// wait reports how a process that was not paused ended
func (e *Element) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	e.mu.Lock()
	current := e.cmd == cmd
	if current {
		e.cmd = nil
	}
	e.mu.Unlock()
	if !current {
		return
	}

	if err != nil {
		slog.Debug("Playback failed", "url", e.url, "error", err)
		e.emit(session.PlaybackEvent{Kind: session.EventError, Err: fmt.Errorf("%s exited: %w", e.player, err)})
		return
	}
	e.emit(session.PlaybackEvent{Kind: session.EventEnded})
}

func (e *Element) Pause() {
	e.mu.Lock()
	cmd := e.cmd
	e.cmd = nil
	e.mu.Unlock()

	if cmd == nil {
		return
	}
	cmd.Process.Kill()
	e.emit(session.PlaybackEvent{Kind: session.EventPause})
}

func (e *Element) Subscribe(fn func(session.PlaybackEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.listeners, id)
		})
	}
}

// Close stops playback and drops every listener
func (e *Element) Close() error {
	e.mu.Lock()
	e.closed = true
	cmd := e.cmd
	e.cmd = nil
	e.listeners = make(map[int]func(session.PlaybackEvent))
	e.mu.Unlock()

	if cmd != nil {
		cmd.Process.Kill()
	}
	return nil
}

func (e *Element) emit(ev session.PlaybackEvent) {
	e.mu.Lock()
	fns := make([]func(session.PlaybackEvent), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
