package sessiontest

import (
	"context"
	"sync"

	"github.com/audiolibrelab/speakcapture/internal/session"
)

// FakeSpeaker hands out FakeElements and remembers every one it opened
type FakeSpeaker struct {
	mu       sync.Mutex
	elements []*FakeElement
	playErr  map[string]error
}

func NewFakeSpeaker() *FakeSpeaker {
	return &FakeSpeaker{playErr: make(map[string]error)}
}

// RejectPlay makes Play fail for url
func (s *FakeSpeaker) RejectPlay(url string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playErr[url] = err
}

func (s *FakeSpeaker) Open(url string) (session.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el := &FakeElement{URL: url, playErr: s.playErr[url], listeners: make(map[int]func(session.PlaybackEvent))}
	s.elements = append(s.elements, el)
	return el, nil
}

// Latest returns the most recently opened element for url, or nil
func (s *FakeSpeaker) Latest(url string) *FakeElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.elements) - 1; i >= 0; i-- {
		if s.elements[i].URL == url {
			return s.elements[i]
		}
	}
	return nil
}

// Playing lists the URLs of elements currently audible
func (s *FakeSpeaker) Playing() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var urls []string
	for _, el := range s.elements {
		if el.IsPlaying() {
			urls = append(urls, el.URL)
		}
	}
	return urls
}

// Opened counts elements opened for url
func (s *FakeSpeaker) Opened(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, el := range s.elements {
		if el.URL == url {
			n++
		}
	}
	return n
}

// FakeElement plays nothing; tests end or fail it explicitly
type FakeElement struct {
	URL string

	mu        sync.Mutex
	playErr   error
	playing   bool
	closed    bool
	listeners map[int]func(session.PlaybackEvent)
	nextID    int
}

func (e *FakeElement) Play(ctx context.Context) error {
	e.mu.Lock()
	if e.playErr != nil {
		e.mu.Unlock()
		return e.playErr
	}
	e.playing = true
	e.mu.Unlock()
	e.emit(session.PlaybackEvent{Kind: session.EventPlay})
	return nil
}

func (e *FakeElement) Pause() {
	e.mu.Lock()
	was := e.playing
	e.playing = false
	e.mu.Unlock()
	if was {
		e.emit(session.PlaybackEvent{Kind: session.EventPause})
	}
}

func (e *FakeElement) Subscribe(fn func(session.PlaybackEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

func (e *FakeElement) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.playing = false
	return nil
}

// Finish plays the element to its end
func (e *FakeElement) Finish() {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
	e.emit(session.PlaybackEvent{Kind: session.EventEnded})
}

// Fail reports a decode or device error mid-playback
func (e *FakeElement) Fail(err error) {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
	e.emit(session.PlaybackEvent{Kind: session.EventError, Err: err})
}

func (e *FakeElement) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *FakeElement) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Listeners counts attached subscribers
func (e *FakeElement) Listeners() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

func (e *FakeElement) emit(ev session.PlaybackEvent) {
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
