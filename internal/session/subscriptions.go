package session

import "sync"

// Subscriptions tracks detach funcs per audio source. Every tracked func is
// invoked exactly once, either by Release for its source or by ReleaseAll.
type Subscriptions struct {
	mu   sync.Mutex
	subs map[Source][]func()
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{subs: make(map[Source][]func())}
}

func (s *Subscriptions) Track(src Source, cancel func()) {
	if cancel == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[src] = append(s.subs[src], cancel)
}

func (s *Subscriptions) Release(src Source) int {
	s.mu.Lock()
	cancels := s.subs[src]
	delete(s.subs, src)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

func (s *Subscriptions) ReleaseAll() int {
	s.mu.Lock()
	all := s.subs
	s.subs = make(map[Source][]func())
	s.mu.Unlock()

	n := 0
	for _, cancels := range all {
		for _, cancel := range cancels {
			cancel()
			n++
		}
	}
	return n
}

func (s *Subscriptions) Len(src Source) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[src])
}
