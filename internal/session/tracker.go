package session

import "sync"

// PlaybackState records whether the mandatory first listens happened
type PlaybackState struct {
	IntroPlayed    bool `json:"intro_played"`
	QuestionPlayed bool `json:"question_played"`
}

// newPlaybackState returns the initial flags for q. Missing content counts as
// already heard.
func newPlaybackState(q Question) PlaybackState {
	return PlaybackState{
		IntroPlayed:    !q.HasIntro(),
		QuestionPlayed: q.PromptAudioURL == "",
	}
}

// PlaybackTracker keeps PlaybackState per question number for the lifetime of
// a session. Flags only ever move from false to true, except through Reset.
type PlaybackTracker struct {
	mu     sync.RWMutex
	states map[int]PlaybackState
}

func NewPlaybackTracker() *PlaybackTracker {
	return &PlaybackTracker{states: make(map[int]PlaybackState)}
}

// Reset initializes the flags for q when the controller loads it
func (t *PlaybackTracker) Reset(q Question) PlaybackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps := newPlaybackState(q)
	t.states[q.Number] = ps
	return ps
}

func (t *PlaybackTracker) RecordIntroPlayed(number int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps := t.states[number]
	if ps.IntroPlayed {
		return
	}
	ps.IntroPlayed = true
	t.states[number] = ps
}

func (t *PlaybackTracker) RecordQuestionPlayed(number int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps := t.states[number]
	if ps.QuestionPlayed {
		return
	}
	ps.QuestionPlayed = true
	t.states[number] = ps
}

func (t *PlaybackTracker) State(number int) PlaybackState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[number]
}

// CanReplayQuestionAudio is true only after both first listens happened and
// while nothing else is playing.
func (t *PlaybackTracker) CanReplayQuestionAudio(number int, lock AudioLock) bool {
	ps := t.State(number)
	return ps.IntroPlayed && ps.QuestionPlayed && lock.Free()
}
