package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAudioLock_AcquireReportsPreempted(t *testing.T) {
	var lock AudioLock
	assert.True(t, lock.Free())

	lock, preempted := lock.Acquire(SourceIntro)
	assert.Equal(t, SourceIntro, lock.HeldBy)
	assert.Equal(t, SourceNone, preempted)

	lock, preempted = lock.Acquire(SourceAnswer)
	assert.Equal(t, SourceAnswer, lock.HeldBy)
	assert.Equal(t, SourceIntro, preempted)

	again, preempted := lock.Acquire(SourceAnswer)
	assert.Equal(t, lock, again)
	assert.Equal(t, SourceNone, preempted)
}

func TestAudioLock_StaleReleaseIsIgnored(t *testing.T) {
	lock, _ := AudioLock{}.Acquire(SourceQuestion)

	lock = lock.Release(SourceIntro)
	assert.Equal(t, SourceQuestion, lock.HeldBy, "release by a non-holder must not clear the lock")

	lock = lock.Release(SourceQuestion)
	assert.True(t, lock.Free())
}

func TestAudioLock_Allows(t *testing.T) {
	var lock AudioLock
	assert.True(t, lock.Allows(SourceAnswer))

	lock, _ = lock.Acquire(SourceIntro)
	assert.True(t, lock.Allows(SourceIntro))
	assert.False(t, lock.Allows(SourceQuestion))
	assert.Equal(t, "none", SourceNone.String())
}

func TestPlaybackTracker_MissingContentCountsAsHeard(t *testing.T) {
	tr := NewPlaybackTracker()

	ps := tr.Reset(Question{Number: 1})
	assert.True(t, ps.IntroPlayed)
	assert.True(t, ps.QuestionPlayed)

	ps = tr.Reset(Question{Number: 2, IntroAudioURL: "intro.mp3", PromptAudioURL: "q2.mp3"})
	assert.False(t, ps.IntroPlayed)
	assert.False(t, ps.QuestionPlayed)
}

func TestPlaybackTracker_ReplayNeedsBothListensAndFreeLock(t *testing.T) {
	tr := NewPlaybackTracker()
	q := Question{Number: 4, IntroAudioURL: "intro.mp3", PromptAudioURL: "q4.mp3"}
	tr.Reset(q)

	var free AudioLock
	assert.False(t, tr.CanReplayQuestionAudio(4, free))

	tr.RecordIntroPlayed(4)
	assert.False(t, tr.CanReplayQuestionAudio(4, free))

	tr.RecordQuestionPlayed(4)
	tr.RecordQuestionPlayed(4)
	assert.True(t, tr.CanReplayQuestionAudio(4, free))

	held, _ := free.Acquire(SourceAnswer)
	assert.False(t, tr.CanReplayQuestionAudio(4, held))

	tr.Reset(q)
	assert.Equal(t, PlaybackState{}, tr.State(4))
}

func TestSubscriptions_ReleaseRunsEachCancelOnce(t *testing.T) {
	subs := NewSubscriptions()
	calls := map[string]int{}
	track := func(src Source, name string) {
		subs.Track(src, func() { calls[name]++ })
	}

	track(SourceIntro, "intro-a")
	track(SourceIntro, "intro-b")
	track(SourceAnswer, "answer")
	subs.Track(SourceAnswer, nil)

	assert.Equal(t, 2, subs.Len(SourceIntro))
	assert.Equal(t, 2, subs.Release(SourceIntro))
	assert.Equal(t, 0, subs.Release(SourceIntro))
	assert.Equal(t, 1, subs.ReleaseAll())
	assert.Equal(t, 0, subs.ReleaseAll())

	assert.Equal(t, map[string]int{"intro-a": 1, "intro-b": 1, "answer": 1}, calls)
}
