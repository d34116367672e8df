package session

// AudioLock guarantees that at most one audio source is audible at a time.
// It is a value: Acquire and Release return the updated lock.
type AudioLock struct {
	HeldBy Source `json:"held_by"`
}

// Acquire grants the lock to src. If another source holds it, that source is
// returned as preempted and must be stopped by the caller before src plays.
// Acquiring a lock already held by src is a no-op.
func (l AudioLock) Acquire(src Source) (AudioLock, Source) {
	if src == SourceNone || l.HeldBy == src {
		return l, SourceNone
	}
	preempted := l.HeldBy
	return AudioLock{HeldBy: src}, preempted
}

// Release clears the lock only if src still holds it, so a stale release
// cannot clobber a newer holder.
func (l AudioLock) Release(src Source) AudioLock {
	if l.HeldBy != src {
		return l
	}
	return AudioLock{}
}

func (l AudioLock) Free() bool {
	return l.HeldBy == SourceNone
}

// Allows reports whether a playback request for src may proceed without
// overlapping another source.
func (l AudioLock) Allows(src Source) bool {
	return l.HeldBy == SourceNone || l.HeldBy == src
}
