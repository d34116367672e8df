package session

import "errors"

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrCaptureFailed    = errors.New("audio capture failed")
	ErrPlaybackRejected = errors.New("playback rejected")
	ErrNoQuestions      = errors.New("question set is empty")
	ErrClosed           = errors.New("session controller closed")
)
