package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/audiolibrelab/speakcapture/internal/session"
)

// FakeCapture is a scriptable session.Capture. When Dir is set, every
// artifact is backed by a real file so handle release can be observed.
type FakeCapture struct {
	Dir string

	mu        sync.Mutex
	startErr  error
	stopErr   error
	probeErr  error
	stopGate  chan struct{}
	status    session.CaptureStatus
	starts    int
	stops     int
	probes    int
	closed    bool
	artifacts []*session.Artifact
	failures  chan error
}

func NewFakeCapture(dir string) *FakeCapture {
	return &FakeCapture{Dir: dir, status: session.CaptureIdle, failures: make(chan error, 1)}
}

func (f *FakeCapture) FailStart(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *FakeCapture) FailStop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopErr = err
}

func (f *FakeCapture) FailProbe(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeErr = err
}

// HoldStop makes Stop block until the returned func is called
func (f *FakeCapture) HoldStop() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.stopGate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Break reports a mid-recording failure through Failures
func (f *FakeCapture) Break(err error) {
	f.mu.Lock()
	f.status = session.CaptureError
	f.mu.Unlock()
	f.failures <- err
}

func (f *FakeCapture) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		if errors.Is(f.startErr, session.ErrPermissionDenied) {
			f.status = session.CapturePermissionDenied
		} else {
			f.status = session.CaptureError
		}
		return f.startErr
	}
	f.status = session.CaptureRecording
	return nil
}

func (f *FakeCapture) Stop(ctx context.Context) (*session.Artifact, error) {
	f.mu.Lock()
	gate := f.stopGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.status = session.CaptureStopped
	if f.stopErr != nil {
		return nil, f.stopErr
	}

	a := &session.Artifact{
		Data:     []byte(fmt.Sprintf("take-%d", f.stops)),
		MimeType: "audio/ogg",
	}
	if f.Dir != "" {
		a.Path = filepath.Join(f.Dir, fmt.Sprintf("take-%d.ogg", f.stops))
		if err := os.WriteFile(a.Path, a.Data, 0644); err != nil {
			return nil, err
		}
	}
	f.artifacts = append(f.artifacts, a)
	return a, nil
}

func (f *FakeCapture) Probe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.probeErr != nil {
		return f.probeErr
	}
	f.startErr = nil
	f.status = session.CaptureIdle
	return nil
}

func (f *FakeCapture) Status() session.CaptureStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *FakeCapture) Failures() <-chan error {
	return f.failures
}

func (f *FakeCapture) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeCapture) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *FakeCapture) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *FakeCapture) Probes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Artifacts returns every artifact handed out by Stop, oldest first
func (f *FakeCapture) Artifacts() []*session.Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*session.Artifact(nil), f.artifacts...)
}
