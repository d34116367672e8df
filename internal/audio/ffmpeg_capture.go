package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/speakcapture/internal/config"
	"github.com/audiolibrelab/speakcapture/internal/session"
)

// minOutputSize is the smallest file accepted as a valid take
const minOutputSize = 1024

// FFmpegCapture records the microphone with an ffmpeg subprocess. One take
// is recorded at a time into a temp file that becomes the artifact handle.
type FFmpegCapture struct {
	cfg config.CaptureConfig

	mutex    sync.Mutex
	status   session.CaptureStatus
	take     *take
	failures chan error
}

// take is one running ffmpeg process
type take struct {
	cmd      *exec.Cmd
	output   string
	stderr   *tailBuffer
	exited   chan struct{}
	exitErr  error
	stopping bool
}

func NewFFmpegCapture(cfg config.CaptureConfig) *FFmpegCapture {
	return &FFmpegCapture{
		cfg:      cfg,
		status:   session.CaptureIdle,
		failures: make(chan error, 1),
	}
}

// Start launches ffmpeg and waits out the startup window. A process that
// dies inside the window is classified from its stderr.
func (c *FFmpegCapture) Start(ctx context.Context) error {
	c.mutex.Lock()
	if c.take != nil {
		c.mutex.Unlock()
		return fmt.Errorf("%w: capture already running", session.ErrCaptureFailed)
	}

	t, err := c.launch()
	if err != nil {
		c.status = session.CaptureError
		c.mutex.Unlock()
		return err
	}
	c.take = t
	c.mutex.Unlock()

	window := c.cfg.StartupWindow
	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-t.exited:
		err := classifyFailure(t.stderr.String(), t.exitErr)
		c.mutex.Lock()
		c.take = nil
		if errors.Is(err, session.ErrPermissionDenied) {
			c.status = session.CapturePermissionDenied
		} else {
			c.status = session.CaptureError
		}
		c.mutex.Unlock()
		os.Remove(t.output)
		slog.Error("FFmpeg capture failed to start", "error", err, "stderr", t.stderr.String())
		return err

	case <-ctx.Done():
		c.abort(t)
		return ctx.Err()

	case <-timer.C:
	}

	c.mutex.Lock()
	c.status = session.CaptureRecording
	c.mutex.Unlock()

	if backendOf(c.cfg) == BackendJack {
		go c.connectJackSources()
	}
	go c.watch(t)

	slog.Info("Capture started", "backend", c.cfg.Backend, "device", c.cfg.Device, "output", t.output)
	return nil
}

func (c *FFmpegCapture) launch() (*take, error) {
	f, err := os.CreateTemp(c.cfg.TempDir, "answer-*."+c.cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create output file: %v", session.ErrCaptureFailed, err)
	}
	output := f.Name()
	f.Close()

	name, args := captureCommand(c.cfg, output)
	slog.Debug("Starting FFmpeg capture", "command", name+" "+strings.Join(args, " "))

	cmd := exec.Command(name, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.Remove(output)
		return nil, fmt.Errorf("%w: failed to create stderr pipe: %v", session.ErrCaptureFailed, err)
	}
	if err := cmd.Start(); err != nil {
		os.Remove(output)
		return nil, fmt.Errorf("%w: failed to start %s: %v", session.ErrCaptureFailed, name, err)
	}

	t := &take{cmd: cmd, output: output, stderr: newTailBuffer(8192), exited: make(chan struct{})}
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		readOutput(stderr, t.stderr)
	}()
	go func() {
		<-readDone
		t.exitErr = cmd.Wait()
		close(t.exited)
	}()
	return t, nil
}

// watch reports a process that exits while nobody asked it to stop
func (c *FFmpegCapture) watch(t *take) {
	<-t.exited

	c.mutex.Lock()
	if c.take != t || t.stopping {
		c.mutex.Unlock()
		return
	}
	c.status = session.CaptureError
	c.mutex.Unlock()

	err := fmt.Errorf("%w: ffmpeg exited during recording: %s", session.ErrCaptureFailed, lastLine(t.stderr.String()))
	slog.Error("Capture process died", "error", t.exitErr, "stderr", t.stderr.String())
	select {
	case c.failures <- err:
	default:
	}
}

func (c *FFmpegCapture) connectJackSources() {
	pw := NewPipeWire()
	for i, source := range jackSources(c.cfg) {
		dest := fmt.Sprintf("%s:input_%d", jackClient, i+1)
		if err := pw.WaitForPort(dest, 5*time.Second); err != nil {
			slog.Error("FFmpeg JACK port did not appear", "port", dest, "error", err)
			continue
		}
		if err := pw.ConnectPortsWithRetry(source, dest); err != nil {
			slog.Error("Failed to connect capture source", "source", source, "dest", dest, "error", err)
		}
	}
}

// Stop interrupts ffmpeg so it flushes the container, then reads the take
func (c *FFmpegCapture) Stop(ctx context.Context) (*session.Artifact, error) {
	c.mutex.Lock()
	t := c.take
	if t == nil {
		c.mutex.Unlock()
		return nil, fmt.Errorf("no recording in progress")
	}
	t.stopping = true
	c.mutex.Unlock()

	err := stopProcess(ctx, t)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.take = nil

	if err != nil {
		c.status = session.CaptureError
		os.Remove(t.output)
		return nil, err
	}

	data, err := readTake(t.output)
	if err != nil {
		c.status = session.CaptureError
		os.Remove(t.output)
		return nil, err
	}

	c.status = session.CaptureStopped
	slog.Debug("Capture completed", "output", t.output, "size", len(data))
	return &session.Artifact{
		Data:     data,
		MimeType: MimeType(c.cfg.Container),
		Path:     t.output,
	}, nil
}

// stopProcess sends SIGINT and falls back to SIGKILL after five seconds
func stopProcess(ctx context.Context, t *take) error {
	select {
	case <-t.exited:
		return exitError(t)
	default:
	}

	if t.cmd.Process != nil {
		if err := t.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to interrupt FFmpeg, killing", "error", err)
			t.cmd.Process.Kill()
		}
	}

	select {
	case <-t.exited:
		return exitError(t)
	case <-time.After(5 * time.Second):
		slog.Warn("FFmpeg did not exit within timeout, force killing")
	case <-ctx.Done():
		slog.Warn("Stop cancelled, force killing FFmpeg", "error", ctx.Err())
	}
	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	<-t.exited
	return nil
}

// exitError accepts the exit codes ffmpeg uses after an interrupt
func exitError(t *take) error {
	err := t.exitErr
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 255 {
			return nil
		}
		if exitErr.ProcessState != nil {
			state := exitErr.ProcessState.String()
			if state == "signal: interrupt" || state == "signal: killed" {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: ffmpeg failed: %v: %s", session.ErrCaptureFailed, err, lastLine(t.stderr.String()))
}

func readTake(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: recording file not found: %s", session.ErrCaptureFailed, path)
	}
	if info.Size() < minOutputSize {
		return nil, fmt.Errorf("%w: recording failed: file too small (%d bytes)", session.ErrCaptureFailed, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read recording: %v", session.ErrCaptureFailed, err)
	}
	return data, nil
}

// Probe opens the device for a fraction of a second to check access
func (c *FFmpegCapture) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	name, args := probeCommand(c.cfg)
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err != nil {
		err = classifyFailure(string(out), err)
		if errors.Is(err, session.ErrPermissionDenied) {
			c.status = session.CapturePermissionDenied
		} else {
			c.status = session.CaptureError
		}
		return err
	}
	if c.take == nil {
		c.status = session.CaptureIdle
	}
	return nil
}

func (c *FFmpegCapture) Status() session.CaptureStatus {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.status
}

func (c *FFmpegCapture) Failures() <-chan error {
	return c.failures
}

// Close kills a running take and removes its file
func (c *FFmpegCapture) Close() error {
	c.mutex.Lock()
	t := c.take
	c.take = nil
	c.mutex.Unlock()
	if t != nil {
		c.abort(t)
	}
	return nil
}

func (c *FFmpegCapture) abort(t *take) {
	c.mutex.Lock()
	t.stopping = true
	if c.take == t {
		c.take = nil
	}
	c.status = session.CaptureIdle
	c.mutex.Unlock()

	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	<-t.exited
	os.Remove(t.output)
	slog.Debug("Capture aborted", "output", t.output)
}

// permissionMarkers are stderr fragments ffmpeg prints when the device is
// refused or held by another client
var permissionMarkers = []string{
	"permission denied",
	"access denied",
	"operation not permitted",
	"device or resource busy",
	"connection refused",
	"not authorized",
}

// classifyFailure maps ffmpeg output to a session error
func classifyFailure(stderr string, err error) error {
	lower := strings.ToLower(stderr)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", session.ErrPermissionDenied, lastLine(stderr))
		}
	}
	detail := lastLine(stderr)
	if detail == "" && err != nil {
		detail = err.Error()
	}
	if detail == "" {
		detail = "ffmpeg exited during startup"
	}
	return fmt.Errorf("%w: %s", session.ErrCaptureFailed, detail)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// readOutput copies ffmpeg output into buf and the debug log
func readOutput(pipe io.ReadCloser, buf *tailBuffer) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteLine(line)
		slog.Debug("FFmpeg output", "line", line)
	}
	pipe.Close()
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) WriteLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, line...)
	b.buf = append(b.buf, '\n')
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
