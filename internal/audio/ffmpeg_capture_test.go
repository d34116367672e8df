package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/speakcapture/internal/config"
	"github.com/audiolibrelab/speakcapture/internal/session"
)

func testCaptureConfig(tempDir string) config.CaptureConfig {
	return config.CaptureConfig{
		Backend:       "pulse",
		Device:        "default",
		Codec:         "libopus",
		Container:     "ogg",
		SampleRate:    48000,
		Channels:      1,
		StartupWindow: 150 * time.Millisecond,
		TempDir:       tempDir,
	}
}

// installFakeFFmpeg puts a shell script named ffmpeg first on PATH
func installFakeFFmpeg(t *testing.T, script string) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("Failed to write fake ffmpeg: %v", err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// recordingScript writes 2 KiB to the output (last argument) on SIGINT
const recordingScript = `for last; do :; done
trap 'head -c 2048 /dev/zero > "$last"; exit 255' INT
while true; do sleep 0.05; done
`

func TestCaptureCommand_Pulse(t *testing.T) {
	name, args := captureCommand(testCaptureConfig(""), "/tmp/answer.ogg")
	if name != "ffmpeg" {
		t.Errorf("Expected ffmpeg, got %s", name)
	}

	joined := strings.Join(args, " ")
	for _, part := range []string{"-f pulse -i default", "-ac 1", "-ar 48000", "-c:a libopus", "-f ogg -y /tmp/answer.ogg"} {
		if !strings.Contains(joined, part) {
			t.Errorf("Expected %q in %q", part, joined)
		}
	}
	if args[len(args)-1] != "/tmp/answer.ogg" {
		t.Errorf("Expected output file last, got %s", args[len(args)-1])
	}
}

func TestCaptureCommand_JackUsesPipeWireShim(t *testing.T) {
	cfg := testCaptureConfig("")
	cfg.Backend = "jack"
	cfg.Channels = 2

	name, args := captureCommand(cfg, "/tmp/a.ogg")
	if name != "pw-jack" || args[0] != "ffmpeg" {
		t.Errorf("Expected pw-jack ffmpeg, got %s %s", name, args[0])
	}
	if !strings.Contains(strings.Join(args, " "), "-f jack -channels 2 -i speakcapture") {
		t.Errorf("Expected JACK input args, got %v", args)
	}

	sources := jackSources(cfg)
	if len(sources) != 2 || sources[1] != "system:capture_2" {
		t.Errorf("Expected stereo system sources, got %v", sources)
	}
}

func TestProbeCommand(t *testing.T) {
	_, args := probeCommand(testCaptureConfig(""))
	joined := strings.Join(args, " ")
	if !strings.HasSuffix(joined, "-t 0.2 -f null -") {
		t.Errorf("Expected a short null-muxer capture, got %q", joined)
	}
}

func TestClassifyFailure(t *testing.T) {
	testCases := []struct {
		stderr     string
		permission bool
	}{
		{"[pulse @ 0x55] pa_context_connect() failed: Connection refused\ndefault: Input/output error", true},
		{"[alsa @ 0x1] cannot open audio device hw:1 (Device or resource busy)", true},
		{"[alsa @ 0x1] cannot open audio device hw:9 (No such file or directory)", false},
		{"", false},
	}

	for _, tc := range testCases {
		err := classifyFailure(tc.stderr, errors.New("exit status 1"))
		if tc.permission && !errors.Is(err, session.ErrPermissionDenied) {
			t.Errorf("Expected permission error for %q, got: %v", tc.stderr, err)
		}
		if !tc.permission && !errors.Is(err, session.ErrCaptureFailed) {
			t.Errorf("Expected capture error for %q, got: %v", tc.stderr, err)
		}
	}
}

func TestMimeType(t *testing.T) {
	tests := map[string]string{
		"ogg":  "audio/ogg",
		"webm": "audio/webm",
		"WAV":  "audio/wav",
		"mp3":  "audio/mpeg",
	}
	for container, expected := range tests {
		if got := MimeType(container); got != expected {
			t.Errorf("MimeType(%q) = %q, expected %q", container, got, expected)
		}
	}
}

func TestFFmpegCapture_StartStop(t *testing.T) {
	installFakeFFmpeg(t, recordingScript)
	tempDir := t.TempDir()
	c := NewFFmpegCapture(testCaptureConfig(tempDir))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Expected capture to start, got: %v", err)
	}
	if c.Status() != session.CaptureRecording {
		t.Errorf("Expected recording status, got %s", c.Status())
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("Expected error when starting twice")
	}

	artifact, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Expected clean stop, got: %v", err)
	}
	if len(artifact.Data) != 2048 {
		t.Errorf("Expected 2048 bytes, got %d", len(artifact.Data))
	}
	if artifact.MimeType != "audio/ogg" {
		t.Errorf("Expected audio/ogg, got %s", artifact.MimeType)
	}
	if filepath.Dir(artifact.Path) != tempDir {
		t.Errorf("Expected take in %s, got %s", tempDir, artifact.Path)
	}
	if c.Status() != session.CaptureStopped {
		t.Errorf("Expected stopped status, got %s", c.Status())
	}

	artifact.Release()
	if _, err := os.Stat(artifact.Path); !os.IsNotExist(err) {
		t.Errorf("Expected take file removed after release, got: %v", err)
	}

	if _, err := c.Stop(context.Background()); err == nil {
		t.Error("Expected error when stopping with nothing recording")
	}
}

func TestFFmpegCapture_PermissionDenied(t *testing.T) {
	installFakeFFmpeg(t, "echo 'pa_context_connect() failed: Connection refused' >&2\nexit 1\n")
	tempDir := t.TempDir()
	c := NewFFmpegCapture(testCaptureConfig(tempDir))

	err := c.Start(context.Background())
	if !errors.Is(err, session.ErrPermissionDenied) {
		t.Fatalf("Expected permission denied, got: %v", err)
	}
	if c.Status() != session.CapturePermissionDenied {
		t.Errorf("Expected permission_denied status, got %s", c.Status())
	}

	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 0 {
		t.Errorf("Expected no leftover files, got %d", len(entries))
	}
}

func TestFFmpegCapture_ProcessDeathIsReported(t *testing.T) {
	installFakeFFmpeg(t, "sleep 0.3\necho 'device unplugged' >&2\nexit 1\n")
	c := NewFFmpegCapture(testCaptureConfig(t.TempDir()))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Expected capture to start, got: %v", err)
	}

	select {
	case err := <-c.Failures():
		if !errors.Is(err, session.ErrCaptureFailed) {
			t.Errorf("Expected capture failure, got: %v", err)
		}
		if !strings.Contains(err.Error(), "device unplugged") {
			t.Errorf("Expected stderr in failure, got: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Expected a failure report")
	}

	if c.Status() != session.CaptureError {
		t.Errorf("Expected error status, got %s", c.Status())
	}
	c.Close()
}

func TestFFmpegCapture_CloseAbortsTake(t *testing.T) {
	installFakeFFmpeg(t, recordingScript)
	tempDir := t.TempDir()
	c := NewFFmpegCapture(testCaptureConfig(tempDir))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Expected capture to start, got: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Expected clean close, got: %v", err)
	}

	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 0 {
		t.Errorf("Expected take removed on close, got %d files", len(entries))
	}
	if c.Status() != session.CaptureIdle {
		t.Errorf("Expected idle after close, got %s", c.Status())
	}
}
