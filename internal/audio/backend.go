package audio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/audiolibrelab/speakcapture/internal/config"
)

// BackendType is the ffmpeg input format used for capture
type BackendType string

const (
	BackendPulse BackendType = "pulse"
	BackendALSA  BackendType = "alsa"
	BackendJack  BackendType = "jack"
)

// jackClient is the JACK client name ffmpeg registers when capturing through pw-jack
const jackClient = "speakcapture"

func backendOf(cfg config.CaptureConfig) BackendType {
	switch strings.ToLower(cfg.Backend) {
	case "alsa":
		return BackendALSA
	case "jack":
		return BackendJack
	default:
		return BackendPulse
	}
}

// captureCommand builds the ffmpeg invocation recording cfg's device into output
func captureCommand(cfg config.CaptureConfig, output string) (string, []string) {
	backend := backendOf(cfg)

	var args []string
	name := "ffmpeg"
	if backend == BackendJack {
		// JACK clients need the PipeWire JACK shim
		name = "pw-jack"
		args = append(args, "ffmpeg")
	}

	args = append(args, "-nostdin", "-hide_banner", "-loglevel", "warning")
	args = append(args, inputArgs(cfg)...)
	args = append(args,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-c:a", cfg.Codec,
	)
	if cfg.Codec == "libopus" {
		args = append(args, "-application", "voip")
	}
	args = append(args, "-f", cfg.Container, "-y", output)
	return name, args
}

// probeCommand opens the device briefly and discards the samples
func probeCommand(cfg config.CaptureConfig) (string, []string) {
	name := "ffmpeg"
	var args []string
	if backendOf(cfg) == BackendJack {
		name = "pw-jack"
		args = append(args, "ffmpeg")
	}
	args = append(args, "-nostdin", "-hide_banner", "-loglevel", "error")
	args = append(args, inputArgs(cfg)...)
	args = append(args, "-t", "0.2", "-f", "null", "-")
	return name, args
}

func inputArgs(cfg config.CaptureConfig) []string {
	switch backendOf(cfg) {
	case BackendJack:
		return []string{"-f", "jack", "-channels", strconv.Itoa(cfg.Channels), "-i", jackClient}
	case BackendALSA:
		return []string{"-f", "alsa", "-i", cfg.Device}
	default:
		return []string{"-f", "pulse", "-i", cfg.Device}
	}
}

// jackSources returns the source ports to connect to ffmpeg's JACK inputs
func jackSources(cfg config.CaptureConfig) []string {
	if cfg.Device == "" || cfg.Device == "default" {
		if cfg.Channels == 2 {
			return []string{"system:capture_1", "system:capture_2"}
		}
		return []string{"system:capture_1"}
	}
	return strings.Split(cfg.Device, ",")
}

// MimeType returns the MIME type of a capture container
func MimeType(container string) string {
	switch strings.ToLower(container) {
	case "ogg", "opus":
		return "audio/ogg"
	case "webm":
		return "audio/webm"
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "flac":
		return "audio/flac"
	default:
		return fmt.Sprintf("audio/%s", container)
	}
}

// ListDevices lists capture devices for the configured backend
func ListDevices(cfg config.CaptureConfig) ([]string, error) {
	switch backendOf(cfg) {
	case BackendJack:
		return NewPipeWire().ListSourcePorts()
	case BackendALSA:
		return listALSADevices()
	default:
		return listPulseSources()
	}
}

// ValidateDevice checks that the configured device exists and is unambiguous
func ValidateDevice(cfg config.CaptureConfig) error {
	switch backendOf(cfg) {
	case BackendJack:
		pw := NewPipeWire()
		for _, port := range jackSources(cfg) {
			if err := pw.ValidatePort(port); err != nil {
				return err
			}
		}
		return nil
	case BackendALSA:
		if cfg.Device == "default" {
			return nil
		}
		devices, err := listALSADevices()
		if err != nil {
			return err
		}
		return findDevice(cfg.Device, devices)
	default:
		if cfg.Device == "default" {
			return nil
		}
		sources, err := listPulseSources()
		if err != nil {
			return err
		}
		return findDevice(cfg.Device, sources)
	}
}

func findDevice(device string, devices []string) error {
	for _, d := range devices {
		if d == device {
			return nil
		}
	}
	return fmt.Errorf("capture device not found: %s", device)
}
