package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// PipeWire manages PipeWire/JACK port operations
type PipeWire struct{}

func NewPipeWire() *PipeWire {
	return &PipeWire{}
}

// ListSourcePorts returns the output ports that can feed a capture
func (pw *PipeWire) ListSourcePorts() ([]string, error) {
	output, err := exec.Command("pw-link", "-o").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePortList(string(output)), nil
}

func (pw *PipeWire) listAllPorts() ([]string, error) {
	output, err := exec.Command("pw-link", "-io").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePortList(string(output)), nil
}

// parsePortList extracts port names from pw-link output
func parsePortList(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Input ports:") || strings.HasPrefix(line, "Output ports:") {
			continue
		}
		ports = append(ports, line)
	}
	return ports
}

// ValidatePort checks that a port exists exactly once
func (pw *PipeWire) ValidatePort(portName string) error {
	ports, err := pw.listAllPorts()
	if err != nil {
		return err
	}
	return checkPort(portName, ports)
}

// checkPort reports a missing port or one published by several clients
func checkPort(portName string, ports []string) error {
	if portName == "" {
		return fmt.Errorf("port name is required")
	}
	matches := countPort(portName, ports)
	if matches == 0 {
		return fmt.Errorf("port not found: %s", portName)
	}
	if matches > 1 {
		return fmt.Errorf("duplicate sources detected for '%s' (%d ports). Please close conflicting applications", portName, matches)
	}
	return nil
}

func countPort(portName string, ports []string) int {
	n := 0
	for _, port := range ports {
		if port == portName {
			n++
		}
	}
	return n
}

// WaitForPort polls until portName appears or timeout elapses
func (pw *PipeWire) WaitForPort(portName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ports, err := pw.listAllPorts(); err == nil && countPort(portName, ports) > 0 {
			slog.Debug("JACK port found", "port", portName)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for JACK port: %s", portName)
}

// ConnectPortsWithRetry links sourcePort to destPort. Application ports
// (browsers, players) get a longer grace period than hardware ports.
func (pw *PipeWire) ConnectPortsWithRetry(sourcePort, destPort string) error {
	maxRetries, retryDelay := 5, 500*time.Millisecond
	if isEphemeralPort(sourcePort) {
		maxRetries, retryDelay = 15, time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		out, err := exec.Command("pw-link", sourcePort, destPort).CombinedOutput()
		if err == nil {
			slog.Debug("Connected ports", "source", sourcePort, "dest", destPort, "attempt", attempt)
			return nil
		}
		lastErr = fmt.Errorf("%w (output: %s)", err, strings.TrimSpace(string(out)))
		slog.Debug("Connection attempt failed", "source", sourcePort, "dest", destPort, "attempt", attempt, "error", lastErr)
		if attempt < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	return fmt.Errorf("failed to connect %s to %s after %d attempts: %w", sourcePort, destPort, maxRetries, lastErr)
}

func isEphemeralPort(portName string) bool {
	lower := strings.ToLower(portName)
	for _, app := range []string{"chrome", "firefox", "zoom", "teams", "discord", "mpv", "vlc"} {
		if strings.Contains(lower, app) {
			return true
		}
	}
	return false
}

// listPulseSources lists PulseAudio/PipeWire-pulse source names
func listPulseSources() ([]string, error) {
	output, err := exec.Command("pactl", "list", "short", "sources").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list pulse sources: %w", err)
	}
	return parsePulseSources(string(output)), nil
}

// parsePulseSources reads `pactl list short sources`, skipping monitor sources
func parsePulseSources(output string) []string {
	var sources []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if strings.HasSuffix(fields[1], ".monitor") {
			continue
		}
		sources = append(sources, fields[1])
	}
	return sources
}

// listALSADevices lists ALSA capture PCMs
func listALSADevices() ([]string, error) {
	output, err := exec.Command("arecord", "-L").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list ALSA devices: %w", err)
	}
	return parseALSADevices(string(output)), nil
}

// parseALSADevices keeps the unindented PCM names of `arecord -L`
func parseALSADevices(output string) []string {
	var devices []string
	for _, line := range strings.Split(output, "\n") {
		if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		devices = append(devices, strings.TrimSpace(line))
	}
	return devices
}
