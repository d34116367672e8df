package config

import (
	"os"
	"strings"
	"testing"
)

func TestReadRoot_ValidConfig(t *testing.T) {
	validConfig := `
active_part: part1

parts:
  part1:
    description: Interview
    time_limits:
      personal: 30s
  part2:
    default_limit: 2m

server:
  listen: 0.0.0.0:9000
`

	configFile := createTempConfig(t, validConfig)
	defer os.Remove(configFile)

	root, err := ReadRoot(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(root.Parts) != 2 {
		t.Errorf("Expected 2 parts, got %d", len(root.Parts))
	}

	names := root.PartNames()
	if len(names) != 2 || names[0] != "part1" || names[1] != "part2" {
		t.Errorf("Expected sorted part names [part1 part2], got %v", names)
	}

	if root.Server.Listen != "0.0.0.0:9000" {
		t.Errorf("Expected listen address override, got %s", root.Server.Listen)
	}
}

func TestReadRoot_InvalidPartLimits(t *testing.T) {
	testCases := []struct {
		name          string
		config        string
		expectedError string
	}{
		{
			name: "zero type limit",
			config: `
parts:
  part1:
    time_limits:
      personal: 0s
`,
			expectedError: "parts.part1.time_limits.personal: must be > 0",
		},
		{
			name: "negative default limit",
			config: `
parts:
  part2:
    default_limit: -5s
`,
			expectedError: "parts.part2.default_limit: must be >= 0",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			configFile := createTempConfig(t, tc.config)
			defer os.Remove(configFile)

			_, err := ReadRoot(configFile)
			if err == nil {
				t.Fatal("Expected error for invalid parts")
			}
			if !strings.Contains(err.Error(), tc.expectedError) {
				t.Errorf("Expected error containing '%s', got: %v", tc.expectedError, err)
			}
		})
	}
}

func TestLoadWithPart_InvalidSettings(t *testing.T) {
	testCases := []struct {
		name          string
		config        string
		expectedError string
	}{
		{
			name: "unsupported backend",
			config: `
capture:
  backend: coreaudio
`,
			expectedError: "capture.backend",
		},
		{
			name: "bad sample rate",
			config: `
capture:
  sample_rate: 100
`,
			expectedError: "capture.sample_rate",
		},
		{
			name: "gateway url",
			config: `
gateway:
  base_url: not a url
`,
			expectedError: "gateway.base_url",
		},
		{
			name: "unknown player",
			config: `
playback:
  player: winamp
`,
			expectedError: "playback.player",
		},
		{
			name: "tick slower than limit",
			config: `
recording:
  tick_interval: 2m
`,
			expectedError: "recording.tick_interval: must be shorter",
		},
		{
			name: "telemetry without database",
			config: `
telemetry:
  enabled: true
  database: ""
`,
			expectedError: "telemetry.database",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			configFile := createTempConfig(t, tc.config)
			defer os.Remove(configFile)

			_, err := LoadWithPart(configFile, "")
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tc.expectedError) {
				t.Errorf("Expected error containing '%s', got: %v", tc.expectedError, err)
			}
		})
	}
}

func TestReadRoot_NoConfigFile(t *testing.T) {
	_, err := ReadRoot("")
	if err == nil {
		t.Fatal("Expected error when no config file is given")
	}
}

func createTempConfig(t *testing.T, content string) string {
	tmpfile, err := os.CreateTemp("", "speakcapture-test-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	if err := tmpfile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}

	return tmpfile.Name()
}
