package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const partsConfig = `
active_part: part2

recording:
  default_limit: 60s
  time_limits:
    describe: 50s

gateway:
  base_url: https://grading.example.com/api/
  token: abc123

parts:
  default:
    time_limits:
      describe: 45s
      opinion: 90s
  part1:
    description: Short answers
    default_limit: 30s
  part2:
    description: Long turn
    default_limit: 120s
    time_limits:
      opinion: 2m
`

func TestLoadWithPart_ActivePartInheritsDefault(t *testing.T) {
	configFile := createTempConfig(t, partsConfig)
	defer os.Remove(configFile)

	cfg, err := LoadWithPart(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Part != "part2" {
		t.Errorf("Expected active part 'part2', got '%s'", cfg.Part)
	}

	// Part-specific default limit
	if cfg.Recording.DefaultLimit != 120*time.Second {
		t.Errorf("Expected default limit 120s, got %s", cfg.Recording.DefaultLimit)
	}

	// Inherited from the default part, which overrides the recording section
	if got := cfg.TimeLimit("describe"); got != 45*time.Second {
		t.Errorf("Expected describe limit 45s, got %s", got)
	}

	// Overridden by part2
	if got := cfg.TimeLimit("opinion"); got != 2*time.Minute {
		t.Errorf("Expected opinion limit 2m, got %s", got)
	}

	// Unknown types fall back to the default limit
	if got := cfg.TimeLimit("read_aloud"); got != 120*time.Second {
		t.Errorf("Expected fallback limit 120s, got %s", got)
	}

	if cfg.Gateway.BaseURL != "https://grading.example.com/api" {
		t.Errorf("Expected trailing slash trimmed, got %s", cfg.Gateway.BaseURL)
	}
}

func TestLoadWithPart_ExplicitPartOverridesActive(t *testing.T) {
	configFile := createTempConfig(t, partsConfig)
	defer os.Remove(configFile)

	cfg, err := LoadWithPart(configFile, "part1")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Part != "part1" {
		t.Errorf("Expected part 'part1', got '%s'", cfg.Part)
	}
	if cfg.Recording.DefaultLimit != 30*time.Second {
		t.Errorf("Expected default limit 30s, got %s", cfg.Recording.DefaultLimit)
	}
	if got := cfg.TimeLimit("opinion"); got != 90*time.Second {
		t.Errorf("Expected opinion limit 90s from default part, got %s", got)
	}
}

func TestLoadWithPart_UnknownPart(t *testing.T) {
	configFile := createTempConfig(t, partsConfig)
	defer os.Remove(configFile)

	_, err := LoadWithPart(configFile, "part9")
	if err == nil {
		t.Fatal("Expected error for unknown part")
	}
	if !strings.Contains(err.Error(), "part 'part9' not found") {
		t.Errorf("Expected 'not found' error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "part1, part2") {
		t.Errorf("Expected available parts in error, got: %v", err)
	}
}

func TestLoadWithPart_MissingFileUsesDefaults(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := LoadWithPart(configFile, "")
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got: %v", err)
	}

	if cfg.Part != DefaultPart {
		t.Errorf("Expected part '%s', got '%s'", DefaultPart, cfg.Part)
	}
	if cfg.Recording.TickInterval != 200*time.Millisecond {
		t.Errorf("Expected tick interval 200ms, got %s", cfg.Recording.TickInterval)
	}
	if cfg.Recording.DefaultLimit != 60*time.Second {
		t.Errorf("Expected default limit 60s, got %s", cfg.Recording.DefaultLimit)
	}
	if cfg.Capture.Container != "ogg" || cfg.Capture.Codec != "libopus" {
		t.Errorf("Expected ogg/libopus capture, got %s/%s", cfg.Capture.Container, cfg.Capture.Codec)
	}
	if strings.HasPrefix(cfg.Telemetry.Database, "~") {
		t.Errorf("Expected telemetry path to be expanded, got %s", cfg.Telemetry.Database)
	}
}

func TestLoadWithPart_EnvironmentOverride(t *testing.T) {
	configFile := createTempConfig(t, partsConfig)
	defer os.Remove(configFile)

	t.Setenv("SPEAKCAPTURE_GATEWAY_TOKEN", "from-env")
	t.Setenv("SPEAKCAPTURE_CAPTURE_DEVICE", "alsa_input.usb-mic")

	cfg, err := LoadWithPart(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Gateway.Token != "from-env" {
		t.Errorf("Expected token from environment, got '%s'", cfg.Gateway.Token)
	}
	if cfg.Capture.Device != "alsa_input.usb-mic" {
		t.Errorf("Expected device from environment, got '%s'", cfg.Capture.Device)
	}
}

func TestUpdateActivePart_RewritesFile(t *testing.T) {
	configFile := createTempConfig(t, partsConfig)
	defer os.Remove(configFile)

	if err := UpdateActivePart(configFile, "part1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	cfg, err := LoadWithPart(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error after update, got: %v", err)
	}
	if cfg.Part != "part1" {
		t.Errorf("Expected active part 'part1' after update, got '%s'", cfg.Part)
	}
	if cfg.Gateway.Token != "abc123" {
		t.Errorf("Expected other settings preserved, got token '%s'", cfg.Gateway.Token)
	}
}

func TestUpdateActivePart_CreatesMissingFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "nested", "speakcapture.yaml")

	if err := UpdateActivePart(configFile, "part3"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	root, err := ReadRoot(configFile)
	if err != nil {
		t.Fatalf("Expected readable file, got: %v", err)
	}
	if root.ActivePart != "part3" {
		t.Errorf("Expected active part 'part3', got '%s'", root.ActivePart)
	}
}

func TestPartFile_SkipsMissingFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "speakcapture.yaml")

	store := PartFile{Path: configFile}
	if err := store.SavePreferredPart("part3"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		t.Errorf("Expected no config file to be created, got: %v", err)
	}
}

func TestPartFile_UnchangedPartIsNotRewritten(t *testing.T) {
	content := "# my settings\nactive_part: part2\n"
	configFile := filepath.Join(t.TempDir(), "speakcapture.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	store := PartFile{Path: configFile}
	if err := store.SavePreferredPart("part2"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	data, _ := os.ReadFile(configFile)
	if string(data) != content {
		t.Errorf("Expected file untouched, got:\n%s", data)
	}

	if err := store.SavePreferredPart("part1"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	root, err := ReadRoot(configFile)
	if err != nil {
		t.Fatalf("Expected readable file, got: %v", err)
	}
	if root.ActivePart != "part1" {
		t.Errorf("Expected active part 'part1', got '%s'", root.ActivePart)
	}
}

func TestExpandPath(t *testing.T) {
	home := os.Getenv("HOME")

	tests := []struct {
		input    string
		expected string
	}{
		{"~/speak/telemetry.db", filepath.Join(home, "speak/telemetry.db")},
		{"/var/lib/speakcapture.db", "/var/lib/speakcapture.db"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, test := range tests {
		result := expandPath(test.input)
		if result != test.expected {
			t.Errorf("expandPath(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestFieldPath(t *testing.T) {
	tests := map[string]string{
		"Config.Capture.SampleRate": "capture.sample_rate",
		"Config.Gateway.BaseURL":    "gateway.base_url",
		"Config.Part":               "part",
	}

	for input, expected := range tests {
		if got := fieldPath(input); got != expected {
			t.Errorf("fieldPath(%q) = %q, expected %q", input, got, expected)
		}
	}
}
