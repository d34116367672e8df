package audio

import (
	"strings"
	"testing"
)

func TestParsePortList(t *testing.T) {
	output := `Output ports:
system:capture_1
system:capture_2
Firefox:output_FL

Input ports:
speakcapture:input_1
`
	ports := parsePortList(output)

	expected := []string{"system:capture_1", "system:capture_2", "Firefox:output_FL", "speakcapture:input_1"}
	if len(ports) != len(expected) {
		t.Fatalf("Expected %d ports, got %d: %v", len(expected), len(ports), ports)
	}
	for i, port := range expected {
		if ports[i] != port {
			t.Errorf("Port %d: expected %s, got %s", i, port, ports[i])
		}
	}
}

func TestCheckPort_Success(t *testing.T) {
	err := checkPort("system:capture_1", []string{"Chrome:output_FL", "system:capture_1"})
	if err != nil {
		t.Errorf("Expected no error for valid single port, got: %v", err)
	}
}

func TestCheckPort_NotFound(t *testing.T) {
	err := checkPort("nonexistent:port", []string{"Chrome:output_FL"})
	if err == nil {
		t.Fatal("Expected error for nonexistent port")
	}
	if !strings.Contains(err.Error(), "port not found") {
		t.Errorf("Expected 'port not found' error, got: %v", err)
	}
}

func TestCheckPort_DuplicateDetection(t *testing.T) {
	ports := []string{
		"Chrome:output_FL",
		"Chrome:output_FL",
		"Chrome-2:output_FL",
	}

	err := checkPort("Chrome:output_FL", ports)
	if err == nil {
		t.Fatal("Expected error for duplicate sources")
	}
	if !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected 'duplicate sources detected' error, got: %v", err)
	}

	// A differently numbered instance is its own port
	if err := checkPort("Chrome-2:output_FL", ports); err != nil {
		t.Errorf("Expected no error for Chrome-2:output_FL, got: %v", err)
	}
}

func TestCheckPort_Empty(t *testing.T) {
	if err := checkPort("", []string{"system:capture_1"}); err == nil {
		t.Error("Expected error for empty port name")
	}
}

func TestIsEphemeralPort(t *testing.T) {
	if !isEphemeralPort("Firefox:output_FL") {
		t.Error("Expected browser port to be ephemeral")
	}
	if isEphemeralPort("system:capture_1") {
		t.Error("Expected hardware port not to be ephemeral")
	}
}

func TestParsePulseSources_SkipsMonitors(t *testing.T) {
	output := "0\talsa_output.pci-0000_00_1f.3.analog-stereo.monitor\tPipeWire\ts32le 2ch 48000Hz\tSUSPENDED\n" +
		"1\talsa_input.pci-0000_00_1f.3.analog-stereo\tPipeWire\ts32le 2ch 48000Hz\tRUNNING\n" +
		"2\talsa_input.usb-Blue_Yeti-00.mono-fallback\tPipeWire\ts16le 1ch 48000Hz\tIDLE\n"

	sources := parsePulseSources(output)
	if len(sources) != 2 {
		t.Fatalf("Expected 2 sources, got %d: %v", len(sources), sources)
	}
	if sources[0] != "alsa_input.pci-0000_00_1f.3.analog-stereo" {
		t.Errorf("Unexpected first source: %s", sources[0])
	}
	if sources[1] != "alsa_input.usb-Blue_Yeti-00.mono-fallback" {
		t.Errorf("Unexpected second source: %s", sources[1])
	}
}

func TestParseALSADevices(t *testing.T) {
	output := `null
    Discard all samples (playback) or generate zero samples (capture)
default
    Default ALSA Output
hw:CARD=PCH,DEV=0
    HDA Intel PCH, ALC3246 Analog
	Direct hardware device without any conversions
`
	devices := parseALSADevices(output)

	expected := []string{"null", "default", "hw:CARD=PCH,DEV=0"}
	if len(devices) != len(expected) {
		t.Fatalf("Expected %d devices, got %d: %v", len(expected), len(devices), devices)
	}
	for i, d := range expected {
		if devices[i] != d {
			t.Errorf("Device %d: expected %s, got %s", i, d, devices[i])
		}
	}
}

func TestFindDevice(t *testing.T) {
	devices := []string{"default", "hw:CARD=PCH,DEV=0"}
	if err := findDevice("hw:CARD=PCH,DEV=0", devices); err != nil {
		t.Errorf("Expected device to be found, got: %v", err)
	}
	if err := findDevice("hw:CARD=USB,DEV=0", devices); err == nil {
		t.Error("Expected error for missing device")
	}
}
