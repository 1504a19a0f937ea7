package wizard

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	w := New(strings.NewReader(""), &bytes.Buffer{})
	if w == nil {
		t.Fatal("New() returned nil")
	}
}

func TestRun_BasicAnswers(t *testing.T) {
	transcript := "\n\n10.0.0.1\n53\nn\n\n\n"
	out := &bytes.Buffer{}
	w := New(strings.NewReader(transcript), out)

	result, err := w.Run("/tmp/udprelay.yaml")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Config.Listen.Address != "0.0.0.0" {
		t.Errorf("Listen.Address = %s, want 0.0.0.0 (default)", result.Config.Listen.Address)
	}
	if result.Config.Destination.Address != "10.0.0.1" {
		t.Errorf("Destination.Address = %s, want 10.0.0.1", result.Config.Destination.Address)
	}
	if result.Config.Destination.Port != 53 {
		t.Errorf("Destination.Port = %d, want 53", result.Config.Destination.Port)
	}
	if result.Config.SourceBind != nil {
		t.Error("SourceBind should be nil when the user declines pinning")
	}
	if result.ConfigPath != "/tmp/udprelay.yaml" {
		t.Errorf("ConfigPath = %s, want /tmp/udprelay.yaml", result.ConfigPath)
	}
}

func TestRun_PinnedSourceBind(t *testing.T) {
	transcript := "\n\n10.0.0.1\n53\ny\n192.168.1.5\n6000\n\n\n"
	out := &bytes.Buffer{}
	w := New(strings.NewReader(transcript), out)

	result, err := w.Run("/tmp/udprelay.yaml")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Config.SourceBind == nil {
		t.Fatal("expected SourceBind to be set")
	}
	if result.Config.SourceBind.Address != "192.168.1.5" {
		t.Errorf("SourceBind.Address = %s, want 192.168.1.5", result.Config.SourceBind.Address)
	}
	if result.Config.SourceBind.Port != 6000 {
		t.Errorf("SourceBind.Port = %d, want 6000", result.Config.SourceBind.Port)
	}
}

func TestRun_MissingDestinationFailsValidation(t *testing.T) {
	transcript := "\n\n\n\nn\n\n\n"
	out := &bytes.Buffer{}
	w := New(strings.NewReader(transcript), out)

	_, err := w.Run("/tmp/udprelay.yaml")
	if err == nil {
		t.Fatal("expected validation error for missing destination")
	}
}

func TestRun_InvalidPortReprompts(t *testing.T) {
	transcript := "\n\n10.0.0.1\nnotaport\n53\nn\n\n\n"
	out := &bytes.Buffer{}
	w := New(strings.NewReader(transcript), out)

	result, err := w.Run("/tmp/udprelay.yaml")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Config.Destination.Port != 53 {
		t.Errorf("Destination.Port = %d, want 53 after reprompt", result.Config.Destination.Port)
	}
	if !strings.Contains(out.String(), "invalid port") {
		t.Error("expected a reprompt message for the bad port")
	}
}

func TestMarshalYAML(t *testing.T) {
	transcript := "\n\n10.0.0.1\n53\nn\n\n\n"
	w := New(strings.NewReader(transcript), &bytes.Buffer{})

	result, err := w.Run("/tmp/udprelay.yaml")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := result.MarshalYAML()
	if err != nil {
		t.Fatalf("MarshalYAML failed: %v", err)
	}
	if !strings.Contains(string(data), "10.0.0.1") {
		t.Error("expected marshaled YAML to contain the destination address")
	}
}
