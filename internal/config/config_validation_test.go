package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const profileConfig = `
active_config: bench

configs:
  default:
    recorder:
      max_duration: 20s
    audio:
      sample_rate: 44100
    output:
      directory: /tmp/sdrecord-default

  bench:
    audio:
      backend: synthetic
      sample_rate: 16000
      channel_layout: mono
    encoder:
      profile: pcm
    trigger:
      debounce: 50ms

  studio:
    audio:
      channel_layout: stereo
      bit_depth: 24
    server:
      enabled: true
      port: "9090"
`

func TestLoadWithProfile_ActiveConfig(t *testing.T) {
	configFile := createTempConfig(t, profileConfig)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Audio.Backend != "synthetic" || cfg.Audio.SampleRate != 16000 || cfg.Audio.ChannelLayout != "mono" {
		t.Errorf("Bench audio settings not applied: %+v", cfg.Audio)
	}
	if cfg.Encoder.Profile != "pcm" {
		t.Errorf("Expected encoder profile 'pcm', got %s", cfg.Encoder.Profile)
	}
	if cfg.Trigger.Debounce != 50*time.Millisecond {
		t.Errorf("Expected debounce 50ms, got %s", cfg.Trigger.Debounce)
	}

	// Inherited from the default profile
	if cfg.Recorder.MaxDuration != 20*time.Second {
		t.Errorf("Expected inherited max duration 20s, got %s", cfg.Recorder.MaxDuration)
	}
	if cfg.Output.Directory != "/tmp/sdrecord-default" {
		t.Errorf("Expected inherited directory, got %s", cfg.Output.Directory)
	}
	if cfg.Source("recorder.max_duration") != "inherited" {
		t.Errorf("Expected max duration to be inherited, got %s", cfg.Source("recorder.max_duration"))
	}
	if cfg.Source("audio.sample_rate") != "profile-specific" {
		t.Errorf("Expected sample rate to be profile-specific, got %s", cfg.Source("audio.sample_rate"))
	}

	// Built-in defaults
	if cfg.Recorder.TickInterval != time.Second {
		t.Errorf("Expected default tick interval, got %s", cfg.Recorder.TickInterval)
	}
}

func TestLoadWithProfile_ExplicitProfile(t *testing.T) {
	configFile := createTempConfig(t, profileConfig)

	cfg, err := LoadWithProfile(configFile, "studio")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Audio.ChannelLayout != "stereo" || cfg.Audio.BitDepth != 24 {
		t.Errorf("Studio audio settings not applied: %+v", cfg.Audio)
	}
	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("Expected sample rate inherited from default profile, got %d", cfg.Audio.SampleRate)
	}
	if !cfg.Server.Enabled || cfg.Server.Port != "9090" {
		t.Errorf("Server settings not applied: %+v", cfg.Server)
	}
}

func TestLoadWithProfile_UnknownProfile(t *testing.T) {
	configFile := createTempConfig(t, profileConfig)

	_, err := LoadWithProfile(configFile, "missing")
	if err == nil {
		t.Fatal("Expected error for unknown profile")
	}
	if !strings.Contains(err.Error(), "configuration profile 'missing' not found") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestLoadWithProfile_MissingConfigsSection(t *testing.T) {
	configFile := createTempConfig(t, "active_config: default\n")

	_, err := LoadWithProfile(configFile, "")
	if err == nil {
		t.Fatal("Expected error for missing configs section")
	}
	if !strings.Contains(err.Error(), "configs section is required") {
		t.Errorf("Expected configs section error, got: %v", err)
	}
}

func TestLoadWithProfile_InvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		profile  string
		expected string
	}{
		{
			name: "bad bit depth",
			profile: `
    audio:
      bit_depth: 12`,
			expected: "audio.bit_depth",
		},
		{
			name: "bad channel layout",
			profile: `
    audio:
      channel_layout: quad`,
			expected: "audio.channel_layout",
		},
		{
			name: "bad backend",
			profile: `
    audio:
      backend: alsa`,
			expected: "audio.backend",
		},
		{
			name: "sample rate out of range",
			profile: `
    audio:
      sample_rate: 1000`,
			expected: "audio.sample_rate",
		},
		{
			name: "bad trigger signal",
			profile: `
    trigger:
      signal: SIGKILL`,
			expected: "trigger.signal",
		},
		{
			name: "bad port",
			profile: `
    server:
      port: http`,
			expected: "server.port",
		},
		{
			name: "bad template",
			profile: `
    output:
      file_template: "{{.Year"`,
			expected: "output.file_template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := "configs:\n  default:" + tt.profile + "\n"
			configFile := createTempConfig(t, content)

			_, err := LoadWithProfile(configFile, "")
			if err == nil {
				t.Fatalf("Expected validation error containing %q", tt.expected)
			}
			if !strings.Contains(err.Error(), tt.expected) {
				t.Errorf("Expected error containing %q, got: %v", tt.expected, err)
			}
		})
	}
}

func TestReadRootConfig_Profiles(t *testing.T) {
	configFile := createTempConfig(t, profileConfig)

	rootConfig, err := ReadRootConfig(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	profiles := rootConfig.Profiles()
	expected := []string{"bench", "default", "studio"}
	if strings.Join(profiles, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected profiles %v, got %v", expected, profiles)
	}
	if rootConfig.ActiveConfig != "bench" {
		t.Errorf("Expected active config 'bench', got %s", rootConfig.ActiveConfig)
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	configFile := createTempConfig(t, profileConfig)

	if err := UpdateActiveConfig(configFile, "studio"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	rootConfig, err := ReadRootConfig(configFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if rootConfig.ActiveConfig != "studio" {
		t.Errorf("Expected active config 'studio', got %s", rootConfig.ActiveConfig)
	}
}

// Helper function to create temporary config files
func createTempConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sdrecord-test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	return path
}
