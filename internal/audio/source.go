package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/sdrecord/internal/config"
)

// BackendType represents the type of capture backend
type BackendType string

const (
	BackendTypePulse     BackendType = "pulse"
	BackendTypeSynthetic BackendType = "synthetic"
	BackendTypeAuto      BackendType = "auto"
)

// Source produces raw interleaved little-endian PCM. Read blocks until the
// next chunk is available and returns io.EOF once the source is exhausted.
type Source interface {
	Info() StreamInfo
	Open() error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Device is a capture device advertised by a backend.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewSource creates a capture source using the backend selected in the configuration
func NewSource(cfg *config.Config) (Source, error) {
	layout, err := ParseChannelLayout(cfg.Audio.ChannelLayout)
	if err != nil {
		return nil, err
	}

	info := StreamInfo{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   layout.Channels(),
		BitDepth:   cfg.Audio.BitDepth,
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}

	backendType, err := determineBackend(cfg)
	if err != nil {
		return nil, err
	}

	slog.Debug("Selected capture backend", "backend", backendType, "stream", info.String(), "layout", layout)

	switch backendType {
	case BackendTypePulse:
		return NewPulseSource(PulseOptions{
			Info:    info,
			Layout:  layout,
			Device:  cfg.Audio.Device,
			FrameMs: cfg.Audio.FrameMs,
		})
	default:
		return NewToneSource(ToneOptions{
			Info:     info,
			Hz:       cfg.Audio.ToneHz,
			FrameMs:  cfg.Audio.FrameMs,
			Realtime: true,
		}), nil
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) (BackendType, error) {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "pulse":
		return BackendTypePulse, nil
	case "synthetic":
		return BackendTypeSynthetic, nil
	case "", "auto":
		if PulseAvailable() {
			return BackendTypePulse, nil
		}
		return "", fmt.Errorf("no capture backend available: PulseAudio server not found")
	default:
		return "", fmt.Errorf("unknown audio backend: %s", cfg.Audio.Backend)
	}
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{}

	if PulseAvailable() {
		backends = append(backends, BackendTypePulse)
	}
	backends = append(backends, BackendTypeSynthetic)

	return backends
}

// PulseAvailable reports whether a PulseAudio (or pipewire-pulse) server socket can be found.
func PulseAvailable() bool {
	if os.Getenv("PULSE_SERVER") != "" {
		return true
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(runtimeDir, "pulse", "native"))
	return err == nil
}
