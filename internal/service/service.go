package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"

	"github.com/audiolibrelab/sdrecord/internal/audio"
	"github.com/audiolibrelab/sdrecord/internal/config"
	"github.com/audiolibrelab/sdrecord/internal/encoder"
	"github.com/audiolibrelab/sdrecord/internal/play"
	"github.com/audiolibrelab/sdrecord/internal/recorder"
	"github.com/audiolibrelab/sdrecord/internal/sink"
)

var (
	ErrInvalidName       = errors.New("invalid recording name")
	ErrRecordingNotFound = errors.New("recording not found")
)

// Service represents the core recorder service used by the CLI and the web remote
type Service interface {
	// Recording operations
	Run(ctx context.Context) error
	StartRecording(name string) (*recorder.Session, error)
	StopRecording() error
	Toggle()
	GetRecordingStatus() Status

	// Live status
	Subscribe() (<-chan Status, func())

	// Recording files
	ListRecordings() ([]RecordingInfo, error)
	GetRecordingInfo(name string) (*RecordingDetails, error)
	RecordingPath(name string) (string, error)
	Play(name string) error

	// Storage and configuration
	Volume() (sink.VolumeUsage, error)
	GetConfig() *config.Config
	GetLastError() string
}

// Status is a snapshot of the recorder for status displays
type Status struct {
	State     recorder.State    `json:"state"`
	ElapsedMs int64             `json:"elapsed_ms"`
	Session   *recorder.Session `json:"session,omitempty"`
	LastError string            `json:"last_error,omitempty"`
}

// RecordingInfo contains information about a recording file
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Extension    string    `json:"extension"`
	DownloadURL  string    `json:"download_url"`
}

// RecordingDetails describes the audio stored in a recording file
type RecordingDetails struct {
	RecordingInfo
	Info     audio.StreamInfo `json:"info"`
	Duration time.Duration    `json:"duration"`
	// Estimated is set for raw files whose format is taken from the configuration
	Estimated bool `json:"estimated"`
}

// RecorderService is the main service implementation
type RecorderService struct {
	cfg        *config.Config
	controller *recorder.Controller

	subscribersMutex sync.Mutex
	subscribers      map[chan Status]struct{}
}

// New creates a new recorder service instance
func New(cfg *config.Config) *RecorderService {
	s := &RecorderService{
		cfg:         cfg,
		subscribers: make(map[chan Status]struct{}),
	}

	s.controller = recorder.New(recorder.Options{
		MaxDuration:  cfg.Recorder.MaxDuration,
		TickInterval: cfg.Recorder.TickInterval,
		DrainTimeout: cfg.Recorder.DrainTimeout,
		CommandQueue: cfg.Recorder.CommandQueue,
		DefaultPath:  func() (string, error) { return s.outputPath("") },
	}, recorder.NewGraphBuilder(cfg))
	s.controller.OnChange(s.broadcast)

	return s
}

// Run drives the recorder until ctx is cancelled
func (s *RecorderService) Run(ctx context.Context) error {
	return s.controller.Run(ctx)
}

// StartRecording starts a session; an empty name uses the configured file template
func (s *RecorderService) StartRecording(name string) (*recorder.Session, error) {
	slog.Debug("Service.StartRecording called", "name", name)

	path, err := s.outputPath(name)
	if err != nil {
		return nil, err
	}

	session, err := s.controller.StartRecording(path)
	if err != nil {
		slog.Error("Service.StartRecording failed", "error", err)
		return nil, err
	}
	return session, nil
}

// StopRecording drains and finalizes the current session
func (s *RecorderService) StopRecording() error {
	return s.controller.StopRecording()
}

// Toggle acts like the record button
func (s *RecorderService) Toggle() {
	s.controller.Toggle()
}

// GetRecordingStatus returns the current recording status and session info
func (s *RecorderService) GetRecordingStatus() Status {
	state, elapsed := s.controller.State()
	return Status{
		State:     state,
		ElapsedMs: elapsed.Milliseconds(),
		Session:   s.controller.Session(),
		LastError: s.GetLastError(),
	}
}

// Subscribe returns a channel receiving a status on every state change.
// Slow subscribers miss updates rather than stall the recorder.
func (s *RecorderService) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 8)

	s.subscribersMutex.Lock()
	s.subscribers[ch] = struct{}{}
	s.subscribersMutex.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subscribersMutex.Lock()
			delete(s.subscribers, ch)
			s.subscribersMutex.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *RecorderService) broadcast(state recorder.State, session *recorder.Session) {
	status := Status{State: state, Session: session, LastError: s.GetLastError()}
	if session != nil {
		status.ElapsedMs = session.Elapsed.Milliseconds()
	}

	s.subscribersMutex.Lock()
	defer s.subscribersMutex.Unlock()

	for ch := range s.subscribers {
		select {
		case ch <- status:
		default:
			slog.Debug("Status subscriber is slow, update dropped")
		}
	}
}

// ListRecordings returns the recordings in the output directory, newest first
func (s *RecorderService) ListRecordings() ([]RecordingInfo, error) {
	dir := s.cfg.Output.Directory

	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []RecordingInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	extensions := recordingExtensions()
	recordings := []RecordingInfo{}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(file.Name()))
		if !extensions[ext] {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}

		recordings = append(recordings, newRecordingInfo(filepath.Join(dir, file.Name()), info))
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})

	return recordings, nil
}

// RecordingPath resolves a recording name inside the output directory. The
// extension may be omitted.
func (s *RecorderService) RecordingPath(name string) (string, error) {
	base := strings.TrimSpace(name)
	if base == "" || base == "." || base == ".." || strings.ContainsAny(base, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	dir := s.cfg.Output.Directory
	candidates := []string{filepath.Join(dir, base)}
	if filepath.Ext(base) == "" {
		for _, profile := range encoder.Profiles() {
			ext, _ := encoder.Extension(profile)
			candidates = append(candidates, filepath.Join(dir, base+"."+ext))
		}
	}

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrRecordingNotFound, name)
}

// GetRecordingInfo reads the stream description of a recording back from disk
func (s *RecorderService) GetRecordingInfo(name string) (*RecordingDetails, error) {
	path, err := s.RecordingPath(name)
	if err != nil {
		return nil, err
	}
	return ReadRecording(path, s.cfg)
}

// ReadRecording describes a recording file. WAV headers are parsed; raw PCM
// is described with the configured stream format.
func ReadRecording(path string, cfg *config.Config) (*RecordingDetails, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecordingNotFound, err)
	}

	details := &RecordingDetails{RecordingInfo: newRecordingInfo(path, stat)}

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := wav.NewDecoder(f)
		if !dec.IsValidFile() {
			return nil, fmt.Errorf("invalid wav file: %s", path)
		}
		dec.ReadInfo()
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("reading wav header: %w", err)
		}

		details.Info = audio.StreamInfo{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
			BitDepth:   int(dec.BitDepth),
		}
		if err := dec.FwdToPCM(); err != nil {
			return nil, fmt.Errorf("locating wav data: %w", err)
		}
		details.Duration = details.Info.Duration(dec.PCMLen())
		return details, nil
	}

	layout, err := audio.ParseChannelLayout(cfg.Audio.ChannelLayout)
	if err != nil {
		return nil, err
	}
	details.Info = audio.StreamInfo{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   layout.Channels(),
		BitDepth:   cfg.Audio.BitDepth,
	}
	details.Duration = details.Info.Duration(stat.Size())
	details.Estimated = true
	return details, nil
}

// Play plays a recording through a system player
func (s *RecorderService) Play(name string) error {
	details, err := s.GetRecordingInfo(name)
	if err != nil {
		return err
	}
	return play.New().Play(details.Path, details.Info)
}

// Volume reports free space on the output volume
func (s *RecorderService) Volume() (sink.VolumeUsage, error) {
	dir := s.cfg.Output.Directory
	// Report the closest existing parent when the directory is not created yet
	for {
		if _, err := os.Stat(dir); err == nil || filepath.Dir(dir) == dir {
			break
		}
		dir = filepath.Dir(dir)
	}
	return sink.Usage(dir)
}

// GetConfig returns the current configuration
func (s *RecorderService) GetConfig() *config.Config {
	return s.cfg
}

// GetLastError returns the error of the last failed session, if any
func (s *RecorderService) GetLastError() string {
	if err := s.controller.LastError(); err != nil {
		return err.Error()
	}
	return ""
}

func (s *RecorderService) outputPath(name string) (string, error) {
	ext, err := encoder.Extension(s.cfg.Encoder.Profile)
	if err != nil {
		return "", err
	}
	return s.cfg.OutputPath(name, ext, time.Now())
}

func newRecordingInfo(path string, info os.FileInfo) RecordingInfo {
	name := filepath.Base(path)
	return RecordingInfo{
		Name:         name,
		Path:         path,
		Size:         info.Size(),
		SizeHuman:    sink.FormatBytes(info.Size()),
		ModTime:      info.ModTime(),
		ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
		Extension:    strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
		DownloadURL:  fmt.Sprintf("/api/files/download/%s", name),
	}
}

func recordingExtensions() map[string]bool {
	extensions := map[string]bool{}
	for _, profile := range encoder.Profiles() {
		if ext, err := encoder.Extension(profile); err == nil {
			extensions["."+ext] = true
		}
	}
	return extensions
}
