package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

const pulseApplicationName = "sdrecord"

type PulseOptions struct {
	Info    StreamInfo
	Layout  ChannelLayout
	Device  string
	FrameMs int
}

// PulseSource captures from a PulseAudio (or pipewire-pulse) source.
type PulseSource struct {
	opts   PulseOptions
	format byte

	mutex  sync.Mutex
	client *pulse.Client
	stream *pulse.RecordStream
	chunks chan []byte
	done   chan struct{}
}

// pulseWriter implements pulse.Writer, forwarding captured bytes to a channel.
type pulseWriter struct {
	chunks chan<- []byte
	done   <-chan struct{}
	format byte
}

func (w *pulseWriter) Write(buf []byte) (int, error) {
	chunk := make([]byte, len(buf))
	copy(chunk, buf)
	select {
	case w.chunks <- chunk:
		return len(buf), nil
	case <-w.done:
		return 0, errors.New("capture closed")
	}
}

func (w *pulseWriter) Format() byte { return w.format }

func NewPulseSource(opts PulseOptions) (*PulseSource, error) {
	s := &PulseSource{opts: opts}

	switch opts.Info.BitDepth {
	case 16:
		s.format = proto.FormatInt16LE
	case 32:
		s.format = proto.FormatInt32LE
	default:
		return nil, fmt.Errorf("pulse backend supports 16 or 32 bit capture, got: %d", opts.Info.BitDepth)
	}

	return s, nil
}

func (s *PulseSource) Info() StreamInfo { return s.opts.Info }

func (s *PulseSource) Open() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	client, err := pulse.NewClient(pulse.ClientApplicationName(pulseApplicationName))
	if err != nil {
		return fmt.Errorf("connecting to PulseAudio: %w", err)
	}

	options := []pulse.RecordOption{
		pulse.RecordSampleRate(s.opts.Info.SampleRate),
		pulse.RecordMediaName("sdrecord capture"),
	}
	if s.opts.Layout.CaptureChannels() == 1 {
		options = append(options, pulse.RecordMono)
	} else {
		options = append(options, pulse.RecordStereo)
	}

	if s.opts.Device != "" {
		device, err := client.SourceByID(s.opts.Device)
		if err != nil {
			client.Close()
			return fmt.Errorf("capture device not found: %s: %w", s.opts.Device, err)
		}
		options = append(options, pulse.RecordSource(device))
	}

	s.chunks = make(chan []byte, 16)
	s.done = make(chan struct{})
	writer := &pulseWriter{chunks: s.chunks, done: s.done, format: s.format}

	stream, err := client.NewRecord(writer, options...)
	if err != nil {
		client.Close()
		return fmt.Errorf("creating record stream: %w", err)
	}

	stream.Start()
	s.client = client
	s.stream = stream

	slog.Debug("PulseAudio capture started", "device", s.opts.Device, "layout", s.opts.Layout, "rate", s.opts.Info.SampleRate)
	return nil
}

func (s *PulseSource) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk := <-s.chunks:
		switch s.opts.Layout {
		case LayoutLeft:
			return PickChannel(chunk, s.opts.Info.BytesPerSample(), 2, 0), nil
		case LayoutRight:
			return PickChannel(chunk, s.opts.Info.BytesPerSample(), 2, 1), nil
		default:
			return chunk, nil
		}
	}
}

func (s *PulseSource) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.client == nil {
		return nil
	}

	close(s.done)
	s.stream.Stop()
	s.stream.Close()
	s.client.Close()

	s.stream = nil
	s.client = nil
	return nil
}

// ListPulseSources returns the capture sources known to the PulseAudio server
func ListPulseSources() ([]Device, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName(pulseApplicationName))
	if err != nil {
		return nil, fmt.Errorf("connecting to PulseAudio: %w", err)
	}
	defer client.Close()

	sources, err := client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("failed to list PulseAudio sources: %w", err)
	}

	devices := make([]Device, 0, len(sources))
	for _, source := range sources {
		devices = append(devices, Device{ID: source.ID(), Name: source.Name()})
	}
	return devices, nil
}
