package audio

import (
	"context"
	"io"
	"math"
	"time"
)

type ToneOptions struct {
	Info    StreamInfo
	Hz      int
	FrameMs int
	// Realtime paces Read to the wall clock like a capture device would
	Realtime bool
	// Limit ends the stream with io.EOF after this much audio; zero means endless
	Limit time.Duration
}

// ToneSource generates a deterministic sine wave. It stands in for a capture
// device on hosts without one.
type ToneSource struct {
	opts       ToneOptions
	frameBytes int
	limitBytes int64
	produced   int64
	phase      float64
	started    time.Time
}

func NewToneSource(opts ToneOptions) *ToneSource {
	if opts.Hz <= 0 {
		opts.Hz = 440
	}
	if opts.FrameMs <= 0 {
		opts.FrameMs = 20
	}

	s := &ToneSource{
		opts:       opts,
		frameBytes: opts.Info.FrameBytes(opts.FrameMs),
	}
	if opts.Limit > 0 {
		frames := int64(opts.Limit) * int64(opts.Info.SampleRate) / int64(time.Second)
		s.limitBytes = frames * int64(opts.Info.BytesPerFrame())
	}
	return s
}

func (s *ToneSource) Info() StreamInfo { return s.opts.Info }

func (s *ToneSource) Open() error {
	if err := s.opts.Info.Validate(); err != nil {
		return err
	}
	s.produced = 0
	s.phase = 0
	s.started = time.Now()
	return nil
}

func (s *ToneSource) Read(ctx context.Context) ([]byte, error) {
	size := int64(s.frameBytes)
	if s.limitBytes > 0 {
		if s.produced >= s.limitBytes {
			return nil, io.EOF
		}
		if remaining := s.limitBytes - s.produced; remaining < size {
			size = remaining
		}
	}

	if s.opts.Realtime {
		due := s.started.Add(s.opts.Info.Duration(s.produced))
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	info := s.opts.Info
	amplitude := float64(MaxAmplitude(info.BitDepth)) * 0.5
	step := 2 * math.Pi * float64(s.opts.Hz) / float64(info.SampleRate)

	frames := int(size) / info.BytesPerFrame()
	buf := make([]byte, 0, size)
	for i := 0; i < frames; i++ {
		sample := int(math.Round(amplitude * math.Sin(s.phase)))
		for ch := 0; ch < info.Channels; ch++ {
			buf = AppendSample(buf, sample, info.BitDepth)
		}
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}

	s.produced += int64(len(buf))
	return buf, nil
}

func (s *ToneSource) Close() error { return nil }
