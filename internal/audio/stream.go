package audio

import (
	"fmt"
	"time"
)

// StreamInfo describes the PCM stream flowing out of a source.
type StreamInfo struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels"`
	BitDepth   int `json:"bit_depth" yaml:"bit_depth"`
}

// IsZero reports whether no metadata has been set yet.
func (si StreamInfo) IsZero() bool {
	return si == StreamInfo{}
}

// BytesPerSample returns the storage size of one sample.
func (si StreamInfo) BytesPerSample() int {
	return (si.BitDepth + 7) / 8
}

// BytesPerFrame returns the size of one interleaved frame.
func (si StreamInfo) BytesPerFrame() int {
	return si.BytesPerSample() * si.Channels
}

// BytesPerSecond returns the raw PCM data rate.
func (si StreamInfo) BytesPerSecond() int {
	return si.BytesPerFrame() * si.SampleRate
}

// Duration converts a PCM byte count into playing time.
func (si StreamInfo) Duration(bytes int64) time.Duration {
	bps := si.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(bytes) * time.Second / time.Duration(bps)
}

// FrameBytes returns the size of a chunk holding frameMs milliseconds of audio.
func (si StreamInfo) FrameBytes(frameMs int) int {
	frames := si.SampleRate * frameMs / 1000
	if frames < 1 {
		frames = 1
	}
	return frames * si.BytesPerFrame()
}

func (si StreamInfo) Validate() error {
	if si.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", si.SampleRate)
	}
	if si.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", si.Channels)
	}
	switch si.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth: %d", si.BitDepth)
	}
	return nil
}

func (si StreamInfo) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d bit", si.SampleRate, si.Channels, si.BitDepth)
}

// ChannelLayout selects which capture channels end up in the stream.
type ChannelLayout string

const (
	LayoutMono   ChannelLayout = "mono"
	LayoutLeft   ChannelLayout = "left"
	LayoutRight  ChannelLayout = "right"
	LayoutStereo ChannelLayout = "stereo"
)

// ParseChannelLayout validates a layout name from the configuration.
func ParseChannelLayout(name string) (ChannelLayout, error) {
	switch layout := ChannelLayout(name); layout {
	case LayoutMono, LayoutLeft, LayoutRight, LayoutStereo:
		return layout, nil
	default:
		return "", fmt.Errorf("unknown channel layout: %s", name)
	}
}

// Channels is the number of channels written downstream. Left and right
// layouts capture a stereo pair and keep only one side.
func (l ChannelLayout) Channels() int {
	if l == LayoutStereo {
		return 2
	}
	return 1
}

// CaptureChannels is the number of channels requested from the device.
func (l ChannelLayout) CaptureChannels() int {
	if l == LayoutMono {
		return 1
	}
	return 2
}
