package sink

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/sdrecord/internal/audio"
	"github.com/audiolibrelab/sdrecord/internal/pipeline"
)

var monoInfo = audio.StreamInfo{SampleRate: 48000, Channels: 1, BitDepth: 16}

func TestFileSink_RequiresMetadata(t *testing.T) {
	s := NewFileSink(filepath.Join(t.TempDir(), "rec.wav"), 0)
	assert.ErrorIs(t, s.Open(), ErrNoMetadata)
	assert.NoError(t, s.Close())
}

func TestFileSink_WritesPositionedPackets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "card", "rec.wav")
	s := NewFileSink(path, 0)
	s.SetInfo(monoInfo)
	require.NoError(t, s.Open())

	in := make(chan pipeline.Packet, 4)
	in <- pipeline.Packet{Data: []byte("HEAD...."), At: pipeline.Append}
	in <- pipeline.Packet{Data: []byte("data"), At: pipeline.Append}
	in <- pipeline.Packet{Data: []byte("1234"), At: 4}
	close(in)

	require.NoError(t, s.Process(context.Background(), in, nil))
	assert.Equal(t, int64(12), s.Written())
	require.NoError(t, s.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "HEAD1234data", string(content))
}

func TestFileSink_StopsOnCancel(t *testing.T) {
	s := NewFileSink(filepath.Join(t.TempDir(), "rec.pcm"), 0)
	s.SetInfo(monoInfo)
	require.NoError(t, s.Open())
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Process(ctx, make(chan pipeline.Packet), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileSink_InsufficientSpace(t *testing.T) {
	s := NewFileSink(filepath.Join(t.TempDir(), "rec.wav"), math.MaxUint64)
	s.SetInfo(monoInfo)

	assert.ErrorIs(t, s.Open(), ErrInsufficientSpace)
}

func TestUsage(t *testing.T) {
	usage, err := Usage(t.TempDir())
	require.NoError(t, err)

	assert.NotZero(t, usage.Total)
	assert.LessOrEqual(t, usage.Free, usage.Total)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
}
