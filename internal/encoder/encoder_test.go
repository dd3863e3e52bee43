package encoder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/sdrecord/internal/audio"
	"github.com/audiolibrelab/sdrecord/internal/pipeline"
)

// process runs a stage over the given chunks and returns what it emitted.
func process(t *testing.T, stage pipeline.Stage, chunks ...[]byte) []pipeline.Packet {
	t.Helper()

	in := make(chan pipeline.Packet, len(chunks))
	for _, c := range chunks {
		in <- pipeline.Packet{Data: c, At: pipeline.Append}
	}
	close(in)

	out := make(chan pipeline.Packet, 4096)
	require.NoError(t, stage.Open())
	require.NoError(t, stage.Process(context.Background(), in, out))
	require.NoError(t, stage.Close())
	close(out)

	var packets []pipeline.Packet
	for p := range out {
		packets = append(packets, p)
	}
	return packets
}

// materialize applies positioned packets the way the file sink does.
func materialize(packets []pipeline.Packet) []byte {
	var file []byte
	for _, p := range packets {
		at := int(p.At)
		if p.At < 0 {
			at = len(file)
		}
		if end := at + len(p.Data); end > len(file) {
			file = append(file, make([]byte, end-len(file))...)
		}
		copy(file[at:], p.Data)
	}
	return file
}

func pcm16(samples ...int) []byte {
	var buf []byte
	for _, s := range samples {
		buf = audio.AppendSample(buf, s, 16)
	}
	return buf
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"pcm", "wav"}, Profiles())

	stage, err := New("WAV")
	require.NoError(t, err)
	assert.IsType(t, &WAV{}, stage)

	ext, err := Extension("pcm")
	require.NoError(t, err)
	assert.Equal(t, "pcm", ext)

	_, err = New("opus")
	assert.ErrorIs(t, err, ErrProfileUnavailable)

	_, err = Extension("flac")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestWAV_RequiresMetadata(t *testing.T) {
	assert.Error(t, NewWAV().Open())
	assert.Error(t, NewPCM().Open())
}

func TestWAV_EncodesReadableFile(t *testing.T) {
	info := audio.StreamInfo{SampleRate: 48000, Channels: 1, BitDepth: 16}
	stage := NewWAV()
	stage.SetInfo(info)

	// The second chunk splits a sample across packets
	first := pcm16(100, -100, 200)
	second := pcm16(-200, 300)
	packets := process(t, stage, first[:5], append(first[5:], second...))

	data := materialize(packets)
	dec := wav.NewDecoder(bytes.NewReader(data))
	require.True(t, dec.IsValidFile())

	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, uint32(48000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)
	assert.Equal(t, []int{100, -100, 200, -200, 300}, buf.Data)

	// 44 byte canonical header plus 5 samples
	assert.Len(t, data, 44+10)
}

func TestWAV_EmptyRecordingHasHeader(t *testing.T) {
	info := audio.StreamInfo{SampleRate: 16000, Channels: 2, BitDepth: 24}
	stage := NewWAV()
	stage.SetInfo(info)

	data := materialize(process(t, stage))

	dec := wav.NewDecoder(bytes.NewReader(data))
	require.True(t, dec.IsValidFile())
	dec.ReadInfo()
	assert.Equal(t, uint32(16000), dec.SampleRate)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, uint16(24), dec.BitDepth)
}

func TestWAV_HonorsCancellation(t *testing.T) {
	stage := NewWAV()
	stage.SetInfo(audio.StreamInfo{SampleRate: 8000, Channels: 1, BitDepth: 16})
	require.NoError(t, stage.Open())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := stage.Process(ctx, make(chan pipeline.Packet), make(chan pipeline.Packet))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPCM_PassThrough(t *testing.T) {
	stage := NewPCM()
	stage.SetInfo(audio.StreamInfo{SampleRate: 8000, Channels: 1, BitDepth: 16})

	packets := process(t, stage, []byte{1, 2}, []byte{3, 4})
	assert.Equal(t, []byte{1, 2, 3, 4}, materialize(packets))
}

func TestPacketWriter_Seek(t *testing.T) {
	out := make(chan pipeline.Packet, 8)
	w := &packetWriter{ctx: context.Background(), out: out}

	_, err := w.Write([]byte("abcd"))
	require.NoError(t, err)

	pos, err := w.Seek(1, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos)

	_, err = w.Write([]byte("X"))
	require.NoError(t, err)

	pos, err = w.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos)

	_, err = w.Seek(-10, io.SeekCurrent)
	assert.Error(t, err)

	close(out)
	var packets []pipeline.Packet
	for p := range out {
		packets = append(packets, p)
	}
	require.Len(t, packets, 2)
	assert.Equal(t, pipeline.Append, packets[0].At)
	assert.Equal(t, int64(1), packets[1].At)
	assert.Equal(t, []byte("aXcd"), materialize(packets))
}
