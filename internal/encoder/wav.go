package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiolibrelab/sdrecord/internal/audio"
	"github.com/audiolibrelab/sdrecord/internal/pipeline"
)

const wavFormatPCM = 1

var errNoMetadata = errors.New("stream metadata not set")

// WAV wraps raw PCM into a RIFF/WAVE container.
type WAV struct {
	info audio.StreamInfo
}

func NewWAV() *WAV { return &WAV{} }

func (e *WAV) Info() audio.StreamInfo         { return e.info }
func (e *WAV) SetInfo(info audio.StreamInfo) { e.info = info }

func (e *WAV) Open() error {
	if e.info.IsZero() {
		return errNoMetadata
	}
	return e.info.Validate()
}

func (e *WAV) Process(ctx context.Context, in <-chan pipeline.Packet, out chan<- pipeline.Packet) error {
	w := &packetWriter{ctx: ctx, out: out}
	enc := wav.NewEncoder(w, e.info.SampleRate, e.info.BitDepth, e.info.Channels, wavFormatPCM)

	frameBytes := e.info.BytesPerFrame()
	format := &goaudio.Format{NumChannels: e.info.Channels, SampleRate: e.info.SampleRate}

	var pending []byte
	wrote := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-in:
			if !ok {
				if !wrote {
					// Header and data chunk are only written with the first buffer
					if err := enc.Write(&goaudio.IntBuffer{Format: format, SourceBitDepth: e.info.BitDepth}); err != nil {
						return fmt.Errorf("writing wav header: %w", err)
					}
				}
				if err := enc.Close(); err != nil {
					return fmt.Errorf("finalizing wav header: %w", err)
				}
				return nil
			}

			pending = append(pending, p.Data...)
			whole := len(pending) - len(pending)%frameBytes
			if whole == 0 {
				continue
			}

			samples, err := audio.DecodePCM(pending[:whole], e.info.BitDepth)
			if err != nil {
				return err
			}
			pending = append(pending[:0], pending[whole:]...)

			buf := &goaudio.IntBuffer{Format: format, Data: samples, SourceBitDepth: e.info.BitDepth}
			if err := enc.Write(buf); err != nil {
				return fmt.Errorf("encoding wav samples: %w", err)
			}
			wrote = true
		}
	}
}

func (e *WAV) Close() error { return nil }

// packetWriter lets the WAV encoder seek back into its header: every write
// becomes a packet carrying its absolute position, and the sink applies it there.
type packetWriter struct {
	ctx  context.Context
	out  chan<- pipeline.Packet
	pos  int64
	size int64
}

func (w *packetWriter) Write(p []byte) (int, error) {
	at := w.pos
	if w.pos == w.size {
		at = pipeline.Append
	}

	data := make([]byte, len(p))
	copy(data, p)
	if err := pipeline.Send(w.ctx, w.out, pipeline.Packet{Data: data, At: at}); err != nil {
		return 0, err
	}

	w.pos += int64(len(p))
	if w.pos > w.size {
		w.size = w.pos
	}
	return len(p), nil
}

func (w *packetWriter) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = w.pos + offset
	case io.SeekEnd:
		next = w.size + offset
	default:
		return w.pos, fmt.Errorf("invalid whence: %d", whence)
	}
	if next < 0 {
		return w.pos, fmt.Errorf("negative position: %d", next)
	}
	w.pos = next
	return next, nil
}
