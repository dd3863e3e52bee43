package encoder

import (
	"context"

	"github.com/audiolibrelab/sdrecord/internal/audio"
	"github.com/audiolibrelab/sdrecord/internal/pipeline"
)

// PCM passes raw samples through unchanged.
type PCM struct {
	info audio.StreamInfo
}

func NewPCM() *PCM { return &PCM{} }

func (e *PCM) Info() audio.StreamInfo         { return e.info }
func (e *PCM) SetInfo(info audio.StreamInfo) { e.info = info }

func (e *PCM) Open() error {
	if e.info.IsZero() {
		return errNoMetadata
	}
	return nil
}

func (e *PCM) Process(ctx context.Context, in <-chan pipeline.Packet, out chan<- pipeline.Packet) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-in:
			if !ok {
				return nil
			}
			if err := pipeline.Send(ctx, out, pipeline.Packet{Data: p.Data, At: pipeline.Append}); err != nil {
				return err
			}
		}
	}
}

func (e *PCM) Close() error { return nil }
