package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/audiolibrelab/sdrecord/internal/audio"
	"github.com/audiolibrelab/sdrecord/internal/config"
	"github.com/audiolibrelab/sdrecord/internal/encoder"
	"github.com/audiolibrelab/sdrecord/internal/pipeline"
	"github.com/audiolibrelab/sdrecord/internal/sink"
)

// Stage names of a recording graph.
const (
	StageCapture = "capture"
	StageEncoder = "encoder"
	StageFile    = "file"
)

// Pipeline is the graph of one recording session as seen by the controller.
type Pipeline interface {
	Start() error
	// Finish soft-stops the source so the graph drains
	Finish() error
	Stop() error
	WaitForStop(ctx context.Context) error
	// Terminate releases the graph; the pipeline cannot be used afterwards
	Terminate() error
	Events() <-chan pipeline.Event
	Sink() string
	Info() audio.StreamInfo
}

// Builder creates a fresh pipeline for every session.
type Builder interface {
	Build(outputPath string) (Pipeline, error)
}

// GraphBuilder builds capture -> encoder -> file graphs.
type GraphBuilder struct {
	NewSource    func() (audio.Source, error)
	Profile      string
	MinFreeBytes uint64
	Options      pipeline.Options
}

// NewGraphBuilder wires the builder to the configured capture backend and encoder profile.
func NewGraphBuilder(cfg *config.Config) *GraphBuilder {
	return &GraphBuilder{
		NewSource:    func() (audio.Source, error) { return audio.NewSource(cfg) },
		Profile:      cfg.Encoder.Profile,
		MinFreeBytes: uint64(cfg.Output.MinFreeMB) * 1024 * 1024,
		Options: pipeline.Options{
			BufferSize:     cfg.Pipeline.BufferFrames,
			EventQueueSize: cfg.Pipeline.EventQueue,
		},
	}
}

func (b *GraphBuilder) Build(outputPath string) (Pipeline, error) {
	src, err := b.NewSource()
	if err != nil {
		return nil, fmt.Errorf("failed to create capture source: %w", err)
	}

	enc, err := encoder.New(b.Profile)
	if err != nil {
		return nil, err
	}

	file := sink.NewFileSink(outputPath, b.MinFreeBytes)
	coordinator := pipeline.New(b.Options)

	g := &Graph{coordinator: coordinator, file: file}
	stages := []struct {
		name  string
		stage pipeline.Stage
	}{
		{StageCapture, &captureStage{src: src, info: src.Info()}},
		{StageEncoder, enc},
		{StageFile, file},
	}

	for _, s := range stages {
		if err := coordinator.Register(s.name, s.stage); err != nil {
			g.unregister()
			return nil, fmt.Errorf("failed to register %s stage: %w", s.name, err)
		}
		g.names = append(g.names, s.name)
	}

	if err := coordinator.Link(StageCapture, StageEncoder, StageFile); err != nil {
		g.unregister()
		return nil, err
	}

	for _, to := range []string{StageEncoder, StageFile} {
		if err := coordinator.PropagateMetadata(StageCapture, to); err != nil {
			g.unregister()
			return nil, err
		}
	}

	return g, nil
}

// Graph is the Pipeline produced by GraphBuilder.
type Graph struct {
	coordinator *pipeline.Coordinator
	file        *sink.FileSink
	names       []string
}

func (g *Graph) Start() error  { return g.coordinator.Start() }
func (g *Graph) Finish() error { return g.coordinator.Finish(StageCapture) }
func (g *Graph) Stop() error   { return g.coordinator.Stop() }

func (g *Graph) WaitForStop(ctx context.Context) error {
	return g.coordinator.WaitForStop(ctx)
}

// Terminate closes the event channel and unregisters the stages in reverse order.
func (g *Graph) Terminate() error {
	if err := g.coordinator.Terminate(); err != nil {
		return err
	}
	return g.unregister()
}

func (g *Graph) unregister() error {
	var errs []error
	for i := len(g.names) - 1; i >= 0; i-- {
		if err := g.coordinator.Unregister(g.names[i]); err != nil {
			errs = append(errs, err)
		}
	}
	g.names = nil
	return errors.Join(errs...)
}

func (g *Graph) Events() <-chan pipeline.Event { return g.coordinator.Events() }
func (g *Graph) Sink() string                  { return StageFile }

func (g *Graph) Info() audio.StreamInfo {
	return g.file.Info()
}

// Written reports the bytes stored by the file stage so far.
func (g *Graph) Written() int64 {
	return g.file.Written()
}

// captureStage adapts an audio.Source to the first stage of a graph.
type captureStage struct {
	src  audio.Source
	info audio.StreamInfo
}

func (s *captureStage) Info() audio.StreamInfo         { return s.info }
func (s *captureStage) SetInfo(info audio.StreamInfo) { s.info = info }
func (s *captureStage) Open() error                    { return s.src.Open() }
func (s *captureStage) Close() error                   { return s.src.Close() }

func (s *captureStage) Process(ctx context.Context, in <-chan pipeline.Packet, out chan<- pipeline.Packet) error {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The input never carries data: it is closed when the graph is asked to finish
	go func() {
		select {
		case <-in:
			cancel()
		case <-readCtx.Done():
		}
	}()

	for {
		chunk, err := s.src.Read(readCtx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			slog.Debug("Capture source exhausted")
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case readCtx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("capture read failed: %w", err)
		}

		if err := pipeline.Send(ctx, out, pipeline.Packet{Data: chunk, At: pipeline.Append}); err != nil {
			return err
		}
		if readCtx.Err() != nil && ctx.Err() == nil {
			return nil
		}
	}
}
