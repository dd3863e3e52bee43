package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/audiolibrelab/sdrecord/internal/audio"
	"github.com/audiolibrelab/sdrecord/internal/pipeline"
)

var (
	ErrNoMetadata        = errors.New("stream metadata not set before open")
	ErrInsufficientSpace = errors.New("not enough free space on volume")
)

// FileSink writes packets into one file, honoring packet positions so that
// container headers can be patched after the data.
type FileSink struct {
	Path         string
	MinFreeBytes uint64

	info    audio.StreamInfo
	file    *os.File
	end     int64
	written atomic.Int64
}

func NewFileSink(path string, minFreeBytes uint64) *FileSink {
	return &FileSink{Path: path, MinFreeBytes: minFreeBytes}
}

func (s *FileSink) Info() audio.StreamInfo         { return s.info }
func (s *FileSink) SetInfo(info audio.StreamInfo) { s.info = info }

func (s *FileSink) Open() error {
	if s.info.IsZero() {
		return ErrNoMetadata
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if s.MinFreeBytes > 0 {
		usage, err := Usage(dir)
		if err != nil {
			slog.Warn("Could not check free space", "path", dir, "error", err)
		} else if usage.Free < s.MinFreeBytes {
			return fmt.Errorf("%w: %s free on %s, need %s", ErrInsufficientSpace,
				FormatBytes(int64(usage.Free)), dir, FormatBytes(int64(s.MinFreeBytes)))
		}
	}

	file, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}

	s.file = file
	s.end = 0
	s.written.Store(0)
	slog.Debug("Output file opened", "path", s.Path, "stream", s.info.String())
	return nil
}

func (s *FileSink) Process(ctx context.Context, in <-chan pipeline.Packet, _ chan<- pipeline.Packet) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-in:
			if !ok {
				return nil
			}
			if err := s.write(p); err != nil {
				return err
			}
		}
	}
}

func (s *FileSink) write(p pipeline.Packet) error {
	at := p.At
	if at < 0 {
		at = s.end
	}

	n, err := s.file.WriteAt(p.Data, at)
	if err != nil {
		return fmt.Errorf("writing %s: %w", s.Path, err)
	}

	if next := at + int64(n); next > s.end {
		s.end = next
		s.written.Store(next)
	}
	return nil
}

func (s *FileSink) Close() error {
	if s.file == nil {
		return nil
	}

	file := s.file
	s.file = nil

	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing %s: %w", s.Path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", s.Path, err)
	}

	slog.Debug("Output file closed", "path", s.Path, "size", FormatBytes(s.end))
	return nil
}

// Written returns the current size of the output file. Safe to call from any goroutine.
func (s *FileSink) Written() int64 {
	return s.written.Load()
}
