// Package sink holds output consumers that live outside the pipeline.
package sink

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"go.uber.org/atomic"

	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
)

// PNGDir writes finished frames, and optionally masks, as numbered PNG
// files.
type PNGDir struct {
	dir      string
	every    uint64
	withMask bool
	written  atomic.Uint64
	enc      png.Encoder
}

// NewPNGDir creates dir if needed. every keeps one tick in every n; values
// below 1 keep every tick.
func NewPNGDir(dir string, every int, withMask bool) (*PNGDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if every < 1 {
		every = 1
	}
	return &PNGDir{
		dir:      dir,
		every:    uint64(every),
		withMask: withMask,
		enc:      png.Encoder{CompressionLevel: png.BestSpeed},
	}, nil
}

// WriteOutput implements runner.Sink.
func (s *PNGDir) WriteOutput(out *pipeline.Output) error {
	if out == nil || out.Image == nil || (out.Tick-1)%s.every != 0 {
		return nil
	}
	if err := s.writePNG(fmt.Sprintf("frame_%06d.png", out.Tick), out.Image); err != nil {
		return err
	}
	if s.withMask && out.Mask != nil {
		if err := s.writePNG(fmt.Sprintf("mask_%06d.png", out.Tick), out.Mask.GrayImage()); err != nil {
			return err
		}
	}
	s.written.Inc()
	return nil
}

// Written is the number of ticks captured.
func (s *PNGDir) Written() uint64 { return s.written.Load() }

// Dir is the output directory.
func (s *PNGDir) Dir() string { return s.dir }

func (s *PNGDir) writePNG(name string, img image.Image) error {
	path := filepath.Join(s.dir, name)
	fd, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.enc.Encode(fd, img); err != nil {
		fd.Close()
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return fd.Close()
}
