package frame

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// ChannelsLuma is a single luminance sample per pixel.
	ChannelsLuma = 1
	// ChannelsRGB is three colour samples per pixel, R then G then B.
	ChannelsRGB = 3

	// MaxSample is the largest valid sample value. Samples are in
	// pixel-intensity units [0, MaxSample].
	MaxSample = 255
)

// ErrInvalid marks a frame that cannot be processed: zero or negative
// dimensions, an unsupported channel count, a pixel slice of the wrong
// length, or samples that are non-finite or outside [0, MaxSample].
var ErrInvalid = errors.New("invalid frame")

// Frame is one decoded picture. It is treated as immutable once handed to
// the pipeline.
type Frame struct {
	Width    int
	Height   int
	Channels int       // ChannelsLuma or ChannelsRGB
	Pix      []float32 // row-major, Channels samples per pixel

	// Source identifies the upstream stream. A change of Source between
	// ticks resets the background model.
	Source    string
	Seq       uint64
	Timestamp time.Time
}

// New allocates a black frame.
func New(width, height, channels int) *Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float32, width*height*channels),
	}
}

// Validate reports why the frame cannot be processed, wrapping ErrInvalid.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalid)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalid, f.Width, f.Height)
	}
	if f.Channels != ChannelsLuma && f.Channels != ChannelsRGB {
		return fmt.Errorf("%w: %d channels", ErrInvalid, f.Channels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) != want {
		return fmt.Errorf("%w: %d samples, want %d", ErrInvalid, len(f.Pix), want)
	}
	for i, v := range f.Pix {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite sample at %d", ErrInvalid, i)
		}
		if v < 0 || v > MaxSample {
			return fmt.Errorf("%w: sample %g at %d outside [0,%d]", ErrInvalid, v, i, MaxSample)
		}
	}
	return nil
}

// PixOffset returns the index of the first sample of pixel (x, y).
func (f *Frame) PixOffset(x, y int) int {
	return (y*f.Width + x) * f.Channels
}

// RGB returns the colour of pixel (x, y). Luminance frames report grey.
func (f *Frame) RGB(x, y int) (r, g, b float32) {
	i := f.PixOffset(x, y)
	if f.Channels == ChannelsLuma {
		v := f.Pix[i]
		return v, v, v
	}
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// LumaAt returns the luminance of pixel (x, y).
func (f *Frame) LumaAt(x, y int) float32 {
	i := f.PixOffset(x, y)
	if f.Channels == ChannelsLuma {
		return f.Pix[i]
	}
	return Luma(f.Pix[i], f.Pix[i+1], f.Pix[i+2])
}

// Luma is the Rec.601 luminance of an RGB triple.
func Luma(r, g, b float32) float32 {
	return 0.299*r + 0.587*g + 0.114*b
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Pix = make([]float32, len(f.Pix))
	copy(c.Pix, f.Pix)
	return &c
}
