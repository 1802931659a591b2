package background

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/motiontrail/internal/motion/frame"
)

// DefaultInitialVariance seeds every pixel on reset, in squared
// pixel-intensity units.
const DefaultInitialVariance = 100

// ErrResolutionMismatch is returned when a frame or mask does not match the
// shape the model was built for.
var ErrResolutionMismatch = errors.New("model resolution mismatch")

// Mode selects the distance metric and the number of mean channels.
type Mode int

const (
	// ModeLuminance compares Rec.601 luma values.
	ModeLuminance Mode = iota
	// ModeColor compares RGB triples by Euclidean distance.
	ModeColor
)

// Channels is the number of mean samples stored per pixel.
func (m Mode) Channels() int {
	if m == ModeColor {
		return frame.ChannelsRGB
	}
	return frame.ChannelsLuma
}

func (m Mode) String() string {
	switch m {
	case ModeLuminance:
		return "luminance"
	case ModeColor:
		return "color"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "luminance"/"luma" and "color"/"colour".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "luminance", "luma":
		return ModeLuminance, nil
	case "color", "colour":
		return ModeColor, nil
	}
	return ModeLuminance, fmt.Errorf("unknown detection mode %q", s)
}

// Model is the per-pixel running mean and variance at processing
// resolution. It is owned by a single pipeline and is not safe for
// concurrent use.
type Model struct {
	Width  int
	Height int
	Mode   Mode

	mean     [2][]float32
	variance [2][]float32
	idx      int

	// Generation counts resets so observers can tell a fresh model from
	// one carried over.
	Generation uint64
	// Updates counts detector passes since the last reset.
	Updates uint64
}

// NewModel allocates an unseeded model. Call Reset before the first Detect.
func NewModel(width, height int, mode Mode) *Model {
	n := width * height
	m := &Model{Width: width, Height: height, Mode: mode}
	for i := range m.mean {
		m.mean[i] = make([]float32, n*mode.Channels())
		m.variance[i] = make([]float32, n)
	}
	return m
}

// Matches reports whether the model was built for this processing shape.
func (m *Model) Matches(width, height int, mode Mode) bool {
	return m != nil && m.Width == width && m.Height == height && m.Mode == mode
}

// Index is the buffer set the next detector pass reads from.
func (m *Model) Index() int { return m.idx }

// Swap makes the set written by the last detector pass current.
func (m *Model) Swap() { m.idx = 1 - m.idx }

// Mean returns the current mean buffer, Mode.Channels() samples per pixel.
func (m *Model) Mean() []float32 { return m.mean[m.idx] }

// Variance returns the current variance buffer.
func (m *Model) Variance() []float32 { return m.variance[m.idx] }

// Reset seeds both buffer sets from f: mean equals the frame value and
// variance equals initialVariance everywhere.
func (m *Model) Reset(f *frame.Frame, initialVariance float32) error {
	if f.Width != m.Width || f.Height != m.Height {
		return fmt.Errorf("%w: model %dx%d, frame %dx%d", ErrResolutionMismatch, m.Width, m.Height, f.Width, f.Height)
	}
	seed := m.mean[0]
	frame.Rows(m.Height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < m.Width; x++ {
				p := y*m.Width + x
				if m.Mode == ModeColor {
					r, g, b := f.RGB(x, y)
					seed[p*3], seed[p*3+1], seed[p*3+2] = r, g, b
				} else {
					seed[p] = f.LumaAt(x, y)
				}
				m.variance[0][p] = initialVariance
			}
		}
	})
	copy(m.mean[1], m.mean[0])
	copy(m.variance[1], m.variance[0])
	m.idx = 0
	m.Generation++
	m.Updates = 0
	return nil
}
