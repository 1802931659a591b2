// Package morph cleans a soft motion mask with 3x3 grey-level erosion and
// dilation and their open/close combinations.
//
// Every stage reads one plane and writes another; Filter owns the
// intermediate ping-pong pair so no stage ever reads a buffer it is
// writing. The neighbourhood window is clipped at the frame border, so an
// out-of-bounds neighbour never contributes to the min or max.
package morph

import (
	"fmt"
	"strings"

	"github.com/banshee-data/motiontrail/internal/motion/frame"
)

// Mode selects the morphological operation.
type Mode int

const (
	// None passes the mask through unchanged.
	None Mode = iota
	// Open is erode then dilate; it removes isolated specks.
	Open
	// Close is dilate then erode; it fills small holes.
	Close
)

func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case Open:
		return "open"
	case Close:
		return "close"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "none", "open" and "close".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return None, nil
	case "open":
		return Open, nil
	case "close":
		return Close, nil
	}
	return None, fmt.Errorf("unknown morphology mode %q", s)
}

// Erode writes the 3x3 minimum of src into dst.
func Erode(dst, src *frame.Plane) {
	window(dst, src, func(a, b float32) float32 {
		if b < a {
			return b
		}
		return a
	})
}

// Dilate writes the 3x3 maximum of src into dst.
func Dilate(dst, src *frame.Plane) {
	window(dst, src, func(a, b float32) float32 {
		if b > a {
			return b
		}
		return a
	})
}

func window(dst, src *frame.Plane, pick func(a, b float32) float32) {
	if !dst.SameSize(src) {
		panic(fmt.Sprintf("morph: dst %dx%d, src %dx%d", dst.Width, dst.Height, src.Width, src.Height))
	}
	w, h := src.Width, src.Height
	frame.Rows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			ya, yb := y-1, y+1
			if ya < 0 {
				ya = 0
			}
			if yb >= h {
				yb = h - 1
			}
			for x := 0; x < w; x++ {
				xa, xb := x-1, x+1
				if xa < 0 {
					xa = 0
				}
				if xb >= w {
					xb = w - 1
				}
				v := src.Pix[y*w+x]
				for ny := ya; ny <= yb; ny++ {
					row := src.Pix[ny*w : ny*w+w]
					for nx := xa; nx <= xb; nx++ {
						v = pick(v, row[nx])
					}
				}
				dst.Pix[y*w+x] = v
			}
		}
	})
}

// Filter runs morphology with a reusable ping-pong pair.
type Filter struct {
	buf [2]*frame.Plane
}

// NewFilter allocates buffers for width x height masks.
func NewFilter(width, height int) *Filter {
	return &Filter{buf: [2]*frame.Plane{
		frame.NewPlane(width, height),
		frame.NewPlane(width, height),
	}}
}

// Apply returns the cleaned mask. For None it returns mask itself;
// otherwise the result is one of the filter's buffers and is valid until
// the next Apply.
func (f *Filter) Apply(mode Mode, mask *frame.Plane) *frame.Plane {
	if mode == None {
		return mask
	}
	if !f.buf[0].SameSize(mask) {
		f.buf[0] = frame.NewPlane(mask.Width, mask.Height)
		f.buf[1] = frame.NewPlane(mask.Width, mask.Height)
	}

	first, second := Erode, Dilate
	if mode == Close {
		first, second = Dilate, Erode
	}
	first(f.buf[0], mask)
	second(f.buf[1], f.buf[0])
	return f.buf[1]
}
