package effects

import (
	"image"
	"math"

	"github.com/banshee-data/motiontrail/internal/motion/frame"
)

// Canvas is a float RGBA buffer with components in [0,1]. Alpha holds
// motion coverage.
type Canvas struct {
	Width  int
	Height int
	Pix    []float32
}

// NewCanvas allocates a cleared canvas.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{Width: width, Height: height, Pix: make([]float32, width*height*4)}
}

// SameSize reports whether d has the same dimensions.
func (c *Canvas) SameSize(d *Canvas) bool {
	return d != nil && c.Width == d.Width && c.Height == d.Height
}

// Clear sets every pixel to black with zero coverage.
func (c *Canvas) Clear() {
	for i := range c.Pix {
		c.Pix[i] = 0
	}
}

// FadeFrom writes prev scaled by keep into c, i.e. a black layer with
// alpha 1-keep composited over prev.
func (c *Canvas) FadeFrom(prev *Canvas, keep float32) {
	frame.Rows(c.Height, func(y0, y1 int) {
		lo, hi := y0*c.Width*4, y1*c.Width*4
		src, dst := prev.Pix[lo:hi], c.Pix[lo:hi]
		for i, v := range src {
			dst[i] = v * keep
		}
	})
}

// At returns the pixel at (x, y).
func (c *Canvas) At(x, y int) (r, g, b, a float32) {
	i := (y*c.Width + x) * 4
	return c.Pix[i], c.Pix[i+1], c.Pix[i+2], c.Pix[i+3]
}

// Magnitude is the sum of every colour component, a scalar for how much
// light the canvas holds.
func (c *Canvas) Magnitude() float64 {
	var sum float64
	for i := 0; i < len(c.Pix); i += 4 {
		sum += float64(c.Pix[i] + c.Pix[i+1] + c.Pix[i+2])
	}
	return sum
}

// ToNRGBA converts the canvas into dst, reallocating it when the size
// differs. With maskAlpha the coverage channel becomes the image alpha;
// otherwise the image is opaque.
func (c *Canvas) ToNRGBA(dst *image.NRGBA, maskAlpha bool) *image.NRGBA {
	r := image.Rect(0, 0, c.Width, c.Height)
	if dst == nil || dst.Rect != r {
		dst = image.NewNRGBA(r)
	}
	frame.Rows(c.Height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			row := dst.Pix[y*dst.Stride : y*dst.Stride+c.Width*4]
			src := c.Pix[y*c.Width*4 : (y+1)*c.Width*4]
			for i := 0; i < len(src); i += 4 {
				row[i] = to8(src[i])
				row[i+1] = to8(src[i+1])
				row[i+2] = to8(src[i+2])
				if maskAlpha {
					row[i+3] = to8(src[i+3])
				} else {
					row[i+3] = 0xff
				}
			}
		}
	})
	return dst
}

func to8(v float32) uint8 {
	return uint8(math.Round(float64(clamp01(v)) * 255))
}
