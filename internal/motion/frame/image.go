package frame

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/gift"
	xdraw "golang.org/x/image/draw"
)

// FromImage converts a decoded image into a frame. Gray images become
// luminance frames; everything else becomes RGB with alpha dropped.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		f := New(w, h, ChannelsLuma)
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w]
			for x, v := range row {
				f.Pix[y*w+x] = float32(v)
			}
		}
		return f
	case *image.Gray16:
		f := New(w, h, ChannelsLuma)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := src.Gray16At(b.Min.X+x, b.Min.Y+y).Y
				f.Pix[y*w+x] = float32(v) / 257
			}
		}
		return f
	}

	f := New(w, h, ChannelsRGB)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			i := (y*w + x) * 3
			f.Pix[i] = float32(c.R) / 257
			f.Pix[i+1] = float32(c.G) / 257
			f.Pix[i+2] = float32(c.B) / 257
		}
	}
	return f
}

// Image renders the frame as a 16-bit image so resampling and blur keep
// sub-integer precision.
func (f *Frame) Image() image.Image {
	r := image.Rect(0, 0, f.Width, f.Height)
	if f.Channels == ChannelsLuma {
		img := image.NewGray16(r)
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: to16(f.Pix[y*f.Width+x])})
			}
		}
		return img
	}
	img := image.NewNRGBA64(r)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			i := (y*f.Width + x) * 3
			img.SetNRGBA64(x, y, color.NRGBA64{
				R: to16(f.Pix[i]),
				G: to16(f.Pix[i+1]),
				B: to16(f.Pix[i+2]),
				A: 0xffff,
			})
		}
	}
	return img
}

func to16(v float32) uint16 {
	s := float64(v) * 257
	if s <= 0 {
		return 0
	}
	if s >= 0xffff {
		return 0xffff
	}
	return uint16(math.Round(s))
}

// ScaledSize returns the processing resolution for a source of w x h at the
// given scale. Each side is at least one pixel.
func ScaledSize(w, h int, scale float64) (int, int) {
	sw := int(math.Round(float64(w) * scale))
	sh := int(math.Round(float64(h) * scale))
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}
	return sw, sh
}

// Prepare resamples src to width x height with bilinear filtering and
// applies a Gaussian pre-blur of the given radius in pixels (0 disables
// it). The channel layout, Source, Seq and Timestamp carry over. When no
// work is needed src itself is returned.
func Prepare(src *Frame, width, height int, blurRadius float64) *Frame {
	if width == src.Width && height == src.Height && blurRadius <= 0 {
		return src
	}

	var img image.Image = src.Image()
	if width != src.Width || height != src.Height {
		r := image.Rect(0, 0, width, height)
		var dst xdraw.Image
		if src.Channels == ChannelsLuma {
			dst = image.NewGray16(r)
		} else {
			dst = image.NewNRGBA64(r)
		}
		xdraw.BiLinear.Scale(dst, r, img, img.Bounds(), xdraw.Src, nil)
		img = dst
	}

	if blurRadius > 0 {
		g := gift.New(gift.GaussianBlur(float32(blurRadius / 2)))
		var dst xdraw.Image
		if src.Channels == ChannelsLuma {
			dst = image.NewGray16(g.Bounds(img.Bounds()))
		} else {
			dst = image.NewNRGBA64(g.Bounds(img.Bounds()))
		}
		g.Draw(dst, img)
		img = dst
	}

	out := fromPrepared(img, src.Channels)
	out.Source = src.Source
	out.Seq = src.Seq
	out.Timestamp = src.Timestamp
	return out
}

func fromPrepared(img image.Image, channels int) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	f := New(w, h, channels)
	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				f.Pix[y*w+x] = float32(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y) / 257
			}
		}
	case *image.NRGBA64:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := src.NRGBA64At(b.Min.X+x, b.Min.Y+y)
				i := (y*w + x) * 3
				f.Pix[i] = float32(c.R) / 257
				f.Pix[i+1] = float32(c.G) / 257
				f.Pix[i+2] = float32(c.B) / 257
			}
		}
	default:
		return FromImage(img)
	}
	return f
}

// GrayImage renders a [0,1] plane as an 8-bit grey image.
func (p *Plane) GrayImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	for i, v := range p.Pix {
		s := math.Round(float64(v) * 255)
		if s < 0 {
			s = 0
		} else if s > 255 {
			s = 255
		}
		img.Pix[i] = uint8(s)
	}
	return img
}
