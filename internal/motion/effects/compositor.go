package effects

import (
	"fmt"
	"math"

	"github.com/banshee-data/motiontrail/internal/motion/frame"
)

// Compositor draws one tick of output. It keeps scratch planes between
// ticks and is not safe for concurrent use.
type Compositor struct {
	inverted *frame.Plane
	glow     *frame.Plane
}

// NewCompositor returns a compositor with no scratch allocated yet.
func NewCompositor() *Compositor {
	return &Compositor{}
}

// EffectiveMask returns mask, or 1-mask when invert is set. The inverted
// plane is owned by the compositor and valid until the next call.
func (c *Compositor) EffectiveMask(mask *frame.Plane, invert bool) *frame.Plane {
	if !invert {
		return mask
	}
	if c.inverted == nil || !c.inverted.SameSize(mask) {
		c.inverted = frame.NewPlane(mask.Width, mask.Height)
	}
	for i, v := range mask.Pix {
		c.inverted.Pix[i] = 1 - v
	}
	return c.inverted
}

// Compose writes the styled output for src and mask into dst. prev is the
// previous tick's canvas; persistent styles fade it into dst, and a nil or
// differently sized prev is treated as black. dst must have the display
// resolution of src. The effective mask (after invert) is returned.
func (c *Compositor) Compose(dst, prev *Canvas, src *frame.Frame, mask *frame.Plane, p Params) (*frame.Plane, error) {
	if dst.Width != src.Width || dst.Height != src.Height {
		return nil, fmt.Errorf("canvas %dx%d does not match frame %dx%d", dst.Width, dst.Height, src.Width, src.Height)
	}
	m := c.EffectiveMask(mask, p.Invert)

	if p.Style.Persistent() && dst.SameSize(prev) {
		keep := p.Persistence
		if keep < 0 {
			keep = 0
		}
		if keep > MaxPersistence {
			keep = MaxPersistence
		}
		dst.FadeFrom(prev, keep)
	} else {
		dst.Clear()
	}

	if p.Style == ColorBurn || p.Style == ElectricTrails {
		c.computeGlow(m)
	}

	var draw func(x, y int, u, v, mv float32, s RGB, px []float32)
	switch p.Style {
	case ColorBurn:
		draw = c.colorBurn(dst)
	case ElectricTrails:
		draw = c.electricTrails
	case Heatmap:
		draw = heatmap
	case Chromatic:
		draw = chromatic(src)
	default:
		draw = classic
	}

	w, h := dst.Width, dst.Height
	frame.Rows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			v := (float32(y) + 0.5) / float32(h)
			for x := 0; x < w; x++ {
				u := (float32(x) + 0.5) / float32(w)
				mv := clamp01(m.Sample(u, v))
				r, g, b := src.RGB(x, y)
				s := RGB{clamp01(r / 255), clamp01(g / 255), clamp01(b / 255)}
				i := (y*w + x) * 4
				draw(x, y, u, v, mv, s, dst.Pix[i:i+4])
			}
		}
	})
	return m, nil
}

// computeGlow fills c.glow with the smoothed difference between each mask
// value and the average of its in-bounds 8-neighbourhood.
func (c *Compositor) computeGlow(m *frame.Plane) {
	if c.glow == nil || !c.glow.SameSize(m) {
		c.glow = frame.NewPlane(m.Width, m.Height)
	}
	w, h := m.Width, m.Height
	frame.Rows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				var sum float32
				n := 0
				for dy := -1; dy <= 1; dy++ {
					ny := y + dy
					if ny < 0 || ny >= h {
						continue
					}
					for dx := -1; dx <= 1; dx++ {
						nx := x + dx
						if (dx == 0 && dy == 0) || nx < 0 || nx >= w {
							continue
						}
						sum += m.Pix[ny*w+nx]
						n++
					}
				}
				var g float32
				if n > 0 {
					d := sum/float32(n) - m.Pix[y*w+x]
					if d < 0 {
						d = -d
					}
					g = smoothstep(GlowLow, GlowHigh, d)
				}
				c.glow.Pix[y*w+x] = g
			}
		}
	})
}

func classic(_, _ int, _, _, m float32, s RGB, px []float32) {
	px[0], px[1], px[2], px[3] = s.R*m, s.G*m, s.B*m, m
}

func (c *Compositor) colorBurn(dst *Canvas) func(x, y int, u, v, m float32, s RGB, px []float32) {
	return func(_, y int, u, v, m float32, s RGB, px []float32) {
		glow := c.glow.Sample(u, v)
		t := float32(0)
		if dst.Height > 1 {
			t = float32(y) / float32(dst.Height-1)
		}
		edge := mixRGB(BurnAccentTop, BurnAccentBottom, t).scale(glow)
		base := s.scale(m * BurnBaseDim)

		// screen blend keeps the glow from clipping the base
		out := RGB{
			1 - (1-base.R)*(1-edge.R),
			1 - (1-base.G)*(1-edge.G),
			1 - (1-base.B)*(1-edge.B),
		}

		dx, dy := (u-0.5)*2, (v-0.5)*2
		r := float32(math.Sqrt(float64(dx*dx+dy*dy))) / math.Sqrt2
		vig := 1 - VignetteStrength*smoothstep(VignetteInner, VignetteOuter, r)
		out = out.scale(vig)

		a := m
		if glow > a {
			a = glow
		}
		px[0], px[1], px[2], px[3] = clamp01(out.R), clamp01(out.G), clamp01(out.B), a
	}
}

func (c *Compositor) electricTrails(_, _ int, u, v, m float32, _ RGB, px []float32) {
	core := mixRGB(TrailBase, TrailHot, m*m).scale(m)
	col := core.add(TrailBase.scale(c.glow.Sample(u, v) * ElectricGlowScale))
	px[0] = clamp01(px[0] + col.R)
	px[1] = clamp01(px[1] + col.G)
	px[2] = clamp01(px[2] + col.B)
	px[3] = clamp01(px[3] + m)
}

func heatmap(_, _ int, _, _, m float32, _ RGB, px []float32) {
	col := Ramp(m)
	if m < HeatmapEpsilon {
		col = mixRGB(HeatmapTint, col, m/HeatmapEpsilon)
	}
	px[0] = max(px[0], col.R)
	px[1] = max(px[1], col.G)
	px[2] = max(px[2], col.B)
	px[3] = max(px[3], m)
}

func chromatic(src *frame.Frame) func(x, y int, u, v, m float32, s RGB, px []float32) {
	w, h := float32(src.Width), float32(src.Height)
	diag := float32(math.Hypot(float64(w), float64(h)))
	cx, cy := w/2, h/2
	return func(x, y int, _, _, m float32, s RGB, px []float32) {
		t := smoothstep(ChromaticBlendLow, ChromaticBlendHigh, m)
		if t == 0 {
			px[0], px[1], px[2], px[3] = s.R, s.G, s.B, m
			return
		}
		dx, dy := float32(x)+0.5-cx, float32(y)+0.5-cy
		l := float32(math.Hypot(float64(dx), float64(dy)))
		if l > 0 {
			dx, dy = dx/l, dy/l
		}
		shift := m * ChromaticShift * diag
		rr, _, _ := src.RGB(clampPix(float32(x)+dx*shift, src.Width), clampPix(float32(y)+dy*shift, src.Height))
		_, _, bb := src.RGB(clampPix(float32(x)-dx*shift, src.Width), clampPix(float32(y)-dy*shift, src.Height))
		split := RGB{clamp01(rr / 255), s.G, clamp01(bb / 255)}

		out := mixRGB(s, split, t)
		if y%2 == 0 {
			out = out.scale(1 - ScanlineDarken*t)
		}
		px[0], px[1], px[2], px[3] = out.R, out.G, out.B, m
	}
}

func clampPix(v float32, n int) int {
	i := int(math.Round(float64(v)))
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
