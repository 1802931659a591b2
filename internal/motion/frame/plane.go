package frame

// Plane is a single-channel float32 buffer used for masks, glow maps and
// per-pixel statistics.
type Plane struct {
	Width  int
	Height int
	Pix    []float32
}

// NewPlane allocates a zeroed plane.
func NewPlane(width, height int) *Plane {
	return &Plane{Width: width, Height: height, Pix: make([]float32, width*height)}
}

// At returns the value at (x, y).
func (p *Plane) At(x, y int) float32 {
	return p.Pix[y*p.Width+x]
}

// Set stores v at (x, y).
func (p *Plane) Set(x, y int, v float32) {
	p.Pix[y*p.Width+x] = v
}

// Fill sets every value to v.
func (p *Plane) Fill(v float32) {
	for i := range p.Pix {
		p.Pix[i] = v
	}
}

// SameSize reports whether q has the same dimensions.
func (p *Plane) SameSize(q *Plane) bool {
	return p.Width == q.Width && p.Height == q.Height
}

// Clone returns a deep copy.
func (p *Plane) Clone() *Plane {
	c := NewPlane(p.Width, p.Height)
	copy(c.Pix, p.Pix)
	return c
}

// Mean returns the average value, 0 for an empty plane.
func (p *Plane) Mean() float64 {
	if len(p.Pix) == 0 {
		return 0
	}
	var sum float64
	for _, v := range p.Pix {
		sum += float64(v)
	}
	return sum / float64(len(p.Pix))
}

// FractionAbove returns the share of values strictly greater than t.
func (p *Plane) FractionAbove(t float32) float64 {
	if len(p.Pix) == 0 {
		return 0
	}
	n := 0
	for _, v := range p.Pix {
		if v > t {
			n++
		}
	}
	return float64(n) / float64(len(p.Pix))
}

// Sample reads the plane at normalised coordinates u, v in [0,1] with
// bilinear filtering and edge clamping, so a plane at processing
// resolution can drive output at display resolution.
func (p *Plane) Sample(u, v float32) float32 {
	if p.Width == 0 || p.Height == 0 {
		return 0
	}
	fx := u*float32(p.Width) - 0.5
	fy := v*float32(p.Height) - 0.5
	x0 := floor(fx)
	y0 := floor(fy)
	tx := fx - float32(x0)
	ty := fy - float32(y0)
	x1 := clampInt(x0+1, 0, p.Width-1)
	y1 := clampInt(y0+1, 0, p.Height-1)
	x0 = clampInt(x0, 0, p.Width-1)
	y0 = clampInt(y0, 0, p.Height-1)

	a := p.Pix[y0*p.Width+x0]
	b := p.Pix[y0*p.Width+x1]
	c := p.Pix[y1*p.Width+x0]
	d := p.Pix[y1*p.Width+x1]
	top := a + (b-a)*tx
	bot := c + (d-c)*tx
	return top + (bot-top)*ty
}

func floor(v float32) int {
	i := int(v)
	if float32(i) > v {
		i--
	}
	return i
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
