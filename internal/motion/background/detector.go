package background

import (
	"fmt"
	"math"

	"github.com/banshee-data/motiontrail/internal/motion/frame"
)

// Decision selects how distance maps to a foreground score.
type Decision int

const (
	// DecisionSoft scores with smoothstep(0.6*edge, 1.4*edge, dist).
	DecisionSoft Decision = iota
	// DecisionHard scores 1 when dist > edge, else 0.
	DecisionHard
)

func (d Decision) String() string {
	if d == DecisionHard {
		return "hard"
	}
	return "soft"
}

// ParseDecision accepts "soft" and "hard".
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "soft", "":
		return DecisionSoft, nil
	case "hard":
		return DecisionHard, nil
	}
	return DecisionSoft, fmt.Errorf("unknown decision %q", s)
}

// Params are the detector knobs for one pass. Threshold is used directly as
// the multiple of the per-pixel standard deviation.
type Params struct {
	Threshold      float32
	AdaptationRate float32
	MinVariance    float32
	Decision       Decision
}

// Edge is the adaptive decision distance for a pixel with the given
// variance. Variance below minVariance is floored.
func Edge(threshold, variance, minVariance float32) float32 {
	if variance < minVariance {
		variance = minVariance
	}
	return threshold * float32(math.Sqrt(float64(variance)))
}

// Score maps a distance to a foreground score in [0,1].
func Score(dist, edge float32, d Decision) float32 {
	if d == DecisionHard {
		if dist > edge {
			return 1
		}
		return 0
	}
	return Smoothstep(0.6*edge, 1.4*edge, dist)
}

// Smoothstep is the cubic Hermite step between e0 and e1. A degenerate
// range acts as a hard step at e0.
func Smoothstep(e0, e1, x float32) float32 {
	if e1 <= e0 {
		if x > e0 {
			return 1
		}
		return 0
	}
	t := (x - e0) / (e1 - e0)
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Detect runs the detector pass: for every pixel it scores f against the
// current buffer set, writes the score to mask and writes the adapted
// mean and variance to the other set. The caller swaps the model once the
// rest of the tick has consumed the result.
//
// f must be at the model's processing resolution. Colour mode accepts a
// luminance frame by treating it as grey.
func Detect(m *Model, f *frame.Frame, mask *frame.Plane, p Params) error {
	if f.Width != m.Width || f.Height != m.Height {
		return fmt.Errorf("%w: model %dx%d, frame %dx%d", ErrResolutionMismatch, m.Width, m.Height, f.Width, f.Height)
	}
	if mask.Width != m.Width || mask.Height != m.Height {
		return fmt.Errorf("%w: model %dx%d, mask %dx%d", ErrResolutionMismatch, m.Width, m.Height, mask.Width, mask.Height)
	}

	src, dst := m.idx, 1-m.idx
	meanIn, meanOut := m.mean[src], m.mean[dst]
	varIn, varOut := m.variance[src], m.variance[dst]
	color := m.Mode == ModeColor

	frame.Rows(m.Height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < m.Width; x++ {
				pi := y*m.Width + x
				v := varIn[pi]

				var dist, lumCur, lumMean float32
				if color {
					r, g, b := f.RGB(x, y)
					mr, mg, mb := meanIn[pi*3], meanIn[pi*3+1], meanIn[pi*3+2]
					dr, dg, db := r-mr, g-mg, b-mb
					dist = float32(math.Sqrt(float64(dr*dr + dg*dg + db*db)))
					lumCur = frame.Luma(r, g, b)
					lumMean = frame.Luma(mr, mg, mb)
				} else {
					lumCur = f.LumaAt(x, y)
					lumMean = meanIn[pi]
					dist = lumCur - lumMean
					if dist < 0 {
						dist = -dist
					}
				}

				score := Score(dist, Edge(p.Threshold, v, p.MinVariance), p.Decision)
				mask.Pix[pi] = score

				w := p.AdaptationRate * (1 - score)
				if color {
					r, g, b := f.RGB(x, y)
					meanOut[pi*3] = mix(meanIn[pi*3], r, w)
					meanOut[pi*3+1] = mix(meanIn[pi*3+1], g, w)
					meanOut[pi*3+2] = mix(meanIn[pi*3+2], b, w)
				} else {
					meanOut[pi] = mix(lumMean, lumCur, w)
				}
				d := lumCur - lumMean
				varOut[pi] = mix(v, d*d, w)
			}
		}
	})
	m.Updates++
	return nil
}

func mix(a, b, t float32) float32 {
	return a + (b-a)*t
}
