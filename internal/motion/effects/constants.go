package effects

// Persistence fade.
const (
	// MaxPersistence keeps trails finite.
	MaxPersistence = 0.99
)

// colorBurn configuration
const (
	BurnBaseDim       = 0.45 // masked source intensity under the glow
	GlowLow           = 0.02 // gradient magnitude where glow starts
	GlowHigh          = 0.3  // gradient magnitude of full glow
	VignetteStrength  = 0.55
	VignetteInner     = 0.45 // normalised radius where darkening starts
	VignetteOuter     = 1.0
	ElectricGlowScale = 0.8 // edge glow added by electricTrails
)

// chromatic configuration
const (
	ChromaticShift     = 0.015 // channel offset per unit mask, fraction of the diagonal
	ChromaticBlendLow  = 0.05
	ChromaticBlendHigh = 0.6
	ScanlineDarken     = 0.12
)

// HeatmapEpsilon is the mask value below which heatmap pixels are pulled
// toward HeatmapTint.
const HeatmapEpsilon = 0.02

// RGB is a colour with components in [0,1].
type RGB struct{ R, G, B float32 }

var (
	BurnAccentTop    = RGB{1, 0.2, 0.6} // hot pink
	BurnAccentBottom = RGB{0, 0.9, 1}   // cyan

	TrailBase = RGB{0, 0.8, 1}
	TrailHot  = RGB{1, 0.35, 0.9}

	HeatmapTint = RGB{0.02, 0.02, 0.08}

	// heatmapRamp has six stops splitting [0,1] into five equal bands.
	heatmapRamp = [6]RGB{
		{0.02, 0.02, 0.08}, // dark
		{0, 0, 1},          // blue
		{0, 1, 1},          // cyan
		{1, 1, 0},          // yellow
		{1, 0.5, 0},        // orange
		{1, 1, 1},          // white
	}
)

func (c RGB) scale(s float32) RGB { return RGB{c.R * s, c.G * s, c.B * s} }

func (c RGB) add(d RGB) RGB { return RGB{c.R + d.R, c.G + d.G, c.B + d.B} }

func mixRGB(a, b RGB, t float32) RGB {
	return RGB{a.R + (b.R-a.R)*t, a.G + (b.G-a.G)*t, a.B + (b.B-a.B)*t}
}

// Ramp maps v in [0,1] through the heatmap colour ramp.
func Ramp(v float32) RGB {
	v = clamp01(v)
	bands := float32(len(heatmapRamp) - 1)
	f := v * bands
	i := int(f)
	if i >= len(heatmapRamp)-1 {
		return heatmapRamp[len(heatmapRamp)-1]
	}
	return mixRGB(heatmapRamp[i], heatmapRamp[i+1], f-float32(i))
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func smoothstep(e0, e1, x float32) float32 {
	t := clamp01((x - e0) / (e1 - e0))
	return t * t * (3 - 2*t)
}
