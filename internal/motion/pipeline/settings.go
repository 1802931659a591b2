package pipeline

import (
	"github.com/banshee-data/motiontrail/internal/motion/background"
	"github.com/banshee-data/motiontrail/internal/motion/effects"
	"github.com/banshee-data/motiontrail/internal/motion/morph"
)

// Documented ranges. Settings outside them are clamped, never rejected.
const (
	MinThreshold       = 0.5
	MaxThreshold       = 10
	MinMinVariance     = 0.01
	MaxMinVariance     = 1e4
	MaxInitialVariance = 1e5
	MaxBlurRadius      = 10

	// DefaultMaxPixels bounds a single buffer: 7680x4320.
	DefaultMaxPixels = 7680 * 4320
)

// Settings is the configuration snapshot one tick runs with.
type Settings struct {
	Mode            background.Mode
	Threshold       float32 // multiple of the per-pixel standard deviation
	AdaptationRate  float32
	MinVariance     float32
	InitialVariance float32
	Decision        background.Decision
	Morphology      morph.Mode
	Style           effects.Style
	Invert          bool
	Persistence     float32
	ResolutionScale float64 // processing/display, (0,1]
	BlurRadius      float64 // pixels at processing resolution
	EncodeMaskAlpha bool
}

// DefaultSettings returns the defaults used when no tuning file is given.
func DefaultSettings() Settings {
	return Settings{
		Mode:            background.ModeLuminance,
		Threshold:       2.5,
		AdaptationRate:  0.05,
		MinVariance:     4,
		InitialVariance: background.DefaultInitialVariance,
		Decision:        background.DecisionSoft,
		Morphology:      morph.Open,
		Style:           effects.Classic,
		Persistence:     0.85,
		ResolutionScale: 0.5,
		EncodeMaskAlpha: true,
	}
}

// Clamp returns a copy with every field inside its documented range.
// Unknown enum values fall back to the default.
func (s Settings) Clamp() Settings {
	d := DefaultSettings()
	if s.Mode != background.ModeLuminance && s.Mode != background.ModeColor {
		s.Mode = d.Mode
	}
	if s.Decision != background.DecisionSoft && s.Decision != background.DecisionHard {
		s.Decision = d.Decision
	}
	if s.Morphology < morph.None || s.Morphology > morph.Close {
		s.Morphology = d.Morphology
	}
	if s.Style < effects.Classic || s.Style > effects.Chromatic {
		s.Style = d.Style
	}
	s.Threshold = clampf(s.Threshold, MinThreshold, MaxThreshold)
	s.AdaptationRate = clampf(s.AdaptationRate, 0, 1)
	s.MinVariance = clampf(s.MinVariance, MinMinVariance, MaxMinVariance)
	if s.InitialVariance <= 0 {
		s.InitialVariance = d.InitialVariance
	}
	s.InitialVariance = clampf(s.InitialVariance, s.MinVariance, MaxInitialVariance)
	s.Persistence = clampf(s.Persistence, 0, effects.MaxPersistence)
	if !(s.ResolutionScale > 0) {
		s.ResolutionScale = d.ResolutionScale
	}
	if s.ResolutionScale > 1 {
		s.ResolutionScale = 1
	}
	if !(s.BlurRadius > 0) {
		s.BlurRadius = 0
	}
	if s.BlurRadius > MaxBlurRadius {
		s.BlurRadius = MaxBlurRadius
	}
	return s
}

func (s Settings) detectorParams() background.Params {
	return background.Params{
		Threshold:      s.Threshold,
		AdaptationRate: s.AdaptationRate,
		MinVariance:    s.MinVariance,
		Decision:       s.Decision,
	}
}

func (s Settings) effectParams() effects.Params {
	return effects.Params{Style: s.Style, Invert: s.Invert, Persistence: s.Persistence}
}

func clampf(v, lo, hi float32) float32 {
	if !(v >= lo) { // catches NaN
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
