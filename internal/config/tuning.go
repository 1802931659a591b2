package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/motiontrail/internal/motion/background"
	"github.com/banshee-data/motiontrail/internal/motion/effects"
	"github.com/banshee-data/motiontrail/internal/motion/morph"
	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for the motion pipeline and its
// runner. The schema matches the /api/config endpoint so the same JSON can
// be used for startup configuration and runtime updates. Omitted fields
// keep their defaults.
type TuningConfig struct {
	// Detector
	DetectionMode   *string  `json:"detection_mode,omitempty"` // "luminance" or "color"
	Threshold       *float64 `json:"threshold,omitempty"`
	AdaptationRate  *float64 `json:"adaptation_rate,omitempty"`
	MinVariance     *float64 `json:"min_variance,omitempty"`
	InitialVariance *float64 `json:"initial_variance,omitempty"`
	Decision        *string  `json:"decision,omitempty"` // "soft" or "hard"

	// Cleanup and output
	Morphology      *string  `json:"morphology,omitempty"`
	EffectStyle     *string  `json:"effect_style,omitempty"`
	Invert          *bool    `json:"invert,omitempty"`
	Persistence     *float64 `json:"persistence,omitempty"`
	ResolutionScale *float64 `json:"resolution_scale,omitempty"`
	BlurRadius      *float64 `json:"blur_radius,omitempty"`
	EncodeMaskAlpha *bool    `json:"encode_mask_alpha,omitempty"`

	// Runner
	FrameInterval    *string `json:"frame_interval,omitempty"`    // duration string like "33ms"
	SnapshotInterval *string `json:"snapshot_interval,omitempty"` // duration string like "60s"
	StatsEvery       *int    `json:"stats_every,omitempty"`
	MaxPixels        *int    `json:"max_pixels,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field set to its default.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		DetectionMode:    ptrString("luminance"),
		Threshold:        ptrFloat64(2.5),
		AdaptationRate:   ptrFloat64(0.05),
		MinVariance:      ptrFloat64(4),
		InitialVariance:  ptrFloat64(background.DefaultInitialVariance),
		Decision:         ptrString("soft"),
		Morphology:       ptrString("open"),
		EffectStyle:      ptrString("classic"),
		Invert:           ptrBool(false),
		Persistence:      ptrFloat64(0.85),
		ResolutionScale:  ptrFloat64(0.5),
		BlurRadius:       ptrFloat64(0),
		EncodeMaskAlpha:  ptrBool(true),
		FrameInterval:    ptrString("33ms"),
		SnapshotInterval: ptrString("60s"),
		StatsEvery:       ptrInt(30),
		MaxPixels:        ptrInt(pipeline.DefaultMaxPixels),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseTuningConfig(data)
}

// ParseTuningConfig decodes and validates a JSON document.
func ParseTuningConfig(data []byte) (*TuningConfig, error) {
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/motion/*
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate rejects malformed values: unknown enum names, unparsable
// durations and non-positive counts. Numeric ranges are not checked here;
// ToSettings clamps them.
func (c *TuningConfig) Validate() error {
	if c.DetectionMode != nil {
		if _, err := background.ParseMode(*c.DetectionMode); err != nil {
			return err
		}
	}
	if c.Decision != nil {
		if _, err := background.ParseDecision(*c.Decision); err != nil {
			return err
		}
	}
	if c.Morphology != nil {
		if _, err := morph.ParseMode(*c.Morphology); err != nil {
			return err
		}
	}
	if c.EffectStyle != nil {
		if _, err := effects.ParseStyle(*c.EffectStyle); err != nil {
			return err
		}
	}
	for name, v := range map[string]*string{
		"frame_interval":    c.FrameInterval,
		"snapshot_interval": c.SnapshotInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.StatsEvery != nil && *c.StatsEvery < 0 {
		return fmt.Errorf("stats_every must be >= 0, got %d", *c.StatsEvery)
	}
	if c.MaxPixels != nil && *c.MaxPixels <= 0 {
		return fmt.Errorf("max_pixels must be positive, got %d", *c.MaxPixels)
	}
	return nil
}

// Merge overlays every non-nil field of patch onto c.
func (c *TuningConfig) Merge(patch *TuningConfig) {
	if patch == nil {
		return
	}
	mergePtr(&c.DetectionMode, patch.DetectionMode)
	mergePtr(&c.Threshold, patch.Threshold)
	mergePtr(&c.AdaptationRate, patch.AdaptationRate)
	mergePtr(&c.MinVariance, patch.MinVariance)
	mergePtr(&c.InitialVariance, patch.InitialVariance)
	mergePtr(&c.Decision, patch.Decision)
	mergePtr(&c.Morphology, patch.Morphology)
	mergePtr(&c.EffectStyle, patch.EffectStyle)
	mergePtr(&c.Invert, patch.Invert)
	mergePtr(&c.Persistence, patch.Persistence)
	mergePtr(&c.ResolutionScale, patch.ResolutionScale)
	mergePtr(&c.BlurRadius, patch.BlurRadius)
	mergePtr(&c.EncodeMaskAlpha, patch.EncodeMaskAlpha)
	mergePtr(&c.FrameInterval, patch.FrameInterval)
	mergePtr(&c.SnapshotInterval, patch.SnapshotInterval)
	mergePtr(&c.StatsEvery, patch.StatsEvery)
	mergePtr(&c.MaxPixels, patch.MaxPixels)
}

// StartupFields returns the JSON names of the set fields that only take
// effect when the runner starts. They cannot be changed on a live runner.
func (c *TuningConfig) StartupFields() []string {
	var names []string
	if c.FrameInterval != nil {
		names = append(names, "frame_interval")
	}
	if c.SnapshotInterval != nil {
		names = append(names, "snapshot_interval")
	}
	if c.StatsEvery != nil {
		names = append(names, "stats_every")
	}
	if c.MaxPixels != nil {
		names = append(names, "max_pixels")
	}
	return names
}

func mergePtr[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// ToSettings converts the config into a clamped pipeline settings snapshot.
func (c *TuningConfig) ToSettings() pipeline.Settings {
	mode, _ := background.ParseMode(c.GetDetectionMode())
	decision, _ := background.ParseDecision(c.GetDecision())
	mo, _ := morph.ParseMode(c.GetMorphology())
	style, _ := effects.ParseStyle(c.GetEffectStyle())
	return pipeline.Settings{
		Mode:            mode,
		Threshold:       float32(c.GetThreshold()),
		AdaptationRate:  float32(c.GetAdaptationRate()),
		MinVariance:     float32(c.GetMinVariance()),
		InitialVariance: float32(c.GetInitialVariance()),
		Decision:        decision,
		Morphology:      mo,
		Style:           style,
		Invert:          c.GetInvert(),
		Persistence:     float32(c.GetPersistence()),
		ResolutionScale: c.GetResolutionScale(),
		BlurRadius:      c.GetBlurRadius(),
		EncodeMaskAlpha: c.GetEncodeMaskAlpha(),
	}.Clamp()
}

// FromSettings renders a settings snapshot back into config form, leaving
// the runner fields unset.
func FromSettings(s pipeline.Settings) *TuningConfig {
	return &TuningConfig{
		DetectionMode:   ptrString(s.Mode.String()),
		Threshold:       ptrFloat64(float64(s.Threshold)),
		AdaptationRate:  ptrFloat64(float64(s.AdaptationRate)),
		MinVariance:     ptrFloat64(float64(s.MinVariance)),
		InitialVariance: ptrFloat64(float64(s.InitialVariance)),
		Decision:        ptrString(s.Decision.String()),
		Morphology:      ptrString(s.Morphology.String()),
		EffectStyle:     ptrString(s.Style.String()),
		Invert:          ptrBool(s.Invert),
		Persistence:     ptrFloat64(float64(s.Persistence)),
		ResolutionScale: ptrFloat64(s.ResolutionScale),
		BlurRadius:      ptrFloat64(s.BlurRadius),
		EncodeMaskAlpha: ptrBool(s.EncodeMaskAlpha),
	}
}

// GetDetectionMode returns the detection_mode value or the default.
func (c *TuningConfig) GetDetectionMode() string {
	if c.DetectionMode == nil {
		return "luminance" // default
	}
	return *c.DetectionMode
}

// GetThreshold returns the threshold value or the default.
func (c *TuningConfig) GetThreshold() float64 {
	if c.Threshold == nil {
		return 2.5 // default
	}
	return *c.Threshold
}

// GetAdaptationRate returns the adaptation_rate value or the default.
func (c *TuningConfig) GetAdaptationRate() float64 {
	if c.AdaptationRate == nil {
		return 0.05 // default
	}
	return *c.AdaptationRate
}

// GetMinVariance returns the min_variance value or the default.
func (c *TuningConfig) GetMinVariance() float64 {
	if c.MinVariance == nil {
		return 4 // default
	}
	return *c.MinVariance
}

// GetInitialVariance returns the initial_variance value or the default.
func (c *TuningConfig) GetInitialVariance() float64 {
	if c.InitialVariance == nil {
		return background.DefaultInitialVariance
	}
	return *c.InitialVariance
}

// GetDecision returns the decision value or the default.
func (c *TuningConfig) GetDecision() string {
	if c.Decision == nil {
		return "soft" // default
	}
	return *c.Decision
}

// GetMorphology returns the morphology value or the default.
func (c *TuningConfig) GetMorphology() string {
	if c.Morphology == nil {
		return "open" // default
	}
	return *c.Morphology
}

// GetEffectStyle returns the effect_style value or the default.
func (c *TuningConfig) GetEffectStyle() string {
	if c.EffectStyle == nil {
		return "classic" // default
	}
	return *c.EffectStyle
}

// GetInvert returns the invert value or the default.
func (c *TuningConfig) GetInvert() bool {
	if c.Invert == nil {
		return false // default
	}
	return *c.Invert
}

// GetPersistence returns the persistence value or the default.
func (c *TuningConfig) GetPersistence() float64 {
	if c.Persistence == nil {
		return 0.85 // default
	}
	return *c.Persistence
}

// GetResolutionScale returns the resolution_scale value or the default.
func (c *TuningConfig) GetResolutionScale() float64 {
	if c.ResolutionScale == nil {
		return 0.5 // default
	}
	return *c.ResolutionScale
}

// GetBlurRadius returns the blur_radius value or the default.
func (c *TuningConfig) GetBlurRadius() float64 {
	if c.BlurRadius == nil {
		return 0 // default
	}
	return *c.BlurRadius
}

// GetEncodeMaskAlpha returns the encode_mask_alpha value or the default.
func (c *TuningConfig) GetEncodeMaskAlpha() bool {
	if c.EncodeMaskAlpha == nil {
		return true // default
	}
	return *c.EncodeMaskAlpha
}

// GetFrameInterval parses and returns the FrameInterval as a time.Duration.
func (c *TuningConfig) GetFrameInterval() time.Duration {
	if c.FrameInterval == nil || *c.FrameInterval == "" {
		return 33 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.FrameInterval)
	if err != nil || d <= 0 {
		return 33 * time.Millisecond // default on parse error
	}
	return d
}

// GetSnapshotInterval parses and returns the SnapshotInterval. Zero
// disables interval snapshots.
func (c *TuningConfig) GetSnapshotInterval() time.Duration {
	if c.SnapshotInterval == nil || *c.SnapshotInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.SnapshotInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetStatsEvery returns the stats_every value or the default.
func (c *TuningConfig) GetStatsEvery() int {
	if c.StatsEvery == nil {
		return 30 // default
	}
	return *c.StatsEvery
}

// GetMaxPixels returns the max_pixels value or the default.
func (c *TuningConfig) GetMaxPixels() int {
	if c.MaxPixels == nil {
		return pipeline.DefaultMaxPixels
	}
	return *c.MaxPixels
}
