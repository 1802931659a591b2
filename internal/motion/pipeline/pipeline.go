package pipeline

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/banshee-data/motiontrail/internal/motion/background"
	"github.com/banshee-data/motiontrail/internal/motion/effects"
	"github.com/banshee-data/motiontrail/internal/motion/frame"
	"github.com/banshee-data/motiontrail/internal/motion/morph"
)

// Reset reasons reported in TickStats.
const (
	ResetInit     = "init"
	ResetResize   = "resize"
	ResetMode     = "mode"
	ResetSource   = "source"
	ResetRequest  = "request"
	ResetMismatch = "mismatch"
)

// TickStats summarises one tick.
type TickStats struct {
	Tick               uint64
	Source             string
	Timestamp          time.Time
	ProcWidth          int
	ProcHeight         int
	ForegroundFraction float64 // share of mask values above 0.5
	MeanMask           float64
	Duration           time.Duration
	Reset              bool
	ResetReason        string
}

// Output is the finished result of one tick. It is not touched by the
// pipeline after Tick returns.
type Output struct {
	Tick     uint64
	Image    *image.NRGBA // display resolution; alpha is the mask when EncodeMaskAlpha
	Mask     *frame.Plane // effective mask at processing resolution
	Settings Settings
	Stats    TickStats
}

// Stats are lifetime counters for a pipeline instance.
type Stats struct {
	Ticks          uint64 `json:"ticks"`
	SkippedFrames  uint64 `json:"skipped_frames"`
	Resets         uint64 `json:"resets"`
	ImplicitResets uint64 `json:"implicit_resets"`
	Generation     uint64 `json:"generation"`
	ProcWidth      int    `json:"proc_width"`
	ProcHeight     int    `json:"proc_height"`
	DisplayWidth   int    `json:"display_width"`
	DisplayHeight  int    `json:"display_height"`
	Failed         bool   `json:"failed"`
}

// Options configure a pipeline instance.
type Options struct {
	// MaxPixels caps the pixel count of any single buffer. Zero means
	// DefaultMaxPixels.
	MaxPixels int
}

// Pipeline owns all cross-tick state. Tick must not be called
// concurrently; Stats may be.
type Pipeline struct {
	maxPixels int

	model  *background.Model
	masks  [2]*frame.Plane
	canvas [2]*effects.Canvas
	idx    int
	filter *morph.Filter
	comp   *effects.Compositor

	source       string
	resetPending string
	failed       error

	mu    sync.Mutex
	stats Stats
}

// New returns an empty pipeline. Buffers are sized by the first frame.
func New(opts Options) *Pipeline {
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &Pipeline{
		maxPixels: opts.MaxPixels,
		comp:      effects.NewCompositor(),
	}
}

// Reset forces a full model reset on the next tick.
func (p *Pipeline) Reset(reason string) {
	if reason == "" {
		reason = ResetRequest
	}
	p.resetPending = reason
}

// Stats returns a copy of the lifetime counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Source is the source of the last processed frame.
func (p *Pipeline) Source() string { return p.source }

// Snapshot copies the current background model, nil before the first tick.
func (p *Pipeline) Snapshot() *background.Snapshot {
	if p.model == nil {
		return nil
	}
	return p.model.Snapshot()
}

// Restore loads a stored model when it matches the current processing
// shape and mode. On error the model is untouched.
func (p *Pipeline) Restore(s *background.Snapshot) error {
	if p.model == nil {
		return ErrNoModel
	}
	if err := p.model.Restore(s); err != nil {
		return err
	}
	p.mu.Lock()
	p.stats.Generation = p.model.Generation
	p.mu.Unlock()
	diagf("Restored background model %dx%d/%s", s.Width, s.Height, s.Mode)
	return nil
}

// Persist writes the current model through store.
func (p *Pipeline) Persist(store background.BgStore, sessionID, reason string) (int64, error) {
	if p.model == nil {
		return 0, nil
	}
	return background.Persist(p.model, store, sessionID, p.source, reason)
}

// Tick runs one frame through the pipeline with the settings snapshot s.
// An invalid frame returns ErrInvalidFrame and leaves every buffer as it
// was. A refused allocation fails the instance: that tick and every later
// one return ErrPipelineFailed.
func (p *Pipeline) Tick(f *frame.Frame, s Settings) (*Output, error) {
	start := time.Now()
	if p.failed != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipelineFailed, p.failed)
	}
	if err := f.Validate(); err != nil {
		p.mu.Lock()
		p.stats.SkippedFrames++
		p.mu.Unlock()
		return nil, err
	}
	s = s.Clamp()

	pw, ph := frame.ScaledSize(f.Width, f.Height, s.ResolutionScale)
	if f.Width*f.Height > p.maxPixels {
		return nil, p.fail(fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrBufferTooLarge, f.Width, f.Height, p.maxPixels))
	}

	reason := p.resetReason(f, pw, ph, s.Mode)
	if reason == ResetInit || reason == ResetResize || reason == ResetMode {
		p.allocate(pw, ph, f.Width, f.Height, s.Mode)
	}

	prepared := frame.Prepare(f, pw, ph, s.BlurRadius)

	var (
		implicit bool
		err      error
	)
	if reason != "" {
		err = p.seed(prepared, s, reason)
	}
	params := s.detectorParams()
	if reason != "" {
		// A freshly seeded model keeps its initial variance for this tick.
		params.AdaptationRate = 0
	}
	mask := p.masks[1-p.idx]
	if err == nil {
		err = background.Detect(p.model, prepared, mask, params)
	}
	if errors.Is(err, ErrModelResolutionMismatch) {
		opsf("Implicit reset: %v", err)
		p.allocate(pw, ph, f.Width, f.Height, s.Mode)
		reason, implicit = ResetMismatch, true
		params.AdaptationRate = 0
		if err = p.seed(prepared, s, reason); err == nil {
			mask = p.masks[1-p.idx]
			err = background.Detect(p.model, prepared, mask, params)
		}
	}
	if err != nil {
		return nil, p.fail(err)
	}

	cleaned := p.filter.Apply(s.Morphology, mask)

	var prev *effects.Canvas
	if reason == "" {
		prev = p.canvas[p.idx]
	}
	eff, err := p.comp.Compose(p.canvas[1-p.idx], prev, f, cleaned, s.effectParams())
	if err != nil {
		return nil, p.fail(err)
	}

	p.model.Swap()
	p.idx = 1 - p.idx
	p.source = f.Source

	out := &Output{
		Image:    p.canvas[p.idx].ToNRGBA(nil, s.EncodeMaskAlpha),
		Mask:     eff.Clone(),
		Settings: s,
	}

	p.mu.Lock()
	p.stats.Ticks++
	if reason != "" {
		p.stats.Resets++
	}
	if implicit {
		p.stats.ImplicitResets++
	}
	p.stats.Generation = p.model.Generation
	tick := p.stats.Ticks
	p.mu.Unlock()

	out.Tick = tick
	out.Stats = TickStats{
		Tick:               tick,
		Source:             f.Source,
		Timestamp:          f.Timestamp,
		ProcWidth:          pw,
		ProcHeight:         ph,
		ForegroundFraction: eff.FractionAbove(0.5),
		MeanMask:           eff.Mean(),
		Duration:           time.Since(start),
		Reset:              reason != "",
		ResetReason:        reason,
	}
	tracef("tick=%d source=%s proc=%dx%d fg=%.4f mean=%.4f took=%s reset=%q",
		tick, f.Source, pw, ph, out.Stats.ForegroundFraction, out.Stats.MeanMask, out.Stats.Duration, reason)
	return out, nil
}

func (p *Pipeline) resetReason(f *frame.Frame, pw, ph int, mode background.Mode) string {
	switch {
	case p.model == nil:
		return ResetInit
	case p.model.Width != pw || p.model.Height != ph ||
		p.canvas[0].Width != f.Width || p.canvas[0].Height != f.Height:
		return ResetResize
	case p.model.Mode != mode:
		return ResetMode
	case f.Source != p.source:
		return ResetSource
	case p.resetPending != "":
		return p.resetPending
	}
	return ""
}

// allocate replaces every buffer. Old state is dropped, never resampled.
func (p *Pipeline) allocate(pw, ph, dw, dh int, mode background.Mode) {
	p.model = background.NewModel(pw, ph, mode)
	p.masks = [2]*frame.Plane{frame.NewPlane(pw, ph), frame.NewPlane(pw, ph)}
	p.canvas = [2]*effects.Canvas{effects.NewCanvas(dw, dh), effects.NewCanvas(dw, dh)}
	p.filter = morph.NewFilter(pw, ph)
	p.idx = 0

	p.mu.Lock()
	p.stats.ProcWidth, p.stats.ProcHeight = pw, ph
	p.stats.DisplayWidth, p.stats.DisplayHeight = dw, dh
	p.mu.Unlock()
	diagf("Allocated buffers: processing %dx%d, display %dx%d, mode %s", pw, ph, dw, dh, mode)
}

func (p *Pipeline) seed(prepared *frame.Frame, s Settings, reason string) error {
	if err := p.model.Reset(prepared, s.InitialVariance); err != nil {
		return err
	}
	p.canvas[0].Clear()
	p.canvas[1].Clear()
	p.idx = 0
	p.resetPending = ""
	diagf("Background reset (%s): source=%q generation=%d", reason, prepared.Source, p.model.Generation)
	return nil
}

func (p *Pipeline) fail(err error) error {
	p.failed = err
	p.mu.Lock()
	p.stats.Failed = true
	p.mu.Unlock()
	opsf("Pipeline failed: %v", err)
	return fmt.Errorf("%w: %w", ErrPipelineFailed, err)
}
