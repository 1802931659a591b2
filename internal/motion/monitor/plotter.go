package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
)

// StatsPlotter records per-tick statistics over a run and renders them as
// PNG time series afterwards. It is a runner observer; Observe is a no-op
// until Start is called.
type StatsPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	source    string
	samples   []PlotSample
}

// PlotSample is one tick's worth of plotted values.
type PlotSample struct {
	Tick               uint64
	ForegroundFraction float64
	MeanMask           float64
	DurationMillis     float64
	Reset              bool
}

// NewStatsPlotter creates a plotter for the named source.
func NewStatsPlotter(source string) *StatsPlotter {
	return &StatsPlotter{source: source}
}

// Start clears any previous samples and begins recording. Plots are
// written to outputDir by GeneratePlots.
func (sp *StatsPlotter) Start(outputDir string) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	sp.outputDir = outputDir
	sp.enabled = true
	sp.samples = nil
	return nil
}

// Stop disables sampling. Call GeneratePlots to produce output files.
func (sp *StatsPlotter) Stop() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.enabled = false
}

// IsEnabled reports whether the plotter is recording.
func (sp *StatsPlotter) IsEnabled() bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.enabled
}

// Observe implements runner.Observer.
func (sp *StatsPlotter) Observe(out *pipeline.Output) {
	if out == nil {
		return
	}
	sp.Sample(out.Stats)
}

// Sample records one tick.
func (sp *StatsPlotter) Sample(s pipeline.TickStats) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if !sp.enabled {
		return
	}
	sp.samples = append(sp.samples, PlotSample{
		Tick:               s.Tick,
		ForegroundFraction: s.ForegroundFraction,
		MeanMask:           s.MeanMask,
		DurationMillis:     float64(s.Duration.Microseconds()) / 1000,
		Reset:              s.Reset,
	})
}

// SampleCount returns the number of recorded ticks.
func (sp *StatsPlotter) SampleCount() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.samples)
}

// GeneratePlots writes foreground.png and duration.png into the output
// directory. It returns the number of files written.
func (sp *StatsPlotter) GeneratePlots() (int, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(sp.samples) == 0 {
		return 0, nil
	}

	fgPts := make(plotter.XYs, len(sp.samples))
	maskPts := make(plotter.XYs, len(sp.samples))
	durPts := make(plotter.XYs, len(sp.samples))
	var resetPts plotter.XYs
	for i, s := range sp.samples {
		x := float64(s.Tick)
		fgPts[i] = plotter.XY{X: x, Y: s.ForegroundFraction}
		maskPts[i] = plotter.XY{X: x, Y: s.MeanMask}
		durPts[i] = plotter.XY{X: x, Y: s.DurationMillis}
		if s.Reset {
			resetPts = append(resetPts, plotter.XY{X: x, Y: s.ForegroundFraction})
		}
	}

	pFg := plot.New()
	pFg.Title.Text = fmt.Sprintf("%s - Foreground", sp.source)
	pFg.X.Label.Text = "Tick"
	pFg.Y.Label.Text = "Fraction"
	pFg.Y.Min = 0
	pFg.Y.Max = 1

	fgLine, err := plotter.NewLine(fgPts)
	if err != nil {
		return 0, err
	}
	fgLine.Color = color.RGBA{R: 220, G: 60, B: 60, A: 255}
	fgLine.Width = vg.Points(1)
	pFg.Add(fgLine)
	pFg.Legend.Add("foreground fraction", fgLine)

	maskLine, err := plotter.NewLine(maskPts)
	if err != nil {
		return 0, err
	}
	maskLine.Color = color.RGBA{R: 40, G: 120, B: 220, A: 255}
	maskLine.Width = vg.Points(1)
	pFg.Add(maskLine)
	pFg.Legend.Add("mean mask", maskLine)

	if len(resetPts) > 0 {
		resets, err := plotter.NewScatter(resetPts)
		if err != nil {
			return 0, err
		}
		resets.Color = color.Black
		pFg.Add(resets)
		pFg.Legend.Add("reset", resets)
	}
	pFg.Legend.Top = true
	pFg.Legend.Left = false
	pFg.Legend.XOffs = -10
	pFg.Legend.YOffs = -10

	pDur := plot.New()
	pDur.Title.Text = fmt.Sprintf("%s - Tick Duration", sp.source)
	pDur.X.Label.Text = "Tick"
	pDur.Y.Label.Text = "ms"
	durLine, err := plotter.NewLine(durPts)
	if err != nil {
		return 0, err
	}
	durLine.Color = color.RGBA{R: 60, G: 160, B: 80, A: 255}
	durLine.Width = vg.Points(1)
	pDur.Add(durLine)

	if err := pFg.Save(14*vg.Inch, 6*vg.Inch, filepath.Join(sp.outputDir, "foreground.png")); err != nil {
		return 0, fmt.Errorf("save foreground plot: %w", err)
	}
	if err := pDur.Save(14*vg.Inch, 6*vg.Inch, filepath.Join(sp.outputDir, "duration.png")); err != nil {
		return 1, fmt.Errorf("save duration plot: %w", err)
	}
	return 2, nil
}
