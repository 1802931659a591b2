package monitor

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
)

// DefaultHistorySize is roughly 20s of ticks at 30fps.
const DefaultHistorySize = 600

// History keeps the most recent TickStats in a ring buffer. It is a
// runner observer.
type History struct {
	mu    sync.Mutex
	buf   []pipeline.TickStats
	next  int
	count int
}

// NewHistory returns a history holding up to size ticks.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]pipeline.TickStats, size)}
}

// Observe records the stats of a finished tick.
func (h *History) Observe(out *pipeline.Output) {
	if out == nil {
		return
	}
	h.Add(out.Stats)
}

// Add records one tick.
func (h *History) Add(s pipeline.TickStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = s
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// Len returns the number of ticks held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Ticks returns the held ticks, oldest first.
func (h *History) Ticks() []pipeline.TickStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]pipeline.TickStats, 0, h.count)
	start := (h.next - h.count + len(h.buf)) % len(h.buf)
	for i := 0; i < h.count; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

// Summary describes the foreground fraction over the held ticks.
type Summary struct {
	Count              int     `json:"count"`
	MeanForeground     float64 `json:"mean_foreground"`
	StdDevForeground   float64 `json:"stddev_foreground"`
	MedianForeground   float64 `json:"median_foreground"`
	P95Foreground      float64 `json:"p95_foreground"`
	MaxForeground      float64 `json:"max_foreground"`
	MeanDurationMicros float64 `json:"mean_duration_us"`
	Resets             int     `json:"resets"`
}

// Summary computes statistics over the held ticks.
func (h *History) Summary() Summary {
	ticks := h.Ticks()
	sum := Summary{Count: len(ticks)}
	if len(ticks) == 0 {
		return sum
	}

	fg := make([]float64, len(ticks))
	dur := make([]float64, len(ticks))
	for i, t := range ticks {
		fg[i] = t.ForegroundFraction
		dur[i] = float64(t.Duration.Microseconds())
		if t.Reset {
			sum.Resets++
		}
	}
	if len(fg) > 1 {
		sum.MeanForeground, sum.StdDevForeground = stat.MeanStdDev(fg, nil)
	} else {
		sum.MeanForeground = fg[0]
	}
	sum.MeanDurationMicros = stat.Mean(dur, nil)
	sum.MaxForeground = floats.Max(fg)

	sort.Float64s(fg)
	sum.MedianForeground = stat.Quantile(0.5, stat.Empirical, fg, nil)
	sum.P95Foreground = stat.Quantile(0.95, stat.Empirical, fg, nil)
	return sum
}
