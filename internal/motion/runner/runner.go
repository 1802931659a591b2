// Package runner drives a pipeline at a fixed cadence: one frame pulled
// from a Source per ticker interval, one Tick, then the finished output
// handed to every Sink and Observer in order.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/banshee-data/motiontrail/internal/monitoring"
	"github.com/banshee-data/motiontrail/internal/motion/background"
	"github.com/banshee-data/motiontrail/internal/motion/frame"
	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
	"github.com/banshee-data/motiontrail/internal/timeutil"
)

var logf = monitoring.Component("runner")

// Source supplies decoded frames. Next blocks until a frame is ready and
// returns io.EOF when the stream has ended.
type Source interface {
	Next(ctx context.Context) (*frame.Frame, error)
	Name() string
}

// Sink consumes every finished output synchronously, e.g. a capture
// writer. A sink error is counted and logged; it does not stop the run.
type Sink interface {
	WriteOutput(out *pipeline.Output) error
}

// Observer is notified after the sinks. Observers must not block.
type Observer interface {
	Observe(out *pipeline.Output)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(out *pipeline.Output)

// Observe calls f.
func (f ObserverFunc) Observe(out *pipeline.Output) { f(out) }

// StatsStore persists batches of tick statistics.
type StatsStore interface {
	InsertTickStats(sessionID string, stats []pipeline.TickStats) error
}

// Options configure a Runner.
type Options struct {
	Interval time.Duration  // default 33ms
	Clock    timeutil.Clock // default RealClock
	MaxTicks uint64         // stop after this many successful ticks; 0 = unbounded

	SessionID  string
	StatsStore StatsStore
	StatsEvery int // batch size for StatsStore; default 30

	SnapshotStore    background.BgStore
	SnapshotInterval time.Duration // 0 disables interval snapshots

	// Restore is loaded into the model after the first successful tick
	// when its shape matches.
	Restore *background.Snapshot
}

// Status is a point-in-time view of the runner.
type Status struct {
	Running       bool           `json:"running"`
	Source        string         `json:"source"`
	SessionID     string         `json:"session_id"`
	Ticks         uint64         `json:"ticks"`
	SkippedFrames uint64         `json:"skipped_frames"`
	SourceErrors  uint64         `json:"source_errors"`
	SinkErrors    uint64         `json:"sink_errors"`
	Snapshots     uint64         `json:"snapshots"`
	Pipeline      pipeline.Stats `json:"pipeline"`
	LastTick      *TickSummary   `json:"last_tick,omitempty"`
}

// TickSummary is the JSON form of the latest TickStats.
type TickSummary struct {
	Tick               uint64  `json:"tick"`
	ForegroundFraction float64 `json:"foreground_fraction"`
	MeanMask           float64 `json:"mean_mask"`
	DurationMicros     int64   `json:"duration_us"`
	ProcWidth          int     `json:"proc_width"`
	ProcHeight         int     `json:"proc_height"`
	ResetReason        string  `json:"reset_reason,omitempty"`
}

// Runner owns the tick loop around one pipeline.
type Runner struct {
	p    *pipeline.Pipeline
	src  Source
	opts Options

	settings atomic.Pointer[pipeline.Settings]
	resetReq atomic.String

	sinks     []Sink
	observers []Observer

	mu   sync.RWMutex
	last *pipeline.Output

	running      atomic.Bool
	ticks        atomic.Uint64
	skipped      atomic.Uint64
	sourceErrors atomic.Uint64
	sinkErrors   atomic.Uint64
	snapshots    atomic.Uint64

	pendingStats []pipeline.TickStats
	lastSnapshot time.Time
	restored     bool
}

// New returns a runner with the initial settings snapshot s.
func New(p *pipeline.Pipeline, src Source, s pipeline.Settings, opts Options) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = 33 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.StatsEvery <= 0 {
		opts.StatsEvery = 30
	}
	r := &Runner{p: p, src: src, opts: opts}
	r.UpdateSettings(s)
	r.lastSnapshot = opts.Clock.Now()
	return r
}

// AddSink registers a sink. Not safe to call once Run has started.
func (r *Runner) AddSink(s Sink) { r.sinks = append(r.sinks, s) }

// AddObserver registers an observer. Not safe to call once Run has started.
func (r *Runner) AddObserver(o Observer) { r.observers = append(r.observers, o) }

// Settings returns the snapshot the next tick will use.
func (r *Runner) Settings() pipeline.Settings { return *r.settings.Load() }

// UpdateSettings replaces the settings snapshot. A tick in progress keeps
// the snapshot it started with.
func (r *Runner) UpdateSettings(s pipeline.Settings) {
	s = s.Clamp()
	r.settings.Store(&s)
}

// RequestReset forces a background reset on the next tick.
func (r *Runner) RequestReset(reason string) {
	if reason == "" {
		reason = pipeline.ResetRequest
	}
	r.resetReq.Store(reason)
}

// Latest returns the most recent output, nil before the first tick.
func (r *Runner) Latest() *pipeline.Output {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Status reports counters and the latest tick.
func (r *Runner) Status() Status {
	st := Status{
		Running:       r.running.Load(),
		Source:        r.src.Name(),
		SessionID:     r.opts.SessionID,
		Ticks:         r.ticks.Load(),
		SkippedFrames: r.skipped.Load(),
		SourceErrors:  r.sourceErrors.Load(),
		SinkErrors:    r.sinkErrors.Load(),
		Snapshots:     r.snapshots.Load(),
		Pipeline:      r.p.Stats(),
	}
	if out := r.Latest(); out != nil {
		st.LastTick = &TickSummary{
			Tick:               out.Stats.Tick,
			ForegroundFraction: out.Stats.ForegroundFraction,
			MeanMask:           out.Stats.MeanMask,
			DurationMicros:     out.Stats.Duration.Microseconds(),
			ProcWidth:          out.Stats.ProcWidth,
			ProcHeight:         out.Stats.ProcHeight,
			ResetReason:        out.Stats.ResetReason,
		}
	}
	return st
}

// Run ticks until ctx is cancelled, the source ends, MaxTicks is reached
// or the pipeline fails. Pending stats are flushed and a final model
// snapshot is written before it returns. Only a pipeline failure is
// returned as an error.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("runner already running")
	}
	defer r.running.Store(false)

	ticker := r.opts.Clock.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	logf("Started: source=%s interval=%s session=%s", r.src.Name(), r.opts.Interval, r.opts.SessionID)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C():
		}

		err := r.Step(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			logf("Source %s ended", r.src.Name())
			break loop
		case errors.Is(err, pipeline.ErrPipelineFailed):
			runErr = err
			break loop
		case ctx.Err() != nil:
			break loop
		default:
			r.sourceErrors.Inc()
			logf("Source error: %v", err)
		}
		if r.opts.MaxTicks > 0 && r.ticks.Load() >= r.opts.MaxTicks {
			break loop
		}
	}

	r.shutdown()
	logf("Stopped: ticks=%d skipped=%d", r.ticks.Load(), r.skipped.Load())
	return runErr
}

// Step pulls one frame and runs one tick. An invalid frame is counted and
// skipped (nil error). Source errors, including io.EOF, and pipeline
// failures are returned.
func (r *Runner) Step(ctx context.Context) error {
	f, err := r.src.Next(ctx)
	if err != nil {
		return err
	}

	if reason := r.resetReq.Swap(""); reason != "" {
		r.p.Reset(reason)
	}
	s := r.Settings()

	out, err := r.p.Tick(f, s)
	if errors.Is(err, pipeline.ErrInvalidFrame) {
		r.skipped.Inc()
		logf("Skipped frame seq=%d: %v", f.Seq, err)
		return nil
	}
	if err != nil {
		return err
	}
	r.ticks.Inc()

	if r.opts.Restore != nil && !r.restored {
		r.restored = true
		if err := r.p.Restore(r.opts.Restore); err != nil {
			logf("Stored background not restored: %v", err)
		} else {
			logf("Restored stored background %dx%d", r.opts.Restore.Width, r.opts.Restore.Height)
		}
	}

	for _, sink := range r.sinks {
		if err := sink.WriteOutput(out); err != nil {
			r.sinkErrors.Inc()
			logf("Sink error on tick %d: %v", out.Tick, err)
		}
	}
	for _, o := range r.observers {
		o.Observe(out)
	}

	r.mu.Lock()
	r.last = out
	r.mu.Unlock()

	if r.opts.StatsStore != nil {
		r.pendingStats = append(r.pendingStats, out.Stats)
		if len(r.pendingStats) >= r.opts.StatsEvery {
			r.flushStats()
		}
	}

	if r.opts.SnapshotStore != nil && r.opts.SnapshotInterval > 0 &&
		r.opts.Clock.Since(r.lastSnapshot) >= r.opts.SnapshotInterval {
		r.persist("interval")
	}
	return nil
}

func (r *Runner) flushStats() {
	if len(r.pendingStats) == 0 {
		return
	}
	if err := r.opts.StatsStore.InsertTickStats(r.opts.SessionID, r.pendingStats); err != nil {
		logf("Failed to store %d tick stats: %v", len(r.pendingStats), err)
	}
	r.pendingStats = r.pendingStats[:0]
}

func (r *Runner) persist(reason string) {
	r.lastSnapshot = r.opts.Clock.Now()
	id, err := r.p.Persist(r.opts.SnapshotStore, r.opts.SessionID, reason)
	if err != nil {
		logf("Failed to persist background (%s): %v", reason, err)
		return
	}
	if id != 0 {
		r.snapshots.Inc()
	}
}

func (r *Runner) shutdown() {
	if r.opts.StatsStore != nil {
		r.flushStats()
	}
	if r.opts.SnapshotStore != nil && !r.p.Stats().Failed {
		r.persist("shutdown")
	}
}
