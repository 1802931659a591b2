package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motiontrail/internal/monitoring"
	"github.com/banshee-data/motiontrail/internal/motion/background"
	"github.com/banshee-data/motiontrail/internal/motion/frame"
	"github.com/banshee-data/motiontrail/internal/motion/morph"
	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
	"github.com/banshee-data/motiontrail/internal/testutil"
	"github.com/banshee-data/motiontrail/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func settings() pipeline.Settings {
	s := pipeline.DefaultSettings()
	s.ResolutionScale = 1
	s.Morphology = morph.None
	return s
}

type recordingSink struct {
	mu   sync.Mutex
	outs []*pipeline.Output
	err  error
	got  chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 100)}
}

func (s *recordingSink) WriteOutput(out *pipeline.Output) error {
	s.mu.Lock()
	s.outs = append(s.outs, out)
	s.mu.Unlock()
	s.got <- struct{}{}
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outs)
}

type statsStore struct {
	mu      sync.Mutex
	batches [][]pipeline.TickStats
}

func (s *statsStore) InsertTickStats(sessionID string, stats []pipeline.TickStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]pipeline.TickStats(nil), stats...))
	return nil
}

func (s *statsStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type bgStore struct {
	mu      sync.Mutex
	reasons []string
}

func (s *bgStore) InsertBgSnapshot(row *background.BgSnapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, row.Reason)
	return int64(len(s.reasons)), nil
}

func frames(n int) []*frame.Frame {
	out := make([]*frame.Frame, n)
	for i := range out {
		out[i] = testutil.UniformFrame(4, 4, frame.ChannelsLuma, 30, "slice")
	}
	return out
}

func TestRunDrivenByMockClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := testutil.NewSliceSource(frames(3)...)
	stats := &statsStore{}
	snaps := &bgStore{}
	r := New(pipeline.New(pipeline.Options{}), src, settings(), Options{
		Interval:      10 * time.Millisecond,
		Clock:         clock,
		SessionID:     "sess",
		StatsStore:    stats,
		StatsEvery:    2,
		SnapshotStore: snaps,
	})
	sink := newRecordingSink()
	r.AddSink(sink)
	var observed int
	r.AddObserver(ObserverFunc(func(*pipeline.Output) { observed++ }))

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	tk := clock.WaitForTicker(1)
	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Millisecond)
		select {
		case <-sink.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not delivered", i)
		}
	}
	// The fourth tick finds the source exhausted.
	clock.Advance(10 * time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after EOF")
	}

	assert.True(t, tk.Stopped())
	assert.Equal(t, 3, sink.count())
	assert.Equal(t, 3, observed)
	assert.Equal(t, 3, stats.total(), "pending stats flushed at shutdown")
	assert.Equal(t, []string{"shutdown"}, snaps.reasons)

	st := r.Status()
	assert.False(t, st.Running)
	assert.Equal(t, uint64(3), st.Ticks)
	require.NotNil(t, st.LastTick)
	assert.Equal(t, uint64(3), st.LastTick.Tick)
	assert.Equal(t, "slice", st.Source)
}

func TestStepSkipsInvalidFrames(t *testing.T) {
	bad := frame.New(0, 0, 1)
	src := testutil.NewSliceSource(bad, frames(1)[0])
	r := New(pipeline.New(pipeline.Options{}), src, settings(), Options{})
	sink := newRecordingSink()
	r.AddSink(sink)

	require.NoError(t, r.Step(context.Background()))
	assert.Equal(t, uint64(1), r.Status().SkippedFrames)
	assert.Nil(t, r.Latest())

	require.NoError(t, r.Step(context.Background()))
	assert.NotNil(t, r.Latest())
	assert.Equal(t, 1, sink.count())
}

func TestRunStopsOnPipelineFailure(t *testing.T) {
	src := testutil.NewSliceSource(frames(5)...)
	snaps := &bgStore{}
	r := New(pipeline.New(pipeline.Options{MaxPixels: 4}), src, settings(), Options{
		Interval:      time.Millisecond,
		SnapshotStore: snaps,
	})
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrPipelineFailed))
	assert.Equal(t, 1, src.Served(), "no retry after a fatal failure")
	assert.Empty(t, snaps.reasons, "failed pipelines are not persisted")
}

func TestRunMaxTicksAndCancel(t *testing.T) {
	src := testutil.NewSliceSource(frames(50)...)
	r := New(pipeline.New(pipeline.Options{}), src, settings(), Options{
		Interval: time.Millisecond,
		MaxTicks: 4,
	})
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, uint64(4), r.Status().Ticks)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r2 := New(pipeline.New(pipeline.Options{}), testutil.NewSliceSource(frames(5)...), settings(), Options{Interval: time.Hour})
	require.NoError(t, r2.Run(ctx))
	assert.Zero(t, r2.Status().Ticks)
}

func TestSettingsSnapshotAndReset(t *testing.T) {
	a := testutil.UniformFrame(2, 2, frame.ChannelsLuma, 0, "cam")
	b := testutil.UniformFrame(2, 2, frame.ChannelsLuma, 200, "cam")
	src := testutil.NewSliceSource(a, b, b)
	r := New(pipeline.New(pipeline.Options{}), src, settings(), Options{})
	ctx := context.Background()

	require.NoError(t, r.Step(ctx))
	require.NoError(t, r.Step(ctx))
	assert.Equal(t, 1.0, r.Latest().Stats.MeanMask)

	s := r.Settings()
	s.Invert = true
	s.Threshold = 100 // clamped
	r.UpdateSettings(s)
	assert.Equal(t, float32(pipeline.MaxThreshold), r.Settings().Threshold)

	r.RequestReset("")
	require.NoError(t, r.Step(ctx))
	out := r.Latest()
	assert.Equal(t, pipeline.ResetRequest, out.Stats.ResetReason)
	assert.True(t, out.Settings.Invert)
	assert.Equal(t, 1.0, out.Stats.MeanMask, "inverted empty mask")
}

func TestRestoreAfterFirstTick(t *testing.T) {
	donor := pipeline.New(pipeline.Options{})
	_, err := donor.Tick(testutil.UniformFrame(4, 4, frame.ChannelsLuma, 90, "x"), settings())
	require.NoError(t, err)
	snap := donor.Snapshot()

	p := pipeline.New(pipeline.Options{})
	r := New(p, testutil.NewSliceSource(frames(2)...), settings(), Options{Restore: snap})
	require.NoError(t, r.Step(context.Background()))
	assert.Equal(t, snap.Mean, p.Snapshot().Mean)

	// frame value 30 against restored mean 90 is motion
	require.NoError(t, r.Step(context.Background()))
	assert.Equal(t, 1.0, r.Latest().Stats.MeanMask)
}

func TestSinkErrorsAreCounted(t *testing.T) {
	r := New(pipeline.New(pipeline.Options{}), testutil.NewSliceSource(frames(1)...), settings(), Options{})
	sink := newRecordingSink()
	sink.err = errors.New("disk full")
	r.AddSink(sink)
	require.NoError(t, r.Step(context.Background()))
	assert.Equal(t, uint64(1), r.Status().SinkErrors)
}

func TestIntervalSnapshots(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	snaps := &bgStore{}
	r := New(pipeline.New(pipeline.Options{}), testutil.NewSliceSource(frames(3)...), settings(), Options{
		Clock:            clock,
		SnapshotStore:    snaps,
		SnapshotInterval: time.Minute,
	})
	ctx := context.Background()
	require.NoError(t, r.Step(ctx))
	assert.Empty(t, snaps.reasons)

	clock.Advance(time.Minute)
	require.NoError(t, r.Step(ctx))
	require.NoError(t, r.Step(ctx))
	assert.Equal(t, []string{"interval"}, snaps.reasons)
	assert.Equal(t, uint64(1), r.Status().Snapshots)
}
