// Package testutil provides shared test fixtures for the motion packages:
// frame builders, an in-memory frame source and HTTP assertions.
package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/banshee-data/motiontrail/internal/motion/frame"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// DecodeJSON decodes a recorded response body into v, failing the test on
// error.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// UniformFrame returns a frame with every sample set to v.
func UniformFrame(w, h, channels int, v float32, source string) *frame.Frame {
	f := frame.New(w, h, channels)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	f.Source = source
	return f
}

// SquareFrame draws a size x size square of value fg at (x0, y0) over a
// uniform bg background.
func SquareFrame(w, h, channels int, bg, fg float32, x0, y0, size int, source string) *frame.Frame {
	f := UniformFrame(w, h, channels, bg, source)
	for y := y0; y < y0+size && y < h; y++ {
		for x := x0; x < x0+size && x < w; x++ {
			if x < 0 || y < 0 {
				continue
			}
			i := f.PixOffset(x, y)
			for c := 0; c < channels; c++ {
				f.Pix[i+c] = fg
			}
		}
	}
	return f
}

// SliceSource replays a fixed list of frames and then returns io.EOF.
type SliceSource struct {
	mu     sync.Mutex
	frames []*frame.Frame
	next   int
}

// NewSliceSource returns a source over frames.
func NewSliceSource(frames ...*frame.Frame) *SliceSource {
	return &SliceSource{frames: frames}
}

// Next returns the next frame, io.EOF when exhausted, or the context error.
func (s *SliceSource) Next(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	if f != nil {
		f.Seq = uint64(s.next)
	}
	return f, nil
}

// Name identifies the source.
func (s *SliceSource) Name() string { return "slice" }

// Served is the number of frames handed out so far.
func (s *SliceSource) Served() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
