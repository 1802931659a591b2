package frame

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minRowsPerBand keeps tiny frames on a single goroutine.
const minRowsPerBand = 16

// Rows splits [0, height) into contiguous bands and calls fn for each band
// concurrently. fn must only write rows inside its band. Rows returns once
// every band has finished.
func Rows(height int, fn func(y0, y1 int)) {
	if height <= 0 {
		return
	}
	workers := runtime.GOMAXPROCS(0)
	if max := (height + minRowsPerBand - 1) / minRowsPerBand; workers > max {
		workers = max
	}
	if workers <= 1 {
		fn(0, height)
		return
	}

	band := (height + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for y0 := 0; y0 < height; y0 += band {
		y1 := y0 + band
		if y1 > height {
			y1 = height
		}
		g.Go(func() error {
			fn(y0, y1)
			return nil
		})
	}
	_ = g.Wait()
}
