package sink

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motiontrail/internal/motion/frame"
	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
)

func output(tick uint64) *pipeline.Output {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	img.Pix[3] = 255
	mask := frame.NewPlane(2, 1)
	mask.Pix[1] = 1
	return &pipeline.Output{Tick: tick, Image: img, Mask: mask}
}

func TestPNGDirWritesEveryNth(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s, err := NewPNGDir(dir, 2, true)
	require.NoError(t, err)

	for tick := uint64(1); tick <= 4; tick++ {
		require.NoError(t, s.WriteOutput(output(tick)))
	}
	assert.Equal(t, uint64(2), s.Written())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"frame_000001.png", "mask_000001.png", "frame_000003.png", "mask_000003.png"}, names)

	fd, err := os.Open(filepath.Join(dir, "mask_000003.png"))
	require.NoError(t, err)
	defer fd.Close()
	img, err := png.Decode(fd)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())
}

func TestPNGDirIgnoresEmptyOutput(t *testing.T) {
	s, err := NewPNGDir(t.TempDir(), 0, false)
	require.NoError(t, err)
	require.NoError(t, s.WriteOutput(nil))
	require.NoError(t, s.WriteOutput(&pipeline.Output{Tick: 1}))
	assert.Zero(t, s.Written())
	require.NoError(t, s.WriteOutput(output(2)))
	assert.Equal(t, uint64(1), s.Written())
}
