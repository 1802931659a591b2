package source

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motiontrail/internal/motion/frame"
)

func TestSyntheticFrames(t *testing.T) {
	ctx := context.Background()
	g := NewSynthetic(48, 32, 1)
	g.MaxFrame = 2

	a, err := g.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Validate())
	assert.Equal(t, frame.ChannelsRGB, a.Channels)
	assert.Equal(t, "synthetic", a.Source)
	assert.Equal(t, uint64(1), a.Seq)

	b, err := g.Next(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.Pix, b.Pix, "squares move between frames")

	_, err = g.Next(ctx)
	assert.True(t, errors.Is(err, io.EOF))

	// Same seed, same first frame.
	c, err := NewSynthetic(48, 32, 1).Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.Pix, c.Pix)
}

func TestSyntheticInvalid(t *testing.T) {
	_, err := NewSynthetic(0, 10, 1).Next(context.Background())
	assert.Error(t, err)
}

func writePNG(t *testing.T, path string, v uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	fd, err := os.Create(path)
	require.NoError(t, err)
	defer fd.Close()
	require.NoError(t, png.Encode(fd, img))
}

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.Set(x, y, color.RGBA{200, 100, 50, 255})
		}
	}
	fd, err := os.Create(path)
	require.NoError(t, err)
	defer fd.Close()
	require.NoError(t, jpeg.Encode(fd, img, &jpeg.Options{Quality: 95}))
}

func TestImageSequence(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "002.png"), 20)
	writePNG(t, filepath.Join(dir, "001.png"), 10)
	writeJPEG(t, filepath.Join(dir, "003.jpg"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	seq, err := NewImageSequence(dir, false)
	require.NoError(t, err)
	assert.Equal(t, 3, seq.Len())

	ctx := context.Background()
	f, err := seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, frame.ChannelsLuma, f.Channels)
	assert.Equal(t, float32(10), f.Pix[0], "sorted by name")
	assert.Equal(t, dir, f.Source)

	f, err = seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(20), f.Pix[0])

	f, err = seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, frame.ChannelsRGB, f.Channels)
	assert.InDelta(t, 200, f.Pix[0], 8)
	assert.Equal(t, uint64(3), f.Seq)

	_, err = seq.Next(ctx)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestImageSequenceLoop(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 1)
	seq, err := NewImageSequence(dir, true)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		f, err := seq.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), f.Seq)
	}
}

func TestImageSequenceErrors(t *testing.T) {
	_, err := NewImageSequence(filepath.Join(t.TempDir(), "missing"), false)
	assert.Error(t, err)

	empty := t.TempDir()
	_, err = NewImageSequence(empty, false)
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("nope"), 0644))
	writePNG(t, filepath.Join(dir, "ok.png"), 5)
	seq, err := NewImageSequence(dir, false)
	require.NoError(t, err)
	_, err = seq.Next(context.Background())
	assert.Error(t, err, "broken file reported")
	f, err := seq.Next(context.Background())
	require.NoError(t, err, "and skipped")
	assert.Equal(t, float32(5), f.Pix[0])
}
