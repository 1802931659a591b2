package source

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/banshee-data/motiontrail/internal/motion/frame"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// ImageSequence replays the images of a directory in file-name order.
type ImageSequence struct {
	dir   string
	files []string
	next  int
	seq   uint64
	loop  bool
}

// NewImageSequence lists dir. With loop the sequence restarts at the first
// file instead of returning io.EOF.
func NewImageSequence(dir string, loop bool) (*ImageSequence, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no png, jpeg or webp images in %s", dir)
	}
	sort.Strings(files)
	return &ImageSequence{dir: dir, files: files, loop: loop}, nil
}

// Name identifies the source by its directory.
func (s *ImageSequence) Name() string { return s.dir }

// Len is the number of images found.
func (s *ImageSequence) Len() int { return len(s.files) }

// Next decodes the next image. A file that fails to decode is returned as
// an error and skipped on the following call.
func (s *ImageSequence) Next(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.files) {
		if !s.loop {
			return nil, io.EOF
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++

	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	s.seq++
	f := frame.FromImage(img)
	f.Source = s.dir
	f.Seq = s.seq
	f.Timestamp = time.Now()
	return f, nil
}

func decodeFile(path string) (image.Image, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	img, _, err := image.Decode(fd)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
