package pipeline

import (
	"errors"

	"github.com/banshee-data/motiontrail/internal/motion/background"
	"github.com/banshee-data/motiontrail/internal/motion/frame"
)

var (
	// ErrInvalidFrame marks a frame that was skipped without touching any
	// buffer.
	ErrInvalidFrame = frame.ErrInvalid

	// ErrModelResolutionMismatch is raised by the detector when model and
	// frame shapes differ. Tick recovers from it with an implicit reset.
	ErrModelResolutionMismatch = background.ErrResolutionMismatch

	// ErrBufferTooLarge is an allocation the pipeline refuses to make.
	ErrBufferTooLarge = errors.New("buffer too large")

	// ErrPipelineFailed is returned by every Tick after a fatal error.
	ErrPipelineFailed = errors.New("pipeline failed")

	// ErrNoModel is returned by Restore before the first tick has sized
	// the model.
	ErrNoModel = errors.New("no background model yet")
)
