// Package monitoring holds the replaceable package logger shared by the
// runner, the store and the background persistence code.
package monitoring

import (
	"io"
	"log"

	"go.uber.org/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetOutput points Logf at w with microsecond timestamps. A nil writer
// mutes it.
func SetOutput(w io.Writer) {
	if w == nil {
		SetLogger(nil)
		return
	}
	SetLogger(log.New(w, "", log.LstdFlags|log.Lmicroseconds).Printf)
}

// Component returns a logger that prefixes every line with "[name] " and
// forwards to whatever Logf is at call time.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}

// Sampler logs one call in every n, for per-tick messages that would
// otherwise flood the log.
type Sampler struct {
	n     uint64
	count atomic.Uint64
	logf  func(format string, v ...interface{})
}

// NewSampler wraps logf. n below 1 logs every call.
func NewSampler(n int, logf func(format string, v ...interface{})) *Sampler {
	if n < 1 {
		n = 1
	}
	return &Sampler{n: uint64(n), logf: logf}
}

// Logf logs when the call count is a multiple of n, starting with the first.
func (s *Sampler) Logf(format string, v ...interface{}) {
	c := s.count.Inc() - 1
	if c%s.n == 0 {
		s.logf(format, v...)
	}
}
