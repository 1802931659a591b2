// Package background holds the adaptive per-pixel background model and the
// detector pass that scores each pixel against it.
//
// The model keeps a running mean (one or three channels, depending on
// Mode) and a single-channel running variance per pixel. Both live in an
// index-selected pair of buffers: a detector pass reads set Index() and
// writes set 1-Index(), and the owner calls Swap once the tick is done.
//
// Adaptation is selective. The update weight is AdaptationRate*(1-score),
// so pixels scored as motion are not absorbed into the background.
//
// Snapshots of the model can be serialised with gob+gzip and written to a
// BgStore so a restart at the same processing shape skips the warmup.
package background
