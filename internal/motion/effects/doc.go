// Package effects turns a source frame and a cleaned motion mask into the
// finished display-resolution picture.
//
// Output is drawn into a Canvas: float32 RGBA in [0,1] where the alpha
// channel carries motion coverage. The mask lives at processing resolution
// and is sampled bilinearly at display resolution.
//
// electricTrails and heatmap are persistent: they start from the previous
// canvas faded by the persistence factor instead of clearing, which gives
// exponentially decaying trails. Every other style clears to black first.
package effects
