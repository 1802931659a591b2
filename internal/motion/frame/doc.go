// Package frame owns the pixel buffers that flow through the motion pipeline.
//
// Responsibilities: decoded input frames (Frame), single-channel float
// planes used for masks and variance (Plane), conversion from image.Image,
// resampling to processing resolution and pre-blur, and the row-banded
// parallel helper every per-pixel pass runs on.
//
// Samples are float32 in pixel-intensity units: 0..255 for every channel.
// No package in internal/motion imports anything above frame.
package frame
