// Package pipeline is the per-tick orchestrator of the motion stack.
//
// A Pipeline owns the background model, the mask and canvas ping-pong
// pairs and the morphology/compositing scratch. Each Tick runs, strictly in
// order: validation, resize/reset handling, frame preparation, the
// detector pass, morphology, compositing and the index swap.
//
// This package is the composition root for frame, background, morph and
// effects; none of those import pipeline.
package pipeline
