// Package vector batches fixed-dimension vectors through cached compute
// pipelines with adaptive quantization.
//
// A StabilityTracker records the outcome of every batch and selects the
// quantization level for the next one: repeated failures force aggressive
// compression, a long regression-free window permits an upscale attempt,
// and everything in between follows a memory pressure ladder. Quantization
// formats and their wire layout live in quantization.go.
package vector
