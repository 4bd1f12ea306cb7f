// Package capture defines the narrow interface the pipeline uses to pull
// frames from a video source. The actual camera driver is out of scope for
// this system (spec §1 Non-goals / out-of-scope collaborators) — this
// package only owns the contract plus a simulated adapter used for tests
// and for running the sensor without real hardware attached.
package capture

import (
	"context"
	"fmt"
	"time"
)

// Frame is a single BGR24 pixel grid plus its capture timestamp. Transient:
// it is never retained across pipeline stages (spec §3).
type Frame struct {
	Width     int
	Height    int
	Stride    int // bytes per row, >= Width*3
	Pix       []byte
	Timestamp time.Time
}

// At returns the B, G, R bytes for pixel (x, y).
func (f Frame) At(x, y int) (b, g, r byte) {
	off := y*f.Stride + x*3
	return f.Pix[off], f.Pix[off+1], f.Pix[off+2]
}

// ErrCameraUnavailable is returned by Open/Read when the requested camera
// index cannot be opened or a previously-open device stops producing
// frames. The pipeline maps this to health.camera_error (spec §4.4/§7).
type ErrCameraUnavailable struct {
	Index int
	Err   error
}

func (e *ErrCameraUnavailable) Error() string {
	return fmt.Sprintf("camera %d unavailable: %v", e.Index, e.Err)
}

func (e *ErrCameraUnavailable) Unwrap() error { return e.Err }

// Source is the capture adapter contract: open a camera by index, yield BGR
// frames, report the device's configured resolution, and support probing
// for available indices plus an atomic switch to a different index (spec
// §4 Capture adapter, §5 "On a camera-switch request, the pipeline
// atomically reopens the device at the next frame boundary").
type Source interface {
	// Open acquires the device at index. Safe to call again after Close.
	Open(ctx context.Context, index int) error

	// Read blocks until the next frame is available, or returns
	// ErrCameraUnavailable if the device stopped producing frames.
	Read(ctx context.Context) (Frame, error)

	// Resolution reports the currently-open device's configured width and
	// height. Valid only after a successful Open.
	Resolution() (width, height int)

	// Probe reports which indices in [0, maxIndex) currently open and
	// produce at least one frame. Used to answer the "cameras" command
	// (spec §6.3) without disturbing the currently-open device.
	Probe(ctx context.Context, maxIndex int) []int

	// Close releases the current device. Safe to call when not open.
	Close() error
}
