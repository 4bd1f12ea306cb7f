package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Simulated is a deterministic capture.Source used for tests and for
// running the pipeline without a camera attached. It generates synthetic
// BGR frames whose brightness and content can be driven by tests, mirroring
// the "simulate" mode of the camera reader this package is grounded on
// (other_examples camera_reader.go's Out-channel-with-ticker pattern,
// adapted to a blocking Read call instead of a channel).
type Simulated struct {
	mu sync.Mutex

	width, height int
	fps           float64
	available     map[int]bool
	current       int
	opened        bool
	failing       bool // forces Read to return ErrCameraUnavailable
	seq           uint64

	// Brightness drives the mean pixel value returned by generated frames;
	// tests use this to exercise low_light / motion_blur health flags.
	Brightness uint8
	// FaceSynthetic, when true, biases the generated pixel pattern so a
	// paired synthetic detector can report a plausible detection; unused by
	// the capture adapter itself, kept for test readability.
	FaceSynthetic bool
}

// NewSimulated builds a simulated source with the given default resolution
// and the set of camera indices that Probe/Open will treat as available.
func NewSimulated(width, height int, availableIndices ...int) *Simulated {
	avail := make(map[int]bool, len(availableIndices))
	for _, i := range availableIndices {
		avail[i] = true
	}
	if len(avail) == 0 {
		avail[0] = true
	}
	return &Simulated{
		width:      width,
		height:     height,
		fps:        30,
		available:  avail,
		Brightness: 110,
	}
}

func (s *Simulated) Open(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.available[index] {
		return &ErrCameraUnavailable{Index: index, Err: fmt.Errorf("index not present")}
	}
	s.current = index
	s.opened = true
	s.failing = false
	slog.Info("capture: opened", "index", index, "width", s.width, "height", s.height)
	return nil
}

func (s *Simulated) Resolution() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *Simulated) Read(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	opened := s.opened
	failing := s.failing
	idx := s.current
	w, h := s.width, s.height
	brightness := s.Brightness
	s.seq++
	s.mu.Unlock()

	if !opened {
		return Frame{}, &ErrCameraUnavailable{Index: idx, Err: fmt.Errorf("not open")}
	}
	if failing {
		return Frame{}, &ErrCameraUnavailable{Index: idx, Err: fmt.Errorf("read failed")}
	}

	// Idle pacing floor: even a synthetic source should not spin a core
	// producing frames faster than a real camera would (spec's
	// "idle frame pacing" behavior, SPEC_FULL supplement #4).
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-time.After(time.Duration(float64(time.Second) / math.Max(s.fps, 1))):
	}

	stride := w * 3
	pix := make([]byte, stride*h)
	for i := range pix {
		pix[i] = brightness
	}
	return Frame{Width: w, Height: h, Stride: stride, Pix: pix, Timestamp: time.Now()}, nil
}

func (s *Simulated) Probe(ctx context.Context, maxIndex int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []int
	for i := 0; i < maxIndex; i++ {
		if s.available[i] {
			found = append(found, i)
		}
	}
	return found
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

// SetFailing forces subsequent Read calls to report ErrCameraUnavailable,
// simulating a camera disconnect (exercises health.camera_error / PAUSED).
func (s *Simulated) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// SetAvailable adds or removes an index from the probe/open whitelist.
func (s *Simulated) SetAvailable(index int, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available[index] = available
}

// SetBrightness updates the mean pixel value of subsequently-generated
// frames.
func (s *Simulated) SetBrightness(b uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Brightness = b
}

// SetFPS overrides the pacing rate Read uses, letting tests trade realism
// for speed.
func (s *Simulated) SetFPS(fps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fps = fps
}
