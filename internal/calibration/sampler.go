package calibration

import (
	"errors"
	"math"
	"time"
)

// ErrMissingPhase is returned by Finalize when either phase has not yet
// completed a successful sampling window (spec §4.6 Errors).
var ErrMissingPhase = errors.New("missing_phase")

// Phase identifies which sampling window is being collected.
type Phase string

const (
	PhaseReview Phase = "REVIEW"
	PhaseFocus  Phase = "FOCUS"
)

const (
	defaultSampleDuration = 3 * time.Second
	defaultSampleTick     = 50 * time.Millisecond
	defaultMinConfidence  = 0.5

	minMetricSamples = 10
	minSummarySamples = 5
)

// Snapshot is the subset of the shared state store the sampler reads each
// tick (spec §4.6: "Every tick, if metric exists and latest pipeline
// confidence >= 0.5, append metric; ..."). Defined locally rather than
// importing the state package, since the calibration service only ever
// needs this narrow read, supplied by the caller as a closure (spec §5:
// "Calibration sampling runs inside the receiver task as a cooperative
// timed loop reading snapshots from the shared store").
type Snapshot struct {
	Metric      *float64
	Confidence  float64
	EyesVisible bool
	EyeDist     float64
	HasFace     bool
	BBoxArea    float64
}

// FaceMeans is the per-phase eye_dist/bbox_area summary (spec §6.3
// calib_result_phase.face_means).
type FaceMeans struct {
	EyeDist  *float64
	BBoxArea *float64
	EyeN     int
	BBoxN    int
}

// PhaseResult is one phase's sampling outcome.
type PhaseResult struct {
	OK     bool
	Reason string // "insufficient_samples" when !OK
	N      int
	Mean   float64
	Std    float64
	Stable bool
	FaceMeans FaceMeans
}

// RunPhase is the production entry point for a calibrate_phase command: it
// runs CollectPhaseSamples with the package's default tick, minimum
// confidence, and real time.Sleep, defaulting duration when duration <= 0.
func RunPhase(snapshot func() Snapshot, duration time.Duration) PhaseResult {
	return CollectPhaseSamples(snapshot, duration, defaultSampleTick, defaultMinConfidence, nil)
}

// CollectPhaseSamples runs the fixed-duration sampling window, polling
// snapshot every tick (spec §4.6). sleep defaults to time.Sleep; tests
// inject a faster stand-in.
func CollectPhaseSamples(snapshot func() Snapshot, duration, tick time.Duration, minConfidence float64, sleep func(time.Duration)) PhaseResult {
	if sleep == nil {
		sleep = time.Sleep
	}
	if duration <= 0 {
		duration = defaultSampleDuration
	}
	if tick <= 0 {
		tick = defaultSampleTick
	}

	var mSamples, eyeSamples, bboxSamples []float64
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		s := snapshot()
		if s.Metric != nil && s.Confidence >= minConfidence {
			mSamples = append(mSamples, *s.Metric)
		}
		if s.EyesVisible {
			eyeSamples = append(eyeSamples, s.EyeDist)
		}
		if s.HasFace {
			bboxSamples = append(bboxSamples, s.BBoxArea)
		}
		sleep(tick)
	}

	if len(mSamples) < minMetricSamples {
		return PhaseResult{OK: false, Reason: "insufficient_samples", N: len(mSamples)}
	}

	mMean, mStd, n, _ := summarize(mSamples)
	eyeMean, eyeN := summarizePtr(eyeSamples)
	bboxMean, bboxN := summarizePtr(bboxSamples)

	stable := mStd <= maxF(0.6, 0.05*absF(mMean))

	return PhaseResult{
		OK: true, N: n, Mean: mMean, Std: mStd, Stable: stable,
		FaceMeans: FaceMeans{EyeDist: eyeMean, BBoxArea: bboxMean, EyeN: eyeN, BBoxN: bboxN},
	}
}

// summarize returns (mean, std, n, ok), where ok is false when n is below
// minSummarySamples and mean/std are meaningless zero values (spec §4.6:
// "summaries ... computed only when count >= 5").
func summarize(samples []float64) (mean, std float64, n int, ok bool) {
	n = len(samples)
	if n < minSummarySamples {
		return 0, 0, n, false
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean = sum / float64(n)
	var variance float64
	for _, v := range samples {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)
	return mean, math.Sqrt(variance), n, true
}

// summarizePtr adapts summarize to the nullable FaceMeans shape: a nil mean
// when there aren't enough samples to trust one.
func summarizePtr(samples []float64) (*float64, int) {
	mean, _, n, ok := summarize(samples)
	if !ok {
		return nil, n
	}
	return &mean, n
}

// Service tracks the two phases' latest results across a calibrate_phase /
// calibrate_finalize command sequence.
type Service struct {
	review *PhaseResult
	focus  *PhaseResult
}

// NewService returns a service with no phase results yet.
func NewService() *Service {
	return &Service{}
}

// RecordPhase stores the result of a completed phase sampling window.
func (s *Service) RecordPhase(phase Phase, result PhaseResult) {
	r := result
	if phase == PhaseReview {
		s.review = &r
	} else {
		s.focus = &r
	}
}

// Finalize derives and returns a Profile from the two most recently
// recorded phase results (spec §4.6 Finalize). Returns ErrMissingPhase if
// either phase has not completed successfully.
func (s *Service) Finalize(dwellMs int64, now time.Time) (Profile, error) {
	if s.review == nil || !s.review.OK || s.focus == nil || !s.focus.OK {
		return Profile{}, ErrMissingPhase
	}

	thresholds := deriveThresholds(s.review.Mean, s.focus.Mean, dwellMs)

	return Profile{
		V:      schemaVersion,
		Metric: "nose_world_z_x100",
		ReviewMean: s.review.Mean, ReviewStd: s.review.Std,
		FocusMean: s.focus.Mean, FocusStd: s.focus.Std,
		Thresholds: thresholds,
		FaceBaselines: FaceBaselines{
			Review: FaceBaseline{EyeDist: s.review.FaceMeans.EyeDist, BBoxArea: s.review.FaceMeans.BBoxArea},
			Focus:  FaceBaseline{EyeDist: s.focus.FaceMeans.EyeDist, BBoxArea: s.focus.FaceMeans.BBoxArea},
		},
		CreatedAt: isoUTCNow(now),
	}, nil
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
