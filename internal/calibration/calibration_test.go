package calibration

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCollectPhaseSamplesInsufficientSamples(t *testing.T) {
	calls := 0
	snap := func() Snapshot {
		calls++
		return Snapshot{}
	}
	noSleep := func(time.Duration) {}
	result := CollectPhaseSamples(snap, 10*time.Millisecond, time.Millisecond, 0.5, noSleep)
	require.False(t, result.OK)
	require.Equal(t, "insufficient_samples", result.Reason)
}

func TestCollectPhaseSamplesAccumulates(t *testing.T) {
	metric := -10.0
	n := 0
	snap := func() Snapshot {
		n++
		return Snapshot{Metric: &metric, Confidence: 0.9, EyesVisible: true, EyeDist: 0.1, HasFace: true, BBoxArea: 0.2}
	}
	ticks := 0
	fastSleep := func(time.Duration) { ticks++ }

	result := CollectPhaseSamples(snap, 20*time.Millisecond, time.Millisecond, 0.5, fastSleep)
	require.True(t, result.OK)
	require.GreaterOrEqual(t, result.N, minMetricSamples)
	require.InDelta(t, -10, result.Mean, 1e-9)
	require.True(t, result.Stable)
	require.NotNil(t, result.FaceMeans.EyeDist)
	require.InDelta(t, 0.1, *result.FaceMeans.EyeDist, 1e-9)
}

func TestFinalizeRequiresBothPhases(t *testing.T) {
	s := NewService()
	_, err := s.Finalize(750, time.Now())
	require.ErrorIs(t, err, ErrMissingPhase)

	s.RecordPhase(PhaseReview, PhaseResult{OK: true, Mean: -10, Std: 1})
	_, err = s.Finalize(750, time.Now())
	require.ErrorIs(t, err, ErrMissingPhase)
}

func TestFinalizeProducesValidProfile(t *testing.T) {
	s := NewService()
	eye := 0.08
	bbox := 0.06
	s.RecordPhase(PhaseReview, PhaseResult{OK: true, Mean: -10, Std: 1, FaceMeans: FaceMeans{EyeDist: &eye, BBoxArea: &bbox}})
	eyeF := 0.15
	bboxF := 0.2
	s.RecordPhase(PhaseFocus, PhaseResult{OK: true, Mean: 10, Std: 1, FaceMeans: FaceMeans{EyeDist: &eyeF, BBoxArea: &bboxF}})

	p, err := s.Finalize(750, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, p.Validate())
	require.Less(t, p.Thresholds.TFocusIn, p.Thresholds.TReviewIn)
	require.Equal(t, "2026-01-01T00:00:00.000Z", p.CreatedAt)
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStoreAt(filepath.Join(dir, "calibration.json"))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, Default(), loaded)

	p := Default()
	p.ReviewMean = -12.5
	p.FocusMean = 14.0
	p.Thresholds = deriveThresholds(p.ReviewMean, p.FocusMean, 750)

	require.NoError(t, store.Save(p))

	reloaded, err := store.Load()
	require.NoError(t, err)
	require.InDelta(t, p.Thresholds.Mid, reloaded.Thresholds.Mid, 1e-9)
	require.InDelta(t, p.Thresholds.TFocusIn, reloaded.Thresholds.TFocusIn, 1e-9)
	require.InDelta(t, p.Thresholds.TReviewIn, reloaded.Thresholds.TReviewIn, 1e-9)
}
