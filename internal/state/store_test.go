package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dynamicworkspace/presence-sensor/internal/features"
	"github.com/dynamicworkspace/presence-sensor/internal/posture"
)

func TestInitialStateIsFocus(t *testing.T) {
	s := New()
	p, _ := s.State()
	require.Equal(t, posture.Focus, p)
}

func TestConcurrentReadersWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			s.SetFeatures(features.Vector{BBoxArea: float64(n) / 50}, features.Quality{})
		}(i)
		go func() {
			defer wg.Done()
			s.Features()
		}()
	}
	wg.Wait()
}

func TestCalibrationSnapshotReflectsLatest(t *testing.T) {
	s := New()
	metric := -5.0
	s.SetLatest(&metric, 0.8)
	s.SetFeatures(features.Vector{EyesVisible: true, EyeDist: 0.12, HasFace: true, BBoxArea: 0.3}, features.Quality{})

	snap := s.CalibrationSnapshot()
	require.NotNil(t, snap.Metric)
	require.InDelta(t, -5.0, *snap.Metric, 1e-9)
	require.InDelta(t, 0.8, snap.Confidence, 1e-9)
	require.True(t, snap.EyesVisible)
	require.InDelta(t, 0.12, snap.EyeDist, 1e-9)
}
