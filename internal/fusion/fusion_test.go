package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinNormEndpointsAndMonotone(t *testing.T) {
	near, far := 10.0, -10.0
	atNear := near
	atFar := far
	require.InDelta(t, 1.0, *LinNorm(&atNear, far, near), 1e-9)
	require.InDelta(t, 0.0, *LinNorm(&atFar, far, near), 1e-9)

	mid := 0.0
	v := *LinNorm(&mid, far, near)
	require.Greater(t, v, 0.0)
	require.Less(t, v, 1.0)

	require.Nil(t, LinNorm(nil, far, near))

	same := 5.0
	require.Nil(t, LinNorm(&same, 3, 3))
}

func TestLinNormMonotoneInX(t *testing.T) {
	far, near := 0.0, 10.0
	xs := []float64{-5, 0, 2, 5, 8, 10, 15}
	var prev float64 = -1
	for _, x := range xs {
		v := *LinNorm(&x, far, near)
		require.GreaterOrEqual(t, v, prev)
		prev = v
	}
}

func anchors() Anchors {
	return Anchors{
		ReviewMean: -10, FocusMean: 10,
		ReviewEyeDist: 0.05, FocusEyeDist: 0.15,
		ReviewBBoxArea: 0.05, FocusBBoxArea: 0.2,
	}
}

func TestFusedRawWithinBounds(t *testing.T) {
	e := NewEngine()
	now := time.Now()
	in := Inputs{
		HasPose: true, MetricNoseZ: 30, // beyond near anchor, clamps to 1
		EyesVisible: true, EyeDist: 0.3, HasFace: true, BBoxArea: 0.5, FaceScore: 0.9,
		Brightness: 100, BlurVar: 120,
	}
	sample, conf := e.Step(in, anchors(), now)
	require.NotNil(t, sample.Raw)
	require.GreaterOrEqual(t, *sample.Raw, 0.0)
	require.LessOrEqual(t, *sample.Raw, 1.0)
	require.NotNil(t, sample.EMA)
	require.GreaterOrEqual(t, *sample.EMA, 0.0)
	require.LessOrEqual(t, *sample.EMA, 1.0)
	require.GreaterOrEqual(t, conf, 0.0)
}

func TestFusedRawNullWhenNoSignalsContribute(t *testing.T) {
	e := NewEngine()
	sample, _ := e.Step(Inputs{}, anchors(), time.Now())
	require.Nil(t, sample.Raw)
	require.Nil(t, sample.EMA)
}

func TestEMAPreservedOnNullRaw(t *testing.T) {
	e := NewEngine()
	now := time.Now()
	in := Inputs{HasPose: true, MetricNoseZ: 10, EyesVisible: true, EyeDist: 0.15, HasFace: true, BBoxArea: 0.2, FaceScore: 1}
	first, _ := e.Step(in, anchors(), now)
	require.NotNil(t, first.EMA)

	second, _ := e.Step(Inputs{}, anchors(), now.Add(100*time.Millisecond))
	require.NotNil(t, second.EMA)
	require.Equal(t, *first.EMA, *second.EMA)
}

func TestEMAWinsorizedStepBounded(t *testing.T) {
	e := NewEngine()
	now := time.Now()
	low := Inputs{HasPose: true, MetricNoseZ: -10, EyesVisible: true, EyeDist: 0.05, HasFace: true, BBoxArea: 0.05, FaceScore: 1}
	high := Inputs{HasPose: true, MetricNoseZ: 10, EyesVisible: true, EyeDist: 0.15, HasFace: true, BBoxArea: 0.2, FaceScore: 1}

	first, _ := e.Step(low, anchors(), now)
	second, _ := e.Step(high, anchors(), now.Add(2*time.Second))

	require.NotNil(t, first.EMA)
	require.NotNil(t, second.EMA)
	step := *second.EMA - *first.EMA
	require.LessOrEqual(t, step, winsorDelta+1e-9)
}
