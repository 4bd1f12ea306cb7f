package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dynamicworkspace/presence-sensor/internal/capture"
	"github.com/dynamicworkspace/presence-sensor/internal/detect"
)

func flatFrame(w, h int, val byte) capture.Frame {
	stride := w * 3
	pix := make([]byte, stride*h)
	for i := range pix {
		pix[i] = val
	}
	return capture.Frame{Width: w, Height: h, Stride: stride, Pix: pix, Timestamp: time.Now()}
}

func TestExtractorReusesStaleFeaturesWhenDetectorSkipped(t *testing.T) {
	e := NewExtractor()
	frame := flatFrame(16, 16, 128)

	det := &detect.FaceDetection{
		Score: 0.9,
		BBoxW: 0.2, BBoxH: 0.4,
		Keypoints: [6]detect.Point2D{
			detect.KeypointRightEye:        {X: 0.6, Y: 0.4},
			detect.KeypointLeftEye:         {X: 0.4, Y: 0.4},
			detect.KeypointNoseTip:         {X: 0.5, Y: 0.5},
			detect.KeypointMouthCenter:     {X: 0.5, Y: 0.6},
			detect.KeypointRightEarTragion: {X: 0.7, Y: 0.4},
			detect.KeypointLeftEarTragion:  {X: 0.3, Y: 0.4},
		},
	}

	v1, _ := e.Step(frame, FaceRun{Ran: true, Best: det}, PoseRun{})
	require.True(t, v1.HasFace)
	require.True(t, v1.EyesVisible)
	require.InDelta(t, 0.08, v1.BBoxArea, 1e-9)

	v2, _ := e.Step(frame, FaceRun{Ran: false}, PoseRun{})
	require.Equal(t, v1, v2)
}

func TestExtractorCarriesFaceFieldsForwardOnMiss(t *testing.T) {
	e := NewExtractor()
	frame := flatFrame(16, 16, 128)
	det := &detect.FaceDetection{Score: 0.9, BBoxW: 0.2, BBoxH: 0.4}

	v1, _ := e.Step(frame, FaceRun{Ran: true, Best: det}, PoseRun{})
	v2, _ := e.Step(frame, FaceRun{Ran: true, Best: nil}, PoseRun{})
	require.Equal(t, v1, v2)
	require.True(t, v2.HasFace)
	require.Equal(t, 0.9, v2.FaceScore)
}

func TestExtractorEyeSwapKeepsDistancePositive(t *testing.T) {
	e := NewExtractor()
	frame := flatFrame(16, 16, 128)
	// Right eye keypoint placed to the left of the left eye keypoint.
	det := &detect.FaceDetection{
		Score: 0.5,
		Keypoints: [6]detect.Point2D{
			detect.KeypointRightEye: {X: 0.2, Y: 0.5},
			detect.KeypointLeftEye:  {X: 0.6, Y: 0.5},
		},
	}
	v, _ := e.Step(frame, FaceRun{Ran: true, Best: det}, PoseRun{})
	require.InDelta(t, 0.4, v.EyeDist, 1e-9)
}

func TestExtractorPoseReuseWhenSkipped(t *testing.T) {
	e := NewExtractor()
	frame := flatFrame(16, 16, 128)

	v1, _ := e.Step(frame, FaceRun{}, PoseRun{Ran: true, Result: detect.PoseResult{HasLandmarks: true, NoseWorldZ: -0.5}})
	require.InDelta(t, -50, v1.MetricNoseZ, 1e-9)

	v2, _ := e.Step(frame, FaceRun{}, PoseRun{Ran: false})
	require.InDelta(t, -50, v2.MetricNoseZ, 1e-9)
}

func TestMeasureQualityOnFlatFrame(t *testing.T) {
	e := NewExtractor()
	frame := flatFrame(8, 8, 200)
	_, q := e.Step(frame, FaceRun{}, PoseRun{})
	require.InDelta(t, 200, q.Brightness, 1e-6)
	require.InDelta(t, 0, q.BlurVar, 1e-6)
}
