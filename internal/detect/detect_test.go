package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dynamicworkspace/presence-sensor/internal/capture"
)

func TestBestEmpty(t *testing.T) {
	_, ok := Best(nil)
	require.False(t, ok)
}

func TestBestPicksHighestScore(t *testing.T) {
	dets := []FaceDetection{
		{Score: 0.4},
		{Score: 0.9},
		{Score: 0.7},
	}
	best, ok := Best(dets)
	require.True(t, ok)
	require.Equal(t, 0.9, best.Score)
}

func TestSyntheticReportsConfiguredFace(t *testing.T) {
	s := NewSynthetic()
	ctx := context.Background()

	dets, err := s.DetectFaces(ctx, capture.Frame{})
	require.NoError(t, err)
	require.Empty(t, dets)

	s.SetFace(&FaceDetection{Score: 0.8, BBoxW: 0.3, BBoxH: 0.3})
	dets, err = s.DetectFaces(ctx, capture.Frame{})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	require.Equal(t, 0.8, dets[0].Score)
}

func TestSyntheticPoseDefaultsToNoLandmarks(t *testing.T) {
	s := NewSynthetic()
	res, err := s.DetectPose(context.Background(), capture.Frame{})
	require.NoError(t, err)
	require.False(t, res.HasLandmarks)

	s.SetPose(PoseResult{HasLandmarks: true, NoseWorldZ: -0.42})
	res, err = s.DetectPose(context.Background(), capture.Frame{})
	require.NoError(t, err)
	require.True(t, res.HasLandmarks)
	require.InDelta(t, -0.42, res.NoseWorldZ, 1e-9)
}

func TestNullDetectorsReportNothing(t *testing.T) {
	ctx := context.Background()
	dets, err := NullFaceDetector{}.DetectFaces(ctx, capture.Frame{})
	require.NoError(t, err)
	require.Nil(t, dets)

	res, err := NullPoseDetector{}.DetectPose(ctx, capture.Frame{})
	require.NoError(t, err)
	require.False(t, res.HasLandmarks)
}
