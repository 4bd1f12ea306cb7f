package detect

import (
	"context"

	"github.com/dynamicworkspace/presence-sensor/internal/capture"
)

// NullFaceDetector always reports no detections. Useful as a safe default
// when no model is configured, and in tests that only exercise the
// pose/health/QoS paths.
type NullFaceDetector struct{}

func (NullFaceDetector) DetectFaces(context.Context, capture.Frame) ([]FaceDetection, error) {
	return nil, nil
}

// NullPoseDetector always reports no landmarks.
type NullPoseDetector struct{}

func (NullPoseDetector) DetectPose(context.Context, capture.Frame) (PoseResult, error) {
	return PoseResult{HasLandmarks: false}, nil
}
