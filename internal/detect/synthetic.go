package detect

import (
	"context"
	"sync"

	"github.com/dynamicworkspace/presence-sensor/internal/capture"
)

// Synthetic is a deterministic, test-controlled FaceDetector/PoseDetector
// pair. Tests drive the fusion/posture/health state machines by calling
// SetFace/SetPose between pipeline ticks, exercising the same code paths a
// real ONNX model would without depending on model weights.
type Synthetic struct {
	mu sync.Mutex

	face    *FaceDetection
	faceErr error

	pose    PoseResult
	poseErr error
}

// NewSynthetic returns a Synthetic detector pair reporting no face and no
// pose landmarks until configured.
func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

// SetFace replaces the single detection returned by DetectFaces. Passing nil
// makes DetectFaces report no detections.
func (s *Synthetic) SetFace(d *FaceDetection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.face = d
	s.faceErr = nil
}

// SetFaceErr makes the next DetectFaces calls fail with err (err == nil
// clears it).
func (s *Synthetic) SetFaceErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faceErr = err
}

// SetPose replaces the PoseResult returned by DetectPose.
func (s *Synthetic) SetPose(p PoseResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = p
	s.poseErr = nil
}

// SetPoseErr makes the next DetectPose calls fail with err (err == nil
// clears it).
func (s *Synthetic) SetPoseErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poseErr = err
}

func (s *Synthetic) DetectFaces(ctx context.Context, _ capture.Frame) ([]FaceDetection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faceErr != nil {
		return nil, s.faceErr
	}
	if s.face == nil {
		return nil, nil
	}
	return []FaceDetection{*s.face}, nil
}

func (s *Synthetic) DetectPose(ctx context.Context, _ capture.Frame) (PoseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poseErr != nil {
		return PoseResult{}, s.poseErr
	}
	return s.pose, nil
}
