// Package detect narrows the face/body landmark detectors to the two
// interfaces the feature extractor actually consumes: a face detector that
// returns zero or more scored detections with a relative bounding box and
// six relative keypoints, and a pose detector that returns a world-space
// nose Z or nothing (spec §2, Detector adapters; §4.1). Any library meeting
// these contracts is pluggable — the ONNX-backed implementation in this
// package is one such library, not the only one.
package detect

import (
	"context"

	"github.com/dynamicworkspace/presence-sensor/internal/capture"
)

// KeypointOrder fixes the meaning of FaceDetection.Keypoints[i], matching
// the six points a MediaPipe-style face detector exposes (the detector this
// spec's original implementation was built against — see
// original_source/sensor/main_sensor.py compute_face_features).
type KeypointOrder int

const (
	KeypointRightEye KeypointOrder = iota
	KeypointLeftEye
	KeypointNoseTip
	KeypointMouthCenter
	KeypointRightEarTragion
	KeypointLeftEarTragion
)

// Point2D is a keypoint relative to the frame's width/height, in [0,1]. The
// zero value means the detector did not supply that particular keypoint
// (distinct from an occluded-but-estimated point) — a detector that only
// locates eyes, say, leaves the ear entries at Point2D{}.
type Point2D struct {
	X, Y float64
}

// IsZero reports whether the keypoint was left unset.
func (p Point2D) IsZero() bool { return p.X == 0 && p.Y == 0 }

// FaceDetection is one scored face candidate.
type FaceDetection struct {
	Score float64 // [0,1]

	// Relative bounding box, each component in [0,1] of frame dimensions.
	BBoxX, BBoxY, BBoxW, BBoxH float64

	Keypoints [6]Point2D
}

// FaceDetector returns zero or more face detections for a frame. Detectors
// are free to run at a lower cadence than the pipeline frame rate — the
// feature extractor reuses the previous result when skipped (spec §4.1,
// §5 striding).
type FaceDetector interface {
	DetectFaces(ctx context.Context, frame capture.Frame) ([]FaceDetection, error)
}

// PoseResult carries the single scalar the fusion engine needs from a body
// pose model: the world-space nose Z. HasLandmarks is false when the model
// ran but found no usable pose (spec §4.4 pose_lost streak accounting).
type PoseResult struct {
	NoseWorldZ   float64
	HasLandmarks bool
}

// PoseDetector returns a PoseResult or an error for sensor/runtime failures
// distinct from "no landmarks found" (which is HasLandmarks=false, not an
// error).
type PoseDetector interface {
	DetectPose(ctx context.Context, frame capture.Frame) (PoseResult, error)
}

// Best returns the highest-scoring detection, or (zero, false) if dets is
// empty (spec §4.1: "the selected best face detection (highest score)").
func Best(dets []FaceDetection) (FaceDetection, bool) {
	if len(dets) == 0 {
		return FaceDetection{}, false
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	return best, true
}
