package features

import (
	"math"

	"github.com/dynamicworkspace/presence-sensor/internal/capture"
	"github.com/dynamicworkspace/presence-sensor/internal/detect"
)

const yawEpsilon = 1e-6

// FaceRun describes whether the face detector executed this tick, and its
// result if so. Ran=false means the detector was skipped by striding (spec
// §4.5 "Striding semantics") and the previous Vector's face-derived fields
// should be carried forward unchanged.
type FaceRun struct {
	Ran  bool
	Best *detect.FaceDetection // nil when Ran is true but no face was found
}

// PoseRun is the pose-detector analogue of FaceRun.
type PoseRun struct {
	Ran    bool
	Result detect.PoseResult
}

// Extractor holds the previous Vector so skipped detector runs can reuse
// their last valid contribution (spec §4.1).
type Extractor struct {
	prev Vector
}

// NewExtractor returns an extractor with a zeroed baseline Vector.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Step computes the Vector and Quality for one frame.
func (e *Extractor) Step(frame capture.Frame, face FaceRun, pose PoseRun) (Vector, Quality) {
	v := e.prev

	if face.Ran {
		v = applyFace(v, face.Best)
	}
	if pose.Ran {
		v.HasPose = pose.Result.HasLandmarks
		if pose.Result.HasLandmarks {
			v.MetricNoseZ = pose.Result.NoseWorldZ * 100
		}
	}

	e.prev = v

	q := measureQuality(frame)
	return v, q
}

func applyFace(prev Vector, best *detect.FaceDetection) Vector {
	v := prev
	if best == nil {
		// The detector ran but found nothing this tick: carry the previous
		// face-derived fields forward unchanged, same as a stride-skipped
		// tick, rather than dropping to a zeroed/not-found state.
		return v
	}

	v.HasFace = true
	v.FaceScore = clamp01(best.Score)
	v.BBoxArea = clamp01(best.BBoxW) * clamp01(best.BBoxH)

	right := best.Keypoints[detect.KeypointRightEye]
	left := best.Keypoints[detect.KeypointLeftEye]
	if !right.IsZero() && !left.IsZero() {
		if left.X > right.X {
			left, right = right, left
		}
		dx := right.X - left.X
		dy := right.Y - left.Y
		v.EyeDist = clamp01(math.Hypot(dx, dy))
		v.RollDeg = wrapRollDegrees(math.Atan2(dy, dx) * 180 / math.Pi)
		v.EyesVisible = true
	} else {
		v.EyesVisible = false
	}

	rightEar := best.Keypoints[detect.KeypointRightEarTragion]
	leftEar := best.Keypoints[detect.KeypointLeftEarTragion]
	nose := best.Keypoints[detect.KeypointNoseTip]
	if !rightEar.IsZero() && !leftEar.IsZero() && !nose.IsZero() {
		dRight := math.Hypot(rightEar.X-nose.X, rightEar.Y-nose.Y)
		dLeft := math.Hypot(leftEar.X-nose.X, leftEar.Y-nose.Y)
		v.YawProxy = math.Log((dRight + yawEpsilon) / (dLeft + yawEpsilon))
		v.EarsVisible = true
	} else {
		v.EarsVisible = false
	}

	return v
}

// wrapRollDegrees folds a raw atan2-derived angle into (-90, 90], matching
// the convention that roll is reported as a small deviation from level
// rather than distinguishing upright from upside-down.
func wrapRollDegrees(deg float64) float64 {
	for deg > 90 {
		deg -= 180
	}
	for deg <= -90 {
		deg += 180
	}
	return deg
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
