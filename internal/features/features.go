// Package features turns a captured frame plus optional detector output into
// the feature vector and frame-quality scalars the fusion engine consumes
// (spec §3 FeatureVector, §4.1 Feature extractor).
package features

// Vector is the per-frame feature set. Numeric fields that the detectors did
// not (or could not) produce this frame are left at their previous value
// (spec §4.1: "When either detector is skipped this frame, its prior
// feature contribution is reused"). The face booleans are carried forward
// the same way when the face detector is skipped or finds no face, so they
// do not distinguish a current value from a stale one; HasPose alone is
// cleared when the pose detector runs and finds no landmarks, while
// MetricNoseZ keeps its last measured value.
type Vector struct {
	BBoxArea float64 // [0,1]
	EyeDist  float64 // [0,1]
	RollDeg  float64 // (-90,90]
	YawProxy float64 // any real
	FaceScore float64 // [0,1]

	HasFace     bool
	EyesVisible bool
	EarsVisible bool
	HasPose     bool

	// MetricNoseZ is the world-space nose Z times 100; more negative means
	// closer to the camera (spec §3).
	MetricNoseZ float64
}

// Quality holds the two frame-quality scalars computed on the downscaled
// processing frame (spec §4.1).
type Quality struct {
	Brightness float64 // mean grayscale value, [0,255]
	BlurVar    float64 // variance of the 64-bit Laplacian
}
