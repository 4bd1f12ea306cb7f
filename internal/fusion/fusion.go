// Package fusion implements the normalization, confidence-weighted
// combination, and winsorized EMA that turn a frame's raw signals into the
// single scalar the posture state machine consumes (spec §4.2).
package fusion

import (
	"math"
	"time"
)

const (
	emaTau      = 250 * time.Millisecond
	winsorDelta = 0.35

	baseWeightZ    = 0.6
	baseWeightEye  = 0.3
	baseWeightBBox = 0.1

	qualityBrightnessFar  = 60.0
	qualityBrightnessNear = 120.0
	qualityBlurFar        = 60.0
	qualityBlurNear       = 150.0
)

// Anchors are the calibration-derived reference points each raw signal is
// normalized against (spec §4.2 "Anchors").
type Anchors struct {
	ReviewMean, FocusMean         float64 // metric_nose_z anchors
	ReviewEyeDist, FocusEyeDist   float64
	ReviewBBoxArea, FocusBBoxArea float64
}

// Inputs bundles one frame's raw signals and the booleans gating whether
// each one may contribute this tick.
type Inputs struct {
	HasPose     bool
	MetricNoseZ float64

	EyesVisible bool
	EyeDist     float64

	HasFace   bool
	BBoxArea  float64
	FaceScore float64

	Brightness float64
	BlurVar    float64
}

// Sample is one tick's fused output (spec §3 FusedSample).
type Sample struct {
	Raw *float64 // nil when the sum of effective weights was <= 0
	EMA *float64 // nil until the first non-null raw seeds it
}

// LinNorm maps x into [0,1] against (far, near): near maps to 1, far to 0.
// Returns nil if x is nil or far == near (spec §4.2).
func LinNorm(x *float64, far, near float64) *float64 {
	if x == nil || far == near {
		return nil
	}
	t := (*x - far) / (near - far)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return &t
}

// Engine holds the EMA state across ticks. Not safe for concurrent use; the
// pipeline worker owns it exclusively.
type Engine struct {
	prevEMA  *float64
	lastTick time.Time
	hasTick  bool
}

// NewEngine returns a fresh engine with no EMA seeded yet.
func NewEngine() *Engine {
	return &Engine{}
}

// Step computes this tick's FusedSample and overall confidence.
func (e *Engine) Step(in Inputs, anchors Anchors, now time.Time) (Sample, float64) {
	zRaw := ptr(in.MetricNoseZ)
	eyeRaw := ptr(in.EyeDist)
	bboxRaw := ptr(in.BBoxArea)

	zNorm := LinNorm(zRaw, anchors.ReviewMean, anchors.FocusMean)
	eyeNorm := LinNorm(eyeRaw, anchors.ReviewEyeDist, anchors.FocusEyeDist)
	bboxNorm := LinNorm(bboxRaw, anchors.ReviewBBoxArea, anchors.FocusBBoxArea)

	wZ := 0.0
	if in.HasPose && zNorm != nil {
		wZ = baseWeightZ
	}
	wEye := 0.0
	if in.EyesVisible && eyeNorm != nil {
		wEye = baseWeightEye * in.FaceScore
	}
	wBBox := 0.0
	if in.HasFace && bboxNorm != nil {
		wBBox = baseWeightBBox * in.FaceScore
	}

	weightSum := wZ + wEye + wBBox

	var raw *float64
	if weightSum > 0 {
		v := (wZ*deref(zNorm) + wEye*deref(eyeNorm) + wBBox*deref(bboxNorm)) / weightSum
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		raw = &v
	}

	ema := e.updateEMA(raw, now)

	confidence := overallConfidence(in, zNorm, eyeNorm, bboxNorm)

	return Sample{Raw: raw, EMA: ema}, confidence
}

func (e *Engine) updateEMA(raw *float64, now time.Time) *float64 {
	if raw == nil {
		return e.prevEMA
	}
	if e.prevEMA == nil {
		v := *raw
		e.prevEMA = &v
		e.lastTick = now
		e.hasTick = true
		return e.prevEMA
	}

	dt := emaTau // fallback if we somehow have no prior tick timestamp
	if e.hasTick {
		d := now.Sub(e.lastTick)
		if d > 0 {
			dt = d
		} else {
			dt = time.Millisecond
		}
	}
	beta := 1 - math.Exp(-math.Max(dt.Seconds(), 1e-3)/emaTau.Seconds())

	prev := *e.prevEMA
	xPrime := *raw
	if xPrime > prev+winsorDelta {
		xPrime = prev + winsorDelta
	} else if xPrime < prev-winsorDelta {
		xPrime = prev - winsorDelta
	}

	next := prev + beta*(xPrime-prev)
	e.prevEMA = &next
	e.lastTick = now
	e.hasTick = true
	return e.prevEMA
}

func overallConfidence(in Inputs, zNorm, eyeNorm, bboxNorm *float64) float64 {
	cZ := 0.0
	if in.HasPose && zNorm != nil {
		cZ = 1
	}
	cEye := 0.0
	if in.EyesVisible && eyeNorm != nil {
		cEye = in.FaceScore
	}
	cBox := 0.0
	if in.HasFace && bboxNorm != nil {
		cBox = in.FaceScore
	}
	cQ := math.Min(
		rampNorm(in.Brightness, qualityBrightnessFar, qualityBrightnessNear),
		rampNorm(in.BlurVar, qualityBlurFar, qualityBlurNear),
	)
	return 0.4*cZ + 0.3*cEye + 0.2*cBox + 0.1*cQ
}

// rampNorm linearly ramps 0 to 1 between far and near, clamped outside.
func rampNorm(x, far, near float64) float64 {
	if near == far {
		if x >= near {
			return 1
		}
		return 0
	}
	t := (x - far) / (near - far)
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

func ptr(v float64) *float64 { return &v }

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
