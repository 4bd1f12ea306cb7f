// Package health classifies the session's frame/session status from a flag
// vector derived from feature quality, detector streaks, and pose/gaze
// extremes (spec §3 HealthReport, §4.4).
package health

const (
	lowLightBrightness = 60.0
	motionBlurVar      = 60.0
	lostStreakFrames   = 10
	maxAbsYaw          = 0.55
	maxAbsRollDeg      = 30.0
	tooCloseFactor     = 1.3
	tooFarFactor       = 0.7
)

// Status is the overall health classification.
type Status string

const (
	OK       Status = "OK"
	Degraded Status = "DEGRADED"
	Paused   Status = "PAUSED"
)

// Flags is the health flag vector (spec §3 HealthReport flag set).
type Flags struct {
	LowLight    bool
	MotionBlur  bool
	FaceLost    bool
	PoseLost    bool
	LookingAway bool
	TooCloseFar bool
	CameraError bool
}

// Report is the full health classification for one tick.
type Report struct {
	Status     Status
	Flags      Flags
	Brightness float64
	BlurVar    float64
}

// Inputs bundles the per-frame signals the health monitor reads. EyeNear and
// EyeFar are the calibrated too-close/too-far eye_dist anchors; per the
// calibration/fusion anchor convention EyeNear is always the FOCUS baseline
// and EyeFar is always the REVIEW baseline, regardless of their numeric
// ordering.
type Inputs struct {
	Brightness float64
	BlurVar    float64

	FaceLostStreak int
	PoseLostStreak int

	YawProxy float64
	RollDeg  float64

	EyeDist          float64
	AnchorsAvailable bool
	EyeNear, EyeFar  float64

	CameraReadFailed bool

	// BrightnessConfidence is c_q's brightness term (norm(brightness,60,120)
	// from the fusion engine); PAUSED on low_light requires it to be exactly
	// 0, not merely below the raw threshold (spec §4.4 "low_light ∧ c_bri ==
	// 0").
	BrightnessConfidence float64
}

// Monitor tracks nothing across ticks on its own; the pipeline owns the
// face/pose lost streak counters, updating them as it runs each detector,
// and passes them in as Inputs.
type Monitor struct{}

// NewMonitor returns a stateless health monitor.
func NewMonitor() *Monitor { return &Monitor{} }

// Step classifies one tick.
func (*Monitor) Step(in Inputs) Report {
	f := Flags{
		LowLight:    in.Brightness < lowLightBrightness,
		MotionBlur:  in.BlurVar < motionBlurVar,
		FaceLost:    in.FaceLostStreak >= lostStreakFrames,
		PoseLost:    in.PoseLostStreak >= lostStreakFrames,
		LookingAway: absF(in.YawProxy) > maxAbsYaw || absF(in.RollDeg) > maxAbsRollDeg,
		CameraError: in.CameraReadFailed,
	}
	if in.AnchorsAvailable {
		f.TooCloseFar = in.EyeDist > tooCloseFactor*in.EyeNear || in.EyeDist < tooFarFactor*in.EyeFar
	}

	status := OK
	switch {
	case f.FaceLost || f.CameraError || (f.LowLight && in.BrightnessConfidence == 0):
		status = Paused
	case f.MotionBlur || f.LookingAway || f.PoseLost || f.TooCloseFar:
		status = Degraded
	}

	return Report{Status: status, Flags: f, Brightness: in.Brightness, BlurVar: in.BlurVar}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
