// Package calibration implements the two-phase REVIEW/FOCUS sampling
// protocol, threshold derivation, and atomic persistence of the resulting
// CalibrationProfile (spec §3 CalibrationProfile, §4.6, §6.2).
package calibration

import "time"

const schemaVersion = 2

// FaceBaseline holds the eye_dist/bbox_area means observed during one
// phase's sampling window.
type FaceBaseline struct {
	EyeDist  *float64 `json:"eye_dist"`
	BBoxArea *float64 `json:"bbox_area"`
}

// FaceBaselines groups the REVIEW and FOCUS face baselines.
type FaceBaselines struct {
	Review FaceBaseline `json:"review"`
	Focus  FaceBaseline `json:"focus"`
}

// Thresholds are the derived posture-machine anchors (spec §3).
type Thresholds struct {
	Mid        float64 `json:"mid"`
	TFocusIn   float64 `json:"t_focus_in"`
	TReviewIn  float64 `json:"t_review_in"`
	DwellMs    int64   `json:"dwell_ms"`
}

// Profile is the persisted calibration document (spec §3 CalibrationProfile,
// §6.2 wire keys).
type Profile struct {
	V          int           `json:"v"`
	Metric     string        `json:"metric"`
	ReviewMean float64       `json:"review_mean"`
	ReviewStd  float64       `json:"review_std"`
	FocusMean  float64       `json:"focus_mean"`
	FocusStd   float64       `json:"focus_std"`
	Thresholds Thresholds    `json:"thresholds"`
	FaceBaselines FaceBaselines `json:"face_baselines"`
	CreatedAt  string        `json:"created_at"`
}

// defaultThresholdZ is the posture-machine anchor used before any
// calibration profile has been saved or loaded, matching the original
// sensor's fallback (SPEC_FULL supplement: startup never fails for lack of
// a calibration file).
const defaultThresholdZ = -29.5

// Default returns the uncalibrated profile: posture thresholds fall back to
// defaultThresholdZ, but ReviewMean and FocusMean are left equal so LinNorm's
// degenerate-range guard keeps the pose fusion channel weightless until a
// real calibration narrows them apart.
func Default() Profile {
	return Profile{
		V:          schemaVersion,
		Metric:     "nose_world_z_x100",
		ReviewMean: defaultThresholdZ,
		FocusMean:  defaultThresholdZ,
		Thresholds: Thresholds{
			Mid: defaultThresholdZ, TFocusIn: defaultThresholdZ - 1.0, TReviewIn: defaultThresholdZ + 1.0, DwellMs: 750,
		},
	}
}

// deriveThresholds computes mid/band/t_focus_in/t_review_in per spec §3.
func deriveThresholds(reviewMean, focusMean float64, dwellMs int64) Thresholds {
	mid := (reviewMean + focusMean) / 2
	gap := absF(reviewMean - focusMean)
	band := clampF(0.2*gap, 0.8, 3.0)
	return Thresholds{
		Mid:       mid,
		TFocusIn:  mid - band/2,
		TReviewIn: mid + band/2,
		DwellMs:   dwellMs,
	}
}

// Validate checks the profile invariant (spec §3): review_mean and
// focus_mean straddle mid, t_focus_in < t_review_in, dwell_ms >= 0.
func (p Profile) Validate() bool {
	t := p.Thresholds
	if t.TFocusIn >= t.TReviewIn || t.DwellMs < 0 {
		return false
	}
	onOppositeSides := (p.ReviewMean-t.Mid)*(p.FocusMean-t.Mid) <= 0
	return onOppositeSides
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isoUTCNow(now time.Time) string {
	return now.UTC().Format("2006-01-02T15:04:05.000Z")
}
