package health

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOKWhenNothingWrong(t *testing.T) {
	m := NewMonitor()
	r := m.Step(Inputs{Brightness: 100, BlurVar: 120, BrightnessConfidence: 1})
	require.Equal(t, OK, r.Status)
}

func TestPausedOnFaceLost(t *testing.T) {
	m := NewMonitor()
	r := m.Step(Inputs{Brightness: 100, BlurVar: 120, FaceLostStreak: 10, BrightnessConfidence: 1})
	require.Equal(t, Paused, r.Status)
	require.True(t, r.Flags.FaceLost)
}

func TestPausedOnCameraError(t *testing.T) {
	m := NewMonitor()
	r := m.Step(Inputs{CameraReadFailed: true})
	require.Equal(t, Paused, r.Status)
}

func TestLowLightPausesOnlyWhenBrightnessConfidenceZero(t *testing.T) {
	m := NewMonitor()
	r := m.Step(Inputs{Brightness: 10, BlurVar: 120, BrightnessConfidence: 0})
	require.Equal(t, Paused, r.Status)

	r2 := m.Step(Inputs{Brightness: 10, BlurVar: 120, BrightnessConfidence: 0.2})
	require.NotEqual(t, Paused, r2.Status)
}

func TestDegradedOnMotionBlur(t *testing.T) {
	m := NewMonitor()
	r := m.Step(Inputs{Brightness: 100, BlurVar: 10, BrightnessConfidence: 1})
	require.Equal(t, Degraded, r.Status)
	require.True(t, r.Flags.MotionBlur)
}

func TestLookingAwayFromYawOrRoll(t *testing.T) {
	m := NewMonitor()
	r := m.Step(Inputs{Brightness: 100, BlurVar: 120, YawProxy: 0.8, BrightnessConfidence: 1})
	require.True(t, r.Flags.LookingAway)

	r2 := m.Step(Inputs{Brightness: 100, BlurVar: 120, RollDeg: 45, BrightnessConfidence: 1})
	require.True(t, r2.Flags.LookingAway)
}

func TestTooCloseFarOnlyWhenAnchorsAvailable(t *testing.T) {
	m := NewMonitor()
	r := m.Step(Inputs{Brightness: 100, BlurVar: 120, EyeDist: 0.5, BrightnessConfidence: 1})
	require.False(t, r.Flags.TooCloseFar)

	r2 := m.Step(Inputs{
		Brightness: 100, BlurVar: 120, BrightnessConfidence: 1,
		AnchorsAvailable: true, EyeDist: 0.5, EyeNear: 0.2, EyeFar: 0.1,
	})
	require.True(t, r2.Flags.TooCloseFar)
}
