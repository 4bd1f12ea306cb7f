package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dynamicworkspace/presence-sensor/internal/calibration"
	"github.com/dynamicworkspace/presence-sensor/internal/capture"
	"github.com/dynamicworkspace/presence-sensor/internal/detect"
	"github.com/dynamicworkspace/presence-sensor/internal/health"
	"github.com/dynamicworkspace/presence-sensor/internal/posture"
	"github.com/dynamicworkspace/presence-sensor/internal/state"
)

func confidentFace() *detect.FaceDetection {
	return &detect.FaceDetection{
		Score: 1,
		BBoxX: 0.3, BBoxY: 0.3, BBoxW: 0.4, BBoxH: 0.4,
		Keypoints: [6]detect.Point2D{
			detect.KeypointRightEye:        {X: 0.6, Y: 0.4},
			detect.KeypointLeftEye:         {X: 0.4, Y: 0.4},
			detect.KeypointNoseTip:         {X: 0.5, Y: 0.5},
			detect.KeypointMouthCenter:     {X: 0.5, Y: 0.6},
			detect.KeypointRightEarTragion: {X: 0.7, Y: 0.45},
			detect.KeypointLeftEarTragion:  {X: 0.3, Y: 0.45},
		},
	}
}

func newTestPipeline(t *testing.T, noseWorldZ float64) (*Pipeline, *state.Store) {
	t.Helper()
	source := capture.NewSimulated(64, 48, 0, 1)
	source.SetBrightness(110)
	source.SetFPS(200)

	synthetic := detect.NewSynthetic()
	synthetic.SetFace(confidentFace())
	synthetic.SetPose(detect.PoseResult{NoseWorldZ: noseWorldZ, HasLandmarks: true})

	calibStore := calibration.NewStoreAt(filepath.Join(t.TempDir(), "calibration.json"))
	store := state.New()

	pl, err := New(context.Background(), source, synthetic, synthetic, calibStore, store, nil, Config{CameraIndex: 0, TargetFPS: 30})
	require.NoError(t, err)
	return pl, store
}

func TestNewOpensCameraAndSeedsQoS(t *testing.T) {
	pl, store := newTestPipeline(t, -0.10)
	q := store.QoS()
	require.Equal(t, 64, q.CamResW)
	require.Equal(t, 48, q.CamResH)
	require.Equal(t, int64(0), pl.camIndex.Load())
}

func TestRunProcessesFramesAndUpdatesHealth(t *testing.T) {
	pl, store := newTestPipeline(t, -0.10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pl.Run(ctx)

	require.Eventually(t, func() bool {
		feat, qual := store.Features()
		return feat.HasFace && qual.Brightness > 0
	}, 2*time.Second, 10*time.Millisecond)

	_, qual := store.Features()
	require.InDelta(t, 110, qual.Brightness, 1)

	require.Eventually(t, func() bool {
		return store.Health().Status != ""
	}, 2*time.Second, 10*time.Millisecond)
	require.InDelta(t, 110, store.Health().Brightness, 1)
}

func TestRunCommitsReviewAfterDwellAndFlipGap(t *testing.T) {
	// raw metric of -10 maps to zNorm=0 against a (review_mean=-10,
	// focus_mean=10) calibrated profile, driving ema straight to the REVIEW
	// entry threshold from the first tick. The z channel carries no weight
	// pre-calibration (Default()'s review/focus means are equal), so this
	// test publishes a calibrated profile directly.
	pl, store := newTestPipeline(t, -0.10)
	profile := calibration.Default()
	profile.ReviewMean, profile.FocusMean = -10, 10
	pl.profile.Store(&profile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pl.Run(ctx)

	// Lower conf_min: with no face/bbox calibration anchors yet, only the
	// pose term (c_z) is nonzero; c_q is 0 because the flat simulated frame
	// has zero Laplacian variance. Overall confidence is therefore 0.4.
	pl.SetConfMin(0.3)

	require.Eventually(t, func() bool {
		s, _ := store.State()
		return s == posture.Review
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSwitchCameraRejectsUnavailableIndex(t *testing.T) {
	pl, _ := newTestPipeline(t, -0.10)
	err := pl.SwitchCamera(context.Background(), 5)
	require.Error(t, err)
}

func TestSwitchCameraAppliesOnNextTick(t *testing.T) {
	pl, _ := newTestPipeline(t, -0.10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pl.Run(ctx)

	require.NoError(t, pl.SwitchCamera(context.Background(), 1))

	require.Eventually(t, func() bool {
		return pl.camIndex.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCamerasReportsProbedIndicesAndCurrent(t *testing.T) {
	pl, _ := newTestPipeline(t, -0.10)
	list, current := pl.Cameras(context.Background(), 6)
	require.ElementsMatch(t, []int{0, 1}, list)
	require.Equal(t, 0, current)
}

// calibratedProfile gives every fusion channel anchors so the pipeline's
// overall confidence (0.4 pose + 0.3 eye + 0.2 bbox for the test face) clears
// the sampler's 0.5 gate; under Default() anchors it stays at 0.
func calibratedProfile() *calibration.Profile {
	p := calibration.Default()
	p.ReviewMean, p.FocusMean = -20, 20
	reviewEye, focusEye := 0.1, 0.3
	reviewBBox, focusBBox := 0.1, 0.3
	p.FaceBaselines.Review = calibration.FaceBaseline{EyeDist: &reviewEye, BBoxArea: &reviewBBox}
	p.FaceBaselines.Focus = calibration.FaceBaseline{EyeDist: &focusEye, BBoxArea: &focusBBox}
	return &p
}

func TestCalibratePhaseAndFinalize(t *testing.T) {
	// Each phase samples every 50ms and needs at least 10 metric samples,
	// so the window is 1s.
	pl, store := newTestPipeline(t, -0.10)
	pl.profile.Store(calibratedProfile())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pl.Run(ctx)

	require.Eventually(t, func() bool {
		m, _ := store.Latest()
		return m != nil
	}, time.Second, 10*time.Millisecond)

	reviewResult := pl.CalibratePhase(context.Background(), calibration.PhaseReview, time.Second)
	require.True(t, reviewResult.OK)

	focusPipe, focusStore := newTestPipeline(t, 0.10)
	focusPipe.profile.Store(calibratedProfile())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go focusPipe.Run(ctx2)
	require.Eventually(t, func() bool {
		m, _ := focusStore.Latest()
		return m != nil
	}, time.Second, 10*time.Millisecond)
	focusResult := focusPipe.CalibratePhase(context.Background(), calibration.PhaseFocus, time.Second)
	require.True(t, focusResult.OK)

	pl.calibSvc.RecordPhase(calibration.PhaseFocus, focusResult)
	profile, err := pl.CalibrateFinalize(context.Background())
	require.NoError(t, err)
	require.True(t, profile.Validate())
}

func TestHandleReadFailureSetsCameraError(t *testing.T) {
	source := capture.NewSimulated(64, 48, 0)
	source.SetFPS(200)
	synthetic := detect.NewSynthetic()
	calibStore := calibration.NewStoreAt(filepath.Join(t.TempDir(), "calibration.json"))
	store := state.New()

	pl, err := New(context.Background(), source, synthetic, synthetic, calibStore, store, nil, Config{CameraIndex: 0})
	require.NoError(t, err)

	source.SetFailing(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pl.Run(ctx)

	require.Eventually(t, func() bool {
		return store.Health().Flags.CameraError
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, health.Paused, store.Health().Status)
}
