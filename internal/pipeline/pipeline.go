// Package pipeline owns the single dedicated worker goroutine that runs
// capture → feature extraction → fusion → posture → health → QoS every
// frame (spec §2 Orchestration, §5 Concurrency & resource model), and
// implements the command-handler contract the transport layer dispatches
// receiver commands through.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dynamicworkspace/presence-sensor/internal/calibration"
	"github.com/dynamicworkspace/presence-sensor/internal/capture"
	"github.com/dynamicworkspace/presence-sensor/internal/clock"
	"github.com/dynamicworkspace/presence-sensor/internal/detect"
	"github.com/dynamicworkspace/presence-sensor/internal/features"
	"github.com/dynamicworkspace/presence-sensor/internal/fusion"
	"github.com/dynamicworkspace/presence-sensor/internal/health"
	"github.com/dynamicworkspace/presence-sensor/internal/posture"
	"github.com/dynamicworkspace/presence-sensor/internal/qos"
	"github.com/dynamicworkspace/presence-sensor/internal/state"
	"github.com/dynamicworkspace/presence-sensor/internal/telemetry"
)

// cameraReadRetryDelay paces the read-failure retry loop so a persistently
// unavailable camera does not spin a core (spec §7 "periodic retry every
// frame tick"; SPEC_FULL supplement #1).
const cameraReadRetryDelay = 20 * time.Millisecond

// Archiver is the narrow subset of archive.Dispatcher the pipeline needs.
// Defined here (consumer side) so this package never imports archive's
// Postgres/MinIO/NATS client types.
type Archiver interface {
	SendTransition(sessionID uuid.UUID, t posture.Transition)
}

// Config seeds a Pipeline at construction (spec §6.1 CLI maps onto this).
// Tunables is optional: a zero value leaves posture.DefaultTunables() in
// effect, letting internal/config override the hysteresis/dwell constants
// without a recompile.
type Config struct {
	CameraIndex int
	TargetFPS   float64
	Tunables    *posture.Tunables
}

// Pipeline is not safe for concurrent use from outside its own methods:
// Run must execute on a single dedicated goroutine (spec §5 "one dedicated
// pipeline worker ... owns the capture/feature/fusion/state loop"). The
// CommandHandler methods below are called from connection goroutines and
// synchronize with Run either via atomics (camera switch, published
// profile) or a command channel drained by Run (QoS overrides, conf_min) —
// the two fields the receiver is the sole writer of per spec §5 never touch
// pipeline-owned Machine/Controller state directly.
type Pipeline struct {
	source       capture.Source
	faceDetector detect.FaceDetector
	poseDetector detect.PoseDetector

	extractor     *features.Extractor
	fusionEngine  *fusion.Engine
	machine       *posture.Machine
	healthMonitor *health.Monitor
	qosCtl        *qos.Controller
	calibSvc      *calibration.Service
	calibStore    *calibration.Store
	store         *state.Store
	latency       *clock.RollingLatency
	archiver      Archiver

	profile atomic.Pointer[calibration.Profile]

	camIndex      atomic.Int64
	pendingSwitch atomic.Int32 // camera index to switch to; sentinelNoSwitch when idle

	cmdCh chan func()

	sessionID uuid.UUID

	faceLostStreak int
	poseLostStreak int
	frameN         uint64

	lastHealthIn health.Inputs
}

const sentinelNoSwitch = -1
const probeMaxIndex = 6
const cmdQueueSize = 16

// New constructs a pipeline and opens the configured camera. The
// calibration store is loaded synchronously here (spec SPEC_FULL supplement
// #3: startup never fails for lack of a calibration file).
func New(
	ctx context.Context,
	source capture.Source,
	faceDetector detect.FaceDetector,
	poseDetector detect.PoseDetector,
	calibStore *calibration.Store,
	store *state.Store,
	archiver Archiver,
	cfg Config,
) (*Pipeline, error) {
	if err := source.Open(ctx, cfg.CameraIndex); err != nil {
		return nil, fmt.Errorf("open camera %d: %w", cfg.CameraIndex, err)
	}
	camW, camH := source.Resolution()

	profile, err := calibStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load calibration: %w", err)
	}

	qosCtl := qos.NewController(camW, camH)
	if cfg.TargetFPS > 0 {
		qosCtl.SetTargetFPS(cfg.TargetFPS)
	}

	tunables := posture.DefaultTunables()
	if cfg.Tunables != nil {
		tunables = *cfg.Tunables
	}

	p := &Pipeline{
		source:        source,
		faceDetector:  faceDetector,
		poseDetector:  poseDetector,
		extractor:     features.NewExtractor(),
		fusionEngine:  fusion.NewEngine(),
		machine:       posture.NewMachine(tunables, time.Now()),
		healthMonitor: health.NewMonitor(),
		qosCtl:        qosCtl,
		calibSvc:      calibration.NewService(),
		calibStore:    calibStore,
		store:         store,
		latency:       clock.NewRollingLatency(30),
		archiver:      archiver,
		cmdCh:         make(chan func(), cmdQueueSize),
		sessionID:     uuid.New(),
	}
	p.profile.Store(&profile)
	p.camIndex.Store(int64(cfg.CameraIndex))
	p.pendingSwitch.Store(sentinelNoSwitch)
	p.store.SetQoS(qosCtl.State())

	return p, nil
}

// Run drives the pipeline loop until ctx is cancelled (spec §5: "It never
// blocks the server").
func (p *Pipeline) Run(ctx context.Context) {
	defer p.source.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.drainCommands()
		p.applyPendingSwitch(ctx)
		p.tick(ctx)
	}
}

func (p *Pipeline) drainCommands() {
	for {
		select {
		case fn := <-p.cmdCh:
			fn()
		default:
			return
		}
	}
}

func (p *Pipeline) applyPendingSwitch(ctx context.Context) {
	idx := int(p.pendingSwitch.Swap(sentinelNoSwitch))
	if idx == sentinelNoSwitch {
		return
	}
	_ = p.source.Close()
	if err := p.source.Open(ctx, idx); err != nil {
		slog.Warn("pipeline: camera switch failed", "index", idx, "error", err)
		return
	}
	p.camIndex.Store(int64(idx))
	camW, camH := p.source.Resolution()
	p.qosCtl.SetCameraResolution(camW, camH)
	slog.Info("pipeline: switched camera", "index", idx)
}

// tick runs exactly one iteration: read a frame (or retry on failure),
// extract/fuse/gate, and publish the resulting snapshots.
func (p *Pipeline) tick(ctx context.Context) {
	start := time.Now()
	frame, err := p.source.Read(ctx)
	if err != nil {
		p.handleReadFailure(ctx, err)
		return
	}

	qosState := p.qosCtl.State()
	procFrame := downscale(frame, qosState.ProcScale)

	faceRun := qosState.FDStride <= 1 || p.frameN%uint64(qosState.FDStride) == 0
	poseRun := qosState.PoseStride <= 1 || p.frameN%uint64(qosState.PoseStride) == 0
	p.frameN++

	faceFeatureRun := p.runFaceDetector(ctx, procFrame, faceRun)
	poseFeatureRun := p.runPoseDetector(ctx, procFrame, poseRun)

	vec, qual := p.extractor.Step(procFrame, faceFeatureRun, poseFeatureRun)

	profile := *p.profile.Load()
	anchors, eyeNear, eyeFar, anchorsAvailable := anchorsFromProfile(profile)

	fusedIn := fusion.Inputs{
		HasPose: vec.HasPose, MetricNoseZ: vec.MetricNoseZ,
		EyesVisible: vec.EyesVisible, EyeDist: vec.EyeDist,
		HasFace: vec.HasFace, BBoxArea: vec.BBoxArea, FaceScore: vec.FaceScore,
		Brightness: qual.Brightness, BlurVar: qual.BlurVar,
	}
	sample, confidence := p.fusionEngine.Step(fusedIn, anchors, start)
	p.store.SetFeatures(vec, qual)
	p.store.SetFused(sample)

	var metricPtr *float64
	if vec.HasPose {
		v := vec.MetricNoseZ
		metricPtr = &v
	}
	p.store.SetLatest(metricPtr, confidence)

	healthIn := health.Inputs{
		Brightness: qual.Brightness, BlurVar: qual.BlurVar,
		FaceLostStreak: p.faceLostStreak, PoseLostStreak: p.poseLostStreak,
		YawProxy: vec.YawProxy, RollDeg: vec.RollDeg,
		EyeDist: vec.EyeDist, AnchorsAvailable: anchorsAvailable,
		EyeNear: eyeNear, EyeFar: eyeFar,
		CameraReadFailed:     false,
		BrightnessConfidence: rampNorm(qual.Brightness, 60, 120),
	}
	p.lastHealthIn = healthIn
	healthReport := p.healthMonitor.Step(healthIn)
	p.store.SetHealth(healthReport)

	prevState := p.machine.State()
	newState, committed := p.machine.Step(sample.EMA, confidence, healthReport.Status == health.Paused, start)
	p.store.SetState(newState, p.machine.Progress(start))

	if committed {
		t := posture.Transition{From: prevState, To: newState, At: start}
		telemetry.PostureTransitions.WithLabelValues(string(prevState), string(newState)).Inc()
		if p.archiver != nil {
			p.archiver.SendTransition(p.sessionID, t)
		}
	}

	p.qosCtl.RecordFrame(start)
	p.latency.Add(float64(time.Since(start).Microseconds()) / 1000.0)
	p.qosCtl.Tick(start, p.latency.Average(), nil)
	p.store.SetQoS(p.qosCtl.State())

	telemetry.FramesProcessed.Inc()
	if vec.HasFace {
		telemetry.FacesDetected.Inc()
	}
	telemetry.FrameLatency.Observe(time.Since(start).Seconds())
	telemetry.QoSProcScale.Set(p.qosCtl.State().ProcScale)
	if p.qosCtl.State().Overload {
		telemetry.QoSOverload.Set(1)
	} else {
		telemetry.QoSOverload.Set(0)
	}
}

func (p *Pipeline) handleReadFailure(ctx context.Context, err error) {
	slog.Debug("pipeline: frame read failed", "error", err)
	in := p.lastHealthIn
	in.CameraReadFailed = true
	p.lastHealthIn = in
	healthReport := p.healthMonitor.Step(in)
	p.store.SetHealth(healthReport)
	p.store.SetState(p.machine.State(), p.machine.Progress(time.Now()))

	select {
	case <-ctx.Done():
	case <-time.After(cameraReadRetryDelay):
	}
}

func (p *Pipeline) runFaceDetector(ctx context.Context, frame capture.Frame, run bool) features.FaceRun {
	if !run {
		return features.FaceRun{Ran: false}
	}
	dets, err := p.faceDetector.DetectFaces(ctx, frame)
	if err != nil {
		slog.Debug("pipeline: face detector error", "error", err)
		p.faceLostStreak++
		return features.FaceRun{Ran: true}
	}
	best, found := detect.Best(dets)
	if !found {
		p.faceLostStreak++
		return features.FaceRun{Ran: true}
	}
	p.faceLostStreak = 0
	return features.FaceRun{Ran: true, Best: &best}
}

func (p *Pipeline) runPoseDetector(ctx context.Context, frame capture.Frame, run bool) features.PoseRun {
	if !run {
		return features.PoseRun{Ran: false}
	}
	result, err := p.poseDetector.DetectPose(ctx, frame)
	if err != nil || !result.HasLandmarks {
		if err != nil {
			slog.Debug("pipeline: pose detector error", "error", err)
		}
		p.poseLostStreak++
		return features.PoseRun{Ran: true, Result: detect.PoseResult{HasLandmarks: false}}
	}
	p.poseLostStreak = 0
	return features.PoseRun{Ran: true, Result: result}
}

// anchorsFromProfile builds the fusion anchors and health too-close/far
// bounds from a calibration profile; the eye_dist anchors are optional
// (nil FaceBaseline pointers before the user's first calibration run) so
// both the fusion weight gate and the health anchorsAvailable flag fall
// back to "not available" rather than dividing by zero (spec's lin_norm
// null-on-degenerate-range rule, extended to health's too_close_far gate).
func anchorsFromProfile(p calibration.Profile) (anchors fusion.Anchors, eyeNear, eyeFar float64, anchorsAvailable bool) {
	anchors.ReviewMean = p.ReviewMean
	anchors.FocusMean = p.FocusMean

	reviewEye := p.FaceBaselines.Review.EyeDist
	focusEye := p.FaceBaselines.Focus.EyeDist
	reviewBBox := p.FaceBaselines.Review.BBoxArea
	focusBBox := p.FaceBaselines.Focus.BBoxArea

	// A channel gets anchors only when both of its baselines are set; a
	// single missing one leaves both at zero so LinNorm returns nil instead
	// of normalizing against a 0 stand-in.
	if reviewEye != nil && focusEye != nil {
		anchors.ReviewEyeDist = *reviewEye
		anchors.FocusEyeDist = *focusEye
	}
	if reviewBBox != nil && focusBBox != nil {
		anchors.ReviewBBoxArea = *reviewBBox
		anchors.FocusBBoxArea = *focusBBox
	}

	// EyeNear is always the FOCUS baseline, EyeFar always REVIEW (SPEC_FULL
	// open-question decision recorded in DESIGN.md), independent of which
	// numeric value happens to be larger.
	eyeNear, eyeFar = anchors.FocusEyeDist, anchors.ReviewEyeDist
	anchorsAvailable = reviewEye != nil && focusEye != nil
	return anchors, eyeNear, eyeFar, anchorsAvailable
}

// rampNorm mirrors fusion's internal quality ramp for health's brightness
// confidence term, which the health monitor needs in isolation from blur
// (fusion's c_q takes the min of both).
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

// downscale resizes frame by nearest-neighbor sampling to qos proc_scale;
// this is the "downscaled processing frame" both detectors and frame
// quality measurement run against (spec §4.1, §4.5).
func downscale(f capture.Frame, scale float64) capture.Frame {
	if scale <= 0 || scale >= 1 {
		return f
	}
	w := int(float64(f.Width) * scale)
	h := int(float64(f.Height) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	stride := w * 3
	pix := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		sy := y * f.Height / h
		for x := 0; x < w; x++ {
			sx := x * f.Width / w
			b, g, r := f.At(sx, sy)
			off := y*stride + x*3
			pix[off], pix[off+1], pix[off+2] = b, g, r
		}
	}
	return capture.Frame{Width: w, Height: h, Stride: stride, Pix: pix, Timestamp: f.Timestamp}
}
