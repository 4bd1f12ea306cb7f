// Package qos implements the adaptive quality-of-service control loop: once
// per second it adjusts processing scale, detector strides, and heartbeat
// cadence from rolling average frame latency and optional CPU load (spec
// §3 QoSState, §4.5).
package qos

import "time"

const (
	ProcScaleMin = 0.55
	ProcScaleMax = 0.90
	FDStrideMin  = 1
	FDStrideMax  = 4
	PoseStrideMin = 1
	PoseStrideMax = 3

	procScaleStep = 0.03
	procScaleDown = 0.05

	overloadHighFactor = 1.10
	overloadClearFactor = 0.85
	cpuOverloadPct      = 85.0

	hbIntervalOverloadS = 0.5
	hbIntervalNormalS   = 0.25

	adjustPeriod = 1 * time.Second

	targetFPSDefault = 20.0
	targetFPSMin     = 10.0
	targetFPSMax     = 30.0
)

// State is the adaptive QoS state (spec §3 QoSState).
type State struct {
	ProcScale  float64
	FDStride   int
	PoseStride int
	AvgMs      float64
	Overload   bool
	HBIntervalS float64
	CamResW, CamResH   int
	ProcResW, ProcResH int
	CPUPct             *float64
	TargetFPS          float64
	FPS                float64
}

// DefaultState returns the spec's default QoSState values.
func DefaultState() State {
	return State{
		ProcScale:   0.75,
		FDStride:    2,
		PoseStride:  2,
		HBIntervalS: hbIntervalNormalS,
		TargetFPS:   targetFPSDefault,
	}
}

// Controller runs the once-per-second adjustment loop from the pipeline
// thread; set_qos command overrides arrive from the receiver task but are
// applied on the pipeline thread as well. Not safe for concurrent use on
// its own — the
// pipeline publishes Controller.State() snapshots into the shared state
// store for the receiver/dispatcher to read, and serializes any Override
// call onto the pipeline thread via a command channel.
type Controller struct {
	state      State
	lastAdjust time.Time
	hasAdjust  bool

	frameCount   int
	fpsWindowStart time.Time
	hasFPSWindow   bool
}

// NewController seeds the controller with the default state plus the
// camera's fixed resolution, published once at startup (spec §5).
func NewController(camW, camH int) *Controller {
	s := DefaultState()
	s.CamResW, s.CamResH = camW, camH
	s.ProcResW = int(float64(camW) * s.ProcScale)
	s.ProcResH = int(float64(camH) * s.ProcScale)
	return &Controller{state: s}
}

// State returns a copy of the current QoS state.
func (c *Controller) State() State { return c.state }

// SetCameraResolution updates the published camera resolution after a
// camera switch (spec §5: "QoSState.cam_res is published once at startup",
// extended here to re-publish it on a successful switch since the new
// device may have a different configured resolution).
func (c *Controller) SetCameraResolution(camW, camH int) {
	c.state.CamResW, c.state.CamResH = camW, camH
	c.state.ProcResW = int(float64(camW) * c.state.ProcScale)
	c.state.ProcResH = int(float64(camH) * c.state.ProcScale)
}

// SetTargetFPS clamps and applies a CLI/config-provided target frame rate.
func (c *Controller) SetTargetFPS(fps float64) {
	c.state.TargetFPS = clamp(fps, targetFPSMin, targetFPSMax)
}

// Override applies an external set_qos command (spec §6.3), clamping each
// provided field to its bound. Nil pointers leave that field untouched.
func (c *Controller) Override(procScale *float64, fdStride, poseStride *int, targetFPS *float64) {
	if procScale != nil {
		c.state.ProcScale = clamp(*procScale, ProcScaleMin, ProcScaleMax)
	}
	if fdStride != nil {
		c.state.FDStride = clampInt(*fdStride, FDStrideMin, FDStrideMax)
	}
	if poseStride != nil {
		c.state.PoseStride = clampInt(*poseStride, PoseStrideMin, PoseStrideMax)
	}
	if targetFPS != nil {
		c.SetTargetFPS(*targetFPS)
	}
	c.state.ProcResW = int(float64(c.state.CamResW) * c.state.ProcScale)
	c.state.ProcResH = int(float64(c.state.CamResH) * c.state.ProcScale)
}

// RecordFrame is called once per processed frame; it updates State.FPS once
// per elapsed wall-clock second (SPEC_FULL supplement #2, grounded on
// original_source/sensor/main_sensor.py's g_fps bookkeeping, owned here by
// the QoS controller rather than a bare global).
func (c *Controller) RecordFrame(now time.Time) {
	if !c.hasFPSWindow {
		c.fpsWindowStart = now
		c.hasFPSWindow = true
	}
	c.frameCount++
	elapsed := now.Sub(c.fpsWindowStart)
	if elapsed >= time.Second {
		c.state.FPS = float64(c.frameCount) / elapsed.Seconds()
		c.frameCount = 0
		c.fpsWindowStart = now
	}
}

// frameBudgetMs is 1000/target_fps (spec §4.5).
func (c *Controller) frameBudgetMs() float64 {
	return 1000.0 / c.state.TargetFPS
}

// Tick runs the adjustment loop if at least adjustPeriod has elapsed since
// the last run; it is a no-op otherwise. avgMs is the mean of the rolling
// latency window; cpuPct is optional (nil when unavailable).
func (c *Controller) Tick(now time.Time, avgMs float64, cpuPct *float64) {
	if c.hasAdjust && now.Sub(c.lastAdjust) < adjustPeriod {
		return
	}
	c.lastAdjust = now
	c.hasAdjust = true

	c.state.AvgMs = avgMs
	c.state.CPUPct = cpuPct

	budget := c.frameBudgetMs()
	overload := avgMs > overloadHighFactor*budget
	c.state.Overload = overload

	if overload {
		c.state.HBIntervalS = hbIntervalOverloadS
	} else {
		c.state.HBIntervalS = hbIntervalNormalS
	}

	cpuOverload := cpuPct != nil && *cpuPct >= cpuOverloadPct

	switch {
	case overload || cpuOverload:
		c.stepDown()
	case avgMs < overloadClearFactor*budget:
		c.stepUp()
	}

	c.state.ProcResW = int(float64(c.state.CamResW) * c.state.ProcScale)
	c.state.ProcResH = int(float64(c.state.CamResH) * c.state.ProcScale)
}

// stepDown takes exactly one quality-reducing step, in order
// pose_stride++ -> fd_stride++ -> proc_scale -= 0.05 (spec §4.5).
func (c *Controller) stepDown() {
	if c.state.PoseStride < PoseStrideMax {
		c.state.PoseStride++
		return
	}
	if c.state.FDStride < FDStrideMax {
		c.state.FDStride++
		return
	}
	if c.state.ProcScale > ProcScaleMin {
		c.state.ProcScale = clamp(c.state.ProcScale-procScaleDown, ProcScaleMin, ProcScaleMax)
	}
}

// stepUp takes exactly one quality-raising step, in order
// proc_scale += 0.03 -> fd_stride-- -> pose_stride-- (spec §4.5).
func (c *Controller) stepUp() {
	if c.state.ProcScale < ProcScaleMax {
		c.state.ProcScale = clamp(c.state.ProcScale+procScaleStep, ProcScaleMin, ProcScaleMax)
		return
	}
	if c.state.FDStride > FDStrideMin {
		c.state.FDStride--
		return
	}
	if c.state.PoseStride > PoseStrideMin {
		c.state.PoseStride--
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
