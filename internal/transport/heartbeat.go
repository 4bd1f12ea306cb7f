package transport

import (
	"github.com/dynamicworkspace/presence-sensor/internal/features"
	"github.com/dynamicworkspace/presence-sensor/internal/health"
	"github.com/dynamicworkspace/presence-sensor/internal/posture"
	"github.com/dynamicworkspace/presence-sensor/internal/qos"
)

func (c *connection) buildHeartbeat(progress posture.Progress) Heartbeat {
	feat, qual := c.store.Features()
	fused := c.store.Fused()
	healthR := c.store.Health()
	qosState := c.store.QoS()
	metric, confidence := c.store.Latest()

	var confPtr *float64
	if metric != nil {
		v := confidence
		confPtr = &v
	}

	return Heartbeat{
		Type:            "hb",
		FPS:             round1(qosState.FPS),
		MetricNoseZX100: metric,
		Confidence:      confPtr,
		Features:        featuresPayload(feat, qual),
		Fused:           FusedPayload{Raw: fused.Raw, EMA: fused.EMA},
		Health:          healthPayload(healthR),
		Perf:            perfPayload(qosState),
		Transition:      transitionPayload(progress),
	}
}

func featuresPayload(v features.Vector, q features.Quality) FeaturesPayload {
	p := FeaturesPayload{
		FaceScore:   v.FaceScore,
		HasFace:     v.HasFace,
		EyesVisible: v.EyesVisible,
		EarsVisible: v.EarsVisible,
		HasPose:     v.HasPose,
	}
	if v.HasFace {
		area := v.BBoxArea
		p.BBoxArea = &area
	}
	if v.EyesVisible {
		d := v.EyeDist
		r := v.RollDeg
		p.EyeDist = &d
		p.RollDeg = &r
	}
	if v.EarsVisible {
		y := v.YawProxy
		p.YawProxy = &y
	}
	_ = q
	return p
}

func healthPayload(r health.Report) HealthPayload {
	return HealthPayload{
		Status:      string(r.Status),
		LowLight:    r.Flags.LowLight,
		MotionBlur:  r.Flags.MotionBlur,
		FaceLost:    r.Flags.FaceLost,
		PoseLost:    r.Flags.PoseLost,
		LookingAway: r.Flags.LookingAway,
		TooCloseFar: r.Flags.TooCloseFar,
		CameraError: r.Flags.CameraError,
		Brightness:  round1(r.Brightness),
		BlurVar:     round1(r.BlurVar),
	}
}

func perfPayload(q qos.State) PerfPayload {
	var cpu *float64
	if q.CPUPct != nil {
		v := round1(*q.CPUPct)
		cpu = &v
	}
	return PerfPayload{
		TargetFPS:    q.TargetFPS,
		AvgMs:        round1(q.AvgMs),
		FDStride:     q.FDStride,
		PoseStride:   q.PoseStride,
		ProcScale:    round2(q.ProcScale),
		Overload:     q.Overload,
		HBIntervalMs: int(q.HBIntervalS * 1000),
		ResCam:       [2]int{q.CamResW, q.CamResH},
		ResProc:      [2]int{q.ProcResW, q.ProcResH},
		CPUPct:       cpu,
	}
}

func transitionPayload(p posture.Progress) TransitionPayload {
	if !p.InProgress {
		return TransitionPayload{}
	}
	return TransitionPayload{Target: string(p.Target), ElapsedMs: p.ElapsedMs, RequiredMs: p.RequiredMs}
}

func round1(v float64) float64 {
	return roundTo(v, 10)
}

func round2(v float64) float64 {
	return roundTo(v, 100)
}

func roundTo(v float64, scale float64) float64 {
	return float64(int64(v*scale+sign(v)*0.5)) / scale
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
