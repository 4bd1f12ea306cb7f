package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dynamicworkspace/presence-sensor/internal/calibration"
)

// Cameras implements transport.CommandHandler. Probing the capture source
// directly is safe without routing through the pipeline goroutine — Source
// implementations guard their own state for exactly this concurrent-probe
// case (spec §5 "small thread pool for blocking side calls").
func (p *Pipeline) Cameras(ctx context.Context, maxIndex int) ([]int, int) {
	if maxIndex <= 0 {
		maxIndex = probeMaxIndex
	}
	list := p.source.Probe(ctx, maxIndex)
	return list, int(p.camIndex.Load())
}

// SwitchCamera validates the requested index is currently available and
// schedules the actual reopen for the pipeline thread's next frame boundary
// (spec §5: "the pipeline atomically reopens the device at the next frame
// boundary"). The ack reflects validation only, not the eventual reopen
// outcome — a failed reopen instead surfaces as health.camera_error.
func (p *Pipeline) SwitchCamera(ctx context.Context, index int) error {
	maxIndex := probeMaxIndex
	if index >= maxIndex {
		maxIndex = index + 1
	}
	available := p.source.Probe(ctx, maxIndex)
	found := false
	for _, i := range available {
		if i == index {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("camera index %d not available", index)
	}
	p.pendingSwitch.Store(int32(index))
	return nil
}

// CalibratePhase runs the full sampling window synchronously on the calling
// (receiver) goroutine — spec §5: "Calibration sampling runs inside the
// receiver task as a cooperative timed loop reading snapshots from the
// shared store", and §5 "Calibration cannot be cancelled mid-phase in v1".
func (p *Pipeline) CalibratePhase(ctx context.Context, phase calibration.Phase, duration time.Duration) calibration.PhaseResult {
	result := calibration.RunPhase(p.store.CalibrationSnapshot, duration)
	p.calibSvc.RecordPhase(phase, result)
	return result
}

// CalibrateFinalize derives, persists, and publishes the new profile. The
// pointer-swap publish (spec §9: "a pointer swap of an immutable profile
// record; readers never see torn updates") needs no coordination with the
// pipeline thread since atomic.Pointer is safe for concurrent Load/Store.
func (p *Pipeline) CalibrateFinalize(ctx context.Context) (calibration.Profile, error) {
	current := p.profile.Load()
	profile, err := p.calibSvc.Finalize(current.Thresholds.DwellMs, time.Now())
	if err != nil {
		return calibration.Profile{}, err
	}

	if err := p.calibStore.Save(profile); err != nil {
		slog.Warn("pipeline: failed to persist calibration profile", "error", err)
	}

	p.profile.Store(&profile)
	return profile, nil
}

// SetConfMin enqueues the override onto the pipeline thread, since
// posture.Machine is owned exclusively there.
func (p *Pipeline) SetConfMin(value float64) {
	select {
	case p.cmdCh <- func() { p.machine.SetConfMin(value) }:
	default:
		slog.Warn("pipeline: command queue full, dropping set_conf_min")
	}
}

// SetQoS enqueues the override onto the pipeline thread, since
// qos.Controller is owned exclusively there.
func (p *Pipeline) SetQoS(procScale *float64, fdStride, poseStride *int, targetFPS *float64) {
	select {
	case p.cmdCh <- func() { p.qosCtl.Override(procScale, fdStride, poseStride, targetFPS) }:
	default:
		slog.Warn("pipeline: command queue full, dropping set_qos")
	}
}
