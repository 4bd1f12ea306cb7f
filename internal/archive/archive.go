// Package archive holds the optional, never-blocking sinks that record
// posture history outside the live websocket path: a Postgres transition
// log, a MinIO calibration-snapshot store, and a NATS posture event bus
// (SPEC_FULL DOMAIN STACK). None of these are required for the pipeline to
// run — the Null Recorder is the no-op choice, and NewMulti skips nil
// sinks; a Dispatcher needs a non-nil Recorder.
package archive

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dynamicworkspace/presence-sensor/internal/calibration"
	"github.com/dynamicworkspace/presence-sensor/internal/posture"
)

// Recorder is the narrow interface the pipeline writes to. Every method
// must return quickly and never block on network I/O from the pipeline's
// perspective — implementations that do real I/O are expected to be driven
// from the async Dispatcher below, not called directly from the pipeline
// goroutine.
type Recorder interface {
	RecordTransition(ctx context.Context, sessionID uuid.UUID, t posture.Transition) error
	RecordCalibration(ctx context.Context, sessionID uuid.UUID, phase calibration.Phase, snapshot []byte, profile calibration.Profile) error
	Close()
}

// Null is a Recorder that does nothing; the default when no archive
// backends are configured (spec carries no Non-goal against archiving, but
// none of it is required for correctness).
type Null struct{}

func (Null) RecordTransition(context.Context, uuid.UUID, posture.Transition) error { return nil }
func (Null) RecordCalibration(context.Context, uuid.UUID, calibration.Phase, []byte, calibration.Profile) error {
	return nil
}
func (Null) Close() {}

// Multi fans out to every configured sink, logging (not propagating)
// individual sink failures so one broken backend never affects another or
// the caller.
type Multi struct {
	sinks []Recorder
}

// NewMulti builds a fan-out Recorder over the given sinks, skipping any nil
// entries.
func NewMulti(sinks ...Recorder) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) RecordTransition(ctx context.Context, sessionID uuid.UUID, t posture.Transition) error {
	for _, s := range m.sinks {
		_ = s.RecordTransition(ctx, sessionID, t)
	}
	return nil
}

func (m *Multi) RecordCalibration(ctx context.Context, sessionID uuid.UUID, phase calibration.Phase, snapshot []byte, profile calibration.Profile) error {
	for _, s := range m.sinks {
		_ = s.RecordCalibration(ctx, sessionID, phase, snapshot, profile)
	}
	return nil
}

func (m *Multi) Close() {
	for _, s := range m.sinks {
		s.Close()
	}
}

// dispatchTimeout bounds every individual sink call so a slow/unreachable
// backend can never stall the dispatcher goroutine for long.
const dispatchTimeout = 2 * time.Second

// job is one queued archive write.
type job func(ctx context.Context)

// Dispatcher decouples the pipeline worker from archive I/O entirely: the
// pipeline sends a job onto a buffered channel and moves on immediately; a
// single background goroutine drains it and talks to Postgres/MinIO/NATS.
// Grounded on this codebase's queue.Producer being handed work from the api
// layer rather than called inline from the hot path.
type Dispatcher struct {
	jobs   chan job
	done   chan struct{}
	record Recorder
}

// NewDispatcher starts the background worker. Buffer sets how many pending
// jobs may queue before Send starts dropping (never blocking).
func NewDispatcher(record Recorder, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{jobs: make(chan job, buffer), done: make(chan struct{}), record: record}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		j(ctx)
		cancel()
	}
}

// SendTransition enqueues a transition write. Non-blocking: if the queue is
// full the write is dropped (archiving is best-effort, never a pipeline
// dependency).
func (d *Dispatcher) SendTransition(sessionID uuid.UUID, t posture.Transition) {
	select {
	case d.jobs <- func(ctx context.Context) { _ = d.record.RecordTransition(ctx, sessionID, t) }:
	default:
	}
}

// SendCalibration enqueues a calibration-phase write.
func (d *Dispatcher) SendCalibration(sessionID uuid.UUID, phase calibration.Phase, snapshot []byte, profile calibration.Profile) {
	select {
	case d.jobs <- func(ctx context.Context) {
		_ = d.record.RecordCalibration(ctx, sessionID, phase, snapshot, profile)
	}:
	default:
	}
}

// Close stops accepting new jobs, drains what's queued, and closes the
// underlying recorder.
func (d *Dispatcher) Close() {
	close(d.jobs)
	<-d.done
	d.record.Close()
}
