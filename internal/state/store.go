// Package state is the shared state store: concurrency-safe snapshots of
// features, fused values, posture state, health, and QoS that the pipeline
// worker writes and the message dispatcher reads (spec §3 Ownership,
// §4.7).
package state

import (
	"sync"

	"github.com/dynamicworkspace/presence-sensor/internal/calibration"
	"github.com/dynamicworkspace/presence-sensor/internal/features"
	"github.com/dynamicworkspace/presence-sensor/internal/fusion"
	"github.com/dynamicworkspace/presence-sensor/internal/health"
	"github.com/dynamicworkspace/presence-sensor/internal/posture"
	"github.com/dynamicworkspace/presence-sensor/internal/qos"
)

// Store holds four independently locked snapshot cells plus current state
// and a latest (metric, confidence) pair (spec §4.7: "No cross-cell
// invariants are required to hold simultaneously; consumers treat
// heartbeats as loosely coupled snapshots"). Each field pair below is its
// own short critical section; no lock here is ever held across another
// cell's lock or across I/O.
type Store struct {
	featMu   sync.RWMutex
	feat     features.Vector
	featQual features.Quality

	fusedMu sync.RWMutex
	fused   fusion.Sample

	healthMu sync.RWMutex
	healthR  health.Report

	qosMu sync.RWMutex
	qosS  qos.State

	stateMu  sync.RWMutex
	postureS posture.State
	progress posture.Progress

	latestMu   sync.RWMutex
	latestMetric     *float64
	latestConfidence float64
}

// New returns an empty store with FOCUS as the initial posture state (spec
// §3: "Initial = FOCUS").
func New() *Store {
	return &Store{postureS: posture.Focus}
}

func (s *Store) SetFeatures(v features.Vector, q features.Quality) {
	s.featMu.Lock()
	s.feat, s.featQual = v, q
	s.featMu.Unlock()
}

func (s *Store) Features() (features.Vector, features.Quality) {
	s.featMu.RLock()
	defer s.featMu.RUnlock()
	return s.feat, s.featQual
}

func (s *Store) SetFused(sample fusion.Sample) {
	s.fusedMu.Lock()
	s.fused = sample
	s.fusedMu.Unlock()
}

func (s *Store) Fused() fusion.Sample {
	s.fusedMu.RLock()
	defer s.fusedMu.RUnlock()
	return s.fused
}

func (s *Store) SetHealth(r health.Report) {
	s.healthMu.Lock()
	s.healthR = r
	s.healthMu.Unlock()
}

func (s *Store) Health() health.Report {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthR
}

func (s *Store) SetQoS(q qos.State) {
	s.qosMu.Lock()
	s.qosS = q
	s.qosMu.Unlock()
}

func (s *Store) QoS() qos.State {
	s.qosMu.RLock()
	defer s.qosMu.RUnlock()
	return s.qosS
}

func (s *Store) SetState(p posture.State, progress posture.Progress) {
	s.stateMu.Lock()
	s.postureS, s.progress = p, progress
	s.stateMu.Unlock()
}

func (s *Store) State() (posture.State, posture.Progress) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.postureS, s.progress
}

func (s *Store) SetLatest(metric *float64, confidence float64) {
	s.latestMu.Lock()
	s.latestMetric, s.latestConfidence = metric, confidence
	s.latestMu.Unlock()
}

func (s *Store) Latest() (*float64, float64) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	return s.latestMetric, s.latestConfidence
}

// CalibrationSnapshot reads the subset of cells the calibration sampler
// needs, satisfying calibration.Snapshot without calibration importing this
// package (spec §5: "Calibration sampling runs inside the receiver task as
// a cooperative timed loop reading snapshots from the shared store").
func (s *Store) CalibrationSnapshot() calibration.Snapshot {
	metric, confidence := s.Latest()
	feat, _ := s.Features()
	return calibration.Snapshot{
		Metric:      metric,
		Confidence:  confidence,
		EyesVisible: feat.EyesVisible,
		EyeDist:     feat.EyeDist,
		HasFace:     feat.HasFace,
		BBoxArea:    feat.BBoxArea,
	}
}
