// Package posture implements the four-state hysteretic, dwell-gated,
// confidence-gated posture state machine (spec §3 PostureState, §4.3).
package posture

import "time"

// State is one of the four posture states. Deliberately a flat string enum
// rather than an inheritance hierarchy of state types — the transition
// table is small enough that a single switch reads clearer than a type per
// state.
type State string

const (
	Focus              State = "FOCUS"
	Review             State = "REVIEW"
	TransitionToFocus  State = "TRANSITION_TO_FOCUS"
	TransitionToReview State = "TRANSITION_TO_REVIEW"
)

// Tunables are the runtime-overridable thresholds driving the machine (spec
// §4.3). ConfMin is the only one that can change at runtime, via the
// set_conf_min command; the rest are fixed for the life of the Machine once
// passed to NewMachine (internal/config can override their defaults).
type Tunables struct {
	Low         float64
	High        float64
	DwellReview time.Duration
	DwellFocus  time.Duration
	MinFlipGap  time.Duration
	ConfMin     float64
}

// DefaultTunables returns the spec's default thresholds.
func DefaultTunables() Tunables {
	return Tunables{
		Low:         0.40,
		High:        0.60,
		DwellReview: 750 * time.Millisecond,
		DwellFocus:  750 * time.Millisecond,
		MinFlipGap:  1500 * time.Millisecond,
		ConfMin:     0.65,
	}
}

// Transition records a committed state change, for transport/telemetry use.
type Transition struct {
	From, To State
	At       time.Time
}

// Machine holds the state machine's mutable fields. Not safe for concurrent
// use; the pipeline worker owns it exclusively (spec §3 Ownership).
type Machine struct {
	tunables Tunables

	state              State
	transitionTarget   State // "" when not mid-transition
	transitionStartTs  time.Time
	lastStableChangeTs time.Time
}

// NewMachine starts in FOCUS (spec §3: "Initial = FOCUS").
func NewMachine(tunables Tunables, now time.Time) *Machine {
	return &Machine{
		tunables:           tunables,
		state:              Focus,
		lastStableChangeTs: now,
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// SetConfMin overrides the confidence gate (spec §6.3 set_conf_min),
// clamped to [0,1].
func (m *Machine) SetConfMin(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	m.tunables.ConfMin = v
}

// Progress describes how far along a mid-transition is, for heartbeat
// telemetry (spec §4.8 "current transition progress").
type Progress struct {
	Target      State
	ElapsedMs   int64
	RequiredMs  int64
	InProgress  bool
}

// Progress reports the current transition progress, if any.
func (m *Machine) Progress(now time.Time) Progress {
	if m.transitionTarget == "" {
		return Progress{}
	}
	var required time.Duration
	if m.transitionTarget == Review {
		required = m.tunables.DwellReview
	} else {
		required = m.tunables.DwellFocus
	}
	return Progress{
		Target:     m.transitionTarget,
		ElapsedMs:  now.Sub(m.transitionStartTs).Milliseconds(),
		RequiredMs: required.Milliseconds(),
		InProgress: true,
	}
}

// Step evaluates one tick. ema may be nil (no fused EMA yet); paused reflects
// health.status == PAUSED. Returns the resulting state and whether a stable
// change was committed this tick.
func (m *Machine) Step(ema *float64, overallConf float64, paused bool, now time.Time) (State, bool) {
	if ema == nil || paused {
		return m.state, false
	}
	x := *ema
	confident := overallConf >= m.tunables.ConfMin
	sinceFlip := now.Sub(m.lastStableChangeTs)

	switch m.state {
	case Focus:
		if x <= m.tunables.Low && sinceFlip >= m.tunables.MinFlipGap && confident {
			return m.advanceTowards(Review, now)
		}

	case Review:
		if x >= m.tunables.High && sinceFlip >= m.tunables.MinFlipGap && confident {
			return m.advanceTowards(Focus, now)
		}

	case TransitionToReview:
		if x > m.tunables.Low || !confident {
			m.abortTo(Focus)
			return m.state, false
		}
		if now.Sub(m.transitionStartTs) >= m.tunables.DwellReview {
			return m.commit(Review, now)
		}

	case TransitionToFocus:
		if x < m.tunables.High || !confident {
			m.abortTo(Review)
			return m.state, false
		}
		if now.Sub(m.transitionStartTs) >= m.tunables.DwellFocus {
			return m.commit(Focus, now)
		}
	}

	return m.state, false
}

// advanceTowards is reached from a stable state (FOCUS/REVIEW) the first
// tick the hysteresis/dwell-gap/confidence gates pass: it opens a new
// transition. Once open, the corresponding TRANSITION_* case handles dwell
// and abort on subsequent ticks, since m.state no longer matches this
// switch arm.
func (m *Machine) advanceTowards(target State, now time.Time) (State, bool) {
	m.transitionTarget = target
	m.transitionStartTs = now
	m.state = transitionStateFor(target)
	return m.state, false
}

func transitionStateFor(target State) State {
	if target == Review {
		return TransitionToReview
	}
	return TransitionToFocus
}

func (m *Machine) commit(target State, now time.Time) (State, bool) {
	m.state = target
	m.transitionTarget = ""
	m.lastStableChangeTs = now
	return m.state, true
}

func (m *Machine) abortTo(stable State) {
	m.state = stable
	m.transitionTarget = ""
}
