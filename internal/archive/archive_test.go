package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dynamicworkspace/presence-sensor/internal/calibration"
	"github.com/dynamicworkspace/presence-sensor/internal/posture"
)

type fakeRecorder struct {
	mu          sync.Mutex
	transitions []posture.Transition
	closed      bool
}

func (f *fakeRecorder) RecordTransition(_ context.Context, _ uuid.UUID, t posture.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, t)
	return nil
}

func (f *fakeRecorder) RecordCalibration(context.Context, uuid.UUID, calibration.Phase, []byte, calibration.Profile) error {
	return nil
}

func (f *fakeRecorder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transitions)
}

func TestNullRecorderIsNoOp(t *testing.T) {
	var n Null
	require.NoError(t, n.RecordTransition(context.Background(), uuid.New(), posture.Transition{}))
	require.NoError(t, n.RecordCalibration(context.Background(), uuid.New(), calibration.PhaseReview, nil, calibration.Profile{}))
	n.Close()
}

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	a := &fakeRecorder{}
	b := &fakeRecorder{}
	m := NewMulti(a, nil, b)

	require.NoError(t, m.RecordTransition(context.Background(), uuid.New(), posture.Transition{From: posture.Focus, To: posture.Review}))

	require.Equal(t, 1, a.count())
	require.Equal(t, 1, b.count())

	m.Close()
	require.True(t, a.closed)
	require.True(t, b.closed)
}

func TestDispatcherDeliversAsync(t *testing.T) {
	f := &fakeRecorder{}
	d := NewDispatcher(f, 8)
	sessionID := uuid.New()

	d.SendTransition(sessionID, posture.Transition{From: posture.Focus, To: posture.Review, At: time.Now()})
	d.Close()

	require.Equal(t, 1, f.count())
	require.True(t, f.closed)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	slow := &blockingRecorder{block: block}
	d := NewDispatcher(slow, 1)

	// First send occupies the worker goroutine inside the blocked call;
	// remaining sends queue up to the buffer then must be dropped rather
	// than blocking the caller.
	for i := 0; i < 10; i++ {
		done := make(chan struct{})
		go func() {
			d.SendTransition(uuid.New(), posture.Transition{})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("SendTransition blocked")
		}
	}

	close(block)
	d.Close()
}

type blockingRecorder struct {
	block chan struct{}
}

func (b *blockingRecorder) RecordTransition(ctx context.Context, _ uuid.UUID, _ posture.Transition) error {
	select {
	case <-b.block:
	case <-ctx.Done():
	}
	return nil
}

func (b *blockingRecorder) RecordCalibration(context.Context, uuid.UUID, calibration.Phase, []byte, calibration.Profile) error {
	return nil
}

func (b *blockingRecorder) Close() {}
