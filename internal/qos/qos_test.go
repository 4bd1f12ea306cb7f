package qos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultStateWithinBounds(t *testing.T) {
	c := NewController(1280, 720)
	s := c.State()
	require.GreaterOrEqual(t, s.ProcScale, ProcScaleMin)
	require.LessOrEqual(t, s.ProcScale, ProcScaleMax)
	require.GreaterOrEqual(t, s.FDStride, FDStrideMin)
	require.LessOrEqual(t, s.FDStride, FDStrideMax)
}

func TestOverloadStepsDownOncePerTick(t *testing.T) {
	c := NewController(1280, 720)
	now := time.Now()

	// frame budget at default 20fps is 50ms; 200ms avg is well over 1.10x.
	c.Tick(now, 200, nil)
	s1 := c.State()
	require.True(t, s1.Overload)
	require.Equal(t, 3, s1.PoseStride) // stepped from default 2 -> 3
	require.Equal(t, 2, s1.FDStride)   // only that one step this tick

	now = now.Add(adjustPeriod)
	c.Tick(now, 200, nil)
	s2 := c.State()
	require.Equal(t, 3, s2.PoseStride) // pose_stride is at its max
	require.Equal(t, 3, s2.FDStride)   // so this tick's single step goes to fd_stride
}

func TestBoundsNeverExceeded(t *testing.T) {
	c := NewController(1280, 720)
	now := time.Now()
	for i := 0; i < 50; i++ {
		now = now.Add(adjustPeriod)
		c.Tick(now, 500, nil)
		s := c.State()
		require.GreaterOrEqual(t, s.ProcScale, ProcScaleMin)
		require.LessOrEqual(t, s.ProcScale, ProcScaleMax)
		require.GreaterOrEqual(t, s.FDStride, FDStrideMin)
		require.LessOrEqual(t, s.FDStride, FDStrideMax)
		require.GreaterOrEqual(t, s.PoseStride, PoseStrideMin)
		require.LessOrEqual(t, s.PoseStride, PoseStrideMax)
	}
}

func TestStepsUpWhenFast(t *testing.T) {
	c := NewController(1280, 720)
	now := time.Now()
	for i := 0; i < 50; i++ {
		now = now.Add(adjustPeriod)
		c.Tick(now, 1, nil)
	}
	s := c.State()
	require.Equal(t, ProcScaleMax, s.ProcScale)
	require.Equal(t, FDStrideMin, s.FDStride)
	require.Equal(t, PoseStrideMin, s.PoseStride)
}

func TestCPUOverloadAlsoTriggersStepDown(t *testing.T) {
	c := NewController(1280, 720)
	now := time.Now()
	cpu := 90.0
	c.Tick(now, 1, &cpu)
	s := c.State()
	require.Equal(t, 3, s.PoseStride)
}

func TestOverrideClampsToBounds(t *testing.T) {
	c := NewController(1280, 720)
	bogus := 5.0
	bogusInt := 99
	c.Override(&bogus, &bogusInt, &bogusInt, nil)
	s := c.State()
	require.Equal(t, ProcScaleMax, s.ProcScale)
	require.Equal(t, FDStrideMax, s.FDStride)
	require.Equal(t, PoseStrideMax, s.PoseStride)
}

func TestTickIsNoOpWithinAdjustPeriod(t *testing.T) {
	c := NewController(1280, 720)
	now := time.Now()
	c.Tick(now, 200, nil)
	s1 := c.State()
	c.Tick(now.Add(100*time.Millisecond), 500, nil)
	s2 := c.State()
	require.Equal(t, s1.PoseStride, s2.PoseStride)
}
