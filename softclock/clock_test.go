/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package softclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowTracksWallClock(t *testing.T) {
	c := New(DefaultPIDConfig())
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	require.InDelta(t, now, c.Now(), 0.5)
}

func TestNowMonotonicWithConstantRate(t *testing.T) {
	c := New(DefaultPIDConfig())
	c.Discipline(0.5)
	prev := c.Now()
	for i := 0; i < 100; i++ {
		cur := c.Now()
		require.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestNowRateScaling(t *testing.T) {
	c := New(DefaultPIDConfig())
	c.Discipline(0.5) // rate comes out positive, clock runs fast
	require.Greater(t, c.RateAdjustment(), 0.0)

	a := c.Now()
	time.Sleep(50 * time.Millisecond)
	b := c.Now()
	elapsed := b - a
	// virtual elapsed must exceed real elapsed by roughly (1+rate)
	require.Greater(t, elapsed, 0.05)
}

func TestStepDiscontinuity(t *testing.T) {
	c := New(DefaultPIDConfig())
	c.Discipline(0.5)
	before := c.Now()
	c.Step(-12.0)
	after := c.Now()
	require.InDelta(t, -12.0, after-before, 0.01)

	// steering state is zeroed
	require.Equal(t, 0.0, c.RateAdjustment())
	pid := c.PID()
	require.Equal(t, 0.0, pid.Integral)
	require.Equal(t, 0.0, pid.PrevError)
}

func TestStepForward(t *testing.T) {
	c := New(DefaultPIDConfig())
	before := c.Now()
	c.Step(3600)
	require.InDelta(t, 3600, c.Now()-before, 0.01)
}

func TestNowMilliseconds(t *testing.T) {
	c := New(DefaultPIDConfig())
	ms := c.NowMilliseconds()
	require.InDelta(t, c.Now()*1000, float64(ms), 10)
}

func TestDisciplinePID(t *testing.T) {
	c := New(DefaultPIDConfig())

	c.Discipline(0.2)
	pid := c.PID()
	require.InDelta(t, 0.2, pid.Integral, 1e-9)
	require.InDelta(t, 0.2, pid.PrevError, 1e-9)
	// P=0.8*0.2, I=0.5*0.2, D=0.1*(0.2-0)
	require.InDelta(t, 0.28, c.RateAdjustment(), 1e-9)
}

func TestDisciplineSignChangeResetsIntegrator(t *testing.T) {
	c := New(DefaultPIDConfig())

	c.Discipline(0.2)
	c.Discipline(-0.1)
	pid := c.PID()
	// integrator was drained before accumulating the new error
	require.InDelta(t, -0.1, pid.Integral, 1e-9)
	require.InDelta(t, -0.1, pid.PrevError, 1e-9)
	// P=0.8*(-0.1), I=0.5*(-0.1), D=0.1*(-0.1-0.2)
	require.InDelta(t, -0.16, c.RateAdjustment(), 1e-9)
}

func TestDisciplineCoarseBranch(t *testing.T) {
	c := New(DefaultPIDConfig())

	c.Discipline(0.5)
	c.Discipline(2.5)
	require.Equal(t, 1.0, c.RateAdjustment())
	pid := c.PID()
	require.Equal(t, 0.0, pid.Integral)
	// coarse entry records the raw error for the next derivative
	require.Equal(t, 2.5, pid.PrevError)

	c.Discipline(-2.5)
	require.Equal(t, -1.0, c.RateAdjustment())
}

func TestDisciplineBounds(t *testing.T) {
	c := New(DefaultPIDConfig())
	for i := 0; i < 50; i++ {
		c.Discipline(0.9)
	}
	pid := c.PID()
	require.LessOrEqual(t, pid.Integral, 1.0)
	require.GreaterOrEqual(t, pid.Integral, -1.0)
	require.LessOrEqual(t, c.RateAdjustment(), 1.0)
	require.GreaterOrEqual(t, c.RateAdjustment(), -1.0)
}

func TestDisciplineAfterStepTakesPIDBranch(t *testing.T) {
	c := New(DefaultPIDConfig())
	c.Step(-12.0)
	c.Discipline(0.5)
	pid := c.PID()
	require.InDelta(t, 0.5, pid.Integral, 1e-9)
	// P=0.8*0.5, I=0.5*0.5, D=0.1*(0.5-0) = 0.7, inside the rate bound
	require.InDelta(t, 0.7, c.RateAdjustment(), 1e-9)
}

func TestCurrentOffset(t *testing.T) {
	c := New(DefaultPIDConfig())
	c.Discipline(0.123)
	require.Equal(t, 0.123, c.CurrentOffset())
}

func TestCustomGains(t *testing.T) {
	cfg := PIDConfig{Kp: 1.0, Ki: 0.0, Kd: 0.0, MaxIntegral: 1.0, MaxRate: 0.5, CoarseThreshold: 1.0}
	c := New(cfg)
	c.Discipline(0.9)
	// pure P output clamped at the configured rate bound
	require.Equal(t, 0.5, c.RateAdjustment())
}
