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

/*
Package softclock implements the slave's virtual software clock. The clock
is built on the monotonic counter and never touches the OS clock: its
apparent rate is scaled by a frequency adjustment factor produced by a PID
controller, and large errors are corrected by stepping an additive offset.
*/
package softclock

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Clock is a virtual wall clock over the monotonic counter:
//
//	now = initWall + stepOffset + monoElapsed * (1 + rateAdjustment)
//
// All fields are guarded by one mutex; a read observes a consistent
// snapshot. Step is the only operation that makes now() discontinuous.
type Clock struct {
	mu             sync.Mutex
	initWall       float64
	initMono       time.Time
	stepOffset     float64
	rateAdjustment float64
	pid            pidState
	currentOffset  float64
}

// New creates a Clock anchored to the current system time, disciplined
// with the given PID configuration
func New(cfg PIDConfig) *Clock {
	return &Clock{
		initWall: float64(time.Now().UnixNano()) / float64(time.Second),
		initMono: time.Now(),
		pid:      pidState{cfg: cfg},
	}
}

// Now returns the software clock time in seconds since Unix epoch
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() float64 {
	elapsed := time.Since(c.initMono).Seconds()
	return c.initWall + c.stepOffset + elapsed*(1.0+c.rateAdjustment)
}

// NowMilliseconds returns the software clock time as a millisecond timestamp
func (c *Clock) NowMilliseconds() int64 {
	return int64(c.Now() * 1000)
}

// Time returns the software clock time as time.Time, for display
func (c *Clock) Time() time.Time {
	return time.Unix(0, int64(c.Now()*float64(time.Second)))
}

// Step applies a discontinuous correction of delta seconds and resets the
// steering state. This is the only path that produces a jump in Now.
func (c *Clock) Step(delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// re-anchor first so zeroing the rate adds nothing to the jump
	mono := time.Now()
	c.initWall += mono.Sub(c.initMono).Seconds() * (1.0 + c.rateAdjustment)
	c.initMono = mono
	c.stepOffset += delta
	c.rateAdjustment = 0
	c.pid.reset()
	log.Infof("clock stepped by %.3fs, steering state reset", delta)
}

// RateAdjustment returns the current frequency adjustment factor
func (c *Clock) RateAdjustment() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateAdjustment
}

// CurrentOffset returns the offset passed to the last Discipline call
func (c *Clock) CurrentOffset() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentOffset
}

// PIDState is a snapshot of the controller internals, for monitoring and tests
type PIDState struct {
	Integral  float64
	PrevError float64
}

// PID returns a snapshot of the controller state
func (c *Clock) PID() PIDState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PIDState{Integral: c.pid.integral, PrevError: c.pid.prevError}
}
