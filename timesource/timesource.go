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
Package timesource maintains the master's reference timescale: wall-clock
seconds derived from a wall anchor plus monotonic elapsed time. The
timescale is adjustable by the operator and serves t2/t3 to the reply
engine.
*/
package timesource

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ReferenceTimeLayout is the wall time format accepted by SetReference
const ReferenceTimeLayout = "2006-01-02 15:04:05"

// TimeSource produces reference time as float64 seconds since Unix epoch.
// Readers see initWall + stepOffset + monotonic elapsed; re-anchoring is
// continuous, relative bumps are steps.
type TimeSource struct {
	mu         sync.Mutex
	initWall   float64
	initMono   time.Time
	stepOffset float64
}

// New creates a TimeSource anchored to the current system time
func New() *TimeSource {
	return &TimeSource{
		initWall: float64(time.Now().UnixNano()) / float64(time.Second),
		initMono: time.Now(),
	}
}

// Current returns the reference time in seconds since Unix epoch
func (ts *TimeSource) Current() float64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.currentLocked()
}

func (ts *TimeSource) currentLocked() float64 {
	elapsed := time.Since(ts.initMono).Seconds()
	return ts.initWall + ts.stepOffset + elapsed
}

// Set re-anchors the timescale to the given wall instant. The monotonic
// anchor is re-read in the same critical section so Current is continuous
// across the call.
func (ts *TimeSource) Set(t time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.initWall = float64(t.UnixNano()) / float64(time.Second)
	ts.initMono = time.Now()
	ts.stepOffset = 0
	log.Infof("reference time set to %s", t.Format(ReferenceTimeLayout))
}

// SetReference parses a "YYYY-MM-DD HH:MM:SS" wall time in the local zone
// and re-anchors the timescale to it
func (ts *TimeSource) SetReference(value string) error {
	t, err := time.ParseInLocation(ReferenceTimeLayout, value, time.Local)
	if err != nil {
		return err
	}
	ts.Set(t)
	return nil
}

// Adjust bumps the timescale by delta seconds and returns the new current
// time. Negative deltas move the reference time backwards.
func (ts *TimeSource) Adjust(delta float64) float64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.stepOffset += delta
	now := ts.currentLocked()
	log.Infof("reference time adjusted by %.3fs", delta)
	return now
}

// Time returns the reference time as time.Time, for display
func (ts *TimeSource) Time() time.Time {
	sec := ts.Current()
	return time.Unix(0, int64(sec*float64(time.Second)))
}
