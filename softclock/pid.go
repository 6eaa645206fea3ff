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
	"time"

	log "github.com/sirupsen/logrus"
)

// PIDConfig holds the controller gains and saturation bounds
type PIDConfig struct {
	Kp              float64 // proportional gain
	Ki              float64 // integral gain
	Kd              float64 // derivative gain
	MaxIntegral     float64 // integrator saturation, symmetric around zero
	MaxRate         float64 // rate adjustment saturation and coarse branch magnitude
	CoarseThreshold float64 // above this error the rate saturates at MaxRate
}

// DefaultPIDConfig returns the stock controller tuning
func DefaultPIDConfig() PIDConfig {
	return PIDConfig{
		Kp:              0.8,
		Ki:              0.5,
		Kd:              0.1,
		MaxIntegral:     1.0,
		MaxRate:         1.0,
		CoarseThreshold: 1.0,
	}
}

type pidState struct {
	cfg       PIDConfig
	integral  float64
	prevError float64
}

func (p *pidState) reset() {
	p.integral = 0
	p.prevError = 0
}

// Discipline adjusts the clock rate to reduce the measured offset. A
// positive offset means this clock is behind the reference, so the rate
// adjustment comes out positive and the clock catches up; the clock value
// itself is never touched.
func (c *Clock) Discipline(offset float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentOffset = offset
	e := offset

	// a sign flip means the integrator is now pushing the wrong way;
	// drain it before it winds up
	if c.pid.prevError != 0.0 && e*c.pid.prevError < 0 {
		log.Infof("error sign change (%.6f -> %.6f), resetting integrator", c.pid.prevError, e)
		c.pid.integral = 0.0
	}

	var adjustment float64
	if abs(e) > c.pid.cfg.CoarseThreshold {
		// error too large for fine steering: saturate the rate towards
		// the reference and keep the integrator empty; prevError still
		// takes the raw error below, so the next derivative starts from it
		c.pid.integral = 0.0
		adjustment = sign(e) * c.pid.cfg.MaxRate
		log.Warningf("large offset %.6fs, saturating rate at %.3f", e, adjustment)
	} else {
		c.pid.integral = clamp(c.pid.integral+e, c.pid.cfg.MaxIntegral)
		derivative := e - c.pid.prevError
		adjustment = c.pid.cfg.Kp*e + c.pid.cfg.Ki*c.pid.integral + c.pid.cfg.Kd*derivative
		adjustment = clamp(adjustment, c.pid.cfg.MaxRate)
		log.Debugf("discipline: offset=%.9f adjustment=%.9f P=%.9f I=%.9f D=%.9f",
			offset, adjustment,
			c.pid.cfg.Kp*e, c.pid.cfg.Ki*c.pid.integral, c.pid.cfg.Kd*derivative)
	}

	// re-anchor at the current reading so the new rate only applies from
	// here on and Now stays continuous
	mono := time.Now()
	c.initWall += mono.Sub(c.initMono).Seconds() * (1.0 + c.rateAdjustment)
	c.initMono = mono
	c.rateAdjustment = adjustment
	c.pid.prevError = e
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

func clamp(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}
