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
Package controller implements the slave's sync controller: a single driver
goroutine that turns filtered measurements into either a coarse clock step
or a fine PID update, and keeps the monitor informed.
*/
package controller

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/swsync/swsync/slave/client"
	"github.com/swsync/swsync/slave/monitor"
	"github.com/swsync/swsync/softclock"
)

// sleepSlice bounds how long a Stop call waits on a sleeping driver
const sleepSlice = 500 * time.Millisecond

// maxConsecutiveFailures is how many failed bursts in a row flip the state to ERROR
const maxConsecutiveFailures = 3

// Controller drives the periodic synchronization process. It is the sole
// mutator of the software clock's steering state.
type Controller struct {
	cfg     Config
	clock   *softclock.Clock
	monitor *monitor.Monitor

	mu      sync.Mutex
	client  *client.Client
	wg      sync.WaitGroup
	running atomic.Bool
}

// New creates a Controller
func New(cfg Config, clock *softclock.Clock, mon *monitor.Monitor) *Controller {
	return &Controller{cfg: cfg, clock: clock, monitor: mon}
}

// Start opens the client socket and launches the driver goroutine. It
// refuses to run twice or with a config it cannot use.
func (c *Controller) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("controller already running")
	}
	if err := c.cfg.Validate(); err != nil {
		c.running.Store(false)
		return err
	}
	cl, err := client.New(c.cfg.MasterAddr, c.clock, c.cfg.SyncTimeout, c.cfg.RoundsPerSync)
	if err != nil {
		c.running.Store(false)
		return err
	}
	c.mu.Lock()
	c.client = cl
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()
	log.Info("sync controller started")
	return nil
}

// Stop terminates the driver goroutine. The driver polls the stop flag at
// every sleep slice, and closing the client socket unblocks an in-flight
// receive, so the join is bounded well under 2s.
func (c *Controller) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()
	if cl != nil {
		cl.Close()
	}
	c.wg.Wait()
	c.mu.Lock()
	c.client = nil
	c.mu.Unlock()
	c.monitor.SetSyncStatus(monitor.StatusStopped)
	log.Info("sync controller stopped")
}

// IsRunning reports whether the driver loop is active
func (c *Controller) IsRunning() bool {
	return c.running.Load()
}

func (c *Controller) run() {
	defer c.wg.Done()
	consecutiveFailures := 0
	for c.running.Load() {
		c.syncOnce(&consecutiveFailures)
		c.sleep()
	}
}

// syncOnce performs one burst and applies the outcome to the clock and monitor
func (c *Controller) syncOnce(consecutiveFailures *int) {
	wasSynchronized := c.monitor.SyncStatus() == monitor.StatusSynchronized
	c.monitor.SetSyncStatus(monitor.StatusSyncing)

	sample, err := c.client.Burst()
	if err != nil {
		*consecutiveFailures++
		log.Debugf("burst failed (%d consecutive): %v", *consecutiveFailures, err)
		if *consecutiveFailures >= maxConsecutiveFailures {
			c.monitor.SetSyncStatus(monitor.StatusError)
			c.monitor.SetMasterOnline(false)
		} else if wasSynchronized {
			// a couple of lost bursts don't demote an established sync
			c.monitor.SetSyncStatus(monitor.StatusSynchronized)
		} else {
			c.monitor.SetSyncStatus(monitor.StatusError)
		}
		return
	}
	*consecutiveFailures = 0

	if abs(sample.Offset) > c.cfg.StepThreshold {
		log.Infof("offset %.3fs above step threshold, stepping clock", sample.Offset)
		c.clock.Step(-sample.Offset)
	} else {
		c.clock.Discipline(sample.Offset)
	}

	c.monitor.Record(c.clock.NowMilliseconds(), sample.Offset, sample.Delay)
	c.monitor.SetSyncStatus(monitor.StatusSynchronized)
	log.Infof("sync done: offset=%.9f delay=%.9f", sample.Offset, sample.Delay)
}

// sleep waits out the sync interval in slices so Stop stays responsive
func (c *Controller) sleep() {
	deadline := time.Now().Add(c.cfg.SyncInterval)
	for c.running.Load() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if remaining > sleepSlice {
			remaining = sleepSlice
		}
		time.Sleep(remaining)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
