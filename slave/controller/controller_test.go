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

package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swsync/swsync/responder/server"
	"github.com/swsync/swsync/slave/monitor"
	"github.com/swsync/swsync/softclock"
	"github.com/swsync/swsync/stats"
	"github.com/swsync/swsync/timesource"
)

func startTestMaster(t *testing.T) *server.Server {
	s := &server.Server{
		Config:     &server.Config{IP: "127.0.0.1", Port: 0, ClientWindow: 10 * time.Second},
		TimeSource: timesource.New(),
		Stats:      stats.NewStats(),
	}
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func testConfig(addr string) Config {
	cfg := *DefaultConfig()
	cfg.MasterAddr = addr
	cfg.SyncInterval = 50 * time.Millisecond
	cfg.SyncTimeout = 100 * time.Millisecond
	cfg.RoundsPerSync = 3
	return cfg
}

func newTestController(t *testing.T, cfg Config) (*Controller, *softclock.Clock, *monitor.Monitor) {
	clock := softclock.New(cfg.PIDConfig())
	mon := monitor.New(cfg.MonitorConfig())
	ctrl := New(cfg, clock, mon)
	t.Cleanup(ctrl.Stop)
	return ctrl, clock, mon
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration, msg string) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestControllerSynchronizes(t *testing.T) {
	m := startTestMaster(t)
	ctrl, _, mon := newTestController(t, testConfig(m.Addr().String()))

	require.NoError(t, ctrl.Start())
	waitFor(t, func() bool {
		return mon.SyncStatus() == monitor.StatusSynchronized
	}, 3*time.Second, "controller never synchronized")

	require.True(t, mon.IsMasterOnline())
	require.NotEmpty(t, mon.OffsetHistory())
	require.NotEmpty(t, mon.DelayHistory())
}

func TestControllerDisciplinesTowardsMaster(t *testing.T) {
	m := startTestMaster(t)
	// master runs half a second ahead, slave must speed up
	m.TimeSource.Adjust(0.5)
	ctrl, clock, mon := newTestController(t, testConfig(m.Addr().String()))

	require.NoError(t, ctrl.Start())
	waitFor(t, func() bool {
		return mon.SyncStatus() == monitor.StatusSynchronized
	}, 3*time.Second, "controller never synchronized")

	require.Greater(t, clock.RateAdjustment(), 0.0)
	require.InDelta(t, 0.5, mon.LastOffset(), 0.1)
}

func TestControllerStepsOnLargeOffset(t *testing.T) {
	m := startTestMaster(t)
	m.TimeSource.Adjust(3600)
	ctrl, clock, mon := newTestController(t, testConfig(m.Addr().String()))

	require.NoError(t, ctrl.Start())
	waitFor(t, func() bool {
		return mon.SyncStatus() == monitor.StatusSynchronized
	}, 3*time.Second, "controller never synchronized")

	// Step(-offset) moved the clock back by the measured ~3600s offset, so
	// it now trails the master by twice that
	require.InDelta(t, m.TimeSource.Current()-2*3600, clock.Now(), 1.0)
}

func TestControllerErrorAfterThreeFailures(t *testing.T) {
	// nobody listens on this address
	cfg := testConfig("127.0.0.1:1")
	cfg.SyncTimeout = 50 * time.Millisecond
	cfg.RoundsPerSync = 1
	ctrl, _, mon := newTestController(t, cfg)

	o := &statusRecorder{}
	mon.AddObserver(o)

	require.NoError(t, ctrl.Start())
	waitFor(t, func() bool {
		return mon.SyncStatus() == monitor.StatusError
	}, 5*time.Second, "controller never reached ERROR")
	require.False(t, mon.IsMasterOnline())
}

func TestControllerRecoversFromError(t *testing.T) {
	m := startTestMaster(t)
	cfg := testConfig(m.Addr().String())
	ctrl, _, mon := newTestController(t, cfg)

	// push the monitor into ERROR first, then let a real burst heal it
	mon.SetSyncStatus(monitor.StatusError)
	require.NoError(t, ctrl.Start())
	waitFor(t, func() bool {
		return mon.SyncStatus() == monitor.StatusSynchronized
	}, 3*time.Second, "controller never recovered")
}

func TestControllerStopResponsive(t *testing.T) {
	m := startTestMaster(t)
	cfg := testConfig(m.Addr().String())
	cfg.SyncInterval = time.Hour // force Stop to interrupt the sleep
	ctrl, _, mon := newTestController(t, cfg)

	require.NoError(t, ctrl.Start())
	waitFor(t, func() bool {
		return mon.SyncStatus() == monitor.StatusSynchronized
	}, 3*time.Second, "controller never synchronized")

	start := time.Now()
	ctrl.Stop()
	require.Less(t, time.Since(start), 2*time.Second)
	require.False(t, ctrl.IsRunning())
	require.Equal(t, monitor.StatusStopped, mon.SyncStatus())
}

func TestControllerStartTwice(t *testing.T) {
	m := startTestMaster(t)
	ctrl, _, _ := newTestController(t, testConfig(m.Addr().String()))
	require.NoError(t, ctrl.Start())
	require.Error(t, ctrl.Start())
}

func TestControllerRefusesBadConfig(t *testing.T) {
	cfg := testConfig("127.0.0.1:12345")
	cfg.RoundsPerSync = 0
	ctrl, _, _ := newTestController(t, cfg)
	require.Error(t, ctrl.Start())
}

type statusRecorder struct {
	statuses []monitor.Status
}

func (s *statusRecorder) OnMasterStatusChanged(bool) {}
func (s *statusRecorder) OnSyncStatusChanged(status monitor.Status) {
	s.statuses = append(s.statuses, status)
}
