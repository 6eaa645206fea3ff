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
Package monitor implements the slave's synchronization monitor: bounded
offset/delay history, derived quality metrics and observer notifications.
The monitor is a passive aggregator driven by the sync controller; any
presentation layer consumes it through the Observer interface or the
pull-style snapshot.
*/
package monitor

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/eclesh/welford"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// DefaultChartMaxPoints is the default history ring capacity
const DefaultChartMaxPoints = 30

// DefaultSyncThreshold is the |offset| below which a record counts as "in sync"
const DefaultSyncThreshold = 0.001

// DefaultOfflineTimeout flips the master offline when no record arrived for this long
const DefaultOfflineTimeout = 15 * time.Second

const eventBufferSize = 1000

// Observer receives monitor notifications. Callbacks are invoked outside
// the monitor's lock, in the order the triggering events occurred, and
// must not block.
type Observer interface {
	OnMasterStatusChanged(online bool)
	OnSyncStatusChanged(status Status)
}

// Metrics are the derived synchronization quality numbers, all in
// milliseconds except the success rate
type Metrics struct {
	Accuracy        float64   `json:"accuracy"`          // |most recent offset|
	Stability       float64   `json:"stability"`         // population stddev of offsets in the ring
	Precision       float64   `json:"precision"`         // max |offset| in the ring
	AvgDelay        float64   `json:"avg_delay"`         // mean of the delay ring
	SyncSuccessRate float64   `json:"sync_success_rate"` // percent of records under the threshold
	LastUpdate      time.Time `json:"last_update"`
}

// Snapshot is an atomic copy of the monitor state
type Snapshot struct {
	MasterOnline bool    `json:"master_online"`
	SyncStatus   Status  `json:"sync_status"`
	LastOffset   float64 `json:"last_offset"`
	Metrics      Metrics `json:"metrics"`
}

// Config controls monitor behaviour; zero values pick the defaults
type Config struct {
	ChartMaxPoints int
	SyncThreshold  float64
	OfflineTimeout time.Duration
	Clock          clockwork.Clock
}

func (c *Config) setDefaults() {
	if c.ChartMaxPoints == 0 {
		c.ChartMaxPoints = DefaultChartMaxPoints
	}
	if c.SyncThreshold == 0 {
		c.SyncThreshold = DefaultSyncThreshold
	}
	if c.OfflineTimeout == 0 {
		c.OfflineTimeout = DefaultOfflineTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

type event func(o Observer)

// Monitor tracks sync state, master liveness and measurement history
type Monitor struct {
	mu  sync.Mutex
	cfg Config

	masterOnline   bool
	syncStatus     Status
	lastOffset     float64
	lastRecordTime time.Time

	offsets *history
	delays  *history
	metrics Metrics

	attempts  int64
	successes int64

	eventLog  []string
	observers []Observer
}

// New creates a Monitor
func New(cfg Config) *Monitor {
	cfg.setDefaults()
	m := &Monitor{
		cfg:        cfg,
		syncStatus: StatusStopped,
		offsets:    newHistory(cfg.ChartMaxPoints),
		delays:     newHistory(cfg.ChartMaxPoints),
	}
	m.addEventLocked("sync monitor started")
	m.addEventLocked(fmt.Sprintf("sync threshold: %v seconds", cfg.SyncThreshold))
	return m
}

// AddObserver registers an observer for status notifications
func (m *Monitor) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Record appends one measurement, recomputes metrics and marks the master
// online. slaveMs is the software clock's millisecond timestamp; offset
// and delay are seconds.
func (m *Monitor) Record(slaveMs int64, offset, delay float64) {
	m.mu.Lock()
	m.lastOffset = offset
	m.lastRecordTime = m.cfg.Clock.Now()

	m.offsets.add(Record{TimestampMs: slaveMs, Value: offset})
	m.delays.add(Record{TimestampMs: slaveMs, Value: delay})

	m.attempts++
	if abs(offset) < m.cfg.SyncThreshold {
		m.successes++
		m.addEventLocked(fmt.Sprintf("offset %.9f s, within threshold", offset))
	} else {
		m.addEventLocked(fmt.Sprintf("offset %.9f s, above threshold", offset))
	}

	m.updateMetricsLocked()
	pending := m.setMasterOnlineLocked(true)
	observers := m.observersLocked()
	m.mu.Unlock()

	notify(observers, pending)
}

// SetSyncStatus updates the sync state and notifies observers on change
func (m *Monitor) SetSyncStatus(status Status) {
	m.mu.Lock()
	var pending []event
	if m.syncStatus != status {
		old := m.syncStatus
		m.syncStatus = status
		m.addEventLocked(fmt.Sprintf("sync status: %s -> %s", old, status))
		log.Infof("sync status: %s -> %s", old, status)
		pending = append(pending, func(o Observer) { o.OnSyncStatusChanged(status) })
	}
	observers := m.observersLocked()
	m.mu.Unlock()

	notify(observers, pending)
}

// SetMasterOnline updates master liveness and notifies observers on change
func (m *Monitor) SetMasterOnline(online bool) {
	m.mu.Lock()
	pending := m.setMasterOnlineLocked(online)
	observers := m.observersLocked()
	m.mu.Unlock()

	notify(observers, pending)
}

func (m *Monitor) setMasterOnlineLocked(online bool) []event {
	if m.masterOnline == online {
		return nil
	}
	m.masterOnline = online
	state := "offline"
	if online {
		state = "online"
	}
	m.addEventLocked("master is " + state)
	log.Infof("master is %s", state)
	return []event{func(o Observer) { o.OnMasterStatusChanged(online) }}
}

// checkOfflineLocked flips the master offline when no record arrived
// within the timeout
func (m *Monitor) checkOfflineLocked() []event {
	if !m.masterOnline || m.lastRecordTime.IsZero() {
		return nil
	}
	if m.cfg.Clock.Since(m.lastRecordTime) > m.cfg.OfflineTimeout {
		return m.setMasterOnlineLocked(false)
	}
	return nil
}

// IsMasterOnline reports master liveness, applying the offline timeout
func (m *Monitor) IsMasterOnline() bool {
	m.mu.Lock()
	pending := m.checkOfflineLocked()
	online := m.masterOnline
	observers := m.observersLocked()
	m.mu.Unlock()

	notify(observers, pending)
	return online
}

// SyncStatus returns the current sync state
func (m *Monitor) SyncStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncStatus
}

// LastOffset returns the most recently recorded offset in seconds
func (m *Monitor) LastOffset() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOffset
}

// Snapshot returns an atomic copy of the monitor state, applying the
// offline timeout first
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	pending := m.checkOfflineLocked()
	s := Snapshot{
		MasterOnline: m.masterOnline,
		SyncStatus:   m.syncStatus,
		LastOffset:   m.lastOffset,
		Metrics:      m.metrics,
	}
	observers := m.observersLocked()
	m.mu.Unlock()

	notify(observers, pending)
	return s
}

// OffsetHistory returns a copy of the offset ring, oldest first
func (m *Monitor) OffsetHistory() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offsets.all()
}

// DelayHistory returns a copy of the delay ring, oldest first
func (m *Monitor) DelayHistory() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delays.all()
}

// ResetMetrics zeroes the success/attempt counters and the derived
// metrics. The history rings are kept.
func (m *Monitor) ResetMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
	m.successes = 0
	m.metrics = Metrics{}
	m.addEventLocked("metrics reset")
}

// Events returns a copy of the recent event log, oldest first
func (m *Monitor) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.eventLog))
	copy(out, m.eventLog)
	return out
}

func (m *Monitor) updateMetricsLocked() {
	offsets := m.offsets.values()
	if len(offsets) == 0 {
		return
	}

	mean := 0.0
	maxDeviation := 0.0
	for _, v := range offsets {
		ms := v * 1000
		mean += ms / float64(len(offsets))
		if abs(ms) > maxDeviation {
			maxDeviation = abs(ms)
		}
	}

	m.metrics.Accuracy = abs(offsets[len(offsets)-1] * 1000)
	if len(offsets) >= 3 {
		var sigmaSq float64
		for _, v := range offsets {
			ms := v * 1000
			sigmaSq += (ms - mean) * (ms - mean)
		}
		m.metrics.Stability = math.Sqrt(sigmaSq / float64(len(offsets)))
	} else {
		m.metrics.Stability = 0
	}
	m.metrics.Precision = maxDeviation

	delays := m.delays.values()
	if len(delays) > 0 {
		d := welford.New()
		for _, v := range delays {
			d.Add(v * 1000)
		}
		m.metrics.AvgDelay = d.Mean()
	}

	if m.attempts > 0 {
		m.metrics.SyncSuccessRate = 100 * float64(m.successes) / float64(m.attempts)
	}
	m.metrics.LastUpdate = m.cfg.Clock.Now()
}

func (m *Monitor) observersLocked() []Observer {
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	return observers
}

func (m *Monitor) addEventLocked(message string) {
	line := fmt.Sprintf("[%s] %s", m.cfg.Clock.Now().Format("15:04:05"), message)
	m.eventLog = append(m.eventLog, line)
	if len(m.eventLog) > eventBufferSize {
		m.eventLog = m.eventLog[len(m.eventLog)-eventBufferSize:]
	}
}

func notify(observers []Observer, pending []event) {
	for _, e := range pending {
		for _, o := range observers {
			e(o)
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
