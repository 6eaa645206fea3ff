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

package stats

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

var procStartTime = time.Now()

// SysStats gathers cpu, memory and runtime statistics of the daemon itself
type SysStats struct {
	memstats *runtime.MemStats
}

// CollectRuntimeStats gathers cpu, mem, gc statistics
func (s *SysStats) CollectRuntimeStats() (map[string]uint64, error) {
	stats := make(map[string]uint64)
	m := &runtime.MemStats{}
	runtime.ReadMemStats(m)

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	stats["process.alive"] = uint64(1)
	stats["process.uptime"] = uint64(time.Since(procStartTime).Seconds())

	if val, err := proc.Percent(0); err == nil {
		stats["process.cpu_pct"] = uint64(val * 100)
	}
	if val, err := proc.MemoryInfo(); err == nil {
		stats["process.rss"] = val.RSS
		stats["process.vms"] = val.VMS
	}
	if val, err := proc.NumFDs(); err == nil {
		stats["process.num_fds"] = uint64(val)
	}
	if val, err := proc.NumThreads(); err == nil {
		stats["process.num_threads"] = uint64(val)
	}

	stats["runtime.cpu.goroutines"] = uint64(runtime.NumGoroutine())
	stats["runtime.mem.alloc"] = m.Alloc
	stats["runtime.mem.sys"] = m.Sys
	stats["runtime.mem.heap.alloc"] = m.HeapAlloc
	stats["runtime.mem.heap.inuse"] = m.HeapInuse
	stats["runtime.mem.gc.count"] = uint64(m.NumGC)
	stats["runtime.mem.gc.pause_total"] = m.PauseTotalNs

	s.memstats = m
	return stats, nil
}

// ReportSysStats publishes process stats to the given server every
// interval, forever. Meant to run on its own goroutine.
func ReportSysStats(server Server, prefix string, interval time.Duration) {
	sysstats := &SysStats{}
	update := func() {
		stats, err := sysstats.CollectRuntimeStats()
		if err != nil {
			log.Warningf("failed to get system metrics %v", err)
			return
		}
		for k, v := range stats {
			server.SetCounter(fmt.Sprintf("%s.%s", prefix, k), int64(v))
		}
	}
	update()
	for range time.Tick(interval) {
		update()
	}
}
