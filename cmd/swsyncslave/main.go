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

package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "net/http/pprof"

	log "github.com/sirupsen/logrus"

	"github.com/swsync/swsync/slave/controller"
	"github.com/swsync/swsync/slave/monitor"
	"github.com/swsync/swsync/softclock"
	"github.com/swsync/swsync/stats"
)

func prepareConfig(cfgPath string, master string, interval time.Duration, monitoringPort int) (*controller.Config, error) {
	cfg := controller.DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = controller.ReadConfig(cfgPath)
		if err != nil {
			return nil, err
		}
	}
	if master != "" && master != cfg.MasterAddr {
		warn("master")
		cfg.MasterAddr = master
	}
	if interval != 0 && interval != cfg.SyncInterval {
		warn("interval")
		cfg.SyncInterval = interval
	}
	if monitoringPort != 0 && monitoringPort != cfg.MonitoringPort {
		warn("monitoringport")
		cfg.MonitoringPort = monitoringPort
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}

// logObserver narrates monitor events to the daemon log. It stands in for
// the presentation layer consuming the observer interface.
type logObserver struct{}

func (logObserver) OnMasterStatusChanged(online bool) {
	if online {
		log.Info("master is reachable")
	} else {
		log.Warning("master is unreachable")
	}
}

func (logObserver) OnSyncStatusChanged(status monitor.Status) {
	log.Infof("sync status is now %s", status)
}

func main() {
	var (
		verboseFlag        bool
		configFlag         string
		masterFlag         string
		intervalFlag       time.Duration
		monitoringPortFlag int
		pprofFlag          string
	)

	flag.BoolVar(&verboseFlag, "verbose", false, "verbose output")
	flag.StringVar(&configFlag, "config", "", "path to the config")
	flag.StringVar(&masterFlag, "master", "", "master address, host:port")
	flag.DurationVar(&intervalFlag, "interval", 0, "how often to run a sync burst")
	flag.IntVar(&monitoringPortFlag, "monitoringport", 0, "port to start monitoring http server on")
	flag.StringVar(&pprofFlag, "pprof", "", "Address to have the profiler listen on, disabled if empty.")

	flag.Parse()

	log.SetLevel(log.InfoLevel)
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := prepareConfig(configFlag, masterFlag, intervalFlag, monitoringPortFlag)
	if err != nil {
		log.Fatal(err)
	}

	if pprofFlag != "" {
		go func() {
			if err := http.ListenAndServe(pprofFlag, nil); err != nil {
				log.Errorf("Failed to start pprof. Err: %v", err)
			}
		}()
	}

	clock := softclock.New(cfg.PIDConfig())
	mon := monitor.New(cfg.MonitorConfig())
	mon.AddObserver(logObserver{})
	ctrl := controller.New(*cfg, clock, mon)

	jsonStats := stats.NewJSONStats()
	jsonStats.SetStatusProvider(func() any { return mon.Snapshot() })
	jsonStats.SetHistoryProviders(
		func() any { return mon.OffsetHistory() },
		func() any { return mon.DelayHistory() },
	)
	jsonStats.SetEventsProvider(func() any { return mon.Events() })
	jsonStats.SetResetFunc(mon.ResetMetrics)
	go jsonStats.Start(cfg.MonitoringPort)
	go stats.ReportSysStats(jsonStats, "swsyncslave", time.Minute)

	if err := ctrl.Start(); err != nil {
		log.Fatalf("Failed to start sync controller: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctrl.Stop()
}
