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

	"github.com/swsync/swsync/responder/server"
	"github.com/swsync/swsync/stats"
	"github.com/swsync/swsync/timesource"
)

func main() {
	cfg := server.DefaultConfig()

	var (
		logLevel  string
		pprofHTTP string
	)

	flag.StringVar(&logLevel, "loglevel", "info", "Set a log level. Can be: debug, info, warning, error")
	flag.StringVar(&cfg.IP, "ip", "0.0.0.0", "IP to listen on")
	flag.IntVar(&cfg.Port, "port", server.DefaultPort, "Port to run service on")
	flag.IntVar(&cfg.MonitoringPort, "monitoringport", 4270, "Port to run monitoring server on")
	flag.StringVar(&cfg.RefTime, "reftime", "", "Reference time to serve, format \"2006-01-02 15:04:05\". Empty means system time")
	flag.StringVar(&pprofHTTP, "pprof", "", "Address to have the profiler listen on, disabled if empty.")

	flag.Parse()

	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Unrecognized log level: %v", logLevel)
	}
	log.SetLevel(level)

	ts := timesource.New()
	if cfg.RefTime != "" {
		if err := ts.SetReference(cfg.RefTime); err != nil {
			log.Fatalf("Bad reference time %q: %v", cfg.RefTime, err)
		}
	}

	if pprofHTTP != "" {
		go func() {
			if err := http.ListenAndServe(pprofHTTP, nil); err != nil {
				log.Errorf("Failed to start pprof. Err: %v", err)
			}
		}()
	}

	jsonStats := stats.NewJSONStats()
	s := &server.Server{Config: cfg, TimeSource: ts, Stats: jsonStats}

	jsonStats.SetStatusProvider(func() any {
		return map[string]any{
			"client_connected": s.IsClientConnected(),
			"total_requests":   s.TotalRequests(),
			"reference_time":   ts.Time().Format(timesource.ReferenceTimeLayout),
		}
	})
	jsonStats.SetAdjuster(ts.Adjust)
	go jsonStats.Start(cfg.MonitoringPort)
	go stats.ReportSysStats(jsonStats, "swsyncmaster", time.Minute)

	if err := s.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	s.Stop()
}
