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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// JSONStats reports counters and daemon status as JSON over HTTP.
// This is a passive implementation, only Start needs to be called.
//
// Endpoints:
//
//	/          status document from the provider
//	/counters  flat counter map
//	/offsets   offset history (slave only)
//	/delays    delay history (slave only)
//	/events    recent event log (slave only)
//	/reset     POST, zero counters and derived metrics
//	/adjust    POST with ?delta=SECONDS, bump the timescale (master only)
type JSONStats struct {
	Stats

	status   func() any
	offsets  func() any
	delays   func() any
	events   func() any
	reset    func()
	adjuster func(delta float64) float64
}

// NewJSONStats created new instance of JSONStats
func NewJSONStats() *JSONStats {
	return &JSONStats{Stats: Stats{counters: map[string]int64{}}}
}

// SetStatusProvider wires the "/" endpoint
func (j *JSONStats) SetStatusProvider(f func() any) { j.status = f }

// SetHistoryProviders wires the "/offsets" and "/delays" endpoints
func (j *JSONStats) SetHistoryProviders(offsets, delays func() any) {
	j.offsets = offsets
	j.delays = delays
}

// SetEventsProvider wires the "/events" endpoint
func (j *JSONStats) SetEventsProvider(f func() any) { j.events = f }

// SetResetFunc wires an extra action into "/reset" next to the counter reset
func (j *JSONStats) SetResetFunc(f func()) { j.reset = f }

// SetAdjuster wires the "/adjust" endpoint
func (j *JSONStats) SetAdjuster(f func(delta float64) float64) { j.adjuster = f }

func (j *JSONStats) reply(w http.ResponseWriter, data any) {
	js, err := json.Marshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

func (j *JSONStats) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if j.status == nil {
		http.Error(w, "no status provider", http.StatusNotFound)
		return
	}
	j.reply(w, j.status())
}

func (j *JSONStats) handleCounters(w http.ResponseWriter, _ *http.Request) {
	j.reply(w, j.Get())
}

func (j *JSONStats) handleProvider(f func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if f == nil {
			http.Error(w, "not supported", http.StatusNotFound)
			return
		}
		j.reply(w, f())
	}
}

func (j *JSONStats) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	j.Reset()
	if j.reset != nil {
		j.reset()
	}
	j.reply(w, map[string]string{"result": "ok"})
}

func (j *JSONStats) handleAdjust(w http.ResponseWriter, r *http.Request) {
	if j.adjuster == nil {
		http.Error(w, "not supported", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	delta, err := strconv.ParseFloat(r.URL.Query().Get("delta"), 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad delta: %v", err), http.StatusBadRequest)
		return
	}
	now := j.adjuster(delta)
	j.reply(w, map[string]float64{"current": now})
}

func (j *JSONStats) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", j.handleStatus)
	mux.HandleFunc("/counters", j.handleCounters)
	mux.HandleFunc("/offsets", j.handleProvider(j.offsets))
	mux.HandleFunc("/delays", j.handleProvider(j.delays))
	mux.HandleFunc("/events", j.handleProvider(j.events))
	mux.HandleFunc("/reset", j.handleReset)
	mux.HandleFunc("/adjust", j.handleAdjust)
	return mux
}

// Start launches the http json server on the given port and blocks
func (j *JSONStats) Start(port int) {
	addr := fmt.Sprintf(":%d", port)
	log.Debugf("Starting http json server on %s", addr)
	if err := http.ListenAndServe(addr, j.mux()); err != nil {
		log.Errorf("Failed to start listener: %v", err)
	}
}

// FetchStatus returns the status document from a daemon's monitoring url,
// decoded into dst
func FetchStatus(url string, dst any) error {
	b, err := fetch(url)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// FetchCounters returns the counters map fetched from the url
func FetchCounters(url string) (map[string]int64, error) {
	b, err := fetch(fmt.Sprintf("%s/counters", url))
	if err != nil {
		return nil, err
	}
	counters := make(map[string]int64)
	err = json.Unmarshal(b, &counters)
	return counters, err
}

func fetch(url string) ([]byte, error) {
	c := http.Client{Timeout: time.Second * 2}
	resp, err := c.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %q: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Post sends an empty POST to the url and reports non-2xx as an error
func Post(url string) error {
	c := http.Client{Timeout: time.Second * 2}
	resp, err := c.Post(url, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("posting %q: %s", url, resp.Status)
	}
	return nil
}
