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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatsCounters(t *testing.T) {
	s := NewStats()
	s.UpdateCounterBy("requests", 2)
	s.UpdateCounterBy("requests", 1)
	s.SetCounter("listeners", 5)
	require.Equal(t, map[string]int64{"requests": 3, "listeners": 5}, s.Get())

	s.Reset()
	require.Equal(t, map[string]int64{"requests": 0, "listeners": 0}, s.Get())
}

func TestJSONStatsCounters(t *testing.T) {
	j := NewJSONStats()
	j.UpdateCounterBy("server.requests", 7)
	srv := httptest.NewServer(j.mux())
	defer srv.Close()

	counters, err := FetchCounters(srv.URL)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"server.requests": 7}, counters)
}

func TestJSONStatsStatus(t *testing.T) {
	j := NewJSONStats()
	j.SetStatusProvider(func() any {
		return map[string]string{"state": "SYNCHRONIZED"}
	})
	srv := httptest.NewServer(j.mux())
	defer srv.Close()

	status := map[string]string{}
	require.NoError(t, FetchStatus(srv.URL, &status))
	require.Equal(t, "SYNCHRONIZED", status["state"])
}

func TestJSONStatsStatusMissingProvider(t *testing.T) {
	j := NewJSONStats()
	srv := httptest.NewServer(j.mux())
	defer srv.Close()

	require.Error(t, FetchStatus(srv.URL, &map[string]string{}))
}

func TestJSONStatsReset(t *testing.T) {
	j := NewJSONStats()
	j.SetCounter("x", 9)
	extraReset := false
	j.SetResetFunc(func() { extraReset = true })
	srv := httptest.NewServer(j.mux())
	defer srv.Close()

	// GET is rejected
	resp, err := http.Get(srv.URL + "/reset")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	require.NoError(t, Post(srv.URL+"/reset"))
	require.True(t, extraReset)
	counters, err := FetchCounters(srv.URL)
	require.NoError(t, err)
	require.EqualValues(t, 0, counters["x"])
}

func TestJSONStatsAdjust(t *testing.T) {
	j := NewJSONStats()
	var got float64
	j.SetAdjuster(func(delta float64) float64 {
		got = delta
		return 42.0
	})
	srv := httptest.NewServer(j.mux())
	defer srv.Close()

	require.NoError(t, Post(srv.URL+"/adjust?delta=-1.5"))
	require.Equal(t, -1.5, got)

	// garbage delta is a client error
	resp, err := http.Post(srv.URL+"/adjust?delta=abc", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJSONStatsHistories(t *testing.T) {
	j := NewJSONStats()
	j.SetHistoryProviders(
		func() any { return []float64{1, 2} },
		func() any { return []float64{3} },
	)
	srv := httptest.NewServer(j.mux())
	defer srv.Close()

	var offsets []float64
	require.NoError(t, FetchStatus(srv.URL+"/offsets", &offsets))
	require.Equal(t, []float64{1, 2}, offsets)

	var delays []float64
	require.NoError(t, FetchStatus(srv.URL+"/delays", &delays))
	require.Equal(t, []float64{3}, delays)
}

func TestSysStats(t *testing.T) {
	s := &SysStats{}
	stats, err := s.CollectRuntimeStats()
	require.NoError(t, err)
	require.EqualValues(t, 1, stats["process.alive"])
	require.Greater(t, stats["runtime.cpu.goroutines"], uint64(0))
}
