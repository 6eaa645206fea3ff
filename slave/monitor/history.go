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

package monitor

import (
	"container/ring"
)

// Record is one history entry: a value (seconds) stamped with the slave's
// millisecond timestamp
type Record struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Value       float64 `json:"value"`
}

// history is a bounded FIFO of records; appends are O(1), the oldest
// record is discarded on overflow
type history struct {
	size        int
	currentSize int
	records     *ring.Ring
}

func newHistory(size int) *history {
	if size < 1 {
		size = 1
	}
	return &history{
		size:    size,
		records: ring.New(size),
	}
}

func (h *history) add(r Record) {
	h.records.Value = r
	h.records = h.records.Next()
	if h.currentSize < h.size {
		h.currentSize++
	}
}

func (h *history) len() int {
	return h.currentSize
}

// all returns records oldest first
func (h *history) all() []Record {
	s := make([]Record, 0, h.currentSize)
	h.records.Do(func(val any) {
		if val == nil {
			return
		}
		s = append(s, val.(Record))
	})
	return s
}

// values returns just the values, oldest first
func (h *history) values() []float64 {
	s := make([]float64, 0, h.currentSize)
	for _, r := range h.all() {
		s = append(s, r.Value)
	}
	return s
}
