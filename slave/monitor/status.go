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
	"encoding/json"
	"fmt"
)

// Status describes the state of the synchronization process. It lives in
// this package so the controller, the monitor and its observers can all
// share it.
type Status int

// All the states the sync controller moves through
const (
	StatusStopped Status = iota
	StatusSyncing
	StatusSynchronized
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "STOPPED"
	case StatusSyncing:
		return "SYNCING"
	case StatusSynchronized:
		return "SYNCHRONIZED"
	case StatusError:
		return "ERROR"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// MarshalJSON renders the status as its name
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a status name produced by MarshalJSON
func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "STOPPED":
		*s = StatusStopped
	case "SYNCING":
		*s = StatusSyncing
	case "SYNCHRONIZED":
		*s = StatusSynchronized
	case "ERROR":
		*s = StatusError
	default:
		return fmt.Errorf("unknown sync status %q", name)
	}
	return nil
}
