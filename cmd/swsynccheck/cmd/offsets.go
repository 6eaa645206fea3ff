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

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/swsync/swsync/slave/monitor"
	"github.com/swsync/swsync/stats"
)

func init() {
	RootCmd.AddCommand(offsetsCmd)
}

func printOffsets(url string) error {
	var offsets, delays []monitor.Record
	if err := stats.FetchStatus(fmt.Sprintf("%s/offsets", url), &offsets); err != nil {
		return fmt.Errorf("fetching offsets from %q: %w", url, err)
	}
	if err := stats.FetchStatus(fmt.Sprintf("%s/delays", url), &delays); err != nil {
		return fmt.Errorf("fetching delays from %q: %w", url, err)
	}

	byTimestamp := map[int64]float64{}
	for _, d := range delays {
		byTimestamp[d.TimestampMs] = d.Value
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"slave time", "offset (ms)", "delay (ms)"})
	for _, r := range offsets {
		ts := time.Unix(0, r.TimestampMs*int64(time.Millisecond))
		row := []string{
			ts.Format("15:04:05.000"),
			fmt.Sprintf("%.6f", r.Value*1000),
		}
		if d, ok := byTimestamp[r.TimestampMs]; ok {
			row = append(row, fmt.Sprintf("%.6f", d*1000))
		} else {
			row = append(row, "")
		}
		table.Append(row)
	}
	table.Render()
	return nil
}

var offsetsCmd = &cobra.Command{
	Use:   "offsets",
	Short: "Print the slave's recent offset/delay history",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := printOffsets(monitoringURL); err != nil {
			log.Fatal(err)
		}
	},
}
