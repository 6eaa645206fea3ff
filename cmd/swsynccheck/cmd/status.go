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

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/swsync/swsync/slave/monitor"
	"github.com/swsync/swsync/stats"
)

func init() {
	RootCmd.AddCommand(statusCmd)
}

func coloredStatus(s monitor.Status) string {
	switch s {
	case monitor.StatusSynchronized:
		return color.GreenString(s.String())
	case monitor.StatusSyncing:
		return color.YellowString(s.String())
	case monitor.StatusError:
		return color.RedString(s.String())
	}
	return s.String()
}

func coloredOnline(online bool) string {
	if online {
		return color.GreenString("online")
	}
	return color.RedString("offline")
}

func printStatus(url string) error {
	snapshot := &monitor.Snapshot{}
	if err := stats.FetchStatus(url, snapshot); err != nil {
		return fmt.Errorf("fetching status from %q: %w", url, err)
	}

	fmt.Printf("master: %s\n", coloredOnline(snapshot.MasterOnline))
	fmt.Printf("sync status: %s\n", coloredStatus(snapshot.SyncStatus))
	fmt.Printf("last offset: %.9fs\n", snapshot.LastOffset)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"metric", "value"})
	table.Append([]string{"accuracy (ms)", fmt.Sprintf("%.6f", snapshot.Metrics.Accuracy)})
	table.Append([]string{"stability (ms)", fmt.Sprintf("%.6f", snapshot.Metrics.Stability)})
	table.Append([]string{"precision (ms)", fmt.Sprintf("%.6f", snapshot.Metrics.Precision)})
	table.Append([]string{"avg delay (ms)", fmt.Sprintf("%.6f", snapshot.Metrics.AvgDelay)})
	table.Append([]string{"success rate (%)", fmt.Sprintf("%.2f", snapshot.Metrics.SyncSuccessRate)})
	table.Render()
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the slave's sync status and quality metrics",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := printStatus(monitoringURL); err != nil {
			log.Fatal(err)
		}
	},
}
