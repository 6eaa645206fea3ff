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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/swsync/swsync/stats"
)

func init() {
	RootCmd.AddCommand(resetCmd)
	RootCmd.AddCommand(adjustCmd)
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset a daemon's counters and derived metrics",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := stats.Post(fmt.Sprintf("%s/reset", monitoringURL)); err != nil {
			log.Fatal(err)
		}
		fmt.Println("done")
	},
}

var adjustCmd = &cobra.Command{
	Use:   "adjust [delta seconds]",
	Short: "Bump the master's reference time by delta seconds",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		if err := stats.Post(fmt.Sprintf("%s/adjust?delta=%s", monitoringURL, args[0])); err != nil {
			log.Fatal(err)
		}
		fmt.Println("done")
	},
}
