// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"github.com/spf13/cobra"

	"github.com/matta/mailkeep/internal/query"
)

func (a *app) statsCommand() *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the local backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeFn, err := query.Open(ctx, a.cfg.Storage.DBPath())
			if err != nil {
				return err
			}
			defer closeFn()

			stats, err := svc.Stats(ctx)
			if err != nil {
				return err
			}
			last, err := svc.LastBackup(ctx, a.cfg.Backup.Label)
			if err != nil {
				return err
			}
			recent, err := svc.Runs(ctx, runs)
			if err != nil {
				return err
			}
			printStats(a.out, stats, last, recent)
			return nil
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 10, "number of recent runs to show")
	return cmd
}
