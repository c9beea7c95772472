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
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/matta/mailkeep/internal/index"
	"github.com/matta/mailkeep/internal/metrics"
	"github.com/matta/mailkeep/internal/notify"
	"github.com/matta/mailkeep/internal/retention"
)

func (a *app) cleanupCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove backed up messages older than the retention period from Gmail",
		Long: `Remove backed up messages older than the retention period from Gmail.

A message is removed only if it carries the backup label, does not
carry the keep label, and is present in the local backup.  Messages are
moved to the trash unless cleanup.permanent is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.cleanup(cmd, dryRun || a.cfg.Cleanup.DryRun)
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "report what would be removed without removing it")
	return cmd
}

func (a *app) cleanup(cmd *cobra.Command, dryRun bool) (err error) {
	ctx := cmd.Context()
	rec := index.RunRecord{Command: "cleanup", StartedAt: a.now()}
	if dryRun {
		rec.Command = "cleanup-dry-run"
	}
	m := metrics.New(rec.Command)
	var rep retention.Report
	var ix *index.Index

	defer func() {
		rec.FinishedAt = a.now()
		rec.Listed, rec.Deleted, rec.Kept, rec.Failed = rep.Candidates, rep.Deleted, rep.Kept, rep.Failed
		rec.Cutoff = rep.Cutoff
		printCleanup(a.out, rep, err)
		msg := notify.Message{
			Title: "Email cleanup complete",
			Body:  fmt.Sprintf("Deleted %d emails from Gmail (%d kept)", rep.Deleted, rep.Kept),
			Tags:  []string{"wastebasket"},
		}
		if dryRun {
			msg.Title = "Email cleanup dry run"
			msg.Body = fmt.Sprintf("Would delete %d emails from Gmail (%d kept)", rep.Deleted, rep.Kept)
		}
		if err != nil {
			msg = failureMessage("cleanup", err)
		}
		a.finish(ctx, ix, m, rec, err, msg)
		if ix != nil {
			ix.Close()
		}
	}()

	ix, err = index.Open(ctx, a.cfg.Storage.DBPath())
	if err != nil {
		return err
	}
	client, err := a.newClient(ctx)
	if err != nil {
		return err
	}

	s := retention.New(client, ix, a.log.Named("cleanup"))
	s.Clock = a.now
	s.Metrics = m
	if a.cfg.Cleanup.SyncLabels && !dryRun {
		s.Observer = func(ctx context.Context, id string, labels []string) error {
			_, err := ix.UpdateLabels(ctx, id, labels)
			if errors.Cause(err) == index.ErrNotFound {
				return nil
			}
			return err
		}
	}
	rep, err = s.Run(ctx, retention.Policy{
		Label:     a.cfg.Backup.Label,
		KeepLabel: a.cfg.Cleanup.KeepLabel,
		MaxAge:    a.cfg.Cleanup.MaxAge(),
		DryRun:    dryRun,
	})
	return err
}
