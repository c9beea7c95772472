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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matta/mailkeep/internal/backup"
	"github.com/matta/mailkeep/internal/content"
	"github.com/matta/mailkeep/internal/export"
	"github.com/matta/mailkeep/internal/index"
	"github.com/matta/mailkeep/internal/metrics"
	"github.com/matta/mailkeep/internal/notify"
)

func (a *app) backupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Copy new labelled messages into local storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.backup(cmd)
		},
	}
}

func (a *app) backup(cmd *cobra.Command) (err error) {
	ctx := cmd.Context()
	rec := index.RunRecord{Command: "backup", StartedAt: a.now()}
	m := metrics.New(rec.Command)
	var rep backup.Report
	var ix *index.Index

	defer func() {
		rec.FinishedAt = a.now()
		rec.Listed, rec.Ingested, rec.Skipped, rec.Failed = rep.Listed, rep.Ingested, rep.Skipped, rep.Failed
		printBackup(a.out, rep, err)
		msg := notify.Message{
			Title: "Email backup complete",
			Body: fmt.Sprintf("Backed up %d new messages (%d already present, %d failed)",
				rep.Ingested, rep.Skipped, rep.Failed),
			Tags: []string{"email"},
		}
		if err != nil {
			msg = failureMessage("backup", err)
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
	store, err := content.New(a.cfg.Storage.Path)
	if err != nil {
		return err
	}
	client, err := a.newClient(ctx)
	if err != nil {
		return err
	}

	opts := backup.Options{
		Label:       a.cfg.Backup.Label,
		Concurrency: a.cfg.Backup.Concurrency,
		Metrics:     m,
		Now:         a.now,
	}
	if dir := a.cfg.Export.ConsumeDir; dir != "" {
		opts.Exporter = &export.Exporter{Dir: dir, StoreRoot: store.Root()}
	}
	rep, err = backup.New(client, store, ix, a.log.Named("backup"), opts).Run(ctx)
	return err
}
