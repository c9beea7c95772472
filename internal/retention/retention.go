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

// Package retention removes aged messages from the remote mailbox.
//
// A message is deleted only when all of these hold at the moment of
// deletion: it carries the backup label, it is older than the policy
// allows, its live labels do not include the keep label, and it is
// recorded in the index.  The sweep never writes to the content store
// or the index.
package retention

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/matta/mailkeep/internal/mailbox"
	"github.com/matta/mailkeep/internal/message"
	"github.com/matta/mailkeep/internal/metrics"
)

// Catalog answers whether a message has been backed up.
type Catalog interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// LabelObserver is told the live labels of every message the sweep
// inspects.  Errors are logged and otherwise ignored.
type LabelObserver func(ctx context.Context, id string, labels []string) error

// Clock returns the current time.
type Clock func() time.Time

// Policy selects what a sweep deletes.
type Policy struct {
	// Only messages with Label are considered.
	Label string

	// Messages with KeepLabel are never deleted.
	KeepLabel string

	// Messages received more than MaxAge ago are deleted.
	MaxAge time.Duration

	// Decide, log and count, but delete nothing.
	DryRun bool
}

func (p Policy) validate() error {
	switch {
	case p.Label == "":
		return errors.New("retention policy has no label")
	case p.KeepLabel == "":
		return errors.New("retention policy has no keep label")
	case p.KeepLabel == p.Label:
		return errors.Errorf("keep label %q is the backup label", p.KeepLabel)
	case p.MaxAge <= 0:
		return errors.Errorf("retention age %v is not positive", p.MaxAge)
	}
	return nil
}

// Report summarizes a sweep.
type Report struct {
	// Messages listed as older than Cutoff.
	Candidates int

	// Deleted, or that would have been in a dry run.
	Deleted int

	// Spared by the keep label.
	Kept int

	// Spared because they are not backed up.
	Unindexed int

	// Messages whose label check or deletion failed.
	Failed int

	Cutoff time.Time
	DryRun bool

	// One entry per failure; nil when Failed is zero.
	Errors error
}

// Sweeper applies a Policy to a mailbox.
type Sweeper struct {
	client  mailbox.Client
	catalog Catalog
	log     *zap.Logger

	// Optional.
	Clock    Clock
	Observer LabelObserver
	Metrics  *metrics.Metrics
}

func New(client mailbox.Client, catalog Catalog, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{client: client, catalog: catalog, log: logger, Clock: time.Now}
}

// Run sweeps the mailbox once.  A failure to check or delete a single
// message is recorded in the Report and the sweep goes on; index and
// authentication errors end it.
func (s *Sweeper) Run(ctx context.Context, p Policy) (Report, error) {
	if err := p.validate(); err != nil {
		return Report{}, err
	}
	rep := Report{Cutoff: s.Clock().Add(-p.MaxAge), DryRun: p.DryRun}
	log := s.log.With(zap.String("label", p.Label), zap.Time("cutoff", rep.Cutoff), zap.Bool("dry_run", p.DryRun))
	log.Info("starting cleanup")

	// Deleting while listing would shift later pages under the
	// listing, so collect candidates first.
	var ids []string
	err := s.client.List(ctx, mailbox.Query{Label: p.Label, Before: rep.Cutoff}, "", func(it mailbox.Item) error {
		ids = append(ids, it.ID)
		return nil
	})
	if err != nil {
		return rep, errors.Wrap(err, "listing cleanup candidates")
	}
	rep.Candidates = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := s.sweep(ctx, p, id, &rep); err != nil {
			return rep, err
		}
	}

	s.Metrics.Kept(rep.Kept)
	s.Metrics.Failed(rep.Failed)
	if !p.DryRun {
		s.Metrics.Deleted(rep.Deleted)
	}
	log.Info("cleanup complete",
		zap.Int("candidates", rep.Candidates),
		zap.Int("deleted", rep.Deleted),
		zap.Int("kept", rep.Kept),
		zap.Int("unindexed", rep.Unindexed),
		zap.Int("failed", rep.Failed))
	return rep, nil
}

// fail records a per-message failure, or returns err if it must end
// the sweep.
func (s *Sweeper) fail(ctx context.Context, rep *Report, id, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if mailbox.IsAuth(err) {
		return errors.Wrapf(err, "%s %s", op, id)
	}
	s.log.Warn("cleanup failed for message", zap.String("id", id), zap.String("op", op), zap.Error(err))
	rep.Failed++
	rep.Errors = multierr.Append(rep.Errors, errors.Wrapf(err, "%s %s", op, id))
	return nil
}

func (s *Sweeper) sweep(ctx context.Context, p Policy, id string, rep *Report) error {
	log := s.log.With(zap.String("id", id))

	// The listing may be stale; a keep label added since the message
	// was listed, or backed up, must win.
	labels, err := s.client.Labels(ctx, id)
	if mailbox.IsNotFound(err) {
		log.Debug("already gone")
		return nil
	}
	if err != nil {
		return s.fail(ctx, rep, id, "checking labels of", err)
	}
	if s.Observer != nil {
		if err := s.Observer(ctx, id, labels); err != nil {
			log.Warn("could not record labels", zap.Error(err))
		}
	}
	if message.HasLabel(labels, p.KeepLabel) {
		log.Debug("kept", zap.Strings("labels", labels))
		rep.Kept++
		return nil
	}
	if !message.HasLabel(labels, p.Label) {
		log.Debug("no longer labelled", zap.Strings("labels", labels))
		return nil
	}

	indexed, err := s.catalog.Exists(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "checking index for %s", id)
	}
	if !indexed {
		log.Warn("not backed up; leaving it in place")
		rep.Unindexed++
		return nil
	}

	if p.DryRun {
		log.Info("would delete")
		rep.Deleted++
		return nil
	}
	err = s.client.Delete(ctx, id)
	if mailbox.IsNotFound(err) {
		log.Debug("already gone")
		return nil
	}
	if err != nil {
		return s.fail(ctx, rep, id, "deleting", err)
	}
	log.Info("deleted")
	rep.Deleted++
	return nil
}
