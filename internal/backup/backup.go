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

// Package backup copies labelled messages from a remote mailbox into
// the content store and the index.
//
// A message is backed up when its index row commits.  Its raw bytes
// and attachments are written to the content store first, so a row
// never refers to missing files.  The listing cursor is saved in the
// same transaction as the row, and only up to the lowest message not
// yet committed, so an interrupted run resumes without losing work.
package backup

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matta/mailkeep/internal/content"
	"github.com/matta/mailkeep/internal/mailbox"
	"github.com/matta/mailkeep/internal/mailparse"
	"github.com/matta/mailkeep/internal/message"
	"github.com/matta/mailkeep/internal/metrics"
)

const snippetLength = 200

// Catalog is the part of the index a backup uses.
type Catalog interface {
	Exists(ctx context.Context, id string) (bool, error)
	Commit(ctx context.Context, msg *message.Message, label, cursor string) (bool, error)
	Cursor(ctx context.Context, label string) (string, error)
	CompleteScan(ctx context.Context, label string, at time.Time) error
	MarkExported(ctx context.Context, hash, parentID string) error
}

// Store holds message and attachment bytes.
type Store interface {
	PutRaw(data []byte, receivedAt time.Time) (content.Object, error)
	PutAttachment(data []byte, filename string) (content.Object, error)
}

// Exporter is handed each attachment of a newly backed up message.
type Exporter interface {
	Export(att message.Attachment) (bool, error)
}

type Options struct {
	// Messages carrying this label are backed up.
	Label string

	// Messages fetched at once.  Defaults to 1.
	Concurrency int

	// Optional.
	Exporter Exporter
	Metrics  *metrics.Metrics

	// Defaults to time.Now.
	Now func() time.Time
}

// Report summarizes a run.
type Report struct {
	Listed   int
	Ingested int
	Skipped  int
	Failed   int
	Exported int

	// The saved cursor when the run ended.  Empty after a complete
	// pass.
	Cursor   string
	Complete bool
}

// Pipeline backs up one label.
type Pipeline struct {
	client  mailbox.Client
	store   Store
	catalog Catalog
	log     *zap.Logger
	opts    Options
}

func New(client mailbox.Client, store Store, catalog Catalog, logger *zap.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		client:  client,
		store:   store,
		catalog: catalog,
		log:     logger.With(zap.String("label", opts.Label)),
		opts:    opts,
	}
}

type work struct {
	seq  int64
	item mailbox.Item
}

// run is the state of one Run call.
type run struct {
	*Pipeline
	t *tracker

	// Serializes commits so saved cursors never move backwards.
	commitMu sync.Mutex
	saved    string

	mu  sync.Mutex
	rep Report
}

func (r *run) count(fn func(*Report)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.rep)
}

// Run backs up every message carrying the label that is not in the
// catalog yet.  Messages that cannot be fetched are logged and
// counted as failed.  Storage and authentication errors abort the run;
// the returned Report is valid either way.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	start, err := p.catalog.Cursor(ctx, p.opts.Label)
	if err != nil {
		return Report{}, errors.Wrap(err, "reading backup cursor")
	}
	r := &run{Pipeline: p, t: newTracker(start), saved: start}
	p.log.Info("starting backup", zap.String("cursor", start), zap.Int("concurrency", p.opts.Concurrency))

	grp, gctx := errgroup.WithContext(ctx)
	items := make(chan work)
	grp.Go(func() error {
		defer close(items)
		err := r.list(gctx, start, items)
		if err != nil && start != "" && r.t.issued() == 0 && rejectedCursor(gctx, err) {
			// Page tokens expire.  Rescanning is safe because backed
			// up messages are skipped without a fetch.
			p.log.Warn("saved cursor rejected; rescanning from the start",
				zap.String("cursor", start), zap.Error(err))
			err = r.list(gctx, "", items)
		}
		return errors.Wrap(err, "listing messages")
	})
	for i := 0; i < p.opts.Concurrency; i++ {
		grp.Go(func() error {
			for w := range items {
				if err := r.handle(gctx, w); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err = grp.Wait()

	r.commitMu.Lock()
	rep := r.rep
	rep.Cursor = r.saved
	r.commitMu.Unlock()

	if err != nil {
		p.log.Error("backup aborted", zap.Error(err),
			zap.Int("ingested", rep.Ingested), zap.Int("in_flight", r.t.inFlight()))
		return rep, err
	}
	if err := p.catalog.CompleteScan(ctx, p.opts.Label, p.opts.Now()); err != nil {
		return rep, errors.Wrap(err, "recording completed backup")
	}
	rep.Cursor = ""
	rep.Complete = true
	p.log.Info("backup complete",
		zap.Int("listed", rep.Listed),
		zap.Int("ingested", rep.Ingested),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
		zap.Int("exported", rep.Exported))
	return rep, nil
}

func (r *run) list(ctx context.Context, cursor string, items chan<- work) error {
	return r.client.List(ctx, mailbox.Query{Label: r.opts.Label}, cursor, func(it mailbox.Item) error {
		w := work{seq: r.t.issue(it.Cursor), item: it}
		r.count(func(rep *Report) { rep.Listed++ })
		select {
		case <-ctx.Done():
			return ctx.Err()
		case items <- w:
			return nil
		}
	})
}

// rejectedCursor reports whether a listing failed because the provider
// refused the cursor rather than because of the network or access.
func rejectedCursor(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch mailbox.KindOf(err) {
	case mailbox.Permanent, mailbox.NotFound:
		return true
	}
	return false
}

func (r *run) handle(ctx context.Context, w work) error {
	id := w.item.ID
	log := r.log.With(zap.String("id", id))

	exists, err := r.catalog.Exists(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "checking index for %s", id)
	}
	if exists {
		log.Debug("already backed up")
		r.t.complete(w.seq)
		r.count(func(rep *Report) { rep.Skipped++ })
		r.opts.Metrics.Skipped(1)
		return nil
	}

	f, err := r.client.Fetch(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if mailbox.IsAuth(err) {
			return errors.Wrapf(err, "fetching %s", id)
		}
		log.Warn("skipping message", zap.Stringer("kind", mailbox.KindOf(err)), zap.Error(err))
		r.t.complete(w.seq)
		r.count(func(rep *Report) { rep.Failed++ })
		r.opts.Metrics.Failed(1)
		return nil
	}
	if f.Parsed != nil && f.Parsed.Truncated {
		log.Warn("message structure is damaged; indexing what could be read")
	}

	msg, err := r.write(f)
	if err != nil {
		return err
	}
	inserted, err := r.commit(ctx, w, msg)
	if err != nil {
		return err
	}
	if !inserted {
		log.Debug("indexed concurrently")
		r.count(func(rep *Report) { rep.Skipped++ })
		r.opts.Metrics.Skipped(1)
		return nil
	}
	log.Debug("backed up", zap.String("hash", msg.ContentHash), zap.Int("attachments", len(msg.Attachments)))
	r.count(func(rep *Report) { rep.Ingested++ })
	r.opts.Metrics.Ingested(1)
	return r.export(ctx, msg)
}

// write puts the bytes of f into the store and returns the message
// to index.
func (r *run) write(f *mailbox.Fetched) (*message.Message, error) {
	parsed := f.Parsed
	if parsed == nil {
		parsed = &mailparse.Parsed{}
	}
	received := f.ReceivedAt()
	raw, err := r.store.PutRaw(f.Raw, received)
	if err != nil {
		return nil, err
	}
	msg := &message.Message{
		ID:          f.ID,
		ThreadID:    f.ThreadID,
		ContentHash: raw.Hash,
		RawPath:     raw.Path,
		ReceivedAt:  received,
		Subject:     parsed.Subject,
		From:        parsed.From,
		To:          parsed.To,
		Labels:      f.Labels,
		Snippet:     mailparse.Snippet(parsed.BodyText, snippetLength),
		BodyText:    parsed.BodyText,
		SizeBytes:   int64(len(f.Raw)),
	}
	for i, part := range parsed.Attachments {
		obj, err := r.store.PutAttachment(part.Data, part.Filename)
		if err != nil {
			return nil, err
		}
		name := part.Filename
		if name == "" {
			name = path.Base(obj.Path)
		}
		msg.Attachments = append(msg.Attachments, message.Attachment{
			ContentHash: obj.Hash,
			ParentID:    f.ID,
			Position:    i,
			Filename:    name,
			MIMEType:    part.MIMEType,
			SizeBytes:   obj.Size,
			Path:        obj.Path,
		})
	}
	return msg, nil
}

func (r *run) commit(ctx context.Context, w work, msg *message.Message) (bool, error) {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	cursor := r.t.complete(w.seq)
	inserted, err := r.catalog.Commit(ctx, msg, r.opts.Label, cursor)
	if err != nil {
		r.t.revert(w.seq, w.item.Cursor)
		return false, errors.Wrapf(err, "indexing %s", msg.ID)
	}
	r.saved = cursor
	return inserted, nil
}

func (r *run) export(ctx context.Context, msg *message.Message) error {
	if r.opts.Exporter == nil {
		return nil
	}
	for _, att := range msg.Attachments {
		ok, err := r.opts.Exporter.Export(att)
		if err != nil {
			r.log.Warn("could not export attachment",
				zap.String("id", msg.ID), zap.String("hash", att.ContentHash), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if err := r.catalog.MarkExported(ctx, att.ContentHash, msg.ID); err != nil {
			return err
		}
		r.count(func(rep *Report) { rep.Exported++ })
		r.opts.Metrics.Exported(1)
	}
	return nil
}
