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

package index

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Cursor returns the saved listing position for label, or "" if the
// next backup should start from the beginning.
func (ix *Index) Cursor(ctx context.Context, label string) (string, error) {
	var cursor string
	err := ix.db.GetContext(ctx, &cursor, `SELECT cursor FROM backup_state WHERE label = ?`, label)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "reading cursor for %q", label)
	}
	return cursor, nil
}

// SaveCursor persists the listing position for label.
func (ix *Index) SaveCursor(ctx context.Context, label, cursor string) error {
	return ix.update(ctx, func(tx *sqlx.Tx) error {
		return saveCursor(ctx, tx, label, cursor)
	})
}

func saveCursor(ctx context.Context, tx *sqlx.Tx, label, cursor string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO backup_state (label, cursor, updated_at) VALUES (?, ?, ?)
ON CONFLICT (label) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		label, cursor, time.Now().Unix())
	return errors.Wrapf(err, "saving cursor for %q", label)
}

// CompleteScan records that a backup of label listed every message.
// The cursor is cleared so the next run lists from the beginning and
// picks up messages labelled since.
func (ix *Index) CompleteScan(ctx context.Context, label string, at time.Time) error {
	return ix.update(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO backup_state (label, cursor, updated_at, last_completed_at) VALUES (?, '', ?, ?)
ON CONFLICT (label) DO UPDATE SET
	cursor = '',
	updated_at = excluded.updated_at,
	last_completed_at = excluded.last_completed_at`,
			label, at.Unix(), at.Unix())
		return errors.Wrapf(err, "completing scan of %q", label)
	})
}

// LastCompleted returns when a backup of label last listed every
// message, or the zero time if it never has.
func (ix *Index) LastCompleted(ctx context.Context, label string) (time.Time, error) {
	var at int64
	err := ix.db.GetContext(ctx, &at, `SELECT last_completed_at FROM backup_state WHERE label = ?`, label)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "reading scan state for %q", label)
	}
	return timeOrZero(at), nil
}

// Run statuses.
const (
	RunCompleted = "completed"
	RunAborted   = "aborted"
	RunAuth      = "auth_required"
)

// RunRecord is the outcome of one backup or cleanup invocation.
type RunRecord struct {
	ID         string
	Command    string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time

	Listed   int
	Ingested int
	Skipped  int
	Failed   int
	Deleted  int
	Kept     int

	// Age cutoff of a cleanup run.
	Cutoff time.Time

	// Free form; the error of an aborted run.
	Detail string
}

type runRow struct {
	ID         string `db:"id"`
	Command    string `db:"command"`
	Status     string `db:"status"`
	StartedAt  int64  `db:"started_at"`
	FinishedAt int64  `db:"finished_at"`
	Listed     int    `db:"listed"`
	Ingested   int    `db:"ingested"`
	Skipped    int    `db:"skipped"`
	Failed     int    `db:"failed"`
	Deleted    int    `db:"deleted"`
	Kept       int    `db:"kept"`
	Cutoff     int64  `db:"cutoff"`
	Detail     string `db:"detail"`
}

// RecordRun appends r to the run history, assigning it an id if it has
// none.  It returns the id.
func (ix *Index) RecordRun(ctx context.Context, r RunRecord) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	row := runRow{
		ID:         r.ID,
		Command:    r.Command,
		Status:     r.Status,
		StartedAt:  unixOrZero(r.StartedAt),
		FinishedAt: unixOrZero(r.FinishedAt),
		Listed:     r.Listed,
		Ingested:   r.Ingested,
		Skipped:    r.Skipped,
		Failed:     r.Failed,
		Deleted:    r.Deleted,
		Kept:       r.Kept,
		Cutoff:     unixOrZero(r.Cutoff),
		Detail:     r.Detail,
	}
	err := ix.update(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
INSERT INTO runs (
	id, command, status, started_at, finished_at,
	listed, ingested, skipped, failed, deleted, kept, cutoff, detail
) VALUES (
	:id, :command, :status, :started_at, :finished_at,
	:listed, :ingested, :skipped, :failed, :deleted, :kept, :cutoff, :detail
)`, row)
		return err
	})
	if err != nil {
		return "", errors.Wrapf(err, "recording %s run", r.Command)
	}
	return r.ID, nil
}

// RecentRuns returns up to n runs, newest first.
func (ix *Index) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []runRow
	err := ix.db.SelectContext(ctx, &rows, `
SELECT id, command, status, started_at, finished_at,
	listed, ingested, skipped, failed, deleted, kept, cutoff, detail
FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, errors.Wrap(err, "reading run history")
	}
	out := make([]RunRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, RunRecord{
			ID:         r.ID,
			Command:    r.Command,
			Status:     r.Status,
			StartedAt:  timeOrZero(r.StartedAt),
			FinishedAt: timeOrZero(r.FinishedAt),
			Listed:     r.Listed,
			Ingested:   r.Ingested,
			Skipped:    r.Skipped,
			Failed:     r.Failed,
			Deleted:    r.Deleted,
			Kept:       r.Kept,
			Cutoff:     timeOrZero(r.Cutoff),
			Detail:     r.Detail,
		})
	}
	return out, nil
}
