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
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/matta/mailkeep/internal/message"
)

// InsertMessage records msg, its labels and its attachments in one
// transaction.  It returns false, and changes nothing, if a row for
// msg.ID already exists.
func (ix *Index) InsertMessage(ctx context.Context, msg *message.Message) (bool, error) {
	var inserted bool
	err := ix.update(ctx, func(tx *sqlx.Tx) error {
		var err error
		inserted, err = insertMessage(ctx, tx, msg)
		return err
	})
	return inserted, err
}

// Commit records msg like InsertMessage and, in the same transaction,
// saves cursor as the backup position for label.  The cursor is saved
// even when msg was already present.
func (ix *Index) Commit(ctx context.Context, msg *message.Message, label, cursor string) (bool, error) {
	var inserted bool
	err := ix.update(ctx, func(tx *sqlx.Tx) error {
		var err error
		if inserted, err = insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		return saveCursor(ctx, tx, label, cursor)
	})
	return inserted, err
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, msg *message.Message) (bool, error) {
	if msg.ID == "" {
		return false, errors.New("insert message: empty message id")
	}
	res, err := tx.ExecContext(ctx, `
INSERT INTO messages (
	message_id, thread_id, content_hash, raw_path, received_at,
	subject, sender, recipients, snippet, body_text,
	size_bytes, attachment_count, backed_up_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (message_id) DO NOTHING`,
		msg.ID, msg.ThreadID, msg.ContentHash, msg.RawPath, unixOrZero(msg.ReceivedAt),
		msg.Subject, msg.From, msg.To, msg.Snippet, msg.BodyText,
		msg.SizeBytes, len(msg.Attachments), time.Now().Unix())
	if err != nil {
		return false, errors.Wrapf(err, "inserting message %s", msg.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "insert message")
	}
	if n == 0 {
		return false, nil
	}

	if err := addLabels(ctx, tx, msg.ID, msg.Labels); err != nil {
		return false, err
	}

	stmt, err := tx.PreparexContext(ctx, `
INSERT INTO attachments (
	message_id, position, content_hash, filename, mime_type, size_bytes, path
) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return false, errors.Wrap(err, "db prepare statement failed for attachments insert")
	}
	defer stmt.Close()
	for i, a := range msg.Attachments {
		if _, err := stmt.ExecContext(ctx, msg.ID, i, a.ContentHash, a.Filename, a.MIMEType, a.SizeBytes, a.Path); err != nil {
			return false, errors.Wrapf(err, "inserting attachment %d of %s", i, msg.ID)
		}
	}
	return true, nil
}

func addLabels(ctx context.Context, tx *sqlx.Tx, id string, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	stmt, err := tx.PreparexContext(ctx,
		`INSERT OR IGNORE INTO message_labels (message_id, label) VALUES (?, ?)`)
	if err != nil {
		return errors.Wrap(err, "db prepare statement failed for label insert")
	}
	defer stmt.Close()
	for _, l := range labels {
		if l == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, id, l); err != nil {
			return errors.Wrapf(err, "labelling %s with %q", id, l)
		}
	}
	return nil
}

// Exists reports whether a message with the given provider id has been
// backed up.
func (ix *Index) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := ix.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE message_id = ?`, id)
	if err != nil {
		return false, errors.Wrapf(err, "checking for message %s", id)
	}
	return n > 0, nil
}

// GetLabels returns the sorted label names recorded for a message.
func (ix *Index) GetLabels(ctx context.Context, id string) ([]string, error) {
	ok, err := ix.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	var labels []string
	err = ix.db.SelectContext(ctx, &labels,
		`SELECT label FROM message_labels WHERE message_id = ? ORDER BY label`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "reading labels of %s", id)
	}
	return labels, nil
}

// UpdateLabels adds labels to the recorded set of a message.  Labels
// are never removed; a label that disappears remotely stays recorded.
// It returns the labels that were new.
func (ix *Index) UpdateLabels(ctx context.Context, id string, labels []string) ([]string, error) {
	var added []string
	err := ix.update(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE message_id = ?`, id); err != nil {
			return errors.Wrapf(err, "checking for message %s", id)
		}
		if n == 0 {
			return errors.Wrap(ErrNotFound, id)
		}
		var have []string
		if err := tx.SelectContext(ctx, &have,
			`SELECT label FROM message_labels WHERE message_id = ?`, id); err != nil {
			return errors.Wrapf(err, "reading labels of %s", id)
		}
		for _, l := range labels {
			if l != "" && !message.HasLabel(have, l) && !message.HasLabel(added, l) {
				added = append(added, l)
			}
		}
		return addLabels(ctx, tx, id, added)
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(added)
	return added, nil
}

type messageRow struct {
	ID          string `db:"message_id"`
	ThreadID    string `db:"thread_id"`
	ContentHash string `db:"content_hash"`
	RawPath     string `db:"raw_path"`
	ReceivedAt  int64  `db:"received_at"`
	Subject     string `db:"subject"`
	From        string `db:"sender"`
	To          string `db:"recipients"`
	Snippet     string `db:"snippet"`
	BodyText    string `db:"body_text"`
	SizeBytes   int64  `db:"size_bytes"`
}

// Field order matches message.Attachment.
type attachmentRow struct {
	ContentHash string `db:"content_hash"`
	ParentID    string `db:"message_id"`
	Position    int    `db:"position"`
	Filename    string `db:"filename"`
	MIMEType    string `db:"mime_type"`
	SizeBytes   int64  `db:"size_bytes"`
	Path        string `db:"path"`
}

// Message returns the recorded message with the given id, including
// labels and attachments.
func (ix *Index) Message(ctx context.Context, id string) (*message.Message, error) {
	var row messageRow
	err := ix.db.GetContext(ctx, &row, `
SELECT message_id, thread_id, content_hash, raw_path, received_at,
	subject, sender, recipients, snippet, body_text, size_bytes
FROM messages WHERE message_id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading message %s", id)
	}
	msg := &message.Message{
		ID:          row.ID,
		ThreadID:    row.ThreadID,
		ContentHash: row.ContentHash,
		RawPath:     row.RawPath,
		ReceivedAt:  timeOrZero(row.ReceivedAt),
		Subject:     row.Subject,
		From:        row.From,
		To:          row.To,
		Snippet:     row.Snippet,
		BodyText:    row.BodyText,
		SizeBytes:   row.SizeBytes,
	}
	if err := ix.db.SelectContext(ctx, &msg.Labels,
		`SELECT label FROM message_labels WHERE message_id = ? ORDER BY label`, id); err != nil {
		return nil, errors.Wrapf(err, "reading labels of %s", id)
	}
	var atts []attachmentRow
	if err := ix.db.SelectContext(ctx, &atts, `
SELECT message_id, position, content_hash, filename, mime_type, size_bytes, path
FROM attachments WHERE message_id = ? ORDER BY position`, id); err != nil {
		return nil, errors.Wrapf(err, "reading attachments of %s", id)
	}
	for _, a := range atts {
		msg.Attachments = append(msg.Attachments, message.Attachment(a))
	}
	return msg, nil
}

// AttachmentRefs returns the number of attachment rows that reference
// the object with the given content hash.
func (ix *Index) AttachmentRefs(ctx context.Context, hash string) (int, error) {
	var n int
	err := ix.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM attachments WHERE content_hash = ?`, hash)
	if err != nil {
		return 0, errors.Wrapf(err, "counting references to %s", hash)
	}
	return n, nil
}

// MarkExported records that the attachments of parentID with the given
// content hash have been copied to the export directory.
func (ix *Index) MarkExported(ctx context.Context, hash, parentID string) error {
	return ix.update(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE attachments SET exported = 1 WHERE content_hash = ? AND message_id = ?`,
			hash, parentID)
		return errors.Wrapf(err, "marking %s/%s exported", parentID, hash)
	})
}
