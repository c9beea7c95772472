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
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/matta/mailkeep/internal/message"
)

// DefaultLimit bounds a search without an explicit limit.
const DefaultLimit = 20

// Relevance weights for subject, body_text, sender and recipients, in
// messages_fts column order.  A subject hit outranks a body hit.
const rankExpr = `bm25(messages_fts, 10.0, 1.0, 2.0, 2.0)`

// Filter narrows a search.  Zero fields do not filter.
type Filter struct {
	// Inclusive lower and exclusive upper bound on the received time.
	After  time.Time
	Before time.Time

	Label string
	Limit int

	// Pass the text to the full-text engine as a query expression
	// (AND, OR, NEAR, prefix*, column:term) instead of as plain
	// words.
	Raw bool
}

// MatchExpr converts free text into an FTS5 query that requires every
// word, with each word quoted so punctuation is never parsed as query
// syntax.
func MatchExpr(text string) string {
	var terms []string
	for _, f := range strings.Fields(text) {
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}

type summaryRow struct {
	ID              string  `db:"message_id"`
	Subject         string  `db:"subject"`
	From            string  `db:"sender"`
	ReceivedAt      int64   `db:"received_at"`
	Snippet         string  `db:"snippet"`
	AttachmentCount int     `db:"attachment_count"`
	Rank            float64 `db:"score"`
}

// Search returns the messages matching text, most relevant first; ties
// go to the newer message.  Empty text matches every message, newest
// first.
func (ix *Index) Search(ctx context.Context, text string, f Filter) ([]message.Summary, error) {
	expr := text
	if !f.Raw {
		expr = MatchExpr(text)
	}

	var (
		conds []string
		args  []interface{}
		q     string
	)
	if strings.TrimSpace(expr) == "" {
		q = `
SELECT m.message_id, m.subject, m.sender, m.received_at, m.snippet,
	m.attachment_count, 0.0 AS score
FROM messages m`
	} else {
		q = `
SELECT m.message_id, m.subject, m.sender, m.received_at, m.snippet,
	m.attachment_count, ` + rankExpr + ` AS score
FROM messages_fts JOIN messages m ON m.id = messages_fts.rowid`
		conds = append(conds, "messages_fts MATCH ?")
		args = append(args, expr)
	}
	if !f.After.IsZero() {
		conds = append(conds, "m.received_at >= ?")
		args = append(args, f.After.Unix())
	}
	if !f.Before.IsZero() {
		conds = append(conds, "m.received_at < ?")
		args = append(args, f.Before.Unix())
	}
	if f.Label != "" {
		conds = append(conds,
			"EXISTS (SELECT 1 FROM message_labels l WHERE l.message_id = m.message_id AND l.label = ?)")
		args = append(args, f.Label)
	}
	if len(conds) > 0 {
		q += "\nWHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	q += fmt.Sprintf("\nORDER BY score, m.received_at DESC, m.message_id\nLIMIT %d", limit)

	var rows []summaryRow
	if err := ix.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrapf(err, "searching for %q", text)
	}
	out := make([]message.Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, message.Summary{
			ID:              r.ID,
			Subject:         r.Subject,
			From:            r.From,
			ReceivedAt:      timeOrZero(r.ReceivedAt),
			Snippet:         r.Snippet,
			AttachmentCount: r.AttachmentCount,
			Rank:            r.Rank,
		})
	}
	return out, nil
}

// Stats summarizes the index contents.
func (ix *Index) Stats(ctx context.Context) (message.Stats, error) {
	var row struct {
		Messages int64         `db:"messages"`
		Bytes    int64         `db:"bytes"`
		Oldest   sql.NullInt64 `db:"oldest"`
		Newest   sql.NullInt64 `db:"newest"`
	}
	// Unknown received times are stored as 0 and left out of the
	// range.
	err := ix.db.GetContext(ctx, &row, `
SELECT COUNT(*) AS messages,
	COALESCE(SUM(size_bytes), 0) AS bytes,
	MIN(NULLIF(received_at, 0)) AS oldest,
	MAX(NULLIF(received_at, 0)) AS newest
FROM messages`)
	if err != nil {
		return message.Stats{}, errors.Wrap(err, "reading message stats")
	}
	var attachments int64
	if err := ix.db.GetContext(ctx, &attachments, `SELECT COUNT(*) FROM attachments`); err != nil {
		return message.Stats{}, errors.Wrap(err, "reading attachment stats")
	}
	st := message.Stats{
		TotalMessages:    row.Messages,
		TotalAttachments: attachments,
		TotalBytes:       row.Bytes,
	}
	if row.Oldest.Valid {
		st.Oldest = timeOrZero(row.Oldest.Int64)
	}
	if row.Newest.Valid {
		st.Newest = timeOrZero(row.Newest.Int64)
	}
	return st, nil
}
