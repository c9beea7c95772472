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

// migration is a single schema step.  Versions are applied in order,
// each in its own transaction, and recorded in schema_version.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

-- One row per backed up message.  A row is only ever written after
-- the raw bytes and every attachment are durably in the content store,
-- so its presence is the commit signal for the whole message.
--
-- Times are unix seconds, 0 when unknown.
CREATE TABLE IF NOT EXISTS messages (
	id               INTEGER PRIMARY KEY,
	message_id       TEXT NOT NULL UNIQUE,
	thread_id        TEXT NOT NULL DEFAULT '',
	content_hash     TEXT NOT NULL,
	raw_path         TEXT NOT NULL,
	received_at      INTEGER NOT NULL DEFAULT 0,
	subject          TEXT NOT NULL DEFAULT '',
	sender           TEXT NOT NULL DEFAULT '',
	recipients       TEXT NOT NULL DEFAULT '',
	snippet          TEXT NOT NULL DEFAULT '',
	body_text        TEXT NOT NULL DEFAULT '',
	size_bytes       INTEGER NOT NULL DEFAULT 0,
	attachment_count INTEGER NOT NULL DEFAULT 0,
	backed_up_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_received_at ON messages(received_at);
CREATE INDEX IF NOT EXISTS idx_messages_content_hash ON messages(content_hash);

-- Label names observed on a message.  Append only.
CREATE TABLE IF NOT EXISTS message_labels (
	message_id TEXT NOT NULL REFERENCES messages(message_id),
	label      TEXT NOT NULL,
	PRIMARY KEY (message_id, label)
);

CREATE INDEX IF NOT EXISTS idx_message_labels_label ON message_labels(label);

-- Attachments in MIME order.  Several rows may share a content_hash
-- and therefore a path.
CREATE TABLE IF NOT EXISTS attachments (
	message_id   TEXT NOT NULL REFERENCES messages(message_id),
	position     INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	filename     TEXT NOT NULL DEFAULT '',
	mime_type    TEXT NOT NULL DEFAULT '',
	size_bytes   INTEGER NOT NULL DEFAULT 0,
	path         TEXT NOT NULL,
	PRIMARY KEY (message_id, position)
);

CREATE INDEX IF NOT EXISTS idx_attachments_content_hash ON attachments(content_hash);

-- Column order matters: search weights are positional.
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	subject,
	body_text,
	sender,
	recipients,
	content=messages,
	content_rowid=id
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
	INSERT INTO messages_fts(rowid, subject, body_text, sender, recipients)
	VALUES (new.id, new.subject, new.body_text, new.sender, new.recipients);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, subject, body_text, sender, recipients)
	VALUES ('delete', old.id, old.subject, old.body_text, old.sender, old.recipients);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
	INSERT INTO messages_fts(messages_fts, rowid, subject, body_text, sender, recipients)
	VALUES ('delete', old.id, old.subject, old.body_text, old.sender, old.recipients);
	INSERT INTO messages_fts(rowid, subject, body_text, sender, recipients)
	VALUES (new.id, new.subject, new.body_text, new.sender, new.recipients);
END;

-- Resumable listing position per backup label.  An empty cursor means
-- the next run starts from the beginning of the listing.
CREATE TABLE IF NOT EXISTS backup_state (
	label             TEXT NOT NULL PRIMARY KEY,
	cursor            TEXT NOT NULL DEFAULT '',
	updated_at        INTEGER NOT NULL DEFAULT 0,
	last_completed_at INTEGER NOT NULL DEFAULT 0
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE attachments ADD COLUMN exported INTEGER NOT NULL DEFAULT 0;

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT NOT NULL PRIMARY KEY,
	command     TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	listed      INTEGER NOT NULL DEFAULT 0,
	ingested    INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	deleted     INTEGER NOT NULL DEFAULT 0,
	kept        INTEGER NOT NULL DEFAULT 0,
	cutoff      INTEGER NOT NULL DEFAULT 0,
	detail      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}

// schemaVersion is the version a fully migrated index reports.
func schemaVersion() int {
	return migrations[len(migrations)-1].version
}
