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

// Package index is the durable catalog of backed up messages: a SQLite
// database with a full-text index over message text.  A message is
// backed up if and only if it has a row here.
package index

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const driverName = "sqlite"

// ErrNotFound is returned for operations on a message the index does
// not hold.
var ErrNotFound = errors.New("message not in index")

// ErrNotInitialized is returned by OpenReadOnly for a database that
// has never been written by Open.
var ErrNotInitialized = errors.New("index not initialized")

// Index is an open index database.  It is safe for concurrent use.
type Index struct {
	db       *sqlx.DB
	readOnly bool
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		u = &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// SQLite polls for a busy database for this long before giving up.  A
// backup and a cleanup may run at the same time, and a backup commit
// can take a while on slow disks.
var busyTimeout = 5 * time.Minute

func pragma(name string, value interface{}) string {
	return fmt.Sprintf("%s(%v)", name, value)
}

// Open opens the index at path for reading and writing, creating it
// and applying any pending migrations.
func Open(ctx context.Context, path string) (*Index, error) {
	if !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, errors.Wrapf(err, "Open(%q) failed: could not create the database directory", path)
		}
	}
	dsn, err := dsnFromPath(path, url.Values{
		"_pragma": {
			pragma("busy_timeout", busyTimeout.Milliseconds()),
			pragma("journal_mode", "WAL"),
			pragma("foreign_keys", 1),
			pragma("synchronous", "FULL"),
		},
		// Writers take the lock up front instead of upgrading
		// mid-transaction, which SQLite cannot retry.
		"_txlock": {"immediate"},
	})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from the given path", path)
	}
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not open database at %q", path, dsn)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not initialize the database schema", path)
	}
	return &Index{db: db}, nil
}

// OpenReadOnly opens an existing index without the ability to write to
// it.  Migrations are not applied; an index older than this program
// must first be opened with Open.
func OpenReadOnly(ctx context.Context, path string) (*Index, error) {
	if !strings.HasPrefix(path, "file:") {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrapf(ErrNotInitialized, "no index at %q", path)
			}
			return nil, errors.Wrapf(err, "OpenReadOnly(%q) failed", path)
		}
	}
	dsn, err := dsnFromPath(path, url.Values{
		"mode":    {"ro"},
		"_pragma": {pragma("busy_timeout", busyTimeout.Milliseconds())},
	})
	if err != nil {
		return nil, errors.Wrapf(err,
			"OpenReadOnly(%q) failed: could not form a DB DSN from the given path", path)
	}
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"OpenReadOnly(%q) failed: could not open database at %q", path, dsn)
	}
	version, err := currentVersion(ctx, db)
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "OpenReadOnly(%q) failed", path)
	}
	if version < schemaVersion() {
		db.Close()
		return nil, errors.Wrapf(ErrNotInitialized,
			"index at %q has schema version %d, want %d", path, version, schemaVersion())
	}
	return &Index{db: db, readOnly: true}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

func currentVersion(ctx context.Context, db *sqlx.DB) (int, error) {
	var tables int
	err := db.GetContext(ctx, &tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return 0, errors.Wrap(err, "checking schema_version table")
	}
	if tables == 0 {
		return 0, nil
	}
	var version int
	if err := db.GetContext(ctx, &version, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, errors.Wrap(err, "reading schema version")
	}
	return version, nil
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	version, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		err := withTx(ctx, db, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, m.sql)
			return err
		})
		if err != nil {
			return errors.Wrapf(err, "applying migration v%d", m.version)
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing if it returns nil and
// rolling back otherwise.
func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction failed")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit failed")
	}
	return nil
}

func (ix *Index) update(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if ix.readOnly {
		return errors.New("index opened read-only")
	}
	return withTx(ctx, ix.db, fn)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
