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

// Package content implements the content addressed store for raw
// messages and attachments.
//
// The on-disk layout is a compatibility contract with existing
// archives:
//
//	raw/<yyyy>/<mm>/<sha256>
//	attachments/<sha256>/<filename>
//
// Objects are written once and never rewritten.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
)

const (
	dirFileMode    = 0700
	objectFileMode = 0600

	rawDir        = "raw"
	attachmentDir = "attachments"
	unknownDate   = "unknown"
)

// Store is a content addressed file tree rooted at a directory.
type Store struct {
	root string
}

// Object describes a stored blob.
type Object struct {
	Hash string

	// Path relative to the store root, using forward slashes.
	Path string

	Size int64

	// True if the object was already present and nothing was
	// written.
	Existed bool
}

// New returns a Store rooted at root, creating the top level
// directories if needed.
func New(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, rawDir), filepath.Join(root, attachmentDir)} {
		if err := os.MkdirAll(dir, dirFileMode); err != nil {
			return nil, errors.Wrapf(err, "creating content store directory %q", dir)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the directory the store is rooted at.
func (s *Store) Root() string {
	return s.root
}

// Abs converts a store relative path to an absolute file path.
func (s *Store) Abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Hash returns the content hash of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RawPath returns the relative location of a raw message with the
// given hash received at t.
func RawPath(hash string, t time.Time) string {
	if t.IsZero() {
		return rawDir + "/" + unknownDate + "/" + hash
	}
	t = t.UTC()
	return rawDir + "/" + t.Format("2006") + "/" + t.Format("01") + "/" + hash
}

// AttachmentPath returns the relative location of an attachment with
// the given hash and filename.
func AttachmentPath(hash, filename string) string {
	return attachmentDir + "/" + hash + "/" + SafeName(filename)
}

// PutRaw stores a raw message.  The received time only selects the
// partition; identical bytes received at the same time share one
// object.
func (s *Store) PutRaw(data []byte, receivedAt time.Time) (Object, error) {
	hash := Hash(data)
	rel := RawPath(hash, receivedAt)
	existed, err := s.writeOnce(rel, data)
	if err != nil {
		return Object{}, errors.Wrapf(err, "storing raw message %s", hash)
	}
	return Object{Hash: hash, Path: rel, Size: int64(len(data)), Existed: existed}, nil
}

// PutAttachment stores an attachment.  If an object with the same hash
// is already present, under any filename, it is reused.
func (s *Store) PutAttachment(data []byte, filename string) (Object, error) {
	hash := Hash(data)
	if rel, ok, err := s.findAttachment(hash); err != nil {
		return Object{}, err
	} else if ok {
		return Object{Hash: hash, Path: rel, Size: int64(len(data)), Existed: true}, nil
	}
	rel := AttachmentPath(hash, filename)
	existed, err := s.writeOnce(rel, data)
	if err != nil {
		return Object{}, errors.Wrapf(err, "storing attachment %s", hash)
	}
	return Object{Hash: hash, Path: rel, Size: int64(len(data)), Existed: existed}, nil
}

// Exists reports whether an attachment or raw message with hash is
// present.  Raw messages are looked up under every partition.
func (s *Store) Exists(hash string) (bool, error) {
	if _, ok, err := s.findAttachment(hash); err != nil || ok {
		return ok, err
	}
	matches, err := filepath.Glob(filepath.Join(s.root, rawDir, "*", "*", hash))
	if err != nil {
		return false, errors.Wrap(err, "searching raw partitions")
	}
	if len(matches) > 0 {
		return true, nil
	}
	_, err = os.Stat(filepath.Join(s.root, rawDir, unknownDate, hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "checking raw message")
}

// findAttachment returns the relative path of the stored attachment
// with hash, if any.
func (s *Store) findAttachment(hash string) (string, bool, error) {
	dir := filepath.Join(s.root, attachmentDir, hash)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "reading attachment directory %q", dir)
	}
	for _, e := range entries {
		// In-flight writes are dot files; SafeName never makes one.
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			return attachmentDir + "/" + hash + "/" + e.Name(), true, nil
		}
	}
	return "", false, nil
}

// writeOnce writes data to rel unless a file is already there.  The
// data is synced to disk before it becomes visible under its final
// name, so a crash leaves either no object or a complete one.
func (s *Store) writeOnce(rel string, data []byte) (existed bool, err error) {
	path := s.Abs(rel)
	if _, err := os.Stat(path); err == nil {
		return true, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), dirFileMode); err != nil {
		return false, err
	}
	return false, renameio.WriteFile(path, data, objectFileMode, renameio.WithStaticPermissions(objectFileMode))
}

// SafeName returns a filename safe to use as a single path element.
// Only letters, digits, '.', '-', '_' and ' ' are kept; everything
// else becomes '_'.  The result never starts with a dot.
func SafeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		switch {
		case 'A' <= r && r <= 'Z', 'a' <= r && r <= 'z', '0' <= r && r <= '9',
			r == '.', r == '-', r == '_', r == ' ':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := strings.Trim(sb.String(), ". ")
	if out == "" {
		return "attachment"
	}
	return out
}
