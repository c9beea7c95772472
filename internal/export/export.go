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

// Package export copies backed up attachments into a directory
// watched by a document management system.
package export

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"

	"github.com/matta/mailkeep/internal/content"
	"github.com/matta/mailkeep/internal/message"
)

// Exporter copies attachments from a content store into Dir.  The zero
// value, or an Exporter whose Dir does not exist, exports nothing.
type Exporter struct {
	Dir string

	// Root of the content store the attachment paths are relative to.
	StoreRoot string
}

// Enabled reports whether attachments would be exported now.
func (e *Exporter) Enabled() bool {
	if e == nil || e.Dir == "" {
		return false
	}
	fi, err := os.Stat(e.Dir)
	return err == nil && fi.IsDir()
}

// Target returns where att would be exported to.  The name is the
// attachment's own filename; a shared stored object may carry the name
// it had in another message.
func (e *Exporter) Target(att message.Attachment) string {
	return filepath.Join(e.Dir, att.ParentID+"_"+content.SafeName(att.Filename))
}

// Export copies att to Dir.  It returns false, without error, when
// exporting is disabled or the target already exists.
func (e *Exporter) Export(att message.Attachment) (bool, error) {
	if !e.Enabled() {
		return false, nil
	}
	target := e.Target(att)
	if _, err := os.Stat(target); err == nil {
		return false, nil
	}
	src, err := os.Open(filepath.Join(e.StoreRoot, filepath.FromSlash(att.Path)))
	if err != nil {
		return false, errors.Wrapf(err, "exporting attachment %s", att.ContentHash)
	}
	defer src.Close()

	// The copy sits under a dot name until it is complete, so the
	// watcher never picks up a partial file.
	pf, err := renameio.NewPendingFile(target, renameio.WithStaticPermissions(0644))
	if err != nil {
		return false, errors.Wrap(err, "creating export file")
	}
	defer pf.Cleanup()
	if _, err := io.Copy(pf, src); err != nil {
		return false, errors.Wrapf(err, "copying attachment %s", att.ContentHash)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return false, errors.Wrap(err, "exporting attachment")
	}
	return true, nil
}
