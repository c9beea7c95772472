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

// Package query is the read-only view of a backup.  It never talks to
// the remote mailbox.
package query

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/matta/mailkeep/internal/index"
	"github.com/matta/mailkeep/internal/message"
)

// Reader is the read side of the index.
type Reader interface {
	Search(ctx context.Context, text string, f index.Filter) ([]message.Summary, error)
	Stats(ctx context.Context) (message.Stats, error)
	RecentRuns(ctx context.Context, n int) ([]index.RunRecord, error)
	LastCompleted(ctx context.Context, label string) (time.Time, error)
}

type Service struct {
	r Reader
}

func New(r Reader) *Service {
	return &Service{r: r}
}

// Open opens the index at path read-only.  The returned function
// closes it.
func Open(ctx context.Context, path string) (*Service, func() error, error) {
	ix, err := index.OpenReadOnly(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return New(ix), ix.Close, nil
}

// Search runs a full-text search.  Empty text lists the newest
// messages matching f.
func (s *Service) Search(ctx context.Context, text string, f index.Filter) ([]message.Summary, error) {
	text = strings.TrimSpace(text)
	if !f.After.IsZero() && !f.Before.IsZero() && !f.After.Before(f.Before) {
		return nil, errors.Errorf("empty date range: %s is not before %s",
			f.After.Format("2006-01-02"), f.Before.Format("2006-01-02"))
	}
	if f.Limit < 0 {
		return nil, errors.Errorf("negative limit %d", f.Limit)
	}
	if f.Raw && text == "" {
		return nil, errors.New("a raw query needs an expression")
	}
	return s.r.Search(ctx, text, f)
}

func (s *Service) Stats(ctx context.Context) (message.Stats, error) {
	return s.r.Stats(ctx)
}

// Runs returns the n most recent backup and cleanup runs, newest
// first.
func (s *Service) Runs(ctx context.Context, n int) ([]index.RunRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.r.RecentRuns(ctx, n)
}

// LastBackup returns when a backup of label last completed a full
// pass, or the zero time.
func (s *Service) LastBackup(ctx context.Context, label string) (time.Time, error) {
	return s.r.LastCompleted(ctx, label)
}
