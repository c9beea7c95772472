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

package retention_test

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/matta/mailkeep/internal/backup"
	"github.com/matta/mailkeep/internal/content"
	"github.com/matta/mailkeep/internal/index"
	"github.com/matta/mailkeep/internal/mailbox"
	"github.com/matta/mailkeep/internal/mailbox/mailboxtest"
	"github.com/matta/mailkeep/internal/message"
	"github.com/matta/mailkeep/internal/retention"
)

const (
	backupLabel = "Backup"
	keepLabel   = "Keep"
	twoYears    = 2 * 365 * 24 * time.Hour
)

var now = time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

// catalog is a set of backed up message ids.
type catalog map[string]bool

func (c catalog) Exists(ctx context.Context, id string) (bool, error) {
	return c[id], nil
}

func policy() retention.Policy {
	return retention.Policy{Label: backupLabel, KeepLabel: keepLabel, MaxAge: twoYears}
}

func sweeper(client mailbox.Client, c retention.Catalog) *retention.Sweeper {
	s := retention.New(client, c, nil)
	s.Clock = clock
	return s
}

func remote(id string, age time.Duration, labels ...string) mailboxtest.Message {
	date := now.Add(-age)
	return mailboxtest.Message{
		ID:           id,
		Labels:       labels,
		InternalDate: date,
		Raw: mailboxtest.Build(mailboxtest.Spec{
			From:    "sender@example.com",
			Subject: "message " + id,
			Date:    date,
			Body:    "body of " + id,
		}),
	}
}

// backedUp runs a real backup of fake into a fresh index.
func backedUp(t *testing.T, fake *mailboxtest.Fake) *index.Index {
	t.Helper()
	root := t.TempDir()
	store, err := content.New(root)
	require.NoError(t, err)
	ix, err := index.Open(context.Background(), filepath.Join(root, "db", "mailkeep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	_, err = backup.New(fake, store, ix, nil, backup.Options{Label: backupLabel}).Run(context.Background())
	require.NoError(t, err)
	return ix
}

func TestCleanupDeletesAgedMessage(t *testing.T) {
	ctx := context.Background()
	old := 3 * 365 * 24 * time.Hour
	fake := mailboxtest.New(
		remote("m1", 24*time.Hour, backupLabel),
		remote("m2", 30*24*time.Hour, backupLabel),
		remote("old", old, backupLabel),
	)
	ix := backedUp(t, fake)

	rep, err := sweeper(fake, ix).Run(ctx, policy())
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, fake.Deleted())
	assert.Equal(t, 1, rep.Candidates)
	assert.Equal(t, 1, rep.Deleted)
	assert.NoError(t, rep.Errors)
	assert.True(t, rep.Cutoff.Equal(now.Add(-twoYears)))

	stats, err := ix.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalMessages, "local data is untouched")
}

func TestCleanupKeepsLabelledMessage(t *testing.T) {
	ctx := context.Background()
	old := 3 * 365 * 24 * time.Hour
	fake := mailboxtest.New(
		remote("m1", 24*time.Hour, backupLabel),
		remote("m2", 30*24*time.Hour, backupLabel),
		remote("old", old, backupLabel),
	)
	ix := backedUp(t, fake)
	// Keep is applied after the backup.
	fake.SetLabels("old", backupLabel, keepLabel)

	var observed []string
	s := sweeper(fake, ix)
	s.Observer = func(ctx context.Context, id string, labels []string) error {
		_, err := ix.UpdateLabels(ctx, id, labels)
		observed = append(observed, id)
		return err
	}
	rep, err := s.Run(ctx, policy())
	require.NoError(t, err)
	assert.Empty(t, fake.Deleted())
	assert.Equal(t, 1, rep.Kept)
	assert.Equal(t, []string{"old"}, observed)

	labels, err := ix.GetLabels(ctx, "old")
	require.NoError(t, err)
	assert.Contains(t, labels, keepLabel)
}

func TestCleanupSkipsUnindexed(t *testing.T) {
	fake := mailboxtest.New(remote("old", 3*twoYears, backupLabel))
	rep, err := sweeper(fake, catalog{}).Run(context.Background(), policy())
	require.NoError(t, err)
	assert.Empty(t, fake.Deleted())
	assert.Equal(t, 1, rep.Unindexed)
}

func TestCleanupDryRun(t *testing.T) {
	fake := mailboxtest.New(
		remote("a", 3*twoYears, backupLabel),
		remote("b", 2*twoYears, backupLabel),
	)
	p := policy()
	p.DryRun = true
	rep, err := sweeper(fake, catalog{"a": true, "b": true}).Run(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, fake.Deleted())
	assert.Equal(t, 2, rep.Deleted)
	assert.True(t, rep.DryRun)
}

func TestCleanupCollectsFailures(t *testing.T) {
	fake := mailboxtest.New(
		remote("a", 3*twoYears, backupLabel),
		remote("b", 3*twoYears, backupLabel),
		remote("c", 3*twoYears, backupLabel),
		remote("d", 3*twoYears, backupLabel),
	)
	fake.DeleteHook = func(ctx context.Context, id string) error {
		if id == "a" {
			return &mailbox.Error{Kind: mailbox.Transient, Op: "delete", ID: id, Err: errors.New("503")}
		}
		return nil
	}
	fake.LabelsHook = func(ctx context.Context, id string) error {
		if id == "c" {
			return &mailbox.Error{Kind: mailbox.Permanent, Op: "labels", ID: id, Err: errors.New("bad request")}
		}
		return nil
	}
	all := catalog{"a": true, "b": true, "c": true, "d": true}

	rep, err := sweeper(fake, all).Run(context.Background(), policy())
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, fake.Deleted())
	assert.Equal(t, 2, rep.Failed)
	assert.Len(t, multierr.Errors(rep.Errors), 2)
}

func TestCleanupAbortsOnAuthError(t *testing.T) {
	fake := mailboxtest.New(
		remote("a", 3*twoYears, backupLabel),
		remote("b", 3*twoYears, backupLabel),
	)
	fake.DeleteHook = func(ctx context.Context, id string) error {
		return &mailbox.Error{Kind: mailbox.Auth, Op: "delete", ID: id, Err: errors.New("insufficient scope")}
	}
	_, err := sweeper(fake, catalog{"a": true, "b": true}).Run(context.Background(), policy())
	require.Error(t, err)
	assert.True(t, mailbox.IsAuth(err))
	assert.Empty(t, fake.Deleted())
}

func TestPolicyValidation(t *testing.T) {
	fake := mailboxtest.New()
	for _, p := range []retention.Policy{
		{KeepLabel: keepLabel, MaxAge: twoYears},
		{Label: backupLabel, MaxAge: twoYears},
		{Label: backupLabel, KeepLabel: backupLabel, MaxAge: twoYears},
		{Label: backupLabel, KeepLabel: keepLabel},
	} {
		_, err := sweeper(fake, catalog{}).Run(context.Background(), p)
		assert.Error(t, err, "policy %+v", p)
	}
	assert.Empty(t, fake.Queries(), "an invalid policy must not list anything")
}

// TestCleanupNeverDeletesProtected checks random mailboxes: a deleted
// message was always indexed, unprotected by the keep label at the
// time of deletion, labelled for backup and older than the cutoff, and
// every such message is deleted.
func TestCleanupNeverDeletesProtected(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		t.Run(fmt.Sprint(trial), func(t *testing.T) {
			fake := mailboxtest.New()
			fake.PageSize = 1 + rng.Intn(5)
			indexed := catalog{}
			lateKeep := map[string]bool{}
			labelsOf := map[string][]string{}
			var mu sync.Mutex
			var want []string

			n := 1 + rng.Intn(30)
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("m%02d", i)
				age := time.Duration(rng.Intn(4*365)) * 24 * time.Hour
				var labels []string
				if rng.Intn(4) > 0 {
					labels = append(labels, backupLabel)
				}
				if rng.Intn(4) == 0 {
					labels = append(labels, keepLabel)
				}
				if rng.Intn(4) == 0 {
					lateKeep[id] = true
				}
				indexed[id] = rng.Intn(3) > 0
				labelsOf[id] = labels
				fake.Add(remote(id, age, labels...))

				if age > twoYears && message.HasLabel(labels, backupLabel) &&
					!message.HasLabel(labels, keepLabel) && !lateKeep[id] && indexed[id] {
					want = append(want, id)
				}
			}

			// Some messages gain the keep label after being listed.
			fake.LabelsHook = func(ctx context.Context, id string) error {
				mu.Lock()
				defer mu.Unlock()
				if lateKeep[id] {
					delete(lateKeep, id)
					labelsOf[id] = append(labelsOf[id], keepLabel)
					fake.SetLabels(id, labelsOf[id]...)
				}
				return nil
			}
			fake.DeleteHook = func(ctx context.Context, id string) error {
				mu.Lock()
				defer mu.Unlock()
				assert.True(t, indexed[id], "deleted unindexed %s", id)
				assert.False(t, message.HasLabel(labelsOf[id], keepLabel), "deleted kept %s", id)
				assert.True(t, message.HasLabel(labelsOf[id], backupLabel), "deleted unlabelled %s", id)
				return nil
			}

			_, err := sweeper(fake, indexed).Run(context.Background(), policy())
			require.NoError(t, err)
			got := fake.Deleted()
			sort.Strings(got)
			sort.Strings(want)
			assert.Equal(t, want, got)
		})
	}
}
