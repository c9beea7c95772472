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

package mailboxtest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/matta/mailkeep/internal/mailbox"
)

func TestBuildParses(t *testing.T) {
	date := time.Date(2023, 4, 5, 6, 7, 8, 0, time.UTC)
	raw := Build(Spec{
		From:    "alice@example.com",
		To:      "bob@example.com",
		Subject: "Invoice",
		Date:    date,
		Body:    "Please pay.",
		Files:   []File{{Name: "inv.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")}},
	})
	f, err := mailbox.NewFetched("m1", "", nil, time.Time{}, 0, raw)
	if err != nil {
		t.Fatalf("NewFetched() = %v", err)
	}
	p := f.Parsed
	if p.Subject != "Invoice" || p.From != "alice@example.com" || !p.Date.Equal(date) {
		t.Errorf("header = %q %q %v", p.Subject, p.From, p.Date)
	}
	if got := strings.TrimSpace(p.BodyText); got != "Please pay." {
		t.Errorf("BodyText = %q", got)
	}
	if len(p.Attachments) != 1 || p.Attachments[0].Filename != "inv.pdf" || string(p.Attachments[0].Data) != "%PDF" {
		t.Errorf("Attachments = %+v", p.Attachments)
	}
}

func TestFakeList(t *testing.T) {
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := New(
		Message{ID: "a", Labels: []string{"Backup"}, InternalDate: old},
		Message{ID: "b", Labels: []string{"Other"}, InternalDate: old},
		Message{ID: "c", Labels: []string{"Backup"}, InternalDate: recent},
		Message{ID: "d", Labels: []string{"Backup"}, InternalDate: old},
	)
	list := func(q mailbox.Query, cursor string) []mailbox.Item {
		var out []mailbox.Item
		if err := f.List(context.Background(), q, cursor, func(it mailbox.Item) error {
			out = append(out, it)
			return nil
		}); err != nil {
			t.Fatalf("List() = %v", err)
		}
		return out
	}

	want := []mailbox.Item{{ID: "a", Cursor: ""}, {ID: "c", Cursor: ""}, {ID: "d", Cursor: "page-1"}}
	if diff := cmp.Diff(want, list(mailbox.Query{Label: "Backup"}, "")); diff != "" {
		t.Errorf("List(Backup) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want[2:], list(mailbox.Query{Label: "Backup"}, "page-1")); diff != "" {
		t.Errorf("List(Backup, page-1) mismatch (-want +got):\n%s", diff)
	}
	want = []mailbox.Item{{ID: "a"}, {ID: "d"}}
	if diff := cmp.Diff(want, list(mailbox.Query{Label: "Backup", Before: recent}, "")); diff != "" {
		t.Errorf("List(Backup, before) mismatch (-want +got):\n%s", diff)
	}

	if err := f.Delete(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if err := f.Delete(context.Background(), "a"); !mailbox.IsNotFound(err) {
		t.Errorf("second Delete() = %v, want not found", err)
	}
	want = []mailbox.Item{{ID: "c"}, {ID: "d"}}
	if diff := cmp.Diff(want, list(mailbox.Query{Label: "Backup"}, "")); diff != "" {
		t.Errorf("List after delete mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a"}, f.Deleted()); diff != "" {
		t.Errorf("Deleted() mismatch (-want +got):\n%s", diff)
	}
}
