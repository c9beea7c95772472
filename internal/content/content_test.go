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

package content

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return s
}

func TestRawPath(t *testing.T) {
	cases := []struct {
		t    time.Time
		want string
	}{
		{time.Date(2023, time.March, 4, 5, 6, 7, 0, time.UTC), "raw/2023/03/h"},
		{time.Date(2023, time.January, 1, 0, 30, 0, 0, time.FixedZone("X", 3600)), "raw/2022/12/h"},
		{time.Time{}, "raw/unknown/h"},
	}
	for _, tc := range cases {
		if got := RawPath("h", tc.t); got != tc.want {
			t.Errorf("RawPath(%q, %v) = %q, want %q", "h", tc.t, got, tc.want)
		}
	}
}

func TestSafeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"invoice.pdf", "invoice.pdf"},
		{"My Report (final).docx", "My Report _final_.docx"},
		{"../../etc/passwd", "passwd"},
		{"résumé.txt", "r_sum_.txt"},
		{"", "attachment"},
		{"...", "attachment"},
		{"/", "_"},
		{".tmp-x", "tmp-x"},
	}
	for _, tc := range cases {
		if got := SafeName(tc.in); got != tc.want {
			t.Errorf("SafeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPutRawIdempotent(t *testing.T) {
	s := newStore(t)
	data := []byte("Subject: hi\r\n\r\nbody\r\n")
	when := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

	first, err := s.PutRaw(data, when)
	if err != nil {
		t.Fatalf("PutRaw() = %v", err)
	}
	if first.Existed {
		t.Errorf("first PutRaw Existed = true, want false")
	}
	if first.Hash != Hash(data) {
		t.Errorf("Hash = %q, want %q", first.Hash, Hash(data))
	}
	if want := "raw/2024/05/" + first.Hash; first.Path != want {
		t.Errorf("Path = %q, want %q", first.Path, want)
	}

	second, err := s.PutRaw(data, when)
	if err != nil {
		t.Fatalf("PutRaw() again = %v", err)
	}
	if !second.Existed || second.Path != first.Path {
		t.Errorf("second PutRaw = %+v, want existing %q", second, first.Path)
	}

	got, err := os.ReadFile(s.Abs(first.Path))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("stored bytes = %q, want %q", got, data)
	}
	fi, err := os.Stat(s.Abs(first.Path))
	if err != nil {
		t.Fatal(err)
	}
	if mode := fi.Mode().Perm(); mode != objectFileMode {
		t.Errorf("mode = %o, want %o", mode, objectFileMode)
	}

	entries, err := os.ReadDir(filepath.Dir(s.Abs(first.Path)))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("partition holds %d entries, want 1", len(entries))
	}
}

func TestPutAttachmentDedup(t *testing.T) {
	s := newStore(t)
	data := []byte("%PDF-1.4\n")

	a, err := s.PutAttachment(data, "invoice.pdf")
	if err != nil {
		t.Fatalf("PutAttachment() = %v", err)
	}
	if a.Existed {
		t.Errorf("first PutAttachment Existed = true")
	}
	b, err := s.PutAttachment(data, "copy of invoice.pdf")
	if err != nil {
		t.Fatalf("PutAttachment() again = %v", err)
	}
	if !b.Existed || b.Path != a.Path {
		t.Errorf("second PutAttachment = %+v, want reuse of %q", b, a.Path)
	}
	if !strings.HasSuffix(a.Path, "/invoice.pdf") {
		t.Errorf("Path = %q, want filename invoice.pdf", a.Path)
	}

	entries, err := os.ReadDir(filepath.Join(s.Root(), attachmentDir, a.Hash))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("attachment directory holds %d files, want 1", len(entries))
	}
}

func TestPutAttachmentIgnoresPartialWrite(t *testing.T) {
	s := newStore(t)
	data := []byte("%PDF-1.4\n")
	dir := filepath.Join(s.Root(), attachmentDir, Hash(data))
	if err := os.MkdirAll(dir, dirFileMode); err != nil {
		t.Fatal(err)
	}
	// Left behind by a write interrupted before its rename.
	if err := os.WriteFile(filepath.Join(dir, ".invoice.pdf4711"), []byte("%PD"), 0600); err != nil {
		t.Fatal(err)
	}

	obj, err := s.PutAttachment(data, "invoice.pdf")
	if err != nil {
		t.Fatalf("PutAttachment() = %v", err)
	}
	if obj.Existed {
		t.Errorf("Existed = true, want false")
	}
	got, err := os.ReadFile(s.Abs(obj.Path))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("stored %q, want %q", got, data)
	}
	fi, err := os.Stat(s.Abs(obj.Path))
	if err != nil {
		t.Fatal(err)
	}
	if mode := fi.Mode().Perm(); mode != objectFileMode {
		t.Errorf("mode = %v, want %v", mode, os.FileMode(objectFileMode))
	}
}

func TestExists(t *testing.T) {
	s := newStore(t)
	raw, err := s.PutRaw([]byte("raw"), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	dated, err := s.PutRaw([]byte("dated"), time.Date(2020, time.July, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	att, err := s.PutAttachment([]byte("att"), "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		hash string
		want bool
	}{
		{raw.Hash, true},
		{dated.Hash, true},
		{att.Hash, true},
		{Hash([]byte("missing")), false},
	}
	for _, tc := range cases {
		got, err := s.Exists(tc.hash)
		if err != nil {
			t.Errorf("Exists(%q) = %v", tc.hash, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Exists(%q) = %v, want %v", tc.hash, got, tc.want)
		}
	}
}
