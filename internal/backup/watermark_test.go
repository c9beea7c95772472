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

package backup

import "testing"

func TestTracker(t *testing.T) {
	tr := newTracker("start")
	if got := tr.watermark(); got != "start" {
		t.Errorf("empty watermark = %q, want %q", got, "start")
	}
	a := tr.issue("p0")
	b := tr.issue("p0")
	c := tr.issue("p1")
	d := tr.issue("p2")

	steps := []struct {
		op   func() string
		want string
	}{
		// Completing later items leaves the watermark at the first.
		{func() string { return tr.complete(c) }, "p0"},
		{func() string { return tr.complete(d) }, "p0"},
		{func() string { return tr.complete(b) }, "p0"},
		// Everything done: the last issued cursor.
		{func() string { return tr.complete(a) }, "p2"},
	}
	for i, s := range steps {
		if got := s.op(); got != s.want {
			t.Errorf("step %d: watermark = %q, want %q", i, got, s.want)
		}
	}
	if n := tr.inFlight(); n != 0 {
		t.Errorf("inFlight() = %d, want 0", n)
	}
}

func TestTrackerRevert(t *testing.T) {
	tr := newTracker("")
	a := tr.issue("p0")
	b := tr.issue("p1")
	if got := tr.complete(a); got != "p1" {
		t.Fatalf("watermark = %q, want p1", got)
	}
	tr.revert(a, "p0")
	if got := tr.watermark(); got != "p0" {
		t.Errorf("after revert watermark = %q, want p0", got)
	}
	tr.complete(a)
	if got := tr.complete(b); got != "p1" {
		t.Errorf("watermark = %q, want p1", got)
	}
}
