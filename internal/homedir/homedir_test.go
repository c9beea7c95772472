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

package homedir

import (
	"path/filepath"
	"testing"
)

func TestExpand(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	cases := []struct {
		in   string
		want string
	}{
		{"~", "/home/tester"},
		{"~/.mailkeep", filepath.Join("/home/tester", ".mailkeep")},
		{"~/a/b", filepath.Join("/home/tester", "a", "b")},
		{"~other/x", "~other/x"},
		{"/abs/path", "/abs/path"},
		{"rel", "rel"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Expand(tc.in); got != tc.want {
			t.Errorf("Expand(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
