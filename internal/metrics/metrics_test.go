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

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New("backup")
	m.Ingested(3)
	m.Ingested(0)
	m.Skipped(2)
	m.Failed(1)
	m.Deleted(4)
	m.Kept(5)
	m.Exported(6)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ingested))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failed))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.deleted))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.kept))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.exported))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Ingested(1)
	m.RunFinished(true, time.Now(), time.Now())
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestWriteTextfile(t *testing.T) {
	m := New("cleanup")
	m.Deleted(2)
	start := time.Unix(1700000000, 0)
	m.RunFinished(true, start, start.Add(90*time.Second))

	path := filepath.Join(t.TempDir(), "mailkeep.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	for _, want := range []string{
		`mailkeep_messages_deleted_total{command="cleanup"} 2`,
		`mailkeep_last_run_success{command="cleanup"} 1`,
		`mailkeep_last_run_timestamp_seconds{command="cleanup"} 1.70000009e+09`,
		`mailkeep_last_run_duration_seconds{command="cleanup"} 90`,
	} {
		assert.True(t, strings.Contains(text, want), "textfile missing %q:\n%s", want, text)
	}
}

func TestTextfilePath(t *testing.T) {
	cases := []struct {
		base, command, want string
	}{
		{"/var/lib/node/mailkeep.prom", "backup", "/var/lib/node/mailkeep-backup.prom"},
		{"/var/lib/node/mailkeep.prom", "cleanup-dry-run", "/var/lib/node/mailkeep-cleanup-dry-run.prom"},
		{"metrics", "cleanup", "metrics-cleanup"},
	}
	for _, tc := range cases {
		if got := TextfilePath(tc.base, tc.command); got != tc.want {
			t.Errorf("TextfilePath(%q, %q) = %q, want %q", tc.base, tc.command, got, tc.want)
		}
	}
}

func TestCommandsKeepSeparateFiles(t *testing.T) {
	base := filepath.Join(t.TempDir(), "mailkeep.prom")
	start := time.Unix(1700000000, 0)
	for _, command := range []string{"backup", "cleanup"} {
		m := New(command)
		m.RunFinished(true, start, start.Add(time.Second))
		require.NoError(t, m.WriteTextfile(TextfilePath(base, command)))
	}
	for _, command := range []string{"backup", "cleanup"} {
		data, err := os.ReadFile(TextfilePath(base, command))
		require.NoError(t, err)
		assert.Contains(t, string(data), `mailkeep_last_run_success{command="`+command+`"} 1`)
	}
}
