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

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/matta/mailkeep/internal/backup"
	"github.com/matta/mailkeep/internal/index"
	"github.com/matta/mailkeep/internal/message"
	"github.com/matta/mailkeep/internal/retention"
)

const (
	snippetWidth = 120
	timeLayout   = "2006-01-02 15:04"
)

// status returns the last line of a run report.
func status(err error) string {
	switch exitCode(err) {
	case exitOK:
		return "Status: completed"
	case exitAuth:
		return "Status: needs Gmail access"
	default:
		return "Status: aborted"
	}
}

func printBackup(w io.Writer, rep backup.Report, err error) {
	fmt.Fprintf(w, "Listed:    %d\n", rep.Listed)
	fmt.Fprintf(w, "New:       %d\n", rep.Ingested)
	fmt.Fprintf(w, "Existing:  %d\n", rep.Skipped)
	fmt.Fprintf(w, "Failed:    %d\n", rep.Failed)
	if rep.Exported > 0 {
		fmt.Fprintf(w, "Exported:  %d\n", rep.Exported)
	}
	if !rep.Complete && rep.Cursor != "" {
		fmt.Fprintf(w, "Resumes at page %s\n", rep.Cursor)
	}
	fmt.Fprintln(w, status(err))
}

func printCleanup(w io.Writer, rep retention.Report, err error) {
	if !rep.Cutoff.IsZero() {
		fmt.Fprintf(w, "Cutoff:     %s\n", rep.Cutoff.Local().Format(dateLayout))
	}
	fmt.Fprintf(w, "Candidates: %d\n", rep.Candidates)
	if rep.DryRun {
		fmt.Fprintf(w, "Would delete: %d\n", rep.Deleted)
	} else {
		fmt.Fprintf(w, "Deleted:    %d\n", rep.Deleted)
	}
	fmt.Fprintf(w, "Kept:       %d\n", rep.Kept)
	fmt.Fprintf(w, "Unindexed:  %d\n", rep.Unindexed)
	fmt.Fprintf(w, "Failed:     %d\n", rep.Failed)
	for _, e := range multierr.Errors(rep.Errors) {
		fmt.Fprintf(w, "  %v\n", e)
	}
	fmt.Fprintln(w, status(err))
}

func printSearch(w io.Writer, hits []message.Summary) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "No matching messages.")
		return
	}
	for _, h := range hits {
		date := "unknown date    "
		if !h.ReceivedAt.IsZero() {
			date = h.ReceivedAt.Local().Format(timeLayout)
		}
		att := ""
		if h.AttachmentCount > 0 {
			att = " [+att]"
		}
		fmt.Fprintf(w, "%s  %s  %s%s\n", date, h.From, h.Subject, att)
		if s := truncate(h.Snippet, snippetWidth); s != "" {
			fmt.Fprintf(w, "    %s\n", s)
		}
		fmt.Fprintf(w, "    id:%s\n", h.ID)
	}
}

func printStats(w io.Writer, s message.Stats, last time.Time, runs []index.RunRecord) {
	fmt.Fprintf(w, "Messages:    %d\n", s.TotalMessages)
	fmt.Fprintf(w, "Attachments: %d\n", s.TotalAttachments)
	fmt.Fprintf(w, "Size:        %s\n", formatBytes(s.TotalBytes))
	if !s.Oldest.IsZero() {
		fmt.Fprintf(w, "Range:       %s to %s\n",
			s.Oldest.Local().Format(dateLayout), s.Newest.Local().Format(dateLayout))
	}
	if last.IsZero() {
		fmt.Fprintln(w, "Last full backup: never")
	} else {
		fmt.Fprintf(w, "Last full backup: %s\n", last.Local().Format(timeLayout))
	}
	if len(runs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nRecent runs:")
	for _, r := range runs {
		fmt.Fprintf(w, "  %s  %-16s %-9s %s\n",
			r.StartedAt.Local().Format(timeLayout), r.Command, r.Status, runCounts(r))
	}
}

func runCounts(r index.RunRecord) string {
	if strings.HasPrefix(r.Command, "cleanup") {
		return fmt.Sprintf("deleted=%d kept=%d failed=%d", r.Deleted, r.Kept, r.Failed)
	}
	return fmt.Sprintf("new=%d existing=%d failed=%d", r.Ingested, r.Skipped, r.Failed)
}

// truncate returns s with whitespace collapsed, cut to n runes.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
