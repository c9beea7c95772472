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
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/matta/mailkeep/internal/index"
	"github.com/matta/mailkeep/internal/query"
)

const dateLayout = "2006-01-02"

func parseDate(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, value, time.Local)
	if err != nil {
		return time.Time{}, errors.Errorf("--%s wants a date like 2024-01-31, not %q", flag, value)
	}
	return t, nil
}

func (a *app) searchCommand() *cobra.Command {
	var (
		f             index.Filter
		after, before string
	)
	cmd := &cobra.Command{
		Use:   "search [text...]",
		Short: "Search the local backup",
		Long: `Search the subject, body, sender and recipients of backed up messages.

Every word must match.  With --raw the text is a full-text query
expression instead, e.g. 'invoice OR receipt' or 'subject:lunch'.
Without text, the newest messages are listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if f.After, err = parseDate("after", after); err != nil {
				return err
			}
			if f.Before, err = parseDate("before", before); err != nil {
				return err
			}
			// --before names the last day included.
			if !f.Before.IsZero() {
				f.Before = f.Before.AddDate(0, 0, 1)
			}
			svc, closeFn, err := query.Open(cmd.Context(), a.cfg.Storage.DBPath())
			if err != nil {
				return err
			}
			defer closeFn()
			hits, err := svc.Search(cmd.Context(), strings.Join(args, " "), f)
			if err != nil {
				return err
			}
			printSearch(a.out, hits)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.Label, "label", "l", "", "only messages with this label")
	flags.StringVar(&after, "after", "", "only messages received on or after this date (YYYY-MM-DD)")
	flags.StringVar(&before, "before", "", "only messages received on or before this date (YYYY-MM-DD)")
	flags.IntVarP(&f.Limit, "limit", "n", index.DefaultLimit, "maximum number of results")
	flags.BoolVar(&f.Raw, "raw", false, "treat the text as a full-text query expression")
	return cmd
}
