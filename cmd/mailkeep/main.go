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

// The mailkeep command backs up labelled Gmail messages to local
// storage, searches the backup, and removes aged messages from Gmail.
//
// Exit status is 0 when a run completed, even if some messages were
// skipped, 1 when it was aborted, and 3 when Gmail access must be
// granted again.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/matta/mailkeep/internal/mailbox"
)

const (
	exitOK      = 0
	exitAborted = 1
	exitAuth    = 3
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case mailbox.IsAuth(err):
		return exitAuth
	default:
		return exitAborted
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdout).ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailkeep: %v\n", err)
		if exitCode(err) == exitAuth {
			fmt.Fprintln(os.Stderr, "mailkeep: Gmail access must be granted again; store a new token and rerun")
		}
	}
	os.Exit(exitCode(err))
}
