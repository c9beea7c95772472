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
	"context"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matta/mailkeep/internal/config"
	"github.com/matta/mailkeep/internal/gmail"
	"github.com/matta/mailkeep/internal/gmailhttp"
	"github.com/matta/mailkeep/internal/index"
	"github.com/matta/mailkeep/internal/logging"
	"github.com/matta/mailkeep/internal/mailbox"
	"github.com/matta/mailkeep/internal/metrics"
	"github.com/matta/mailkeep/internal/notify"
	"github.com/matta/mailkeep/internal/tracehttp"
)

const tokenKeyringKey = "gmail-token"

// app holds what every subcommand shares.
type app struct {
	out        io.Writer
	configPath string
	trace      bool

	cfg *config.Config
	log *zap.Logger

	// Replaced in tests.
	newClient func(ctx context.Context) (mailbox.Client, error)
	notifier  notify.Notifier
	now       func() time.Time
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out, now: time.Now}
	return a.rootCommand()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mailkeep",
		Short:         "Back up, search and prune a Gmail mailbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.mailkeep/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.trace, "trace", "T", false, "log every Gmail HTTP exchange at debug level")
	root.AddCommand(a.backupCommand(), a.cleanupCommand(), a.searchCommand(), a.statsCommand())
	return root
}

// setup loads configuration and builds the logger.  Settings already
// provided, as in tests, are kept.
func (a *app) setup() error {
	if a.cfg == nil {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.log == nil {
		logCfg := a.cfg.Log
		if a.trace {
			logCfg.Level = "debug"
		}
		log, err := logging.New(logCfg)
		if err != nil {
			return err
		}
		a.log = log
	}
	if a.notifier == nil {
		a.notifier = notify.New(a.cfg.Notify.NtfyServer, a.cfg.Notify.NtfyTopic)
	}
	if a.newClient == nil {
		a.newClient = a.gmailClient
	}
	return nil
}

func (a *app) tokenStore() (gmailhttp.TokenStore, error) {
	if a.cfg.Google.TokenStore == config.TokenStoreKeyring {
		ring, err := gmailhttp.OpenKeyring(filepath.Join(a.cfg.Storage.Path, "keyring"))
		if err != nil {
			return nil, err
		}
		return gmailhttp.KeyringStore{Ring: ring, Key: tokenKeyringKey}, nil
	}
	return gmailhttp.FileStore{Path: a.cfg.Google.TokenFile}, nil
}

// gmailClient returns the retried Gmail client.
func (a *app) gmailClient(ctx context.Context) (mailbox.Client, error) {
	store, err := a.tokenStore()
	if err != nil {
		return nil, err
	}
	scope := gmail.ModifyScope
	if a.cfg.Cleanup.Permanent {
		scope = gmail.FullScope
	}
	provider, err := gmailhttp.NewProvider(ctx, a.cfg.Google.CredentialsFile, store, a.log.Named("auth"), scope)
	if err != nil {
		return nil, err
	}
	var base http.RoundTripper
	if a.trace {
		base = tracehttp.Wrap(nil, a.log.Named("http"), false)
	}
	gc, err := gmail.New(ctx, provider.Client(base, a.cfg.Remote.Timeout), gmail.Options{
		RateLimit: float64(a.cfg.Gmail.RPS),
		Permanent: a.cfg.Cleanup.Permanent,
	}, a.log.Named("gmail"))
	if err != nil {
		return nil, err
	}
	policy := mailbox.RetryPolicy{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		BaseDelay:   a.cfg.Retry.BaseDelay,
		MaxDelay:    a.cfg.Retry.MaxDelay,
		Jitter:      a.cfg.Retry.Jitter,
	}
	return mailbox.WithRetry(gc, policy, a.cfg.Remote.Timeout, a.log.Named("retry")), nil
}

func runStatus(err error) string {
	switch exitCode(err) {
	case exitOK:
		return index.RunCompleted
	case exitAuth:
		return index.RunAuth
	default:
		return index.RunAborted
	}
}

// finish does the bookkeeping shared by backup and cleanup: record the
// run, export metrics and notify.  None of it changes the outcome of
// the run; failures are logged.
func (a *app) finish(ctx context.Context, ix *index.Index, m *metrics.Metrics, rec index.RunRecord, runErr error, msg notify.Message) {
	// The run may have ended because ctx was cancelled; the
	// bookkeeping still has to happen.
	ctx = context.WithoutCancel(ctx)
	rec.Status = runStatus(runErr)
	if runErr != nil {
		rec.Detail = runErr.Error()
	}
	if ix != nil {
		if _, err := ix.RecordRun(ctx, rec); err != nil {
			a.log.Warn("could not record run", zap.Error(err))
		}
	}
	m.RunFinished(runErr == nil, rec.StartedAt, rec.FinishedAt)
	if base := a.cfg.Metrics.Textfile; base != "" {
		if err := m.WriteTextfile(metrics.TextfilePath(base, rec.Command)); err != nil {
			a.log.Warn("could not write metrics", zap.Error(err))
		}
	}
	notify.Send(ctx, a.notifier, msg, a.log)
}

// failureMessage describes a failed run.  err must not be nil.
func failureMessage(command string, err error) notify.Message {
	title := "Email " + command + " failed"
	if exitCode(err) == exitAuth {
		title = "Email " + command + " needs Gmail access"
	}
	return notify.Message{
		Title:    title,
		Body:     err.Error(),
		Priority: notify.PriorityHigh,
		Tags:     []string{"warning"},
	}
}
