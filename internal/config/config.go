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

// Package config loads settings from defaults, an optional config
// file, a .env file and the environment, in increasing precedence.
//
// Every key can be set through an environment variable named
// MAILKEEP_ followed by the key in upper case with dots replaced by
// underscores, e.g. MAILKEEP_CLEANUP_RETENTION_DAYS.  The variables
// of existing deployments (BACKUP_STORAGE_PATH, RETENTION_DAYS, ...)
// are honored too.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/matta/mailkeep/internal/homedir"
	"github.com/matta/mailkeep/internal/logging"
)

const envPrefix = "MAILKEEP"

// Token store kinds.
const (
	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"
)

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// DBPath returns the location of the index database.
func (s StorageConfig) DBPath() string {
	return filepath.Join(s.Path, "db", "mailkeep.db")
}

type GoogleConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	TokenStore      string `mapstructure:"token_store"`
}

type BackupConfig struct {
	Label       string `mapstructure:"label"`
	Concurrency int    `mapstructure:"concurrency"`
}

type CleanupConfig struct {
	KeepLabel     string `mapstructure:"keep_label"`
	RetentionDays int    `mapstructure:"retention_days"`
	DryRun        bool   `mapstructure:"dry_run"`
	Permanent     bool   `mapstructure:"permanent"`
	SyncLabels    bool   `mapstructure:"sync_labels"`
}

// MaxAge returns the retention period as a duration.
func (c CleanupConfig) MaxAge() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

type GmailConfig struct {
	// Quota units per second.
	RPS int `mapstructure:"rps"`
}

type RemoteConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

type ExportConfig struct {
	ConsumeDir string `mapstructure:"consume_dir"`
}

type NotifyConfig struct {
	NtfyServer string `mapstructure:"ntfy_server"`
	NtfyTopic  string `mapstructure:"ntfy_topic"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Config is the complete configuration.
type Config struct {
	Storage StorageConfig  `mapstructure:"storage"`
	Google  GoogleConfig   `mapstructure:"google"`
	Backup  BackupConfig   `mapstructure:"backup"`
	Cleanup CleanupConfig  `mapstructure:"cleanup"`
	Gmail   GmailConfig    `mapstructure:"gmail"`
	Remote  RemoteConfig   `mapstructure:"remote"`
	Retry   RetryConfig    `mapstructure:"retry"`
	Export  ExportConfig   `mapstructure:"export"`
	Notify  NotifyConfig   `mapstructure:"notify"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Log     logging.Config `mapstructure:"log"`
}

var defaults = map[string]interface{}{
	"storage.path":            "~/.mailkeep",
	"google.credentials_file": "~/.mailkeep/credentials.json",
	"google.token_file":       "~/.mailkeep/token.json",
	"google.token_store":      TokenStoreFile,
	"backup.label":            "Backup",
	"backup.concurrency":      4,
	"cleanup.keep_label":      "Keep",
	"cleanup.retention_days":  730,
	"cleanup.dry_run":         false,
	"cleanup.permanent":       false,
	"cleanup.sync_labels":     true,
	"gmail.rps":               200,
	"remote.timeout":          "30s",
	"retry.max_attempts":      5,
	"retry.base_delay":        "500ms",
	"retry.max_delay":         "30s",
	"retry.jitter":            0.2,
	"export.consume_dir":      "",
	"notify.ntfy_server":      "https://ntfy.sh",
	"notify.ntfy_topic":       "",
	"metrics.textfile":        "",
	"log.level":               "info",
	"log.development":         false,
	"log.file":                "",
	"log.max_size":            10,
	"log.max_backups":         5,
	"log.max_age":             30,
	"log.compress":            false,
}

// Environment variables read by earlier deployments.
var legacyEnv = map[string]string{
	"storage.path":            "BACKUP_STORAGE_PATH",
	"google.credentials_file": "GOOGLE_CREDENTIALS_FILE",
	"google.token_file":       "GOOGLE_TOKEN_FILE",
	"backup.label":            "EMAIL_BACKUP_LABEL",
	"cleanup.keep_label":      "EMAIL_KEEP_LABEL",
	"cleanup.retention_days":  "RETENTION_DAYS",
	"export.consume_dir":      "PAPERLESS_CONSUME_DIR",
	"notify.ntfy_topic":       "NTFY_TOPIC",
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Load reads the configuration.  If path is empty, config.yaml in the
// default storage directory is used when present.  A .env file in the
// working directory is loaded into the environment first; variables
// already set win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "loading .env")
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key := range defaults {
		names := []string{key, envName(key)}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		if err := v.BindEnv(names...); err != nil {
			return nil, errors.Wrapf(err, "binding %s", key)
		}
	}

	if path != "" {
		v.SetConfigFile(homedir.Expand(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(homedir.Expand("~/.mailkeep"))
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrap(err, "reading config")
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expand() {
	for _, p := range []*string{
		&c.Storage.Path,
		&c.Google.CredentialsFile,
		&c.Google.TokenFile,
		&c.Export.ConsumeDir,
		&c.Metrics.Textfile,
		&c.Log.File,
	} {
		*p = homedir.Expand(*p)
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.Storage.Path == "":
		return errors.New("storage.path is empty")
	case c.Backup.Label == "":
		return errors.New("backup.label is empty")
	case c.Backup.Concurrency <= 0:
		return errors.Errorf("backup.concurrency must be positive, not %d", c.Backup.Concurrency)
	case c.Cleanup.KeepLabel == "":
		return errors.New("cleanup.keep_label is empty")
	case c.Cleanup.KeepLabel == c.Backup.Label:
		return errors.Errorf("cleanup.keep_label and backup.label are both %q", c.Backup.Label)
	case c.Cleanup.RetentionDays <= 0:
		return errors.Errorf("cleanup.retention_days must be positive, not %d", c.Cleanup.RetentionDays)
	case c.Gmail.RPS <= 0:
		return errors.Errorf("gmail.rps must be positive, not %d", c.Gmail.RPS)
	case c.Remote.Timeout <= 0:
		return errors.Errorf("remote.timeout must be positive, not %v", c.Remote.Timeout)
	case c.Retry.MaxAttempts <= 0:
		return errors.Errorf("retry.max_attempts must be positive, not %d", c.Retry.MaxAttempts)
	case c.Retry.Jitter < 0 || c.Retry.Jitter > 1:
		return errors.Errorf("retry.jitter must be between 0 and 1, not %v", c.Retry.Jitter)
	}
	switch c.Google.TokenStore {
	case TokenStoreFile, TokenStoreKeyring:
	default:
		return errors.Errorf("google.token_store must be %q or %q, not %q",
			TokenStoreFile, TokenStoreKeyring, c.Google.TokenStore)
	}
	return nil
}
