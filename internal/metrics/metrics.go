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

// Package metrics counts what backup and cleanup runs do, for export
// through the node exporter's textfile collector.
package metrics

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mailkeep"

// Metrics holds the counters of one run of a command.  Every series
// carries a command label.  A nil *Metrics discards everything.
type Metrics struct {
	reg *prometheus.Registry

	ingested prometheus.Counter
	skipped  prometheus.Counter
	failed   prometheus.Counter
	exported prometheus.Counter
	deleted  prometheus.Counter
	kept     prometheus.Counter

	lastRun      prometheus.Gauge
	lastSuccess  prometheus.Gauge
	lastDuration prometheus.Gauge
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

// New returns Metrics for a run of command, registered on a fresh
// registry.
func New(command string) *Metrics {
	m := &Metrics{
		reg:      prometheus.NewRegistry(),
		ingested: counter("messages_ingested_total", "Messages stored and indexed."),
		skipped:  counter("messages_skipped_total", "Listed messages that were already backed up."),
		failed:   counter("messages_failed_total", "Messages that could not be processed."),
		exported: counter("attachments_exported_total", "Attachments copied to the export directory."),
		deleted:  counter("messages_deleted_total", "Messages removed from the remote mailbox."),
		kept:     counter("messages_kept_total", "Cleanup candidates spared by the keep label."),

		lastRun:      gauge("last_run_timestamp_seconds", "When the last run of a command finished."),
		lastSuccess:  gauge("last_run_success", "1 if the last run of a command completed, else 0."),
		lastDuration: gauge("last_run_duration_seconds", "How long the last run of a command took."),
	}
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"command": command}, m.reg)
	reg.MustRegister(m.ingested, m.skipped, m.failed, m.exported, m.deleted, m.kept,
		m.lastRun, m.lastSuccess, m.lastDuration)
	return m
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func add(c prometheus.Counter, n int) {
	if n > 0 {
		c.Add(float64(n))
	}
}

func (m *Metrics) Ingested(n int) {
	if m != nil {
		add(m.ingested, n)
	}
}

func (m *Metrics) Skipped(n int) {
	if m != nil {
		add(m.skipped, n)
	}
}

func (m *Metrics) Failed(n int) {
	if m != nil {
		add(m.failed, n)
	}
}

func (m *Metrics) Exported(n int) {
	if m != nil {
		add(m.exported, n)
	}
}

func (m *Metrics) Deleted(n int) {
	if m != nil {
		add(m.deleted, n)
	}
}

func (m *Metrics) Kept(n int) {
	if m != nil {
		add(m.kept, n)
	}
}

// RunFinished records the outcome of the run.
func (m *Metrics) RunFinished(ok bool, start, end time.Time) {
	if m == nil {
		return
	}
	success := 0.0
	if ok {
		success = 1
	}
	m.lastRun.Set(float64(end.Unix()))
	m.lastSuccess.Set(success)
	m.lastDuration.Set(end.Sub(start).Seconds())
}

// TextfilePath returns the file the metrics of command go to: base
// with "-<command>" inserted before its extension.  Each command owns
// its file so one run never erases the series of another.
func TextfilePath(base, command string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + command + ext
}

// WriteTextfile atomically writes every metric to path in the text
// exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return errors.Wrapf(prometheus.WriteToTextfile(path, m.reg), "writing metrics to %q", path)
}
