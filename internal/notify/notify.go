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

// Package notify tells an operator how a run went.
package notify

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Priorities understood by ntfy.
const (
	PriorityDefault = "default"
	PriorityHigh    = "high"
)

// Message is a notification.
type Message struct {
	Title    string
	Body     string
	Priority string

	// Emoji short codes, e.g. "white_check_mark".
	Tags []string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

const DefaultServer = "https://ntfy.sh"

// Ntfy publishes to a topic on an ntfy server.
type Ntfy struct {
	Server string
	Topic  string

	// Defaults to a client with a 10 second timeout.
	Client *http.Client
}

var defaultClient = &http.Client{Timeout: 10 * time.Second}

func (n *Ntfy) Notify(ctx context.Context, m Message) error {
	server := n.Server
	if server == "" {
		server = DefaultServer
	}
	target, err := url.JoinPath(server, url.PathEscape(n.Topic))
	if err != nil {
		return errors.Wrapf(err, "bad ntfy server %q", server)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(m.Body))
	if err != nil {
		return errors.Wrap(err, "building ntfy request")
	}
	if m.Title != "" {
		req.Header.Set("Title", m.Title)
	}
	priority := m.Priority
	if priority == "" {
		priority = PriorityDefault
	}
	req.Header.Set("Priority", priority)
	if len(m.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(m.Tags, ","))
	}

	client := n.Client
	if client == nil {
		client = defaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "posting to ntfy")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("ntfy returned %s", resp.Status)
	}
	return nil
}

// New returns an Ntfy notifier for topic, or Nop if topic is empty.
func New(server, topic string) Notifier {
	if topic == "" {
		return Nop{}
	}
	return &Ntfy{Server: server, Topic: topic}
}

// Send delivers m through n and logs, rather than returns, a failure.
func Send(ctx context.Context, n Notifier, m Message, logger *zap.Logger) {
	if err := n.Notify(ctx, m); err != nil && logger != nil {
		logger.Warn("notification failed", zap.String("title", m.Title), zap.Error(err))
	}
}
