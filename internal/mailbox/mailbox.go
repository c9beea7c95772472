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

// Package mailbox defines the narrow surface of a remote mailbox
// provider that backup and cleanup need.
package mailbox

import (
	"context"
	"time"

	"github.com/matta/mailkeep/internal/mailparse"
)

// Query selects messages to list.  Zero fields do not filter.
type Query struct {
	// Label name, not provider label id.
	Label string

	// Exclusive upper and inclusive lower bound on the provider's
	// received time.
	Before time.Time
	After  time.Time

	// Extra provider specific search expression.
	Raw string
}

// Item is a listed message.
type Item struct {
	ID string

	// Passing Cursor to List resumes the listing at the page holding
	// this item.  The first page has the empty cursor.
	Cursor string
}

// Fetched is a message with its content, parsed at the client
// boundary.
type Fetched struct {
	ID       string
	ThreadID string

	// Label names.
	Labels []string

	// When the provider received the message.  Zero if unknown.
	InternalDate time.Time

	SizeEstimate int64
	Raw          []byte
	Parsed       *mailparse.Parsed
}

// Client is a remote mailbox.
type Client interface {
	// List calls fn for each message matching q, starting at the page
	// named by cursor.  Bodies are never loaded.  An error returned
	// by fn stops the listing and is returned unchanged.
	List(ctx context.Context, q Query, cursor string, fn func(Item) error) error

	// Fetch returns a message with its raw bytes.
	Fetch(ctx context.Context, id string) (*Fetched, error)

	// Delete removes a message from the remote mailbox.
	Delete(ctx context.Context, id string) error

	// Labels returns the current label names of a message.
	Labels(ctx context.Context, id string) ([]string, error)
}

// NewFetched parses raw into a Fetched.  A message that cannot be
// parsed is a Permanent error: refetching it will not help.
func NewFetched(id, threadID string, labels []string, internalDate time.Time, size int64, raw []byte) (*Fetched, error) {
	p, err := mailparse.Parse(raw)
	if err != nil {
		return nil, &Error{Kind: Permanent, Op: "parse", ID: id, Err: err}
	}
	if size == 0 {
		size = int64(len(raw))
	}
	return &Fetched{
		ID:           id,
		ThreadID:     threadID,
		Labels:       labels,
		InternalDate: internalDate,
		SizeEstimate: size,
		Raw:          raw,
		Parsed:       p,
	}, nil
}

// ReceivedAt is the message's Date header, or the provider's received
// time when the header is missing.
func (f *Fetched) ReceivedAt() time.Time {
	if f.Parsed != nil && !f.Parsed.Date.IsZero() {
		return f.Parsed.Date
	}
	return f.InternalDate
}
