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

// Package mailboxtest provides an in-memory mailbox.Client for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/matta/mailkeep/internal/mailbox"
	"github.com/matta/mailkeep/internal/message"
)

// Message is a message held by a Fake.
type Message struct {
	ID           string
	ThreadID     string
	Labels       []string
	InternalDate time.Time
	Raw          []byte
}

// Fake is an in-memory mailbox.  Listing order is insertion order.
// Deleted messages disappear from listings and lookups.
type Fake struct {
	// Items per listing page.  Defaults to 2.
	PageSize int

	// Hooks run before the corresponding operation, outside the
	// Fake's lock.  A non-nil error fails the operation.
	FetchHook  func(ctx context.Context, id string) error
	DeleteHook func(ctx context.Context, id string) error
	LabelsHook func(ctx context.Context, id string) error

	// ListHook runs before each page is delivered.
	ListHook func(ctx context.Context, cursor string) error

	mu      sync.Mutex
	order   []string
	msgs    map[string]*Message
	deleted []string
	fetches map[string]int
	lists   []mailbox.Query
}

// New returns a Fake holding msgs.
func New(msgs ...Message) *Fake {
	f := &Fake{msgs: map[string]*Message{}, fetches: map[string]int{}}
	for _, m := range msgs {
		f.Add(m)
	}
	return f
}

// Add appends m to the mailbox, replacing any message with the same
// id.
func (f *Fake) Add(m Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.msgs[m.ID]; !ok {
		f.order = append(f.order, m.ID)
	}
	m.Labels = append([]string(nil), m.Labels...)
	f.msgs[m.ID] = &m
}

// SetLabels replaces the labels of message id.
func (f *Fake) SetLabels(id string, labels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.msgs[id]; ok {
		m.Labels = append([]string(nil), labels...)
	}
}

// Deleted returns the ids passed to successful Delete calls, in order.
func (f *Fake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// Fetches returns how many times id was fetched successfully.
func (f *Fake) Fetches(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

// TotalFetches returns the number of successful fetches of any message.
func (f *Fake) TotalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fetches {
		n += c
	}
	return n
}

// Queries returns the queries List was called with.
func (f *Fake) Queries() []mailbox.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailbox.Query(nil), f.lists...)
}

func (f *Fake) pageSize() int {
	if f.PageSize <= 0 {
		return 2
	}
	return f.PageSize
}

func matches(m *Message, q mailbox.Query) bool {
	if q.Label != "" && !message.HasLabel(m.Labels, q.Label) {
		return false
	}
	if !q.Before.IsZero() && !m.InternalDate.Before(q.Before) {
		return false
	}
	if !q.After.IsZero() && m.InternalDate.Before(q.After) {
		return false
	}
	return true
}

func pageCursor(page int) string {
	if page == 0 {
		return ""
	}
	return "page-" + strconv.Itoa(page)
}

func parseCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(cursor, "page-"))
	if err != nil || n < 0 {
		return 0, &mailbox.Error{Kind: mailbox.Permanent, Op: "list", Err: fmt.Errorf("bad cursor %q", cursor)}
	}
	return n, nil
}

func (f *Fake) List(ctx context.Context, q mailbox.Query, cursor string, fn func(mailbox.Item) error) error {
	start, err := parseCursor(cursor)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.lists = append(f.lists, q)
	var ids []string
	for _, id := range f.order {
		if m := f.msgs[id]; matches(m, q) {
			ids = append(ids, id)
		}
	}
	f.mu.Unlock()

	size := f.pageSize()
	for page := start; page*size < len(ids); page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := pageCursor(page)
		if f.ListHook != nil {
			if err := f.ListHook(ctx, c); err != nil {
				return err
			}
		}
		end := (page + 1) * size
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[page*size : end] {
			if err := fn(mailbox.Item{ID: id, Cursor: c}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *Fake) lookup(op, id string) (*Message, error) {
	m, ok := f.msgs[id]
	if !ok {
		return nil, &mailbox.Error{Kind: mailbox.NotFound, Op: op, ID: id, Err: errors.New("no such message")}
	}
	return m, nil
}

func (f *Fake) Fetch(ctx context.Context, id string) (*mailbox.Fetched, error) {
	if f.FetchHook != nil {
		if err := f.FetchHook(ctx, id); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	m, err := f.lookup("fetch", id)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.fetches[id]++
	cp := *m
	f.mu.Unlock()
	return mailbox.NewFetched(cp.ID, cp.ThreadID, append([]string(nil), cp.Labels...), cp.InternalDate, 0, cp.Raw)
}

func (f *Fake) Delete(ctx context.Context, id string) error {
	if f.DeleteHook != nil {
		if err := f.DeleteHook(ctx, id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup("delete", id); err != nil {
		return err
	}
	delete(f.msgs, id)
	for i, o := range f.order {
		if o == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *Fake) Labels(ctx context.Context, id string) ([]string, error) {
	if f.LabelsHook != nil {
		if err := f.LabelsHook(ctx, id); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.lookup("labels", id)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), m.Labels...), nil
}

var _ mailbox.Client = (*Fake)(nil)
