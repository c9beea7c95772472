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

// Package gmail implements mailbox.Client over the Gmail REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	gmail_api "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/matta/mailkeep/internal/mailbox"
)

const (
	// Trash and list need modify; permanent deletion needs the full
	// mail scope.
	ModifyScope = gmail_api.GmailModifyScope
	FullScope   = gmail_api.MailGoogleComScope

	// See https://developers.google.com/gmail/api/reference/quota
	quotaUnitsPerLabelsList   = 1
	quotaUnitsPerMessagesGet  = 5
	quotaUnitsPerMessagesList = 5
	quotaUnitsPerTrash        = 5
	quotaUnitsPerDelete       = 10

	quotaUnitsPerSecond = 250

	defaultPageSize = 100
	maxPageSize     = 500
)

// Options configures a Client.
type Options struct {
	// Quota units per second.  Defaults to 80% of the per-user
	// limit.
	RateLimit float64

	// Messages per listing page.
	PageSize int64

	// Delete messages outright instead of moving them to the trash.
	Permanent bool

	// API endpoint override, for tests.
	Endpoint string
}

// Client provides access to messages stored in Gmail.
type Client struct {
	service   *gmail_api.Service
	limiter   *rate.Limiter
	pageSize  int64
	permanent bool
	log       *zap.Logger

	mu           sync.Mutex
	labelsByName map[string]string
	labelsByID   map[string]string
}

// New returns a Client that makes requests with httpClient, which must
// add credentials.
func New(ctx context.Context, httpClient *http.Client, opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	s, err := gmail_api.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating gmail service")
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = quotaUnitsPerSecond * 0.8
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &Client{
		service:   s,
		limiter:   rate.NewLimiter(rate.Limit(limit), quotaUnitsPerSecond),
		pageSize:  pageSize,
		permanent: opts.Permanent,
		log:       logger,
	}, nil
}

// searchExpr renders the parts of q that Gmail only accepts as a
// search expression.
func searchExpr(q mailbox.Query) string {
	var parts []string
	if !q.After.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%d", q.After.Unix()))
	}
	if !q.Before.IsZero() {
		parts = append(parts, fmt.Sprintf("before:%d", q.Before.Unix()))
	}
	if q.Raw != "" {
		parts = append(parts, q.Raw)
	}
	return strings.Join(parts, " ")
}

func (c *Client) List(ctx context.Context, q mailbox.Query, cursor string, fn func(mailbox.Item) error) error {
	call := c.service.Users.Messages.List("me").MaxResults(c.pageSize)
	if q.Label != "" {
		id, ok, err := c.labelID(ctx, q.Label)
		if err != nil {
			return err
		}
		if !ok {
			c.log.Warn("label does not exist; nothing to list", zap.String("label", q.Label))
			return nil
		}
		call = call.LabelIds(id)
	}
	if expr := searchExpr(q); expr != "" {
		call = call.Q(expr)
	}

	token := cursor
	total := 0
	for {
		if err := c.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
			return err
		}
		if token != "" {
			call = call.PageToken(token)
		}
		page, err := call.Context(ctx).Do()
		if err != nil {
			return classify("list", "", err)
		}
		total += len(page.Messages)
		c.log.Debug("listed page of Gmail messages",
			zap.Int("count", len(page.Messages)),
			zap.Int("total", total))
		for _, m := range page.Messages {
			if err := fn(mailbox.Item{ID: m.Id, Cursor: token}); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		token = page.NextPageToken
	}
}

func (c *Client) Fetch(ctx context.Context, id string) (*mailbox.Fetched, error) {
	if err := c.limiter.WaitN(ctx, quotaUnitsPerMessagesGet); err != nil {
		return nil, err
	}
	msg, err := c.service.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, classify("fetch", id, err)
	}
	raw, err := decodeRaw(msg.Raw)
	if err != nil {
		return nil, &mailbox.Error{Kind: mailbox.Permanent, Op: "fetch", ID: id,
			Err: errors.Wrap(err, "decoding raw message")}
	}
	labels, err := c.labelNames(ctx, msg.LabelIds)
	if err != nil {
		return nil, err
	}
	var internal time.Time
	if msg.InternalDate > 0 {
		internal = time.UnixMilli(msg.InternalDate).UTC()
	}
	return mailbox.NewFetched(msg.Id, msg.ThreadId, labels, internal, msg.SizeEstimate, raw)
}

// decodeRaw decodes the base64url "raw" field, which Gmail may send
// with or without padding.
func decodeRaw(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func (c *Client) Delete(ctx context.Context, id string) error {
	if c.permanent {
		if err := c.limiter.WaitN(ctx, quotaUnitsPerDelete); err != nil {
			return err
		}
		if err := c.service.Users.Messages.Delete("me", id).Context(ctx).Do(); err != nil {
			return classify("delete", id, err)
		}
		return nil
	}
	if err := c.limiter.WaitN(ctx, quotaUnitsPerTrash); err != nil {
		return err
	}
	if _, err := c.service.Users.Messages.Trash("me", id).Context(ctx).Do(); err != nil {
		return classify("delete", id, err)
	}
	return nil
}

func (c *Client) Labels(ctx context.Context, id string) ([]string, error) {
	if err := c.limiter.WaitN(ctx, quotaUnitsPerMessagesGet); err != nil {
		return nil, err
	}
	msg, err := c.service.Users.Messages.Get("me", id).Format("minimal").Context(ctx).Do()
	if err != nil {
		return nil, classify("labels", id, err)
	}
	return c.labelNames(ctx, msg.LabelIds)
}

var _ mailbox.Client = (*Client)(nil)
