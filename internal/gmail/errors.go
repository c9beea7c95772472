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

package gmail

import (
	"context"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/matta/mailkeep/internal/mailbox"
)

// Error reasons Gmail reports with a 403 that mean "slow down" rather
// than "forbidden".
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"backendError":          true,
}

// classify wraps err from a Gmail call as a *mailbox.Error.
func classify(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var me *mailbox.Error
	if errors.As(err, &me) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &mailbox.Error{Kind: kindOf(err), Op: op, ID: id, Err: err}
}

func kindOf(err error) mailbox.Kind {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500:
			return mailbox.Transient
		case gerr.Code == http.StatusUnauthorized:
			return mailbox.Auth
		case gerr.Code == http.StatusForbidden:
			for _, item := range gerr.Errors {
				if rateLimitReasons[item.Reason] {
					return mailbox.Transient
				}
			}
			return mailbox.Auth
		case gerr.Code == http.StatusNotFound, gerr.Code == http.StatusGone:
			return mailbox.NotFound
		}
		return mailbox.Permanent
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.Response != nil && rerr.Response.StatusCode >= 500 {
			return mailbox.Transient
		}
		return mailbox.Auth
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return mailbox.Transient
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return mailbox.Transient
	}
	return mailbox.Permanent
}
