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

package mailbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RetryPolicy bounds the retries of a transient failure.
type RetryPolicy struct {
	// Total tries, including the first.  Values below 1 mean 1.
	MaxAttempts int

	// Wait after the first failure; doubled after each further one
	// up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Each wait is scaled by a random factor in [1-Jitter, 1+Jitter].
	Jitter float64
}

// DefaultRetryPolicy allows five attempts over roughly eight seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// BackOff returns the schedule of waits between attempts.  It stops
// after MaxAttempts-1 waits.
func (p RetryPolicy) BackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	if b.RandomizationFactor < 0 {
		b.RandomizationFactor = 0
	} else if b.RandomizationFactor > 1 {
		b.RandomizationFactor = 1
	}
	// Only the attempt count ends the retries.
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.attempts()-1))
}

// retrying is a Client that retries transient failures of another.
type retrying struct {
	c       Client
	policy  RetryPolicy
	timeout time.Duration
	log     *zap.Logger
}

// WithRetry wraps c so that transient failures are retried according
// to policy.  Fetch, Delete and Labels attempts are each bounded by
// timeout, if positive; List pages are bounded by the transport.
func WithRetry(c Client, policy RetryPolicy, timeout time.Duration, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retrying{c: c, policy: policy, timeout: timeout, log: logger}
}

// stop marks an error that must not be retried.
type stop struct {
	err error
}

func (s *stop) Error() string { return s.err.Error() }

func (r *retrying) do(ctx context.Context, op, id string, bounded bool, fn func(context.Context) error) error {
	attempt := 0
	retryable := false
	operation := func() error {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if bounded && r.timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		err := fn(actx)
		cancel()
		retryable = false
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		}
		if s, ok := err.(*stop); ok {
			return backoff.Permanent(s.err)
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		retryable = true
		return err
	}
	notify := func(err error, d time.Duration) {
		r.log.Warn("retrying remote call",
			zap.String("op", op),
			zap.String("id", id),
			zap.Int("attempt", attempt),
			zap.Duration("delay", d),
			zap.Error(err))
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(r.policy.BackOff(), ctx), notify)
	if err != nil && retryable && ctx.Err() == nil {
		return errors.Wrapf(err, "giving up after %d attempts", attempt)
	}
	return err
}

// List resumes a failed listing at the page of the last delivered item,
// skipping the items of that page already delivered.
func (r *retrying) List(ctx context.Context, q Query, cursor string, fn func(Item) error) error {
	resume := cursor
	seen := map[string]bool{}
	return r.do(ctx, "list", "", false, func(ctx context.Context) error {
		var cbErr error
		err := r.c.List(ctx, q, resume, func(it Item) error {
			if it.Cursor == resume && seen[it.ID] {
				return nil
			}
			if it.Cursor != resume {
				resume = it.Cursor
				seen = map[string]bool{}
			}
			seen[it.ID] = true
			if err := fn(it); err != nil {
				cbErr = err
				return err
			}
			return nil
		})
		if cbErr != nil {
			return &stop{cbErr}
		}
		return err
	})
}

func (r *retrying) Fetch(ctx context.Context, id string) (*Fetched, error) {
	var f *Fetched
	err := r.do(ctx, "fetch", id, true, func(ctx context.Context) error {
		var err error
		f, err = r.c.Fetch(ctx, id)
		return err
	})
	return f, err
}

func (r *retrying) Delete(ctx context.Context, id string) error {
	return r.do(ctx, "delete", id, true, func(ctx context.Context) error {
		return r.c.Delete(ctx, id)
	})
}

func (r *retrying) Labels(ctx context.Context, id string) ([]string, error) {
	var labels []string
	err := r.do(ctx, "labels", id, true, func(ctx context.Context) error {
		var err error
		labels, err = r.c.Labels(ctx, id)
		return err
	})
	return labels, err
}
