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

/*
Package gmailhttp provides authenticated HTTP clients for the Gmail API.

A Provider turns an OAuth 2.0 client secret file (as downloaded from the
Google Cloud console) and a previously granted token into a stream of
valid access tokens, refreshing on expiry and persisting each refreshed
token back to its TokenStore.

The initial, interactive consent is not performed here.  Without a
stored token, or when the stored refresh token has been revoked, every
call fails with an error wrapping ErrConsentRequired, classified as
mailbox.Auth, and an operator must grant access again.

Token expiry is treated as an optimization only.  The server may reject
a token at any time; such requests fail with a 401 and are reported as
authentication errors rather than retried.
*/
package gmailhttp

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/matta/mailkeep/internal/mailbox"
)

// ErrConsentRequired means no usable token exists.
var ErrConsentRequired = errors.New("authorization required: grant access and store a new token")

// Provider is an oauth2.TokenSource backed by a TokenStore.
type Provider struct {
	store TokenStore
	log   *zap.Logger

	mu   sync.Mutex
	src  oauth2.TokenSource
	last string
}

func consentRequired(err error) error {
	return &mailbox.Error{Kind: mailbox.Auth, Op: "token", Err: errors.Wrap(ErrConsentRequired, err.Error())}
}

// NewProvider reads the client secret in credentialsFile and the token
// in store.  ctx governs token refresh requests for the life of the
// Provider.
func NewProvider(ctx context.Context, credentialsFile string, store TokenStore, logger *zap.Logger, scopes ...string) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	secret, err := os.ReadFile(credentialsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, consentRequired(errors.Wrapf(err, "no client credentials at %q", credentialsFile))
		}
		return nil, errors.Wrap(err, "reading client credentials")
	}
	config, err := google.ConfigFromJSON(secret, scopes...)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing client credentials %q", credentialsFile)
	}
	tok, err := store.Load()
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return nil, consentRequired(err)
		}
		return nil, errors.Wrap(err, "loading token")
	}
	if !tok.Valid() && tok.RefreshToken == "" {
		return nil, consentRequired(errors.New("stored token expired and has no refresh token"))
	}
	return &Provider{
		store: store,
		log:   logger,
		src:   oauth2.ReuseTokenSource(tok, config.TokenSource(ctx, tok)),
		last:  tok.AccessToken,
	}, nil
}

// Token returns a valid token.  Satisfies oauth2.TokenSource.
func (p *Provider) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tok, err := p.src.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && (rerr.Response == nil || rerr.Response.StatusCode < 500) {
			return nil, consentRequired(err)
		}
		return nil, &mailbox.Error{Kind: mailbox.Transient, Op: "token", Err: err}
	}
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		p.log.Debug("refreshed access token", zap.Time("expiry", tok.Expiry))
		// A token that fails to save still works for this run; the
		// next run refreshes again.
		if err := p.store.Save(tok); err != nil {
			p.log.Warn("could not save refreshed token", zap.Error(err))
		}
	}
	return tok, nil
}

// Client returns an HTTP client that authenticates every request,
// sending it through base (http.DefaultTransport if nil).  A positive
// timeout bounds each request.
func (p *Provider) Client(base http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{Source: p, Base: base},
		Timeout:   timeout,
	}
}
