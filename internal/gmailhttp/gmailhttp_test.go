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

package gmailhttp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/matta/mailkeep/internal/mailbox"
)

const testScope = "https://mail.google.com/"

func writeCredentials(t *testing.T, tokenURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	secret := fmt.Sprintf(`{"installed":{"client_id":"id","client_secret":"secret",`+
		`"auth_uri":"https://accounts.example.com/auth","token_uri":%q,`+
		`"redirect_uris":["http://localhost"]}}`, tokenURL)
	require.NoError(t, os.WriteFile(path, []byte(secret), 0600))
	return path
}

func TestFileStore(t *testing.T) {
	s := FileStore{Path: filepath.Join(t.TempDir(), "sub", "token.json")}

	_, err := s.Load()
	assert.True(t, errors.Is(err, ErrNoToken), "Load() = %v, want ErrNoToken", err)

	want := &oauth2.Token{
		AccessToken:  "access",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		Expiry:       time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, s.Save(want))
	fi, err := os.Stat(s.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, want.Expiry.Equal(got.Expiry))

	rotated := *want
	rotated.AccessToken = "access-2"
	require.NoError(t, s.Save(&rotated))
	got, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-2", got.AccessToken)
	entries, err := os.ReadDir(filepath.Dir(s.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestFileStoreReadsGoogleAuthFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	data := `{"token": "ya29.access", "refresh_token": "1//refresh", ` +
		`"client_id": "id", "scopes": ["https://mail.google.com/"], ` +
		`"expiry": "2024-05-01T12:00:00.123456Z"}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	got, err := FileStore{Path: path}.Load()
	require.NoError(t, err)
	assert.Equal(t, "ya29.access", got.AccessToken)
	assert.Equal(t, "1//refresh", got.RefreshToken)
	assert.Equal(t, 2024, got.Expiry.Year())
}

func TestKeyringStore(t *testing.T) {
	s := KeyringStore{Ring: keyring.NewArrayKeyring(nil), Key: "gmail-token"}
	_, err := s.Load()
	assert.True(t, errors.Is(err, ErrNoToken), "Load() = %v, want ErrNoToken", err)

	require.NoError(t, s.Save(&oauth2.Token{AccessToken: "a", RefreshToken: "r"}))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.Equal(t, "r", got.RefreshToken)
}

func TestNewProviderWithoutToken(t *testing.T) {
	creds := writeCredentials(t, "http://127.0.0.1:1/token")
	store := FileStore{Path: filepath.Join(t.TempDir(), "token.json")}

	_, err := NewProvider(context.Background(), creds, store, nil, testScope)
	require.Error(t, err)
	assert.True(t, mailbox.IsAuth(err), "NewProvider() = %v, want an auth error", err)
	assert.True(t, errors.Is(err, ErrConsentRequired))
}

func TestProviderRefreshes(t *testing.T) {
	refreshes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	creds := writeCredentials(t, srv.URL+"/token")
	store := KeyringStore{Ring: keyring.NewArrayKeyring(nil), Key: "k"}
	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	p, err := NewProvider(context.Background(), creds, store, nil, testScope)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		tok, err := p.Token()
		require.NoError(t, err)
		assert.Equal(t, "fresh", tok.AccessToken)
	}
	assert.Equal(t, 1, refreshes)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "refresh", saved.RefreshToken)
}

func TestProviderRevokedRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	}))
	defer srv.Close()

	creds := writeCredentials(t, srv.URL+"/token")
	store := KeyringStore{Ring: keyring.NewArrayKeyring(nil), Key: "k"}
	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	p, err := NewProvider(context.Background(), creds, store, nil, testScope)
	require.NoError(t, err)
	_, err = p.Token()
	require.Error(t, err)
	assert.Equal(t, mailbox.Auth, mailbox.KindOf(err))
	assert.True(t, errors.Is(err, ErrConsentRequired))
}

func TestProviderClientAuthorizes(t *testing.T) {
	var auth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	defer api.Close()

	creds := writeCredentials(t, "http://127.0.0.1:1/token")
	store := KeyringStore{Ring: keyring.NewArrayKeyring(nil), Key: "k"}
	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken: "valid",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}))
	p, err := NewProvider(context.Background(), creds, store, nil, testScope)
	require.NoError(t, err)

	resp, err := p.Client(nil, 5*time.Second).Get(api.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer valid", auth)
}
