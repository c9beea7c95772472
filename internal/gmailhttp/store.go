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
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/99designs/keyring"
	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned by TokenStore.Load when nothing is stored.
var ErrNoToken = errors.New("no stored token")

// TokenStore persists a single OAuth 2.0 token.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(*oauth2.Token) error
}

// storedToken is the on-disk token encoding.  It reads both the
// golang.org/x/oauth2 field names and the "token" field written by
// Python's google-auth, so existing token files keep working.
type storedToken struct {
	AccessToken  string    `json:"access_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`

	Token string `json:"token,omitempty"`
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, "decoding token")
	}
	tok := &oauth2.Token{
		AccessToken:  st.AccessToken,
		TokenType:    st.TokenType,
		RefreshToken: st.RefreshToken,
		Expiry:       st.Expiry,
	}
	if tok.AccessToken == "" {
		tok.AccessToken = st.Token
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return tok, nil
}

func encodeToken(tok *oauth2.Token) ([]byte, error) {
	return json.MarshalIndent(storedToken{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, "", "  ")
}

// FileStore keeps the token in a JSON file readable only by its owner.
type FileStore struct {
	Path string
}

func (s FileStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNoToken, "no token file at %q", s.Path)
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading token file")
	}
	return decodeToken(data)
}

func (s FileStore) Save(tok *oauth2.Token) error {
	data, err := encodeToken(tok)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return errors.Wrap(err, "creating token directory")
	}
	return errors.Wrap(renameio.WriteFile(s.Path, data, 0600, renameio.WithStaticPermissions(0600)), "saving token")
}

const keyringService = "mailkeep"

// OpenKeyring opens the system keyring, falling back to an encrypted
// file under fileDir where no system keyring exists.
func OpenKeyring(fileDir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(keyringService + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening keyring")
	}
	return ring, nil
}

// KeyringStore keeps the token in a keyring item.
type KeyringStore struct {
	Ring keyring.Keyring
	Key  string
}

func (s KeyringStore) Load() (*oauth2.Token, error) {
	item, err := s.Ring.Get(s.Key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, errors.Wrapf(ErrNoToken, "no keyring item %q", s.Key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading keyring item %q", s.Key)
	}
	return decodeToken(item.Data)
}

func (s KeyringStore) Save(tok *oauth2.Token) error {
	data, err := encodeToken(tok)
	if err != nil {
		return err
	}
	err = s.Ring.Set(keyring.Item{
		Key:         s.Key,
		Data:        data,
		Label:       "mailkeep Gmail token",
		Description: "OAuth 2.0 token",
	})
	return errors.Wrapf(err, "writing keyring item %q", s.Key)
}
