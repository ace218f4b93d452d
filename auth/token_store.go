package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"golang.org/x/oauth2"

	"dealerscan/models"
)

// TokenStore keeps one provider's OAuth token in a JSON file. It serves as
// the token source for API clients and as the auth status provider for
// publishing. Obtaining the first token happens outside this process.
type TokenStore struct {
	path string
	conf *oauth2.Config

	mu    sync.Mutex
	token *oauth2.Token
}

// NewTokenStore loads the token at path if it exists. conf may be nil for
// providers whose tokens cannot be refreshed.
func NewTokenStore(path string, conf *oauth2.Config) (*TokenStore, error) {
	s := &TokenStore{path: path, conf: conf}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", path, err)
	}
	if tok.AccessToken != "" {
		s.token = &tok
	}
	return s, nil
}

// IsAuthenticated reports whether a usable or refreshable token is held.
func (s *TokenStore) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usableLocked()
}

func (s *TokenStore) usableLocked() bool {
	if s.token == nil {
		return false
	}
	return s.token.Valid() || (s.conf != nil && s.token.RefreshToken != "")
}

// Token implements oauth2.TokenSource, refreshing through conf when the
// access token has expired.
func (s *TokenStore) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.usableLocked() {
		return nil, models.ErrNotAuthenticated
	}
	if s.token.Valid() {
		return s.token, nil
	}

	fresh, err := s.conf.TokenSource(context.Background(), s.token).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if err := s.saveLocked(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Set stores a newly obtained token.
func (s *TokenStore) Set(tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return errors.New("empty token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(tok)
}

// Invalidate drops the token after the provider rejected it.
func (s *TokenStore) Invalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// Client returns an HTTP client that authorizes requests with this store.
// base supplies timeouts and transport.
func (s *TokenStore) Client(base *http.Client) *http.Client {
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	c := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, s))
	if base != nil {
		c.Timeout = base.Timeout
	}
	return c
}

func (s *TokenStore) saveLocked(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	s.token = tok
	return nil
}
