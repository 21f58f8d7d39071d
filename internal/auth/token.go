// Package auth supplies refreshable bearer credentials for
// OAuth-protected backends. Its whole outward contract is the backend
// TokenProvider interface: "give me a currently-valid token" and "force a
// refresh".
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	appLog "calsync/internal/log"
)

const calendarScope = "https://www.googleapis.com/auth/calendar"

// Credentials holds the OAuth client credentials file content.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// tokenFile is the persisted token shape.
type tokenFile struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

// Store is a file-backed refreshable credential. Refreshed access tokens
// are written back so later runs reuse them.
type Store struct {
	config    *oauth2.Config
	tokenPath string

	mu    sync.Mutex
	token *oauth2.Token
}

// NewStore loads the credentials and token files. A missing token file is
// an error: the engine has no interactive authorization flow of its own.
func NewStore(credentialsPath, tokenPath string) (*Store, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("credentials file missing clientId or clientSecret")
	}

	token, err := loadToken(tokenPath)
	if err != nil {
		return nil, err
	}

	return &Store{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{calendarScope},
		},
		tokenPath: tokenPath,
		token:     token,
	}, nil
}

// Token returns a currently-valid access token, refreshing through the
// token source when the cached one expired.
func (s *Store) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh, err := s.config.TokenSource(ctx, s.token).Token()
	if err != nil {
		return "", fmt.Errorf("obtain token: %w", err)
	}
	s.persistIfChanged(fresh)
	return fresh.AccessToken, nil
}

// ForceRefresh discards the cached access token and obtains a new one via
// the refresh token.
func (s *Store) ForceRefresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := *s.token
	expired.AccessToken = ""
	expired.Expiry = time.Now().Add(-time.Hour)

	fresh, err := s.config.TokenSource(ctx, &expired).Token()
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	s.persistIfChanged(fresh)
	return fresh.AccessToken, nil
}

// persistIfChanged saves the token when the refresh produced a new access
// token. Save failures are logged, not fatal: the in-memory token is
// still valid.
func (s *Store) persistIfChanged(fresh *oauth2.Token) {
	if fresh.AccessToken == s.token.AccessToken {
		return
	}
	s.token = fresh
	if err := saveToken(s.tokenPath, fresh); err != nil {
		appLog.Error("auth: failed to persist refreshed token", err, "path", s.tokenPath)
	}
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var stored tokenFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		Expiry:       stored.Expiry,
	}, nil
}

func saveToken(path string, token *oauth2.Token) error {
	stored := tokenFile{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
