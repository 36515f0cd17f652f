package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// AuthService owns the sync session lifecycle: credentials live in the OS
// keyring, refresh goes through the sync API. It is the token source of
// the remote storage provider.
type AuthService struct {
	keyring *KeyringService
	baseURL string
	http    *http.Client

	mu sync.Mutex // serializes refreshes
}

func NewAuthService(keyring *KeyringService, baseURL string) *AuthService {
	return &AuthService{
		keyring: keyring,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// BaseURL returns the configured sync API root, "" when sync is not
// configured.
func (a *AuthService) BaseURL() string {
	return a.baseURL
}

// SignedIn reports whether sync is configured and a session token exists.
func (a *AuthService) SignedIn() bool {
	return a.baseURL != "" && a.keyring.HasSyncSession()
}

func (a *AuthService) SignIn(token, refreshToken string) error {
	if a.baseURL == "" {
		return fmt.Errorf("sync api url is not configured")
	}
	return a.keyring.StoreSyncSession(token, refreshToken)
}

func (a *AuthService) SignOut() error {
	return a.keyring.ClearSyncSession()
}

func (a *AuthService) Token() (string, error) {
	return a.keyring.SyncToken()
}

// Refresh exchanges the stored refresh token for a new session token and
// persists the rotated pair.
func (a *AuthService) Refresh(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	refresh, err := a.keyring.SyncRefreshToken()
	if err != nil {
		return "", fmt.Errorf("no refresh token: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"refreshToken": refresh})
	if err != nil {
		return "", fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/api/v1/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("refresh session: http %d", resp.StatusCode)
	}

	var session struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if session.Token == "" {
		return "", fmt.Errorf("refresh response carried no token")
	}

	if err := a.keyring.StoreSyncSession(session.Token, session.RefreshToken); err != nil {
		return "", fmt.Errorf("store refreshed session: %w", err)
	}
	return session.Token, nil
}
