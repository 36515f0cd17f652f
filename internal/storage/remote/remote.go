// Package remote implements the storage contract against the sync API,
// speaking JSON over HTTP. It becomes the active backend when a sync
// account is signed in.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"parley/internal/storage"
)

const (
	apiPrefix      = "/api/v1"
	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response is read for the
	// message.
	maxErrorBody = 64 * 1024
)

// TokenSource supplies the bearer token for sync requests and refreshes it
// when the server rejects one.
type TokenSource interface {
	Token() (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Config configures a remote provider.
type Config struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	// OnLogout runs when a token refresh fails, meaning the session is
	// gone and the app should fall back to local storage.
	OnLogout func()
}

// Provider is the HTTP client for the sync backend.
type Provider struct {
	baseURL  string
	http     *http.Client
	tokens   TokenSource
	onLogout func()
}

var _ storage.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote: base url is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("remote: token source is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Provider{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     httpClient,
		tokens:   cfg.Tokens,
		onLogout: cfg.OnLogout,
	}, nil
}

// apiError is the server's error envelope: {"error":{"code","message"}}.
type apiError struct {
	Err struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do issues one API call, refreshing the session token once on a 401 and
// replaying the request. The decoded body lands in out when non-nil.
func (p *Provider) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	resp, err := p.send(ctx, method, path, payload)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if _, err := p.tokens.Refresh(ctx); err != nil {
			if p.onLogout != nil {
				p.onLogout()
			}
			return fmt.Errorf("%w: session refresh failed: %v", storage.ErrUnauthorized, err)
		}

		resp, err = p.send(ctx, method, path, payload)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func (p *Provider) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+apiPrefix+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	token, err := p.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("read sync token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync api: %w", err)
	}
	return resp, nil
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var envelope apiError
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Err.Message != "" {
		msg = envelope.Err.Message
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", storage.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", storage.ErrUnauthorized, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", storage.ErrValidation, msg)
	default:
		return fmt.Errorf("sync api: http %d: %s", resp.StatusCode, msg)
	}
}
