package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/models"
	"parley/internal/storage"
)

type fakeTokens struct {
	token      string
	next       string
	refreshErr error
	refreshes  int
}

func (f *fakeTokens) Token() (string, error) { return f.token, nil }

func (f *fakeTokens) Refresh(ctx context.Context) (string, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.token = f.next
	return f.token, nil
}

func newTestProvider(t *testing.T, tokens TokenSource, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{BaseURL: srv.URL, Tokens: tokens, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return p
}

func TestRequestShapeAndDecode(t *testing.T) {
	tokens := &fakeTokens{token: "tok-1"}
	p := newTestProvider(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/chats/abc", r.URL.Path)
		json.NewEncoder(w).Encode(models.Chat{ID: "abc", Title: "hello"})
	})

	chat, err := p.GetChatByID(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "hello", chat.Title)
}

func TestListQueryParams(t *testing.T) {
	tokens := &fakeTokens{token: "tok"}
	p := newTestProvider(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "10", q.Get("offset"))
		assert.Equal(t, "proj-1", q.Get("projectId"))
		json.NewEncoder(w).Encode(storage.ChatPage{HasMore: true, Total: 42})
	})

	page, err := p.GetChats(context.Background(), storage.ListOptions{Limit: 5, Offset: 10, ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.EqualValues(t, 42, page.Total)
}

func TestRefreshesTokenOnceOn401(t *testing.T) {
	tokens := &fakeTokens{token: "stale", next: "fresh"}
	var calls int
	p := newTestProvider(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(models.Chat{ID: "abc"})
	})

	chat, err := p.GetChatByID(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", chat.ID)
	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, 2, calls)
}

func TestLogoutWhenRefreshFails(t *testing.T) {
	tokens := &fakeTokens{token: "stale", refreshErr: errors.New("revoked")}
	loggedOut := false

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p, err := New(Config{
		BaseURL:    srv.URL,
		Tokens:     tokens,
		HTTPClient: srv.Client(),
		OnLogout:   func() { loggedOut = true },
	})
	require.NoError(t, err)

	_, err = p.GetUser(context.Background())
	assert.ErrorIs(t, err, storage.ErrUnauthorized)
	assert.True(t, loggedOut)
	assert.Equal(t, 1, tokens.refreshes)
}

func TestErrorEnvelopeMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"not found", http.StatusNotFound, `{"error":{"code":"not_found","message":"no such chat"}}`, storage.ErrNotFound},
		{"validation", http.StatusUnprocessableEntity, `{"error":{"code":"invalid","message":"title too long"}}`, storage.ErrValidation},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"malformed"}}`, storage.ErrValidation},
		{"forbidden", http.StatusForbidden, `{"error":{"message":"nope"}}`, storage.ErrUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tokens := &fakeTokens{token: "tok"}
			p := newTestProvider(t, tokens, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})

			_, err := p.GetChatByID(context.Background(), "x")
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestServerErrorKeepsStatus(t *testing.T) {
	tokens := &fakeTokens{token: "tok"}
	p := newTestProvider(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})

	_, err := p.GetProjects(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestDeleteSendsNoBody(t *testing.T) {
	tokens := &fakeTokens{token: "tok"}
	p := newTestProvider(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, p.DeleteChat(context.Background(), "abc"))
}
