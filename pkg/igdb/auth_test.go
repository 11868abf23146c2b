package igdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestStaticTokenProvider(t *testing.T) {
	p := NewStaticTokenProvider("my-token")

	token, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "my-token" {
		t.Errorf("token = %q, want %q", token, "my-token")
	}
}

func TestTwitchTokenProviderRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		q := r.URL.Query()
		if q.Get("client_id") != "cid" || q.Get("client_secret") != "secret" {
			t.Errorf("missing credentials in query: %s", r.URL.RawQuery)
		}
		if q.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", q.Get("grant_type"))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "fresh-token", "expires_in": 3600, "token_type": "bearer"}`))
	}))
	defer srv.Close()

	p := NewTwitchTokenProvider("cid", "secret", nil)
	p.SetTokenURL(srv.URL)

	token, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "fresh-token" {
		t.Errorf("token = %q, want fresh-token", token)
	}

	// Second call uses the cached token.
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("cached Token failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("token endpoint called %d times, want 1", calls.Load())
	}
}

func TestTwitchTokenProviderExpiredTokenRefreshes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		// expires_in below the refresh margin forces a refresh on every call
		w.Write([]byte(`{"access_token": "short-lived", "expires_in": 10}`))
	}))
	defer srv.Close()

	p := NewTwitchTokenProvider("cid", "secret", nil)
	p.SetTokenURL(srv.URL)

	for i := 0; i < 2; i++ {
		if _, err := p.Token(context.Background()); err != nil {
			t.Fatalf("Token call %d failed: %v", i, err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("token endpoint called %d times, want 2", calls.Load())
	}
}

func TestTwitchTokenProviderErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message": "invalid client secret"}`))
	}))
	defer srv.Close()

	p := NewTwitchTokenProvider("cid", "bad-secret", nil)
	p.SetTokenURL(srv.URL)

	_, err := p.Token(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Errorf("expected ErrAuth, got: %v", err)
	}
}
