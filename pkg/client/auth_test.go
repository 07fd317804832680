package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hypermusic-ai/dcn-go/pkg/client"
)

// stubSigner signs everything with a fixed marker and records what it saw.
type stubSigner struct {
	address string
	signed  []string
}

func (s *stubSigner) Address() string { return s.address }

func (s *stubSigner) SignMessage(message string) (string, error) {
	s.signed = append(s.signed, message)
	return "0xsigned", nil
}

func TestLogin(t *testing.T) {
	signer := &stubSigner{address: "0xABC"}
	var authReq client.AuthRequest

	mux := http.NewServeMux()
	handle(mux, "GET /nonce/0xABC", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"nonce": "hello"})
	})
	handle(mux, "POST /auth", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&authReq); err != nil {
			t.Errorf("decode auth request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	resp, err := c.Login(context.Background(), signer)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if len(signer.signed) != 1 || signer.signed[0] != "Login nonce: hello" {
		t.Fatalf("signed messages = %v", signer.signed)
	}
	want := client.AuthRequest{Address: "0xABC", Message: "Login nonce: hello", Signature: "0xsigned"}
	if authReq != want {
		t.Fatalf("auth request = %+v, want %+v", authReq, want)
	}
	if resp.AccessToken != "access-1" || resp.RefreshToken != "refresh-1" {
		t.Fatalf("tokens = %q / %q", resp.AccessToken, resp.RefreshToken)
	}
	if !c.Authenticated() {
		t.Fatal("client is not authenticated after login")
	}
	if c.AccessToken() != "access-1" || c.RefreshToken() != "refresh-1" {
		t.Fatalf("stored tokens = %q / %q", c.AccessToken(), c.RefreshToken())
	}
}

func TestLoginWithoutTokensFails(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, "GET /nonce/{address}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"nonce": "n"})
	})
	handle(mux, "POST /auth", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"detail": "accepted"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	_, err := c.Login(context.Background(), &stubSigner{address: "0xABC"})
	var aerr *client.AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
	if c.Authenticated() {
		t.Fatal("failed login left the client authenticated")
	}
}

func TestLoginMissingNonceFails(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, "GET /nonce/{address}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"detail": "no nonce here"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	_, err := c.Login(context.Background(), &stubSigner{address: "0xABC"})
	var perr *client.ProtocolError
	if !errors.As(err, &perr) || perr.Field != "nonce" {
		t.Fatalf("err = %v, want *ProtocolError for nonce", err)
	}
}

func TestRefresh(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, "POST /refresh", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer old-access" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Refresh-Token"); got != "old-refresh" {
			t.Errorf("X-Refresh-Token = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "new-access"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithTokens("old-access", "old-refresh"))
	resp, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if resp.AccessToken != "new-access" {
		t.Fatalf("access token = %q", resp.AccessToken)
	}
	if c.AccessToken() != "new-access" {
		t.Fatalf("stored access token = %q", c.AccessToken())
	}
	// The server sent no refresh token, so the stored one survives.
	if c.RefreshToken() != "old-refresh" {
		t.Fatalf("stored refresh token = %q", c.RefreshToken())
	}
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, "POST /refresh", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithTokens("old-access", "old-refresh"))
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if c.RefreshToken() != "new-refresh" {
		t.Fatalf("stored refresh token = %q", c.RefreshToken())
	}
}

func TestRejectedRefreshDoesNotRecurse(t *testing.T) {
	var refreshHits int
	mux := http.NewServeMux()
	handle(mux, "POST /refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshHits++
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithTokens("old-access", "bad-refresh"))
	_, err := c.Refresh(context.Background())
	var herr *client.HTTPError
	if !errors.As(err, &herr) || !herr.Unauthorized() {
		t.Fatalf("err = %v, want 401 *HTTPError", err)
	}
	if refreshHits != 1 {
		t.Fatalf("refresh hits = %d, want 1", refreshHits)
	}
}
