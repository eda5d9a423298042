package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestDefaultAppliesDownloadFloor(t *testing.T) {
	cfg := Default()
	if cfg.DownloadLimit != MinDownloadLimit {
		t.Fatalf("expected default download limit %d, got %d", MinDownloadLimit, cfg.DownloadLimit)
	}
}

func TestLoadClampsBelowFloor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dcore.conf")
	// JSON-with-comments, same as the teacher's tinode.conf idiom.
	content := `{
		// deliberately below the floor
		"download_limit": 1024,
		"addr": "self@example.com"
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DownloadLimit != MinDownloadLimit {
		t.Fatalf("expected clamp to %d, got %d", MinDownloadLimit, cfg.DownloadLimit)
	}
	if cfg.Addr != "self@example.com" {
		t.Fatalf("expected addr to round-trip, got %q", cfg.Addr)
	}
}

func TestLoadPreservesLimitAboveFloor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dcore.conf")
	content := `{"download_limit": 5242880}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DownloadLimit != 5242880 {
		t.Fatalf("expected 5242880 preserved, got %d", cfg.DownloadLimit)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestRefreshOAuth2TokenUsesConfiguredEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	cfg := Default()
	var err error
	cfg.OAuth2Config, err = json.Marshal(map[string]interface{}{
		"client_id":     "dcore-client",
		"client_secret": "dcore-secret",
		"auth_url":      srv.URL + "/auth",
		"token_url":     srv.URL + "/token",
	})
	if err != nil {
		t.Fatalf("marshal oauth2_config: %v", err)
	}

	// Expired so oauth2.Config.TokenSource actually hits the token
	// endpoint instead of reusing the stale access token.
	stale := &oauth2.Token{
		AccessToken:  "stale-access-token",
		RefreshToken: "refresh-token",
		Expiry:       time.Now().Add(-time.Hour),
	}

	fresh, err := cfg.RefreshOAuth2Token(context.Background(), stale)
	if err != nil {
		t.Fatalf("RefreshOAuth2Token: %v", err)
	}
	if fresh.AccessToken != "new-access-token" {
		t.Fatalf("expected refreshed access token, got %q", fresh.AccessToken)
	}
	if cfg.OAuth2Token == nil || cfg.OAuth2Token.AccessToken != "new-access-token" {
		t.Fatalf("expected Config.OAuth2Token to be updated, got %+v", cfg.OAuth2Token)
	}
}

func TestRefreshOAuth2TokenMissingConfig(t *testing.T) {
	cfg := Default()
	if _, err := cfg.RefreshOAuth2Token(context.Background(), &oauth2.Token{}); err == nil {
		t.Fatal("expected an error when no oauth2_config section is present")
	}
}
