// Package config implements the persistent, string-keyed config surface of
// spec §6 (addr, show_emails, download_limit, ...) plus the file-loading
// idiom the teacher uses for its own startup config: read a JSON-with-
// comments file through github.com/tinode/jsonco exactly the way
// tinode-db/main.go (and the server's own config loader) reads
// tinode.conf, so ops can annotate a config file with // comments without
// a custom parser.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tinode/jsonco"
	"golang.org/x/oauth2"
)

// ShowEmails mirrors classify.ShowEmails; defined again here (not
// imported) so this package doesn't have to depend on classify just to
// describe its own config surface. The pipeline package is responsible for
// converting between the two where it wires classify.Config.
type ShowEmails int

const (
	ShowEmailsChatOnly ShowEmails = iota
	ShowEmailsAccepted
	ShowEmailsAll
)

// MinDownloadLimit is the "< ~160 KiB clamped up" floor of §6.
const MinDownloadLimit = 160 * 1024

// Config is the per-account persistent config surface of spec §6.
type Config struct {
	Addr            string `json:"addr"`
	ConfiguredAddr  string `json:"configured_addr"`
	DisplayName     string `json:"displayname"`
	SelfStatus      string `json:"selfstatus"`
	SelfAvatar      string `json:"selfavatar"`
	E2eeEnabled     bool   `json:"e2ee_enabled"`
	MdnsEnabled     bool   `json:"mdns_enabled"`
	BccSelf         bool   `json:"bcc_self"`
	ShowEmails      ShowEmails `json:"show_emails"`
	DeleteDeviceAfter int64  `json:"delete_device_after"` // seconds
	DeleteServerAfter int64  `json:"delete_server_after"`
	DownloadLimit   int64  `json:"download_limit"` // bytes
	Bot             bool   `json:"bot"`
	IsMuted         bool   `json:"is_muted"`
	SaveMimeHeaders bool   `json:"save_mime_headers"`
	SyncMsgs        bool   `json:"sync_msgs"`

	// StoreConfig, EventsConfig and OAuth2Config are opaque sub-configs
	// handed verbatim to the storage adapter, the events package's Init,
	// and this package's own oauth2Config(), mirroring the teacher's
	// tinode-db "store_config" / push "config" sub-document split so each
	// subsystem owns its own schema.
	StoreConfig  json.RawMessage `json:"store_config"`
	EventsConfig json.RawMessage `json:"events_config"`
	OAuth2Config json.RawMessage `json:"oauth2_config"`

	// OAuth2Token is the account's current access/refresh token pair, for
	// mail providers that gate IMAP/SMTP behind OAuth2 (§6): the core owns
	// refreshing it, the IMAP/SMTP collaborator only ever reads
	// AccessToken off of it.
	OAuth2Token *oauth2.Token `json:"oauth2_token,omitempty"`
}

// oauth2Param is the opaque oauth2_config sub-document's schema: the
// client credentials and endpoint for this account's mail provider.
type oauth2Param struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`
}

// oauth2Config decodes OAuth2Config into the golang.org/x/oauth2 Config this
// package refreshes tokens against.
func (c *Config) oauth2Config() (*oauth2.Config, error) {
	if len(c.OAuth2Config) == 0 {
		return nil, fmt.Errorf("config: no oauth2_config section present")
	}
	var p oauth2Param
	if err := json.Unmarshal(c.OAuth2Config, &p); err != nil {
		return nil, fmt.Errorf("config: parse oauth2_config: %w", err)
	}
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthURL,
			TokenURL: p.TokenURL,
		},
	}, nil
}

// RefreshOAuth2Token refreshes tok against the account's configured OAuth2
// provider, stores the result on OAuth2Token and returns it. The core never
// speaks IMAP/SMTP itself (§1 non-goals) — it only keeps the access token
// the transport collaborator presents current.
func (c *Config) RefreshOAuth2Token(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	oc, err := c.oauth2Config()
	if err != nil {
		return nil, err
	}
	fresh, err := oc.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, fmt.Errorf("config: refresh oauth2 token: %w", err)
	}
	c.OAuth2Token = fresh
	return fresh, nil
}

// Default returns the zero-value config with the §6-mandated floors
// applied.
func Default() *Config {
	return &Config{DownloadLimit: MinDownloadLimit}
}

// Load reads and parses a JSON-with-comments config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	dec := json.NewDecoder(jsonco.New(f))
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.clamp()
	return cfg, nil
}

// clamp enforces the §6 "< ~160 KiB clamped up" rule.
func (c *Config) clamp() {
	if c.DownloadLimit < MinDownloadLimit {
		c.DownloadLimit = MinDownloadLimit
	}
}
