// Package oidc verifies bearer tokens issued by the municipal identity
// provider. It covers provider metadata discovery, structural token decoding,
// signature verification against the provider's published keys and the
// connector that ties the three together for a single request.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	dErrors "tunnus/pkg/domain-errors"
)

// Server identifies which OIDC server instance a connector talks to. The
// login flow and the GDPR API are registered as separate clients at the
// provider and may live on separate issuers.
type Server string

const (
	ServerAuth Server = "auth"
	ServerGDPR Server = "gdpr"
)

// ServerConfig holds the per-server client registration. ClientSecret is only
// needed when the provider signs tokens with an HMAC algorithm; Keycloak
// defaults to RS256 and leaves it empty.
type ServerConfig struct {
	BaseURI      string
	ClientID     string
	ClientSecret string
}

// Configured reports whether this server identity has a base URI set.
func (c ServerConfig) Configured() bool { return c.BaseURI != "" }

// ProviderMetadata is the discovered configuration of one OIDC server plus
// its parsed signing keys.
type ProviderMetadata struct {
	Issuer                string `json:"issuer"`
	JWKSURI               string `json:"jwks_uri"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`

	SigningKeys []SigningKey `json:"-"`
}

// Discovery fetches and caches provider metadata per server identity.
//
// The cache has no TTL: the provider's issuer and keys change rarely and a
// process restart is the documented refresh mechanism. Concurrent first
// fetches for the same server are collapsed with singleflight. Plain-HTTP
// base URIs are accepted so local development issuers work without a TLS
// frontend.
type Discovery struct {
	servers    map[Server]ServerConfig
	httpClient *http.Client

	group singleflight.Group
	mu    sync.RWMutex
	cache map[Server]*ProviderMetadata
}

// DiscoveryOption configures a Discovery instance.
type DiscoveryOption func(*Discovery)

// WithHTTPClient overrides the HTTP client used for metadata and JWKS
// fetches. Tests point this at an httptest server.
func WithHTTPClient(client *http.Client) DiscoveryOption {
	return func(d *Discovery) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// NewDiscovery builds a metadata fetcher for the configured servers. Fetches
// are bounded by a ten second timeout so a stalled provider cannot hang
// request handling.
func NewDiscovery(servers map[Server]ServerConfig, opts ...DiscoveryOption) *Discovery {
	d := &Discovery{
		servers:    servers,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      make(map[Server]*ProviderMetadata),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ServerConfig returns the client registration for a server identity.
func (d *Discovery) ServerConfig(server Server) (ServerConfig, error) {
	cfg, ok := d.servers[server]
	if !ok || !cfg.Configured() {
		return ServerConfig{}, dErrors.Newf(dErrors.CodeNotConfigured, "no base URI configured for %q server", server)
	}
	return cfg, nil
}

// Metadata returns the provider metadata for a server identity, fetching the
// discovery document and JWKS on first use.
func (d *Discovery) Metadata(ctx context.Context, server Server) (*ProviderMetadata, error) {
	d.mu.RLock()
	meta, ok := d.cache[server]
	d.mu.RUnlock()
	if ok {
		return meta, nil
	}

	cfg, err := d.ServerConfig(server)
	if err != nil {
		return nil, err
	}

	result, err, _ := d.group.Do(string(server), func() (any, error) {
		meta, err := d.fetch(ctx, cfg)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.cache[server] = meta
		d.mu.Unlock()
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*ProviderMetadata), nil
}

func (d *Discovery) fetch(ctx context.Context, cfg ServerConfig) (*ProviderMetadata, error) {
	wellKnown := strings.TrimSuffix(cfg.BaseURI, "/") + "/.well-known/openid-configuration"

	var meta ProviderMetadata
	if err := d.getJSON(ctx, wellKnown, &meta); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotConfigured, "discovery document fetch failed")
	}
	if meta.Issuer == "" || meta.JWKSURI == "" {
		return nil, dErrors.New(dErrors.CodeNotConfigured, "discovery document is missing issuer or jwks_uri")
	}

	var set jwkSet
	if err := d.getJSON(ctx, meta.JWKSURI, &set); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotConfigured, "jwks fetch failed")
	}
	meta.SigningKeys = set.signingKeys()

	return &meta, nil
}

func (d *Discovery) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", url, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
