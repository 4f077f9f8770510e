// Package profileapi fetches enrichment data from the provider's profile
// API. The OIDC callback does not always carry everything an authorization
// needs; the profile API exposes the verified personal information pulled
// from the population register.
package profileapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"tunnus/internal/verification"
)

var tracer = otel.Tracer("tunnus/profileapi")

const (
	umaGrantType  = "urn:ietf:params:oauth:grant-type:uma-ticket"
	umaPermission = "#access"

	maxResponseBytes = 1 << 20
)

// Config locates the provider endpoints.
type Config struct {
	// TokenURL is the authorization server's token endpoint used for the
	// UMA ticket exchange.
	TokenURL string
	// ProfileURL is the GraphQL endpoint of the profile API.
	ProfileURL string
	// Audience is the profile API's client ID, used as the exchange
	// audience and as the key of the issued token.
	Audience string
}

// Client exchanges a user's access token for a backend token and queries
// the profile API with it. Safe for concurrent use; issued backend tokens
// are not cached because they are scoped to one user's access token.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewClient(cfg Config, opts ...ClientOption) *Client {
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// profileQuery requests exactly the fields the metadata collector consumes.
const profileQuery = `{ myProfile {
	firstName
	lastName
	nickname
	primaryEmail { email verified }
	verifiedPersonalInformation {
		firstName
		givenName
		lastName
		nationalIdentificationNumber
		municipalityOfResidenceNumber
		permanentAddress { postalCode }
	}
} }`

// FetchProfile exchanges the user's access token for a backend token and
// returns the user's profile attributes.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*verification.ProfileAttributes, error) {
	ctx, span := tracer.Start(ctx, "profileapi.FetchProfile")
	defer span.End()

	backendToken, err := c.exchangeToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return c.queryProfile(ctx, backendToken)
}

// exchangeToken performs the UMA ticket exchange: the user's token grants
// the backend a token scoped to the profile API audience.
func (c *Client) exchangeToken(ctx context.Context, accessToken string) (string, error) {
	form := url.Values{
		"audience":   {c.cfg.Audience},
		"grant_type": {umaGrantType},
		"permission": {umaPermission},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange: unexpected status %d", resp.StatusCode)
	}

	var tokenData struct {
		AccessToken string `json:"access_token"`
	}
	if err := decodeBody(resp.Body, &tokenData); err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	if tokenData.AccessToken == "" {
		return "", fmt.Errorf("token exchange: response carries no access token")
	}
	return tokenData.AccessToken, nil
}

func (c *Client) queryProfile(ctx context.Context, backendToken string) (*verification.ProfileAttributes, error) {
	body, err := json.Marshal(map[string]string{"query": profileQuery})
	if err != nil {
		return nil, fmt.Errorf("encode profile query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ProfileURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+backendToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile query: unexpected status %d", resp.StatusCode)
	}

	var payload profileResponse
	if err := decodeBody(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("profile query: %w", err)
	}
	if len(payload.Errors) > 0 {
		messages := make([]string, 0, len(payload.Errors))
		for _, queryErr := range payload.Errors {
			messages = append(messages, queryErr.Message)
		}
		return nil, fmt.Errorf("profile query: %s", strings.Join(messages, ", "))
	}
	if payload.Data.MyProfile == nil {
		return nil, fmt.Errorf("profile query: empty profile information")
	}
	return payload.Data.MyProfile.attributes(), nil
}

type profileResponse struct {
	Data struct {
		MyProfile *myProfile `json:"myProfile"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type myProfile struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Nickname     string `json:"nickname"`
	PrimaryEmail *struct {
		Email    string `json:"email"`
		Verified bool   `json:"verified"`
	} `json:"primaryEmail"`
	VerifiedPersonalInformation *struct {
		FirstName                     string `json:"firstName"`
		GivenName                     string `json:"givenName"`
		LastName                      string `json:"lastName"`
		NationalIdentificationNumber  string `json:"nationalIdentificationNumber"`
		MunicipalityOfResidenceNumber string `json:"municipalityOfResidenceNumber"`
		PermanentAddress              *struct {
			PostalCode string `json:"postalCode"`
		} `json:"permanentAddress"`
	} `json:"verifiedPersonalInformation"`
}

func (p *myProfile) attributes() *verification.ProfileAttributes {
	attrs := &verification.ProfileAttributes{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Nickname:  p.Nickname,
	}
	if p.PrimaryEmail != nil {
		attrs.Email = p.PrimaryEmail.Email
		attrs.EmailVerified = p.PrimaryEmail.Verified
	}
	if vpi := p.VerifiedPersonalInformation; vpi != nil {
		attrs.Verified = &verification.VerifiedPersonalInformation{
			FirstName:    vpi.FirstName,
			GivenName:    vpi.GivenName,
			LastName:     vpi.LastName,
			NationalID:   vpi.NationalIdentificationNumber,
			Municipality: vpi.MunicipalityOfResidenceNumber,
		}
		if vpi.PermanentAddress != nil {
			attrs.Verified.PostalCode = vpi.PermanentAddress.PostalCode
		}
	}
	return attrs
}

func decodeBody(body io.Reader, out any) error {
	data, err := io.ReadAll(io.LimitReader(body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
