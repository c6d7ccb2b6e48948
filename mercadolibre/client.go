package mercadolibre

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-marketplace/core"
)

const (
	defaultRequestTimeout    = 30 * time.Second
	maxResponseBodyBytes     = 1 << 20
	authorizationPath        = "/authorization"
	tokenPath                = "/oauth/token"
	identityPath             = "/users/me"
	revokeApplicationPathFmt = "/users/%s/applications/%s"
)

// HTTPDoer is the minimal HTTP client surface; *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	ClientID     string
	ClientSecret string
	// APIBaseURL overrides the production API host, used by tests.
	APIBaseURL     string
	HTTPClient     HTTPDoer
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Client talks to the marketplace's OAuth and identity endpoints. It holds
// no token state; callers pass the material each call needs.
type Client struct {
	config Config
	sites  core.SiteDirectory
	http   HTTPDoer
	now    func() time.Time
}

func NewClient(config Config) (*Client, error) {
	if strings.TrimSpace(config.ClientID) == "" {
		return nil, errors.New("mercadolibre: client id is required")
	}
	if strings.TrimSpace(config.ClientSecret) == "" {
		return nil, errors.New("mercadolibre: client secret is required")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		config: config,
		sites:  Sites(),
		http:   httpClient,
		now:    now,
	}, nil
}

var _ core.MarketplaceClient = (*Client)(nil)

// AuthorizationURL builds the seller-facing consent URL on the site's auth
// domain, carrying the state and PKCE challenge.
func (c *Client) AuthorizationURL(req core.AuthorizationURLRequest) (string, error) {
	if c == nil {
		return "", errors.New("mercadolibre: client is nil")
	}
	site, ok := c.sites.Get(req.SiteID)
	if !ok {
		return "", fmt.Errorf("mercadolibre: unknown site %q", req.SiteID)
	}
	if strings.TrimSpace(req.State) == "" {
		return "", errors.New("mercadolibre: oauth state is required")
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", c.config.ClientID)
	values.Set("state", req.State)
	if req.RedirectURI != "" {
		values.Set("redirect_uri", req.RedirectURI)
	}
	if req.CodeChallenge != "" {
		values.Set("code_challenge", req.CodeChallenge)
		method := req.CodeChallengeMethod
		if method == "" {
			method = core.PKCEMethodS256
		}
		values.Set("code_challenge_method", method)
	}
	if len(req.Scopes) > 0 {
		values.Set("scope", strings.Join(req.Scopes, " "))
	}
	return site.AuthDomain + authorizationPath + "?" + values.Encode(), nil
}

// ExchangeCode trades an authorization code plus PKCE verifier for tokens.
func (c *Client) ExchangeCode(ctx context.Context, req core.ExchangeCodeRequest) (core.TokenGrant, error) {
	if c == nil {
		return core.TokenGrant{}, errors.New("mercadolibre: client is nil")
	}
	if strings.TrimSpace(req.Code) == "" {
		return core.TokenGrant{}, errors.New("mercadolibre: authorization code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", c.config.ClientSecret)
	form.Set("code", req.Code)
	if req.RedirectURI != "" {
		form.Set("redirect_uri", req.RedirectURI)
	}
	if req.CodeVerifier != "" {
		form.Set("code_verifier", req.CodeVerifier)
	}
	return c.fetchToken(ctx, form)
}

// RefreshToken exchanges a refresh token for a fresh grant. The provider
// rotates refresh tokens; the response carries the replacement.
func (c *Client) RefreshToken(ctx context.Context, siteID, refreshToken string) (core.TokenGrant, error) {
	if c == nil {
		return core.TokenGrant{}, errors.New("mercadolibre: client is nil")
	}
	if strings.TrimSpace(refreshToken) == "" {
		return core.TokenGrant{}, errors.New("mercadolibre: refresh token is required")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", c.config.ClientSecret)
	form.Set("refresh_token", refreshToken)
	return c.fetchToken(ctx, form)
}

// FetchIdentity resolves the authenticated user behind an access token.
func (c *Client) FetchIdentity(ctx context.Context, accessToken string) (core.Identity, error) {
	if c == nil {
		return core.Identity{}, errors.New("mercadolibre: client is nil")
	}
	if strings.TrimSpace(accessToken) == "" {
		return core.Identity{}, errors.New("mercadolibre: access token is required")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL()+identityPath, nil)
	if err != nil {
		return core.Identity{}, fmt.Errorf("mercadolibre: build identity request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Authorization", "Bearer "+accessToken)

	body, _, err := c.do(ctx, request)
	if err != nil {
		return core.Identity{}, err
	}

	var payload struct {
		ID       json.Number `json:"id"`
		Nickname string      `json:"nickname"`
		Email    string      `json:"email"`
		SiteID   string      `json:"site_id"`
		UserType string      `json:"user_type"`
		Tags     []string    `json:"tags"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.Identity{}, fmt.Errorf("mercadolibre: decode identity response: %w", err)
	}

	return core.Identity{
		UserID:      payload.ID.String(),
		Nickname:    payload.Nickname,
		Email:       payload.Email,
		SiteID:      strings.ToUpper(strings.TrimSpace(payload.SiteID)),
		AccountType: resolveAccountType(payload.UserType, payload.Tags),
	}, nil
}

// RevokeToken drops the application grant for a user. A grant that is
// already gone reads as success.
func (c *Client) RevokeToken(ctx context.Context, req core.RevokeTokenRequest) error {
	if c == nil {
		return errors.New("mercadolibre: client is nil")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return errors.New("mercadolibre: user id is required")
	}

	path := fmt.Sprintf(revokeApplicationPathFmt, url.PathEscape(req.UserID), url.PathEscape(c.config.ClientID))
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.apiBaseURL()+path, nil)
	if err != nil {
		return fmt.Errorf("mercadolibre: build revoke request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if req.AccessToken != "" {
		request.Header.Set("Authorization", "Bearer "+req.AccessToken)
	}

	_, status, err := c.do(ctx, request)
	if err != nil {
		if status == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) fetchToken(ctx context.Context, form url.Values) (core.TokenGrant, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBaseURL()+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return core.TokenGrant{}, fmt.Errorf("mercadolibre: build token request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")

	body, _, err := c.do(ctx, request)
	if err != nil {
		return core.TokenGrant{}, err
	}

	var payload struct {
		AccessToken  string      `json:"access_token"`
		TokenType    string      `json:"token_type"`
		ExpiresIn    int64       `json:"expires_in"`
		Scope        string      `json:"scope"`
		UserID       json.Number `json:"user_id"`
		RefreshToken string      `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.TokenGrant{}, fmt.Errorf("mercadolibre: decode token response: %w", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.TokenGrant{}, errors.New("mercadolibre: token response has no access token")
	}

	grant := core.TokenGrant{
		TokenType:    normalizeTokenType(payload.TokenType),
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		Scopes:       parseScopeList(payload.Scope),
		UserID:       payload.UserID.String(),
	}
	if payload.ExpiresIn > 0 {
		expiresAt := c.now().UTC().Add(time.Duration(payload.ExpiresIn) * time.Second)
		grant.ExpiresAt = &expiresAt
	}
	return grant, nil
}

// do executes the request with a bounded timeout and body limit; non-2xx
// responses come back as classified errors.
func (c *Client) do(ctx context.Context, request *http.Request) ([]byte, int, error) {
	timeout := c.config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	request = request.WithContext(ctx)

	response, err := c.http.Do(request)
	if err != nil {
		return nil, 0, fmt.Errorf("mercadolibre: request failed: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes+1))
	if err != nil {
		return nil, response.StatusCode, fmt.Errorf("mercadolibre: read response body: %w", err)
	}
	if len(body) > maxResponseBodyBytes {
		return nil, response.StatusCode, errors.New("mercadolibre: response body exceeds limit")
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, response.StatusCode, core.ClassifyMarketplaceError(core.MarketplaceResponse{
			StatusCode: response.StatusCode,
			Headers:    flattenHeader(response.Header),
			Body:       body,
		})
	}
	return body, response.StatusCode, nil
}

func (c *Client) apiBaseURL() string {
	if base := strings.TrimSpace(c.config.APIBaseURL); base != "" {
		return strings.TrimRight(base, "/")
	}
	return APIBaseURL
}

func resolveAccountType(userType string, tags []string) string {
	lowered := strings.ToLower(strings.TrimSpace(userType))
	if lowered == "operator" || lowered == "collaborator" {
		return core.AccountTypeCollaborator
	}
	for _, tag := range tags {
		if strings.EqualFold(strings.TrimSpace(tag), "operator") {
			return core.AccountTypeCollaborator
		}
	}
	return core.AccountTypeManager
}

func normalizeTokenType(tokenType string) string {
	tokenType = strings.TrimSpace(tokenType)
	if tokenType == "" {
		return "Bearer"
	}
	if strings.EqualFold(tokenType, "bearer") {
		return "Bearer"
	}
	return tokenType
}

func parseScopeList(scope string) []string {
	fields := strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
	scopes := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	if len(scopes) == 0 {
		return nil
	}
	return scopes
}

func flattenHeader(header http.Header) map[string]string {
	flattened := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) > 0 {
			flattened[name] = values[0]
		}
	}
	return flattened
}
