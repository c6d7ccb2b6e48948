package mercadolibre

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-marketplace/core"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		ClientID:     "app-123",
		ClientSecret: "secret-456",
		APIBaseURL:   server.URL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(Config{ClientSecret: "s"}); err == nil {
		t.Fatal("expected an error without a client id")
	}
	if _, err := NewClient(Config{ClientID: "c"}); err == nil {
		t.Fatal("expected an error without a client secret")
	}
}

func TestAuthorizationURL(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())

	raw, err := client.AuthorizationURL(core.AuthorizationURLRequest{
		SiteID:              "mla",
		State:               "state-1",
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       "challenge-abc",
		CodeChallengeMethod: core.PKCEMethodS256,
		Scopes:              []string{"offline_access", "read"},
	})
	if err != nil {
		t.Fatalf("AuthorizationURL: %v", err)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if parsed.Host != "auth.mercadolibre.com.ar" {
		t.Fatalf("expected the Argentine auth domain, got %q", parsed.Host)
	}
	query := parsed.Query()
	for key, want := range map[string]string{
		"response_type":         "code",
		"client_id":             "app-123",
		"state":                 "state-1",
		"redirect_uri":          "https://app.example.com/callback",
		"code_challenge":        "challenge-abc",
		"code_challenge_method": core.PKCEMethodS256,
		"scope":                 "offline_access read",
	} {
		if got := query.Get(key); got != want {
			t.Fatalf("query %q: expected %q, got %q", key, want, got)
		}
	}
}

func TestAuthorizationURLUnknownSite(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())
	if _, err := client.AuthorizationURL(core.AuthorizationURLRequest{SiteID: "XXX", State: "s"}); err == nil {
		t.Fatal("expected an unknown site error")
	}
}

func TestExchangeCodeSendsVerifier(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tokenPath {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"access_token": "APP_USR-abc",
			"token_type": "bearer",
			"expires_in": 21600,
			"scope": "offline_access read",
			"user_id": 1001,
			"refresh_token": "TG-def"
		}`))
	}))

	grant, err := client.ExchangeCode(context.Background(), core.ExchangeCodeRequest{
		SiteID:       "MLA",
		Code:         "auth-code",
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: "verifier-xyz",
	})
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}

	for key, want := range map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     "app-123",
		"client_secret": "secret-456",
		"code":          "auth-code",
		"redirect_uri":  "https://app.example.com/callback",
		"code_verifier": "verifier-xyz",
	} {
		if got := form.Get(key); got != want {
			t.Fatalf("form %q: expected %q, got %q", key, want, got)
		}
	}

	if grant.AccessToken != "APP_USR-abc" || grant.RefreshToken != "TG-def" {
		t.Fatalf("unexpected grant: %+v", grant)
	}
	if grant.TokenType != "Bearer" {
		t.Fatalf("expected normalized Bearer, got %q", grant.TokenType)
	}
	if grant.UserID != "1001" {
		t.Fatalf("expected user id 1001, got %q", grant.UserID)
	}
	if len(grant.Scopes) != 2 || grant.Scopes[0] != "offline_access" {
		t.Fatalf("unexpected scopes: %v", grant.Scopes)
	}
	if grant.ExpiresAt == nil {
		t.Fatal("expected an expiry from expires_in")
	}
	if until := time.Until(*grant.ExpiresAt); until < 5*time.Hour || until > 7*time.Hour {
		t.Fatalf("expected roughly a 6h expiry, got %v", until)
	}
}

func TestRefreshTokenGrantType(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"APP_USR-new","refresh_token":"TG-new","expires_in":21600}`))
	}))

	grant, err := client.RefreshToken(context.Background(), "MLA", "TG-old")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if form.Get("grant_type") != "refresh_token" {
		t.Fatalf("expected refresh_token grant, got %q", form.Get("grant_type"))
	}
	if form.Get("refresh_token") != "TG-old" {
		t.Fatalf("expected the old refresh token sent, got %q", form.Get("refresh_token"))
	}
	if grant.RefreshToken != "TG-new" {
		t.Fatalf("expected the rotated refresh token, got %q", grant.RefreshToken)
	}
}

func TestFetchIdentityOperatorTag(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != identityPath {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer APP_USR-abc" {
			t.Fatalf("expected bearer auth, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":2002,"nickname":"OPERATOR1","site_id":"mla","tags":["operator"]}`))
	}))

	identity, err := client.FetchIdentity(context.Background(), "APP_USR-abc")
	if err != nil {
		t.Fatalf("FetchIdentity: %v", err)
	}
	if identity.UserID != "2002" {
		t.Fatalf("expected user id 2002, got %q", identity.UserID)
	}
	if identity.SiteID != "MLA" {
		t.Fatalf("expected site normalized to MLA, got %q", identity.SiteID)
	}
	if identity.AccountType != core.AccountTypeCollaborator {
		t.Fatalf("operator tags must map to collaborator, got %q", identity.AccountType)
	}
}

func TestFetchIdentityManagerAccount(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1001,"nickname":"SELLER","site_id":"MLB","user_type":"normal"}`))
	}))

	identity, err := client.FetchIdentity(context.Background(), "APP_USR-abc")
	if err != nil {
		t.Fatalf("FetchIdentity: %v", err)
	}
	if identity.AccountType != core.AccountTypeManager {
		t.Fatalf("expected manager, got %q", identity.AccountType)
	}
}

func TestRevokeTokenMissingGrantIsSuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("expected DELETE, got %s", r.Method)
		}
		if !strings.HasPrefix(r.URL.Path, "/users/1001/applications/") {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		http.NotFound(w, r)
	}))

	err := client.RevokeToken(context.Background(), core.RevokeTokenRequest{
		SiteID:      "MLA",
		UserID:      "1001",
		AccessToken: "APP_USR-abc",
	})
	if err != nil {
		t.Fatalf("a missing grant must read as success, got %v", err)
	}
}

func TestTokenErrorsAreClassified(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","message":"the authorization code is invalid"}`))
	}))

	_, err := client.ExchangeCode(context.Background(), core.ExchangeCodeRequest{SiteID: "MLA", Code: "bad"})
	if err == nil {
		t.Fatal("expected a classified error")
	}
	var typed *goerrors.Error
	if !goerrors.As(err, &typed) {
		t.Fatalf("expected a structured error, got %T", err)
	}
	if typed.TextCode != core.ServiceErrorTokenExpired {
		t.Fatalf("expected %q, got %q", core.ServiceErrorTokenExpired, typed.TextCode)
	}
}

func TestTokenResponseWithoutAccessToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	if _, err := client.RefreshToken(context.Background(), "MLA", "TG-old"); err == nil {
		t.Fatal("expected an error for an empty token response")
	}
}
