package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"gemini-bridge/internal/gemini"
)

// The Gemini CLI's public installed-application OAuth client. Installed-app
// secrets are not confidential; this is the same pair the CLI ships with.
const (
	oauthClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	oauthClientSecret = "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"
)

var oauthScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// ErrNotAuthenticated is returned by Token and ProjectID when no credential
// is live.
var ErrNotAuthenticated = errors.New("not authenticated: complete the login flow first")

// Method tags how the live credential was obtained.
type Method string

const MethodOAuthPersonal Method = "oauth-personal"

// State is the authenticated variant: a token source plus the resolved
// project id. The manager holds at most one live State and replaces it
// wholesale; readers always see an internally consistent snapshot.
type State struct {
	ProjectID string
	Method    Method
	tokens    oauth2.TokenSource
}

// Status is the read-only view exposed over HTTP.
type Status struct {
	Authenticated bool   `json:"authenticated"`
	ProjectID     string `json:"project_id,omitempty"`
	Method        string `json:"method,omitempty"`
}

// Options configures a Manager. Zero values select production defaults.
type Options struct {
	Store       Store
	ProjectHint string       // e.g. from GOOGLE_CLOUD_PROJECT
	Endpoint    string       // Code Assist endpoint override, for tests
	HTTPClient  *http.Client // used for token and bootstrap calls
	OAuth       *oauth2.Config
}

// Manager owns the authorization lifecycle. It is the sole mutator of the
// auth state; every transition computes the full next State before a single
// atomic swap.
type Manager struct {
	store       Store
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	endpoint    string
	projectHint string

	state atomic.Pointer[State]
}

// NewManager constructs a Manager in the Unauthenticated state.
func NewManager(opts Options) *Manager {
	if opts.Store == nil {
		opts.Store = NewStore(DefaultCredentialsFile())
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.OAuth == nil {
		opts.OAuth = &oauth2.Config{
			ClientID:     oauthClientID,
			ClientSecret: oauthClientSecret,
			Scopes:       oauthScopes,
			Endpoint:     google.Endpoint,
		}
	}
	return &Manager{
		store:       opts.Store,
		oauthConfig: opts.OAuth,
		httpClient:  opts.HTTPClient,
		endpoint:    opts.Endpoint,
		projectHint: opts.ProjectHint,
	}
}

// oauthContext routes oauth2 library HTTP traffic through our client.
func (m *Manager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// ResolveOptional attempts to restore a session from stored credentials.
// It never fails: every error path settles to Unauthenticated.
func (m *Manager) ResolveOptional(ctx context.Context) {
	creds, err := m.store.Load()
	if err != nil {
		if !errors.Is(err, ErrNoCredentials) {
			slog.Warn("could not load stored credentials", "error", err)
		}
		m.state.Store(nil)
		return
	}
	if creds.RefreshToken == "" {
		slog.Warn("stored credentials missing refresh token")
		m.state.Store(nil)
		return
	}

	ts := m.oauthConfig.TokenSource(m.oauthContext(context.Background()), &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    creds.TokenType,
		Expiry:       creds.Expiry(),
	})

	// Validate the refresh token by forcing a token fetch now.
	fresh, err := ts.Token()
	if err != nil {
		slog.Warn("stored refresh token is no longer valid", "error", err)
		m.state.Store(nil)
		return
	}

	project, err := gemini.ResolveProject(ctx, m.httpClient, m.endpoint, fresh.AccessToken, m.projectHint)
	if err != nil {
		slog.Warn("could not resolve project id", "error", err)
		m.state.Store(nil)
		return
	}

	m.persist(fresh, creds.Scope)
	m.state.Store(&State{ProjectID: project, Method: MethodOAuthPersonal, tokens: ts})
	slog.Info("restored authentication", "project", project)
}

// ExchangeCode trades an authorization code for tokens and transitions to
// Authenticated. Nothing is persisted until both the token exchange and the
// project resolution have succeeded.
func (m *Manager) ExchangeCode(ctx context.Context, code, redirectURI string) error {
	cfg := *m.oauthConfig
	cfg.RedirectURL = redirectURI

	tok, err := cfg.Exchange(m.oauthContext(ctx), code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return errors.New("token exchange returned no refresh token")
	}

	project, err := gemini.ResolveProject(ctx, m.httpClient, m.endpoint, tok.AccessToken, m.projectHint)
	if err != nil {
		return err
	}

	m.persist(tok, "")
	ts := cfg.TokenSource(m.oauthContext(context.Background()), tok)
	m.state.Store(&State{ProjectID: project, Method: MethodOAuthPersonal, tokens: ts})
	slog.Info("authenticated", "project", project)
	return nil
}

// Logout clears stored credentials and resets to Unauthenticated. Idempotent.
func (m *Manager) Logout() error {
	m.state.Store(nil)
	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("clear credential store: %w", err)
	}
	return nil
}

// Token returns a currently valid access token, refreshing through the
// token source when the cached one has expired.
func (m *Manager) Token(ctx context.Context) (string, error) {
	s := m.state.Load()
	if s == nil {
		return "", ErrNotAuthenticated
	}
	tok, err := s.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	return tok.AccessToken, nil
}

// ProjectID returns the resolved Code Assist project id.
func (m *Manager) ProjectID() (string, error) {
	s := m.state.Load()
	if s == nil {
		return "", ErrNotAuthenticated
	}
	return s.ProjectID, nil
}

// Status reports the current state for the status endpoint.
func (m *Manager) Status() Status {
	s := m.state.Load()
	if s == nil {
		return Status{}
	}
	return Status{Authenticated: true, ProjectID: s.ProjectID, Method: string(s.Method)}
}

// persist writes the token back to the store. scope is a fallback for token
// responses that omit the granted scopes, e.g. a cached (unrefreshed) token.
func (m *Manager) persist(tok *oauth2.Token, scope string) {
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		scope = s
	}
	creds := &Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        scope,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		creds.ExpiryDate = tok.Expiry.UnixMilli()
	}
	if err := m.store.Save(creds); err != nil {
		slog.Warn("could not persist credentials", "error", err)
	}
}
