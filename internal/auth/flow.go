package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	DefaultLoginURL             = "login.salesforce.com"
	DefaultAuthorizationTimeout = 5 * time.Minute
	defaultProgressInterval     = 10 * time.Second
)

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{"api", "cdp_query_api", "cdp_profile_api"}

// Config holds the OAuth client registration used by Flow.
type Config struct {
	ClientID     string
	ClientSecret string
	LoginURL     string // authority host, with or without scheme
	RedirectURI  string
	Scopes       []string
	Timeout      time.Duration // how long to wait for the browser callback
}

// Grant is the outcome of one successful authorization.
type Grant struct {
	AccessToken string
	InstanceURL string
	Expiry      time.Time // zero when the provider gives no hint
	Identity    Identity
}

// Flow runs the interactive authorization-code + PKCE flow against the
// login host, using a local callback listener to receive the code.
type Flow struct {
	cfg              Config
	httpClient       *http.Client
	openURL          func(string) error
	progressInterval time.Duration
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(c *http.Client) FlowOption {
	return func(f *Flow) { f.httpClient = c }
}

// WithBrowser replaces the function that opens the authorization URL.
func WithBrowser(open func(authURL string) error) FlowOption {
	return func(f *Flow) { f.openURL = open }
}

// WithProgressInterval sets how often a waiting message is logged.
func WithProgressInterval(d time.Duration) FlowOption {
	return func(f *Flow) { f.progressInterval = d }
}

// NewFlow validates cfg and returns a Flow.
func NewFlow(cfg Config, opts ...FlowOption) (*Flow, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, &Error{Op: "configure", Err: ErrMissingCredentials}
	}
	if cfg.RedirectURI == "" {
		return nil, &Error{Op: "configure", Description: "redirect URI is required"}
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = DefaultLoginURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAuthorizationTimeout
	}

	f := &Flow{
		cfg:              cfg,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		openURL:          openBrowser,
		progressInterval: defaultProgressInterval,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Authorize sends the user through the browser login and exchanges the
// returned code for an access token. Every failure is an *Error.
func (f *Flow) Authorize(ctx context.Context) (*Grant, error) {
	pkce := NewPKCE()

	ln, err := listenCallback(f.cfg.RedirectURI)
	if err != nil {
		return nil, &Error{Op: "listen", Err: err}
	}
	defer ln.Close()

	oc := f.oauthConfig(ln.RedirectURI())
	state := uuid.NewString()
	authURL := oc.AuthCodeURL(state,
		oauth2.SetAuthURLParam("prompt", "login"),
		oauth2.S256ChallengeOption(pkce.Verifier),
	)

	slog.Info("opening browser for authorization", "redirect_uri", ln.RedirectURI())
	if err := f.openURL(authURL); err != nil {
		slog.Warn("could not open browser, open this URL manually", "url", authURL, "error", err)
	}

	params, err := f.waitForCallback(ctx, ln)
	if err != nil {
		return nil, err
	}

	code := params.Get("code")
	if code == "" {
		desc := params.Get("error_description")
		if desc == "" {
			desc = "no authorization code received"
		}
		return nil, &Error{Op: "authorize", Code: params.Get("error"), Description: desc}
	}
	if params.Get("state") != state {
		return nil, &Error{Op: "authorize", Description: "state mismatch"}
	}

	return f.exchange(ctx, oc, code, pkce.Verifier)
}

func (f *Flow) exchange(ctx context.Context, oc *oauth2.Config, code, verifier string) (*Grant, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)

	tok, err := oc.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		if re, ok := errors.AsType[*oauth2.RetrieveError](err); ok {
			e := &Error{
				Op:          "exchange",
				Body:        string(re.Body),
				Code:        re.ErrorCode,
				Description: re.ErrorDescription,
			}
			if re.Response != nil {
				e.Status = re.Response.StatusCode
			}
			return nil, e
		}
		return nil, &Error{Op: "exchange", Err: err}
	}

	instanceURL, _ := tok.Extra("instance_url").(string)
	if instanceURL == "" {
		return nil, &Error{Op: "exchange", Description: "token response missing instance_url"}
	}

	identity := identityFromToken(tok)
	slog.Info("authorization succeeded", "instance_url", instanceURL, "user", identity.String())

	return &Grant{
		AccessToken: tok.AccessToken,
		InstanceURL: strings.TrimRight(instanceURL, "/"),
		Expiry:      tok.Expiry,
		Identity:    identity,
	}, nil
}

func (f *Flow) waitForCallback(ctx context.Context, ln *callbackListener) (url.Values, error) {
	timer := time.NewTimer(f.cfg.Timeout)
	defer timer.Stop()
	ticker := time.NewTicker(f.progressInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case params := <-ln.Results():
			return params, nil
		case err := <-ln.Errors():
			return nil, &Error{Op: "listen", Err: err}
		case <-ticker.C:
			slog.Info("still waiting for authorization", "elapsed", time.Since(start).Round(time.Second))
		case <-timer.C:
			return nil, &Error{Op: "authorize", Err: ErrAuthorizationTimeout}
		case <-ctx.Done():
			return nil, &Error{Op: "authorize", Err: ctx.Err()}
		}
	}
}

func (f *Flow) oauthConfig(redirectURI string) *oauth2.Config {
	base := loginBase(f.cfg.LoginURL)
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       f.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/services/oauth2/authorize",
			TokenURL:  base + "/services/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// loginBase returns the login authority as an absolute URL without a
// trailing slash. Bare hosts get https://.
func loginBase(login string) string {
	login = strings.TrimRight(strings.TrimSpace(login), "/")
	if !strings.Contains(login, "://") {
		login = "https://" + login
	}
	return login
}
