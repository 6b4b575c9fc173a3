package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"

	"github.com/themecloud/github-app-clone/pkg/apperror"
	"github.com/themecloud/github-app-clone/pkg/config"
	"github.com/themecloud/github-app-clone/pkg/token"
)

const publicAPIHost = "api.github.com"

// Client talks to the GitHub API as a GitHub App and as one of its
// installations
type Client struct {
	credential *Credential
	baseURL    *url.URL
	httpClient *http.Client
	logger     logr.Logger
	now        func() time.Time
}

// NewClient creates a new GitHub client with App authentication, falling back
// to an HTTP client with the default API timeout when httpClient is nil
func NewClient(cfg *config.GitHubConfig, httpClient *http.Client, logger logr.Logger) (*Client, error) {
	credential, err := LoadCredential(cfg)
	if err != nil {
		return nil, err
	}

	baseURL, err := parseBaseURL(cfg.APIURL)
	if err != nil {
		return nil, apperror.Wrapf(apperror.KindConfiguration, err, "invalid GitHub API URL %q", cfg.APIURL)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.DefaultAPITimeout}
	}

	return &Client{
		credential: credential,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		raw = config.DefaultAPIURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	return u, nil
}

// GitHost returns the host serving git traffic for the configured API
func (c *Client) GitHost() string {
	host := c.baseURL.Hostname()
	if host == publicAPIHost {
		return "github.com"
	}
	return host
}

// ValidateReference checks that a reference naming a host points at the
// configured GitHub instance
func (c *Client) ValidateReference(ref Reference) error {
	if ref.Host == "" || strings.EqualFold(ref.Host, c.GitHost()) {
		return nil
	}
	return apperror.Newf(apperror.KindInvalidRepositoryReference,
		"repository %s must be hosted on %s, got %s", ref, c.GitHost(), ref.Host)
}

// ListInstallations lists every installation of the App
func (c *Client) ListInstallations(ctx context.Context) ([]*github.Installation, error) {
	client, err := c.appClient()
	if err != nil {
		return nil, apperror.Wrap(apperror.KindAuthentication, err, "failed to create JWT")
	}

	var installations []*github.Installation
	opts := &github.ListOptions{PerPage: 100}
	for {
		page, resp, err := client.Apps.ListInstallations(ctx, opts)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindAuthentication, err, "failed to list app installations")
		}
		installations = append(installations, page...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.logger.V(1).Info("Listed app installations", "count", len(installations))

	return installations, nil
}

// MintInstallationToken creates an installation token, scoped to the given
// repository names when any are passed
func (c *Client) MintInstallationToken(ctx context.Context, installationID int64, repositories []string) (*token.Token, error) {
	client, err := c.appClient()
	if err != nil {
		return nil, apperror.Wrap(apperror.KindAuthentication, err, "failed to create JWT")
	}

	var opts *github.InstallationTokenOptions
	if len(repositories) > 0 {
		opts = &github.InstallationTokenOptions{Repositories: repositories}
	}

	installationToken, _, err := client.Apps.CreateInstallationToken(ctx, installationID, opts)
	if err != nil {
		return nil, apperror.Wrapf(apperror.KindAuthentication, err, "failed to create installation token for installation %d", installationID)
	}
	if installationToken.GetToken() == "" {
		return nil, apperror.Newf(apperror.KindAuthentication, "installation %d returned an empty token", installationID)
	}

	return token.New(installationToken.GetToken(), installationToken.GetExpiresAt().Time), nil
}

// RepositoryCloneURL looks up the canonical HTTPS clone URL of ref using an
// installation token
func (c *Client) RepositoryCloneURL(ctx context.Context, ts oauth2.TokenSource, ref Reference) (string, error) {
	client := c.installationClient(ts)

	repo, resp, err := client.Repositories.Get(ctx, ref.Owner, ref.Name)
	if err != nil {
		// The token source already classified its own failure
		if apperror.KindOf(err) != apperror.KindUnknown {
			return "", err
		}
		switch statusCode(resp) {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "", apperror.Wrapf(apperror.KindAuthentication, err, "not authorized to read repository %s", ref)
		default:
			return "", apperror.Wrapf(apperror.KindRepositoryNotFound, err, "failed to get repository %s", ref)
		}
	}

	cloneURL := repo.GetCloneURL()
	if cloneURL == "" {
		return "", apperror.Newf(apperror.KindRepositoryNotFound, "repository %s has no clone URL", ref)
	}

	return cloneURL, nil
}

func statusCode(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

// appClient returns a client authenticated with a fresh App JWT
func (c *Client) appClient() (*github.Client, error) {
	jwtToken, err := c.createJWT()
	if err != nil {
		return nil, err
	}

	client := github.NewClient(&http.Client{
		Transport: &jwtTransport{
			token: jwtToken,
			base:  c.httpClient.Transport,
		},
		Timeout: c.httpClient.Timeout,
	})
	client.BaseURL = c.baseURL

	return client, nil
}

// installationClient returns a client authenticated as the installation
func (c *Client) installationClient(ts oauth2.TokenSource) *github.Client {
	client := github.NewClient(&http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, ts),
			Base:   c.httpClient.Transport,
		},
		Timeout: c.httpClient.Timeout,
	})
	client.BaseURL = c.baseURL

	return client
}

// createJWT creates a JWT token for GitHub App authentication with iat
// backdated to tolerate clock drift against GitHub
func (c *Client) createJWT() (string, error) {
	now := c.now()
	unsigned := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iat": now.Add(-60 * time.Second).Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
		"iss": c.credential.AppID,
	})

	tokenString, err := unsigned.SignedString(c.credential.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return tokenString, nil
}

// jwtTransport implements http.RoundTripper for JWT authentication
type jwtTransport struct {
	token string
	base  http.RoundTripper
}

func (t *jwtTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
