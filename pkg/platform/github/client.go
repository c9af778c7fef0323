package github

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v60/github"
)

// Client wraps the GitHub API client with token authentication.
type Client struct {
	inner *gh.Client
	token string
}

// NewClient creates a GitHub API client with the given token.
func NewClient(token string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	httpClient := &http.Client{
		Transport: &tokenTransport{token: token},
	}
	client := gh.NewClient(httpClient)
	return &Client{inner: client, token: token}, nil
}

// NewClientWithBaseURL points the client at a GitHub Enterprise or test
// server. baseURL must end with a slash.
func NewClientWithBaseURL(token, baseURL string) (*Client, error) {
	c, err := NewClient(token)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("github base url: %w", err)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c.inner.BaseURL = u
	return c, nil
}

// tokenTransport adds Bearer token auth to HTTP requests.
type tokenTransport struct {
	token string
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(req)
}

// splitRepo parses "owner/name".
func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(strings.TrimSpace(repo), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected owner/name", repo)
	}
	return parts[0], parts[1], nil
}
