// Package ctfd is a minimal client for the slice of the CTFd HTTP API
// the deployment tooling needs: liveness, admin token issuance, and
// challenge creation.
package ctfd

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"
)

// Client talks to one CTFd instance. It is safe for use by a single
// goroutine; the sync handler builds one per invocation.
type Client struct {
	base *url.URL
	http *http.Client

	// breaker guards against hammering an application that is hard
	// down: transport-level failures open it, HTTP error statuses do
	// not.
	breaker *gobreaker.CircuitBreaker[*http.Response]

	adminEmail    string
	adminPassword string
	token         string
}

type Option func(*Client)

// WithAdminCredentials sets the default administrator identity used
// for session login during token issuance.
func WithAdminCredentials(email, password string) Option {
	return func(c *Client) {
		c.adminEmail = email
		c.adminPassword = password
	}
}

// WithToken sets the API token used as Authorization for content
// calls.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient overrides the underlying HTTP client. The cookie jar
// is still installed on it, as session login depends on it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing CTFd base URL")
	}

	c := &Client{
		base: base,
		http: &http.Client{Timeout: 15 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name: "ctfd-api",
		}),
	}
	for _, opt := range opts {
		opt(c)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "building cookie jar")
	}
	c.http.Jar = jar

	return c, nil
}

func (c *Client) url(p string) string {
	return c.base.String() + p
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	return c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
}

// Ping probes the application root. Any 2xx/3xx answer counts as
// ready: a fresh instance redirects to its setup page, which is still
// an application-level answer. 4xx means something in front of the
// application is misrouting, so it is not ready either.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/"), nil)
	if err != nil {
		return errors.Wrap(err, "building probe request")
	}
	res, err := c.do(req)
	if err != nil {
		return errors.Wrap(err, "probing application")
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("application answered %d", res.StatusCode)
	}
	return nil
}
