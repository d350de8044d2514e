package ctfd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// CTFd embeds the CSRF nonce in every rendered page.
var nonceRe = regexp.MustCompile(`'csrfNonce':\s*"([0-9a-fA-F]+)"`)

// IssueToken logs in with the admin credentials and mints a named API
// token. It returns the token value, or an error when the response
// carries no usable value; callers decide whether that is fatal.
func (c *Client) IssueToken(ctx context.Context, name string) (string, error) {
	if c.adminEmail == "" || c.adminPassword == "" {
		return "", errors.New("admin credentials are not configured")
	}

	nonce, err := c.fetchNonce(ctx, "/login")
	if err != nil {
		return "", errors.Wrap(err, "fetching login nonce")
	}
	if err := c.login(ctx, nonce); err != nil {
		return "", errors.Wrap(err, "logging in as admin")
	}

	// The session regenerates its nonce on login, pick up a fresh one.
	nonce, err = c.fetchNonce(ctx, "/settings")
	if err != nil {
		return "", errors.Wrap(err, "fetching session nonce")
	}

	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return "", errors.Wrap(err, "marshalling token request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/v1/tokens"), bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "building token request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("CSRF-Token", nonce)

	res, err := c.do(req)
	if err != nil {
		return "", errors.Wrap(err, "requesting token")
	}
	defer res.Body.Close()

	var payload struct {
		Success bool `json:"success"`
		Data    struct {
			Value string `json:"value"`
		} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", errors.Wrap(err, "decoding token response")
	}
	if !payload.Success || payload.Data.Value == "" {
		return "", errors.Errorf("token response carries no usable value (status %d)", res.StatusCode)
	}
	return payload.Data.Value, nil
}

func (c *Client) fetchNonce(ctx context.Context, page string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(page), nil)
	if err != nil {
		return "", err
	}
	res, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	m := nonceRe.FindSubmatch(b)
	if m == nil {
		return "", errors.Errorf("no CSRF nonce on %s", page)
	}
	return string(m[1]), nil
}

func (c *Client) login(ctx context.Context, nonce string) error {
	form := url.Values{
		"name":     {c.adminEmail},
		"password": {c.adminPassword},
		"nonce":    {nonce},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/login"), bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("login answered %d", res.StatusCode)
	}
	return nil
}
