package ctfd

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/ctfer-io/ctfd-deploy/pkg/challenge"
	"github.com/ctfer-io/ctfd-deploy/pkg/errs"
)

// CreateChallenge creates one challenge and its flags. A refusal
// because the name is already taken is surfaced as errs.ErrDuplicate
// so event re-delivery stays a per-record condition rather than a
// handler crash.
func (c *Client) CreateChallenge(ctx context.Context, chall challenge.Challenge) error {
	if c.token == "" {
		return errors.New("no API token configured")
	}

	id, err := c.postChallenge(ctx, chall)
	if err != nil {
		return err
	}

	for _, flag := range chall.Flags {
		if err := c.postFlag(ctx, id, flag); err != nil {
			return errors.Wrapf(err, "attaching flag to challenge %q", chall.Name)
		}
	}
	return nil
}

func (c *Client) postChallenge(ctx context.Context, chall challenge.Challenge) (int, error) {
	res, err := c.postJSON(ctx, "/api/v1/challenges", chall)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	var payload struct {
		Success bool `json:"success"`
		Data    struct {
			ID int `json:"id"`
		} `json:"data"`
		Errors  map[string][]string `json:"errors"`
		Message string              `json:"message"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return 0, errors.Wrap(err, "decoding challenge response")
	}

	if res.StatusCode >= http.StatusBadRequest || !payload.Success {
		cause := errors.Errorf("application answered %d: %s", res.StatusCode, flatten(payload.Message, payload.Errors))
		if isDuplicate(payload.Message, payload.Errors) {
			return 0, &errs.ErrDuplicate{Name: chall.Name, Sub: cause}
		}
		return 0, cause
	}
	return payload.Data.ID, nil
}

func (c *Client) postFlag(ctx context.Context, challengeID int, flag string) error {
	res, err := c.postJSON(ctx, "/api/v1/flags", map[string]any{
		"challenge_id": challengeID,
		"content":      flag,
		"type":         "static",
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var payload struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return errors.Wrap(err, "decoding flag response")
	}
	if res.StatusCode >= http.StatusBadRequest || !payload.Success {
		return errors.Errorf("application answered %d: %s", res.StatusCode, payload.Message)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, v any) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.token)

	return c.do(req)
}

func isDuplicate(message string, fieldErrs map[string][]string) bool {
	if containsDuplicate(message) {
		return true
	}
	for _, msgs := range fieldErrs {
		for _, m := range msgs {
			if containsDuplicate(m) {
				return true
			}
		}
	}
	return false
}

func containsDuplicate(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "already exists") || strings.Contains(s, "duplicate")
}

func flatten(message string, fieldErrs map[string][]string) string {
	parts := []string{}
	if message != "" {
		parts = append(parts, message)
	}
	for field, msgs := range fieldErrs {
		parts = append(parts, field+": "+strings.Join(msgs, "; "))
	}
	if len(parts) == 0 {
		return "no detail"
	}
	return strings.Join(parts, ", ")
}
