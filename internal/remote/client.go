// Package remote implements the HTTP client for the content API. It is the
// request/response boundary of the core: callers see decoded payloads and
// two kinds of failure: authorization loss and everything else.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/inplacehq/inplace/internal/model"
)

// ErrUnauthorized reports a 401/403 from the API: the local credential is no
// longer usable and the session must end.
var ErrUnauthorized = errors.New("credential rejected by content API")

// StatusError is any other non-2xx response. Save failures carrying it leave
// local dirty state intact for retry.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("content API returned status %d", e.Code)
}

// Client talks to the content API for one application.
type Client struct {
	baseURL string
	appID   model.AppID
	http    *http.Client
	log     zerolog.Logger

	validate *validator.Validate

	// credential supplies the bearer key; returning false sends the request
	// unauthenticated.
	credential func() (string, bool)

	// onAuthorized runs after every successful authenticated call, giving
	// the session its rolling-expiry refresh.
	onAuthorized func()
}

func NewClient(baseURL string, appID model.AppID, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		appID:    appID,
		http:     &http.Client{Timeout: timeout},
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// SetCredentialSource installs the bearer key supplier.
func (c *Client) SetCredentialSource(fn func() (string, bool)) {
	c.credential = fn
}

// SetRefreshHook installs the post-success callback used to roll the
// credential's expiry forward.
func (c *Client) SetRefreshHook(fn func()) {
	c.onAuthorized = fn
}

// ListContent fetches every stored content entry for the application.
func (c *Client) ListContent(ctx context.Context) ([]model.ContentEntry, error) {
	body, err := c.do(ctx, http.MethodGet, c.contentURL(""), nil)
	if err != nil {
		return nil, err
	}

	var entries []model.ContentEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("error decoding content list: %w", err)
	}
	for i := range entries {
		if err := c.validate.Struct(&entries[i]); err != nil {
			return nil, fmt.Errorf("invalid content entry: %w", err)
		}
	}
	return entries, nil
}

// SaveContent writes one Key's serialized envelope.
func (c *Client) SaveContent(ctx context.Context, key model.Key, content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("error encoding save payload: %w", err)
	}
	_, err = c.do(ctx, http.MethodPut, c.contentURL(key), payload)
	return err
}

// DeleteContent removes one Key's stored content, used when a template
// instance is deleted.
func (c *Client) DeleteContent(ctx context.Context, key model.Key) error {
	_, err := c.do(ctx, http.MethodDelete, c.contentURL(key), nil)
	return err
}

// ValidateKey asks the API whether the current credential is still usable.
// A definite "no" is (false, nil); transport problems are errors.
func (c *Client) ValidateKey(ctx context.Context) (bool, error) {
	body, err := c.do(ctx, http.MethodGet, c.appURL("keys/@me"), nil)
	if errors.Is(err, ErrUnauthorized) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var info model.KeyInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return false, fmt.Errorf("error decoding key info: %w", err)
	}
	return info.Valid, nil
}

// GetMember fetches the current member and its role's permission set.
func (c *Client) GetMember(ctx context.Context) (*model.Member, error) {
	body, err := c.do(ctx, http.MethodGet, c.appURL("members/@me"), nil)
	if err != nil {
		return nil, err
	}

	var member model.Member
	if err := json.Unmarshal(body, &member); err != nil {
		return nil, fmt.Errorf("error decoding member: %w", err)
	}
	if err := c.validate.Struct(&member); err != nil {
		return nil, fmt.Errorf("invalid member payload: %w", err)
	}
	return &member, nil
}

func (c *Client) appURL(suffix string) string {
	return fmt.Sprintf("%s/apps/%s/%s", c.baseURL, url.PathEscape(string(c.appID)), suffix)
}

func (c *Client) contentURL(key model.Key) string {
	if key == "" {
		return c.appURL("content")
	}
	return c.appURL("content/" + url.PathEscape(string(key)))
}

func (c *Client) do(ctx context.Context, method, rawURL string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("error building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	authenticated := false
	if c.credential != nil {
		if key, ok := c.credential(); ok {
			req.Header.Set("Authorization", "Bearer "+key)
			authenticated = true
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error calling content API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.Warn().Int("status", resp.StatusCode).Str("url", rawURL).Msg("Credential rejected")
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Code: resp.StatusCode}
	}

	if authenticated && c.onAuthorized != nil {
		c.onAuthorized()
	}
	return data, nil
}
