// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nextdns is a minimal client for the NextDNS API, covering the
// log and profile endpoints the fetcher needs.
package nextdns

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"grimm.is/nsight/internal/errors"
	"grimm.is/nsight/internal/logging"
)

const DefaultBaseURL = "https://api.nextdns.io"

// Log is one entry from the NextDNS logs endpoint. The upstream schema has
// drifted over time, so fields cover both old and new spellings. Raw holds
// the entry's payload exactly as the API sent it.
type Log struct {
	Timestamp time.Time `json:"timestamp"`
	Domain    string    `json:"domain"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Blocked   bool      `json:"blocked"`
	Type      string    `json:"type"`
	QueryType string    `json:"query_type"`
	ClientIP  string    `json:"clientIp"`
	ClientIP2 string    `json:"client_ip"`
	Device    *Device   `json:"device"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the entry and keeps the verbatim payload in Raw.
func (l *Log) UnmarshalJSON(b []byte) error {
	type plain Log
	if err := json.Unmarshal(b, (*plain)(l)); err != nil {
		return err
	}
	l.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Device identifies the client device as reported by NextDNS.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsBlocked reports whether the query was blocked, tolerating the schema
// variants.
func (l *Log) IsBlocked() bool {
	return l.Blocked || l.Action == "blocked" || l.Status == "blocked"
}

// ResolvedAction returns the effective action string.
func (l *Log) ResolvedAction() string {
	switch {
	case l.Action != "":
		return l.Action
	case l.Status != "":
		return l.Status
	default:
		return "default"
	}
}

// ResolvedClientIP returns the client IP under either spelling.
func (l *Log) ResolvedClientIP() string {
	if l.ClientIP != "" {
		return l.ClientIP
	}
	return l.ClientIP2
}

// ResolvedQueryType returns the query type under either spelling, defaulting
// to A.
func (l *Log) ResolvedQueryType() string {
	switch {
	case l.Type != "":
		return l.Type
	case l.QueryType != "":
		return l.QueryType
	default:
		return "A"
	}
}

// Profile is the subset of profile metadata the dashboard shows.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client talks to the NextDNS API. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries uint
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a NextDNS API client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Logs fetches query logs for a profile. from is either a relative window
// like "-1h" or an RFC 3339 timestamp; to is usually "now". Transient
// failures are retried with exponential backoff; HTTP 4xx responses are not.
func (c *Client) Logs(ctx context.Context, profileID, from, to string) ([]Log, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	q.Set("raw", "false")
	endpoint := fmt.Sprintf("%s/profiles/%s/logs?%s", c.baseURL, url.PathEscape(profileID), q.Encode())

	attempt := 0
	logs, err := backoff.Retry(ctx, func() ([]Log, error) {
		attempt++
		if attempt > 1 {
			logging.Warn("retrying nextdns log fetch", "profile", profileID, "attempt", attempt)
		}
		var body struct {
			Data []Log `json:"data"`
		}
		if err := c.get(ctx, endpoint, &body); err != nil {
			return nil, err
		}
		return body.Data, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(c.maxRetries))
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// Profile fetches metadata for one profile.
func (c *Client) Profile(ctx context.Context, profileID string) (*Profile, error) {
	endpoint := fmt.Sprintf("%s/profiles/%s", c.baseURL, url.PathEscape(profileID))

	var body struct {
		Data Profile `json:"data"`
	}
	if err := c.get(ctx, endpoint, &body); err != nil {
		return nil, err
	}
	if body.Data.ID == "" {
		body.Data.ID = profileID
	}
	return &body.Data, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, errors.KindInternal, "failed to build nextdns request"))
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "nextdns request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Bad key or unknown profile will not heal with retries.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return backoff.Permanent(errors.Errorf(errors.KindUnavailable,
			"nextdns api returned %d: %s", resp.StatusCode, string(msg)))
	default:
		return errors.Errorf(errors.KindUnavailable, "nextdns api returned %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to decode nextdns response")
	}
	return nil
}
