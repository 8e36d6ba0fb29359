package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RoleView mirrors the admin API's role view.
type RoleView struct {
	Managers map[string]string `json:"managers"`
	Statuses map[string]string `json:"statuses"`
}

// HostState is the decoded GET /admin/state response.
type HostState struct {
	ID        string              `json:"id"`
	Assistant bool                `json:"assistant"`
	Lifecycle string              `json:"lifecycle"`
	Roles     map[string]RoleView `json:"roles"`
}

// MemberRow is one row of GET /admin/members.
type MemberRow struct {
	Role    string `json:"role"`
	ID      string `json:"id"`
	Manager string `json:"manager"`
	Status  string `json:"status"`
	Local   bool   `json:"local"`
}

// Client talks to one manager's admin API.
type Client struct {
	host string
	base string
	http *http.Client
}

// NewClient accepts host:port or a full base URL.
func NewClient(host string) *Client {
	base := host
	if u, err := url.Parse(host); err != nil || u.Scheme == "" || u.Host == "" {
		base = "http://" + host
	}
	return &Client{
		host: host,
		base: base,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Host() string {
	return c.host
}

func (c *Client) State(ctx context.Context) (HostState, error) {
	var state HostState
	err := c.do(ctx, http.MethodGet, "/admin/state", &state)
	return state, err
}

func (c *Client) Members(ctx context.Context, roles []string, local bool) ([]MemberRow, error) {
	q := url.Values{}
	for _, r := range roles {
		q.Add("role", r)
	}
	if local {
		q.Set("local", strconv.FormatBool(local))
	}
	path := "/admin/members"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var rows []MemberRow
	err := c.do(ctx, http.MethodGet, path, &rows)
	return rows, err
}

func (c *Client) Reset(ctx context.Context) (int, error) {
	var out map[string]int
	if err := c.do(ctx, http.MethodPost, "/admin/reset", &out); err != nil {
		return 0, err
	}
	return out["reset"], nil
}

func (c *Client) do(ctx context.Context, method, path string, data interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%s %s: invalid response: %w", method, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: %s (%d)", method, path, body.Error, resp.StatusCode)
	}
	return json.Unmarshal(body.Data, data)
}
