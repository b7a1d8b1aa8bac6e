// Package visonic is a client for the Visonic alarm cloud REST API.
package visonic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	restVersion = "10.0"
	appType     = "com.visonic.PowerMaxApp"

	// How long a status fetched by Connected may stand in for GetStatus.
	statusReuse = 5 * time.Second
)

type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

type Client struct {
	http  *http.Client
	base  string
	appID string

	mu           sync.Mutex
	userToken    string
	sessionToken string
	lastStatus   *Status
	lastStatusAt time.Time
}

// Setup checks that host speaks the supported REST version and returns a
// client bound to it. appID identifies this installation to the service.
// host is a bare hostname, or a full URL when a scheme is given.
func Setup(ctx context.Context, host, appID string, opts ...Option) (*Client, error) {
	root := host
	if !strings.Contains(host, "://") {
		root = "https://" + host
	}
	root = strings.TrimSuffix(root, "/")

	c := &Client{
		http:  &http.Client{Timeout: 30 * time.Second},
		base:  root + "/rest_api/" + restVersion + "/",
		appID: appID,
	}
	for _, opt := range opts {
		opt(c)
	}

	var versions versionResponse
	if err := c.do(ctx, "version", http.MethodGet, root+"/rest_api/version", nil, &versions); err != nil {
		return nil, err
	}
	if !slices.Contains(versions.RestVersions, restVersion) {
		return nil, fmt.Errorf("%w: want %s, server offers %v", ErrUnsupportedVersion, restVersion, versions.RestVersions)
	}
	return c, nil
}

func (c *Client) Authenticate(ctx context.Context, email, password string) error {
	var resp authResponse
	if err := c.do(ctx, "auth", http.MethodPost, c.base+"auth", authRequest{
		Email:    email,
		Password: password,
		AppID:    c.appID,
	}, &resp); err != nil {
		return err
	}

	c.mu.Lock()
	c.userToken = resp.UserToken
	c.sessionToken = ""
	c.lastStatus = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) GetPanels(ctx context.Context) ([]Panel, error) {
	var panels []Panel
	if err := c.do(ctx, "panels", http.MethodGet, c.base+"panels", nil, &panels); err != nil {
		return nil, err
	}
	return panels, nil
}

func (c *Client) PanelLogin(ctx context.Context, panelID, code string) error {
	var resp panelLoginResponse
	if err := c.do(ctx, "panel_login", http.MethodPost, c.base+"panel/login", panelLoginRequest{
		UserCode:    code,
		AppType:     appType,
		AppID:       c.appID,
		PanelSerial: panelID,
	}, &resp); err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionToken = resp.SessionToken
	c.lastStatus = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) GetPanelInfo(ctx context.Context) (PanelInfo, error) {
	var info PanelInfo
	err := c.do(ctx, "panel_info", http.MethodGet, c.base+"panel_info", nil, &info)
	return info, err
}

// Connected reports whether the service currently has a link to the panel.
func (c *Client) Connected(ctx context.Context) (bool, error) {
	if !c.loggedIn() {
		return false, nil
	}
	status, err := c.fetchStatus(ctx)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.lastStatus = &status
	c.lastStatusAt = time.Now()
	c.mu.Unlock()
	return status.Connected, nil
}

// GetStatus returns the partition states. A status fetched by Connected
// just before is handed out once instead of asking the service again.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	c.mu.Lock()
	last, at := c.lastStatus, c.lastStatusAt
	c.lastStatus = nil
	c.mu.Unlock()
	if last != nil && time.Since(at) < statusReuse {
		return *last, nil
	}
	return c.fetchStatus(ctx)
}

func (c *Client) fetchStatus(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, "status", http.MethodGet, c.base+"status", nil, &status)
	return status, err
}

func (c *Client) ArmHome(ctx context.Context) error {
	return c.setState(ctx, StateHome)
}

func (c *Client) ArmAway(ctx context.Context) error {
	return c.setState(ctx, StateAway)
}

func (c *Client) Disarm(ctx context.Context) error {
	return c.setState(ctx, StateDisarm)
}

func (c *Client) setState(ctx context.Context, state string) error {
	if !c.loggedIn() {
		return fmt.Errorf("set_state %s: %w", state, ErrNotLoggedIn)
	}
	c.mu.Lock()
	c.lastStatus = nil
	c.mu.Unlock()
	return c.do(ctx, "set_state", http.MethodPost, c.base+"set_state", setStateRequest{
		Partition: AllPartitions,
		State:     state,
	}, nil)
}

func (c *Client) loggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken != ""
}

func (c *Client) do(ctx context.Context, op, method, url string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("visonic %s: failed to marshal request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("visonic %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.Lock()
	if c.userToken != "" {
		req.Header.Set("User-Token", c.userToken)
	}
	if c.sessionToken != "" {
		req.Header.Set("Session-Token", c.sessionToken)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("visonic %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("visonic %s: failed to read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}
		var e errorResponse
		if json.Unmarshal(data, &e) == nil {
			apiErr.Message = e.ErrorMessage
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("visonic %s: failed to decode response: %w", op, err)
	}
	return nil
}
