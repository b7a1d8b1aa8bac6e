// Package paneltest provides an in-memory panel.Client for tests.
package paneltest

import (
	"context"
	"sync"

	"github.com/daemonp/visonic2mqtt/internal/panel"
	"github.com/daemonp/visonic2mqtt/internal/visonic"
)

// Client records every call made to it. Set the *Err fields to make the
// matching call fail.
type Client struct {
	mu sync.Mutex

	Host  string
	AppID string

	Panels   []visonic.Panel
	Info     visonic.PanelInfo
	Status   visonic.Status
	IsOnline bool
	calls    []string
	Email    string
	Password string
	PanelID  string
	Code     string

	AuthErr       error
	PanelsErr     error
	PanelLoginErr error
	InfoErr       error
	ConnectedErr  error
	StatusErr     error
	CommandErr    error
}

// NewClient returns a connected fake for the Visonic PowerMaster-10 panel
// "12345", currently disarmed.
func NewClient() *Client {
	return &Client{
		Panels:   []visonic.Panel{{Serial: "12345", Alias: "Home"}},
		Info:     visonic.PanelInfo{Manufacturer: "Visonic", Model: "PowerMaster-10", Serial: "12345"},
		Status:   visonic.Status{Connected: true, Partitions: []visonic.Partition{{ID: -1, State: visonic.StateDisarm}}},
		IsOnline: true,
	}
}

// Dialer returns a panel.Dialer handing out c, or failing with err.
func (c *Client) Dialer(err error) panel.Dialer {
	return func(_ context.Context, host, appID string) (panel.Client, error) {
		c.record("setup")
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.Host = host
		c.AppID = appID
		c.mu.Unlock()
		return c, nil
	}
}

func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *Client) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func (c *Client) SetState(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Status.Partitions = []visonic.Partition{{ID: -1, State: state}}
}

func (c *Client) SetOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.IsOnline = online
}

// SetAuthErr changes AuthErr while the fake may be in use.
func (c *Client) SetAuthErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AuthErr = err
}

func (c *Client) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *Client) Authenticate(_ context.Context, email, password string) error {
	c.record("authenticate")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Email, c.Password = email, password
	return c.AuthErr
}

func (c *Client) GetPanels(context.Context) ([]visonic.Panel, error) {
	c.record("get_panels")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Panels, c.PanelsErr
}

func (c *Client) PanelLogin(_ context.Context, panelID, code string) error {
	c.record("panel_login")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PanelID, c.Code = panelID, code
	return c.PanelLoginErr
}

func (c *Client) GetPanelInfo(context.Context) (visonic.PanelInfo, error) {
	c.record("get_panel_info")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Info, c.InfoErr
}

func (c *Client) Connected(context.Context) (bool, error) {
	c.record("connected")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.IsOnline, c.ConnectedErr
}

func (c *Client) GetStatus(context.Context) (visonic.Status, error) {
	c.record("get_status")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Status, c.StatusErr
}

func (c *Client) ArmHome(context.Context) error {
	c.record("arm_home")
	return c.commandErr()
}

func (c *Client) ArmAway(context.Context) error {
	c.record("arm_away")
	return c.commandErr()
}

func (c *Client) Disarm(context.Context) error {
	c.record("disarm")
	return c.commandErr()
}

func (c *Client) commandErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CommandErr
}
