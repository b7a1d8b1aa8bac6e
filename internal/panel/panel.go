// Package panel keeps the cloud session for one configured alarm panel:
// it performs the login sequence and refreshes the panel state on demand.
package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/daemonp/visonic2mqtt/internal/config"
	"github.com/daemonp/visonic2mqtt/internal/executor"
	"github.com/daemonp/visonic2mqtt/internal/log"
	"github.com/daemonp/visonic2mqtt/internal/metrics"
	"github.com/daemonp/visonic2mqtt/internal/visonic"
)

var (
	ErrNotLoggedIn = errors.New("panel login has not completed")
	ErrNoPartition = errors.New("status reported no partitions")
)

// Client is the subset of the Visonic cloud client the session needs.
type Client interface {
	Authenticate(ctx context.Context, email, password string) error
	GetPanels(ctx context.Context) ([]visonic.Panel, error)
	PanelLogin(ctx context.Context, panelID, code string) error
	GetPanelInfo(ctx context.Context) (visonic.PanelInfo, error)
	Connected(ctx context.Context) (bool, error)
	GetStatus(ctx context.Context) (visonic.Status, error)
	ArmHome(ctx context.Context) error
	ArmAway(ctx context.Context) error
	Disarm(ctx context.Context) error
}

// Dialer builds a client bound to host and the entry's correlation token.
type Dialer func(ctx context.Context, host, appID string) (Client, error)

// VisonicDialer dials the real cloud service.
func VisonicDialer(opts ...visonic.Option) Dialer {
	return func(ctx context.Context, host, appID string) (Client, error) {
		return visonic.Setup(ctx, host, appID, opts...)
	}
}

// Session is a point-in-time copy of the handler's state.
type Session struct {
	PanelID        string
	Connected      bool
	State          string
	Manufacturer   string
	Model          string
	CodelessArm    bool
	CodelessDisarm bool
	MasterCode     string
}

// UniqueID identifies the panel towards Home Assistant.
func (s Session) UniqueID() string {
	return fmt.Sprintf("%s %s (%s)", s.Manufacturer, s.Model, s.PanelID)
}

type Handler struct {
	entry config.EntryConfig
	dial  Dialer
	pool  *executor.Pool
	log   *log.Logger

	mu      sync.RWMutex
	client  Client
	session Session

	obsMu     sync.Mutex
	observers map[int]func()
	nextObs   int
}

func NewHandler(entry config.EntryConfig, dial Dialer, pool *executor.Pool, logger *log.Logger) *Handler {
	return &Handler{
		entry: entry,
		dial:  dial,
		pool:  pool,
		log:   logger,
		session: Session{
			PanelID:        entry.PanelID,
			CodelessArm:    true,
			CodelessDisarm: false,
		},
		observers: make(map[int]func()),
	}
}

func (h *Handler) EntryID() string {
	return h.entry.ID
}

func (h *Handler) Session() Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

func (h *Handler) UniqueID() string {
	return h.Session().UniqueID()
}

// Login runs the full login sequence. Nothing is kept unless every step
// succeeds.
func (h *Handler) Login(ctx context.Context) error {
	e := h.entry

	cli, err := executor.Call(ctx, h.pool, "setup", func() (Client, error) {
		return h.dial(ctx, e.Host, e.UUID)
	})
	if err != nil {
		return fmt.Errorf("failed to set up client for %s: %w", e.Host, err)
	}
	h.log.Info("Successfully initialised client id=%s", e.ID)

	if err := h.pool.Do(ctx, "authenticate", func() error {
		return cli.Authenticate(ctx, e.Email, e.Password)
	}); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	h.log.Info("Successfully authenticated id=%s", e.ID)

	panels, err := executor.Call(ctx, h.pool, "get_panels", func() ([]visonic.Panel, error) {
		return cli.GetPanels(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to list panels: %w", err)
	}
	if len(panels) > 0 {
		serials := make([]string, 0, len(panels))
		for _, p := range panels {
			serials = append(serials, p.Serial)
		}
		h.log.Info("Available panels=%v", serials)
	}

	h.log.Info("Attempt to log in to panel %s id=%s", e.PanelID, e.ID)
	if err := h.pool.Do(ctx, "panel_login", func() error {
		return cli.PanelLogin(ctx, e.PanelID, e.MasterCode)
	}); err != nil {
		return fmt.Errorf("failed to log in to panel %s: %w", e.PanelID, err)
	}

	info, err := executor.Call(ctx, h.pool, "get_panel_info", func() (visonic.PanelInfo, error) {
		return cli.GetPanelInfo(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to get panel info: %w", err)
	}

	h.mu.Lock()
	h.client = cli
	h.session.CodelessArm = e.CodelessArm
	h.session.CodelessDisarm = e.CodelessDisarm
	h.session.MasterCode = e.MasterCode
	h.session.Manufacturer = info.Manufacturer
	h.session.Model = info.Model
	h.session.Connected = true
	session := h.session
	h.mu.Unlock()

	metrics.Connected.WithLabelValues(e.ID).Set(1)
	h.log.Info("Login successful for %s id=%s", session.UniqueID(), e.ID)
	return nil
}

// Refresh polls the service once. Errors only mark the session
// disconnected; they are returned for logging by the caller. Observers are
// notified whatever the outcome.
func (h *Handler) Refresh(ctx context.Context) error {
	defer h.notify()

	h.log.Debug("Panel update for %s...", h.entry.PanelID)
	err := h.refresh(ctx)

	h.mu.Lock()
	if err != nil {
		h.session.Connected = false
	}
	session := h.session
	h.mu.Unlock()

	outcome := "connected"
	switch {
	case err != nil:
		outcome = "error"
	case !session.Connected:
		outcome = "disconnected"
	}
	metrics.Refreshes.WithLabelValues(h.entry.ID, outcome).Inc()
	metrics.Connected.WithLabelValues(h.entry.ID).Set(metrics.BoolToFloat(session.Connected))

	h.log.Panel("Panel %s reports state=%s connected=%t", session.PanelID, session.State, session.Connected)
	return err
}

func (h *Handler) refresh(ctx context.Context) error {
	h.mu.RLock()
	cli := h.client
	h.mu.RUnlock()
	if cli == nil {
		return ErrNotLoggedIn
	}

	connected, err := executor.Call(ctx, h.pool, "connected", func() (bool, error) {
		return cli.Connected(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to check connection: %w", err)
	}
	if !connected {
		h.mu.Lock()
		h.session.Connected = false
		h.mu.Unlock()
		return nil
	}

	status, err := executor.Call(ctx, h.pool, "get_status", func() (visonic.Status, error) {
		return cli.GetStatus(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	// Only the first partition is modelled.
	if len(status.Partitions) == 0 {
		return ErrNoPartition
	}

	h.mu.Lock()
	h.session.Connected = true
	h.session.State = status.Partitions[0].State
	h.mu.Unlock()
	return nil
}

// Execute runs fn against the logged-in client on the worker pool.
func (h *Handler) Execute(ctx context.Context, op string, fn func(Client) error) error {
	h.mu.RLock()
	cli := h.client
	h.mu.RUnlock()
	if cli == nil {
		return ErrNotLoggedIn
	}
	return h.pool.Do(ctx, op, func() error {
		return fn(cli)
	})
}

// Observe registers fn to run after every refresh. The returned func
// removes it again.
func (h *Handler) Observe(fn func()) func() {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()

	id := h.nextObs
	h.nextObs++
	h.observers[id] = fn

	return func() {
		h.obsMu.Lock()
		defer h.obsMu.Unlock()
		delete(h.observers, id)
	}
}

func (h *Handler) notify() {
	h.obsMu.Lock()
	fns := make([]func(), 0, len(h.observers))
	for _, fn := range h.observers {
		fns = append(fns, fn)
	}
	h.obsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
