// Package alarm exposes a panel session as a single alarm control entity.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/daemonp/visonic2mqtt/internal/log"
	"github.com/daemonp/visonic2mqtt/internal/metrics"
	"github.com/daemonp/visonic2mqtt/internal/panel"
)

const defaultManufacturer = "Visonic"

var (
	ErrUnavailable  = errors.New("integration not connected to panel")
	ErrNotSupported = errors.New("not supported")
	ErrInvalidCode  = errors.New("invalid code")
)

// Session is what the entity needs from panel.Handler.
type Session interface {
	EntryID() string
	Session() panel.Session
	Execute(ctx context.Context, op string, fn func(panel.Client) error) error
	Observe(fn func()) func()
}

// ControlPanel is the capability set a host binds to.
type ControlPanel interface {
	UniqueID() string
	State() State
	Attributes() Attributes
	DeviceInfo() DeviceInfo
	ValidateCode(code string) error
	ArmHome(ctx context.Context, code string) error
	ArmAway(ctx context.Context, code string) error
	Disarm(ctx context.Context, code string) error
	Trigger(ctx context.Context, code string) error
	ArmCustomBypass(ctx context.Context, code string) error
}

// Attributes is the published view of the entity.
type Attributes struct {
	State             State      `json:"state"`
	CodeFormat        CodeFormat `json:"code_format,omitempty"`
	SupportedFeatures Feature    `json:"supported_features"`
	ChangedBy         string     `json:"changed_by"`
	Connected         bool       `json:"connected"`
	Manufacturer      string     `json:"manufacturer,omitempty"`
	Model             string     `json:"model,omitempty"`
	PanelState        string     `json:"panel_state,omitempty"`
}

type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

var _ ControlPanel = (*Entity)(nil)

type Entity struct {
	session Session
	log     *log.Logger
	name    string
	panelID string

	mu       sync.RWMutex
	state    State
	onChange func(*Entity)
	detach   func()
}

// NewEntity binds to a session whose login has completed; the unique id is
// fixed at this point.
func NewEntity(session Session, logger *log.Logger) *Entity {
	s := session.Session()
	return &Entity{
		session: session,
		log:     logger,
		name:    s.UniqueID(),
		panelID: s.PanelID,
		state:   StateUnknown,
	}
}

func (e *Entity) UniqueID() string {
	return e.name
}

func (e *Entity) Name() string {
	return e.name
}

// ChangedBy is always empty; the service does not say who changed state.
func (e *Entity) ChangedBy() string {
	return ""
}

func (e *Entity) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Update recomputes the state from the session.
func (e *Entity) Update() {
	s := e.session.Session()
	state := StateUnknown
	if s.Connected {
		var ok bool
		state, ok = MapState(s.State)
		if !ok {
			e.log.Info("Unknown alarm state: %s", s.State)
		}
	}

	e.mu.Lock()
	e.state = state
	e.mu.Unlock()

	metrics.AlarmState.WithLabelValues(e.session.EntryID()).Set(state.metric())
	e.log.Debug("Update %s, alarm state: %s", e.name, state)
}

func (e *Entity) SupportedFeatures() Feature {
	return FeaturesFor(e.State(), e.session.Session().Connected)
}

func (e *Entity) CodeFormat() CodeFormat {
	s := e.session.Session()
	if !s.Connected {
		return CodeFormatNumber
	}
	return CodeFormatFor(e.State(), s.CodelessArm, s.CodelessDisarm)
}

// CodeRequired reports whether arming and disarming need a code.
func (e *Entity) CodeRequired() (arm, disarm bool) {
	s := e.session.Session()
	return !s.CodelessArm, !s.CodelessDisarm
}

func (e *Entity) DeviceInfo() DeviceInfo {
	s := e.session.Session()
	if s.Manufacturer == "" {
		return DeviceInfo{
			Identifiers:  []string{e.name},
			Name:         fmt.Sprintf("Visonic Alarm Panel %s", e.panelID),
			Manufacturer: defaultManufacturer,
		}
	}
	return DeviceInfo{
		Identifiers:  []string{e.name},
		Name:         e.name,
		Manufacturer: s.Manufacturer,
		Model:        s.Model,
	}
}

func (e *Entity) Attributes() Attributes {
	s := e.session.Session()
	state := e.State()
	codeFormat := CodeFormatNumber
	if s.Connected {
		codeFormat = CodeFormatFor(state, s.CodelessArm, s.CodelessDisarm)
	}
	return Attributes{
		State:             state,
		CodeFormat:        codeFormat,
		SupportedFeatures: FeaturesFor(state, s.Connected),
		ChangedBy:         e.ChangedBy(),
		Connected:         s.Connected,
		Manufacturer:      s.Manufacturer,
		Model:             s.Model,
		PanelState:        s.State,
	}
}

// ValidateCode checks a code entered by the user against the master code,
// but only while the current code format asks for one. A disconnected
// panel accepts no command, so it reports ErrUnavailable whatever the code.
func (e *Entity) ValidateCode(code string) error {
	if !e.session.Session().Connected {
		return fmt.Errorf("visonic integration %s: %w", e.name, ErrUnavailable)
	}
	if e.CodeFormat() == CodeFormatNone {
		return nil
	}
	if code == "" || code != e.session.Session().MasterCode {
		return ErrInvalidCode
	}
	return nil
}

func (e *Entity) ArmHome(ctx context.Context, _ string) error {
	return e.command(ctx, "arm_home", panel.Client.ArmHome)
}

func (e *Entity) ArmAway(ctx context.Context, _ string) error {
	return e.command(ctx, "arm_away", panel.Client.ArmAway)
}

func (e *Entity) Disarm(ctx context.Context, _ string) error {
	return e.command(ctx, "disarm", panel.Client.Disarm)
}

func (e *Entity) Trigger(context.Context, string) error {
	e.log.Debug("Alarm panel trigger not implemented")
	return fmt.Errorf("trigger: %w", ErrNotSupported)
}

func (e *Entity) ArmCustomBypass(context.Context, string) error {
	e.log.Debug("Alarm panel custom bypass not implemented")
	return fmt.Errorf("arm custom bypass: %w", ErrNotSupported)
}

func (e *Entity) command(ctx context.Context, op string, fn func(panel.Client, context.Context) error) error {
	if !e.session.Session().Connected {
		return fmt.Errorf("%s: visonic integration %s: %w", op, e.name, ErrUnavailable)
	}
	e.log.Info("Sending %s to %s", op, e.name)
	return e.session.Execute(ctx, op, func(cli panel.Client) error {
		return fn(cli, ctx)
	})
}

// Attach subscribes to session refreshes. Each refresh recomputes the state
// and then calls onChange, which may be nil.
func (e *Entity) Attach(onChange func(*Entity)) {
	e.mu.Lock()
	e.onChange = onChange
	e.mu.Unlock()

	detach := e.session.Observe(e.changed)

	e.mu.Lock()
	e.detach = detach
	e.mu.Unlock()
}

// Detach stops reacting to refreshes.
func (e *Entity) Detach() {
	e.mu.Lock()
	detach := e.detach
	e.detach = nil
	e.onChange = nil
	e.mu.Unlock()

	if detach != nil {
		detach()
	}
}

func (e *Entity) changed() {
	e.Update()

	e.mu.RLock()
	onChange := e.onChange
	e.mu.RUnlock()
	if onChange != nil {
		onChange(e)
	}
}
