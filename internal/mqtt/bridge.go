package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/daemonp/visonic2mqtt/internal/alarm"
	"github.com/daemonp/visonic2mqtt/internal/log"
	"github.com/daemonp/visonic2mqtt/internal/metrics"
)

// Actions accepted on a panel's command topic.
const (
	ActionArmHome         = "ARM_HOME"
	ActionArmAway         = "ARM_AWAY"
	ActionDisarm          = "DISARM"
	ActionTrigger         = "TRIGGER"
	ActionArmCustomBypass = "ARM_CUSTOM_BYPASS"
)

// Keys published on the error topic.
const (
	ErrorInvalidPayload = "invalid_payload"
	ErrorUnknownAction  = "unknown_action"
	ErrorInvalidCode    = "invalid_code"
	ErrorUnavailable    = "unavailable"
	ErrorNotSupported   = "not_supported"
	ErrorFailed         = "failed"
)

var errEmptyAction = errors.New("empty action")

// Announcer advertises entities to the home automation host.
type Announcer interface {
	Announce(entity *alarm.Entity)
	Withdraw(entity *alarm.Entity)
}

type Command struct {
	Action string `json:"action"`
	Code   string `json:"code,omitempty"`
}

// CommandError is published on the error topic when a command is rejected.
type CommandError struct {
	Action  string `json:"action,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ParseCommand accepts either {"action": "...", "code": "..."} or a bare
// action name.
func ParseCommand(payload []byte) (Command, error) {
	payload = bytes.TrimSpace(payload)

	var cmd Command
	if bytes.HasPrefix(payload, []byte("{")) {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return Command{}, fmt.Errorf("invalid command: %w", err)
		}
	} else {
		cmd.Action = string(payload)
	}

	cmd.Action = strings.ToUpper(strings.TrimSpace(cmd.Action))
	if cmd.Action == "" {
		return Command{}, errEmptyAction
	}
	return cmd, nil
}

// Bridge publishes entity state over MQTT and turns messages on the
// command topics into entity calls.
type Bridge struct {
	client    MQTTClient
	announcer Announcer
	log       *log.Logger

	mu    sync.Mutex
	bound map[string]*alarm.Entity
}

// NewBridge returns a bridge; announcer may be nil when discovery is off.
func NewBridge(client MQTTClient, announcer Announcer, logger *log.Logger) *Bridge {
	return &Bridge{
		client:    client,
		announcer: announcer,
		log:       logger,
		bound:     make(map[string]*alarm.Entity),
	}
}

func (b *Bridge) Bind(entryID string, entity *alarm.Entity) error {
	topics := b.client.Topics()
	uid := entity.UniqueID()

	err := b.client.Subscribe(topics.PanelCommand(uid), func(payload []byte) {
		b.handleCommand(entryID, entity, payload)
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.bound[entryID] = entity
	b.mu.Unlock()

	if b.announcer != nil {
		b.announcer.Announce(entity)
	}
	b.Publish(entryID, entity)
	b.log.Info("Bound %s to %s", uid, topics.Panel(uid))
	return nil
}

func (b *Bridge) Publish(_ string, entity *alarm.Entity) {
	b.client.Publish(b.client.Topics().Panel(entity.UniqueID()), entity.Attributes(), true)
}

func (b *Bridge) Unbind(entryID string, entity *alarm.Entity) {
	topics := b.client.Topics()
	uid := entity.UniqueID()

	b.mu.Lock()
	delete(b.bound, entryID)
	b.mu.Unlock()

	b.client.Unsubscribe(topics.PanelCommand(uid))
	if b.announcer != nil {
		b.announcer.Withdraw(entity)
	}
	b.client.Publish(topics.Panel(uid), "", true)
	b.log.Info("Unbound %s", uid)
}

// boundIDs lists the entry ids that currently have an entity on the broker.
func (b *Bridge) boundIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.bound))
	for id := range b.bound {
		ids = append(ids, id)
	}
	return ids
}

func (b *Bridge) handleCommand(entryID string, entity *alarm.Entity, payload []byte) {
	cmd, err := ParseCommand(payload)
	if err != nil {
		b.reject(entryID, entity, cmd.Action, ErrorInvalidPayload, err)
		return
	}

	run, ok := actionFor(entity, cmd.Action)
	if !ok {
		b.reject(entryID, entity, cmd.Action, ErrorUnknownAction, fmt.Errorf("unknown action %q", cmd.Action))
		return
	}

	// Unsupported actions are rejected as such before any code is checked.
	if codeChecked(cmd.Action) {
		if err := entity.ValidateCode(cmd.Code); err != nil {
			b.reject(entryID, entity, cmd.Action, errorKey(err), err)
			return
		}
	}

	if err := run(context.Background(), cmd.Code); err != nil {
		b.reject(entryID, entity, cmd.Action, errorKey(err), err)
		return
	}
	metrics.Commands.WithLabelValues(entryID, cmd.Action, "ok").Inc()
}

func (b *Bridge) reject(entryID string, entity *alarm.Entity, action, key string, err error) {
	b.log.Error("Command %s for %s failed: %v", action, entity.UniqueID(), err)
	label := action
	if _, ok := actionFor(entity, action); !ok {
		label = "other"
	}
	metrics.Commands.WithLabelValues(entryID, label, key).Inc()
	b.client.Publish(b.client.Topics().PanelError(entity.UniqueID()), CommandError{
		Action:  action,
		Error:   key,
		Message: err.Error(),
	}, false)
}

func actionFor(entity alarm.ControlPanel, action string) (func(context.Context, string) error, bool) {
	switch action {
	case ActionArmHome:
		return entity.ArmHome, true
	case ActionArmAway:
		return entity.ArmAway, true
	case ActionDisarm:
		return entity.Disarm, true
	case ActionTrigger:
		return entity.Trigger, true
	case ActionArmCustomBypass:
		return entity.ArmCustomBypass, true
	}
	return nil, false
}

func codeChecked(action string) bool {
	switch action {
	case ActionArmHome, ActionArmAway, ActionDisarm:
		return true
	}
	return false
}

func errorKey(err error) string {
	switch {
	case errors.Is(err, alarm.ErrInvalidCode):
		return ErrorInvalidCode
	case errors.Is(err, alarm.ErrUnavailable):
		return ErrorUnavailable
	case errors.Is(err, alarm.ErrNotSupported):
		return ErrorNotSupported
	}
	return ErrorFailed
}
