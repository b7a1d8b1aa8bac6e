package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daemonp/visonic2mqtt/internal/alarm"
	"github.com/daemonp/visonic2mqtt/internal/config"
	"github.com/daemonp/visonic2mqtt/internal/executor"
	"github.com/daemonp/visonic2mqtt/internal/log"
	"github.com/daemonp/visonic2mqtt/internal/panel"
	"github.com/daemonp/visonic2mqtt/internal/panel/paneltest"
	"github.com/daemonp/visonic2mqtt/internal/visonic"
)

const (
	stateTopic   = "visonic2mqtt/panel/visonic-powermaster-10-12345"
	commandTopic = "visonic2mqtt/panel/visonic-powermaster-10-12345/set"
	errorTopic   = "visonic2mqtt/panel/visonic-powermaster-10-12345/error"
)

type message struct {
	topic   string
	payload interface{}
	retain  bool
}

type fakeClient struct {
	topics *Topics

	mu       sync.Mutex
	messages []message
	subs     map[string]func([]byte)
	subErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{topics: NewTopics("visonic2mqtt"), subs: make(map[string]func([]byte))}
}

func (f *fakeClient) GetPrefix() string { return "visonic2mqtt" }
func (f *fakeClient) Topics() *Topics   { return f.topics }

func (f *fakeClient) Publish(topic string, payload interface{}, retain bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{topic, payload, retain})
}

func (f *fakeClient) Subscribe(topic string, handler func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subs[topic] = handler
	return nil
}

func (f *fakeClient) Unsubscribe(topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, topic)
}

func (f *fakeClient) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	handler, ok := f.subs[topic]
	f.mu.Unlock()
	require.True(t, ok, "no subscription for %s", topic)
	handler([]byte(payload))
}

func (f *fakeClient) on(topic string) []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message
	for _, m := range f.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeClient) lastError(t *testing.T) CommandError {
	t.Helper()
	msgs := f.on(errorTopic)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	require.False(t, last.retain)
	ce, ok := last.payload.(CommandError)
	require.True(t, ok)
	return ce
}

type fakeAnnouncer struct {
	announced, withdrawn []string
}

func (a *fakeAnnouncer) Announce(e *alarm.Entity) { a.announced = append(a.announced, e.UniqueID()) }
func (a *fakeAnnouncer) Withdraw(e *alarm.Entity) { a.withdrawn = append(a.withdrawn, e.UniqueID()) }

type fixture struct {
	cli     *paneltest.Client
	handler *panel.Handler
	entity  *alarm.Entity
	mqtt    *fakeClient
	bridge  *Bridge
}

func setup(t *testing.T) fixture {
	t.Helper()
	entry := config.NewEntryConfig()
	entry.ID = "entry"
	entry.Email = "user@example.com"
	entry.Password = "secret"
	entry.PanelID = "12345"
	entry.MasterCode = "1234"

	cli := paneltest.NewClient()
	handler := panel.NewHandler(entry, cli.Dialer(nil), executor.New(1), log.Nop())
	require.NoError(t, handler.Login(context.Background()))
	require.NoError(t, handler.Refresh(context.Background()))

	entity := alarm.NewEntity(handler, log.Nop())
	entity.Update()

	client := newFakeClient()
	return fixture{
		cli:     cli,
		handler: handler,
		entity:  entity,
		mqtt:    client,
		bridge:  NewBridge(client, nil, log.Nop()),
	}
}

func (f fixture) refresh(t *testing.T) {
	t.Helper()
	require.NoError(t, f.handler.Refresh(context.Background()))
	f.entity.Update()
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"action": "disarm", "code": "1234"}`))
	require.NoError(t, err)
	require.Equal(t, Command{Action: ActionDisarm, Code: "1234"}, cmd)

	cmd, err = ParseCommand([]byte(" ARM_AWAY\n"))
	require.NoError(t, err)
	require.Equal(t, Command{Action: ActionArmAway}, cmd)

	_, err = ParseCommand([]byte(`{"action": `))
	require.Error(t, err)

	_, err = ParseCommand([]byte(`{"code": "1234"}`))
	require.ErrorIs(t, err, errEmptyAction)
}

func TestBindPublishesState(t *testing.T) {
	f := setup(t)
	announcer := &fakeAnnouncer{}
	f.bridge = NewBridge(f.mqtt, announcer, log.Nop())

	require.NoError(t, f.bridge.Bind("entry", f.entity))
	require.Equal(t, []string{"Visonic PowerMaster-10 (12345)"}, announcer.announced)
	require.Equal(t, []string{"entry"}, f.bridge.boundIDs())

	msgs := f.mqtt.on(stateTopic)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].retain)
	attrs, ok := msgs[0].payload.(alarm.Attributes)
	require.True(t, ok)
	require.Equal(t, alarm.StateDisarmed, attrs.State)

	payload, err := json.Marshal(attrs)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"state": "disarmed",
		"supported_features": 3,
		"changed_by": "",
		"connected": true,
		"manufacturer": "Visonic",
		"model": "PowerMaster-10",
		"panel_state": "DISARM"
	}`, string(payload))
}

func TestBindSubscribeFailure(t *testing.T) {
	f := setup(t)
	f.mqtt.subErr = errors.New("not connected")
	require.ErrorIs(t, f.bridge.Bind("entry", f.entity), f.mqtt.subErr)
	require.Empty(t, f.bridge.boundIDs())
}

func TestUnbind(t *testing.T) {
	f := setup(t)
	announcer := &fakeAnnouncer{}
	f.bridge = NewBridge(f.mqtt, announcer, log.Nop())
	require.NoError(t, f.bridge.Bind("entry", f.entity))

	f.bridge.Unbind("entry", f.entity)
	require.Equal(t, []string{"Visonic PowerMaster-10 (12345)"}, announcer.withdrawn)
	require.Empty(t, f.bridge.boundIDs())
	require.NotContains(t, f.mqtt.subs, commandTopic)

	msgs := f.mqtt.on(stateTopic)
	require.Equal(t, message{stateTopic, "", true}, msgs[len(msgs)-1])
}

func TestCommandWithoutCode(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.bridge.Bind("entry", f.entity))
	f.cli.ResetCalls()

	f.mqtt.deliver(t, commandTopic, "ARM_HOME")
	require.Equal(t, []string{"arm_home"}, f.cli.Calls())
	require.Empty(t, f.mqtt.on(errorTopic))
}

func TestDisarmNeedsCode(t *testing.T) {
	f := setup(t)
	f.cli.SetState(visonic.StateAway)
	f.refresh(t)
	require.NoError(t, f.bridge.Bind("entry", f.entity))
	f.cli.ResetCalls()

	f.mqtt.deliver(t, commandTopic, `{"action": "DISARM", "code": "0000"}`)
	require.Empty(t, f.cli.Calls())
	require.Equal(t, ErrorInvalidCode, f.mqtt.lastError(t).Error)

	f.mqtt.deliver(t, commandTopic, `{"action": "DISARM"}`)
	require.Empty(t, f.cli.Calls())

	f.mqtt.deliver(t, commandTopic, `{"action": "DISARM", "code": "1234"}`)
	require.Equal(t, []string{"disarm"}, f.cli.Calls())
}

func TestCommandWhileDisconnected(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.bridge.Bind("entry", f.entity))
	f.cli.SetOnline(false)
	f.refresh(t)
	f.cli.ResetCalls()

	f.mqtt.deliver(t, commandTopic, `{"action": "ARM_AWAY", "code": "1234"}`)
	require.Empty(t, f.cli.Calls())
	ce := f.mqtt.lastError(t)
	require.Equal(t, ActionArmAway, ce.Action)
	require.Equal(t, ErrorUnavailable, ce.Error)

	// No code is sent for codeless arming; the panel is still unavailable.
	f.mqtt.deliver(t, commandTopic, `{"action": "ARM_AWAY", "code": ""}`)
	require.Empty(t, f.cli.Calls())
	require.Equal(t, ErrorUnavailable, f.mqtt.lastError(t).Error)

	f.mqtt.deliver(t, commandTopic, "DISARM")
	require.Equal(t, ErrorUnavailable, f.mqtt.lastError(t).Error)
}

func TestUnsupportedWhileCodeRequired(t *testing.T) {
	f := setup(t)
	f.cli.SetState(visonic.StateAway)
	f.refresh(t)
	require.NoError(t, f.bridge.Bind("entry", f.entity))
	require.Equal(t, alarm.CodeFormatNumber, f.entity.CodeFormat())

	f.mqtt.deliver(t, commandTopic, "TRIGGER")
	require.Equal(t, ErrorNotSupported, f.mqtt.lastError(t).Error)

	f.mqtt.deliver(t, commandTopic, `{"action": "ARM_CUSTOM_BYPASS", "code": "0000"}`)
	require.Equal(t, ErrorNotSupported, f.mqtt.lastError(t).Error)
}

func TestUnsupportedAndUnknownCommands(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.bridge.Bind("entry", f.entity))
	f.cli.ResetCalls()

	f.mqtt.deliver(t, commandTopic, "TRIGGER")
	require.Equal(t, ErrorNotSupported, f.mqtt.lastError(t).Error)

	f.mqtt.deliver(t, commandTopic, "arm_custom_bypass")
	require.Equal(t, ErrorNotSupported, f.mqtt.lastError(t).Error)

	f.mqtt.deliver(t, commandTopic, "ARM_NIGHT")
	require.Equal(t, ErrorUnknownAction, f.mqtt.lastError(t).Error)

	f.mqtt.deliver(t, commandTopic, "{nope")
	require.Equal(t, ErrorInvalidPayload, f.mqtt.lastError(t).Error)

	require.Empty(t, f.cli.Calls())
}

func TestCommandFailure(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.bridge.Bind("entry", f.entity))
	f.cli.CommandErr = errors.New("panel busy")

	f.mqtt.deliver(t, commandTopic, "ARM_AWAY")
	ce := f.mqtt.lastError(t)
	require.Equal(t, ErrorFailed, ce.Error)
	require.Contains(t, ce.Message, "panel busy")
}
