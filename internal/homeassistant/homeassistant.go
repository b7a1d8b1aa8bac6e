package homeassistant

import (
	"fmt"

	"github.com/daemonp/visonic2mqtt/internal/alarm"
	"github.com/daemonp/visonic2mqtt/internal/config"
	"github.com/daemonp/visonic2mqtt/internal/log"
	"github.com/daemonp/visonic2mqtt/internal/mqtt"
	"github.com/daemonp/visonic2mqtt/internal/util"
)

const (
	remoteCode      = "REMOTE_CODE"
	commandTemplate = `{"action": "{{ action }}", "code": "{{ code }}"}`
)

// Panel capabilities. The live set depends on the state and is published
// with every state update.
var advertisedFeatures = alarm.FeatureArmHome | alarm.FeatureArmAway

var _ mqtt.Announcer = (*HomeAssistant)(nil)

type HomeAssistant struct {
	config *config.HomeAssistantConfig
	mqtt   mqtt.MQTTClient
	log    *log.Logger
}

func New(cfg *config.HomeAssistantConfig, mqttClient mqtt.MQTTClient, logger *log.Logger) *HomeAssistant {
	return &HomeAssistant{
		config: cfg,
		mqtt:   mqttClient,
		log:    logger,
	}
}

// Announce publishes the discovery config for entity.
func (ha *HomeAssistant) Announce(entity *alarm.Entity) {
	ha.log.Info("Publishing Home Assistant discovery for %s", entity.UniqueID())
	ha.mqtt.Publish(ha.DiscoveryTopic(entity), ha.DiscoveryConfig(entity), true)
}

// Withdraw removes the entity from Home Assistant.
func (ha *HomeAssistant) Withdraw(entity *alarm.Entity) {
	ha.log.Info("Removing Home Assistant discovery for %s", entity.UniqueID())
	ha.mqtt.Publish(ha.DiscoveryTopic(entity), "", true)
}

func (ha *HomeAssistant) DiscoveryTopic(entity *alarm.Entity) string {
	return fmt.Sprintf("%s/alarm_control_panel/%s/%s/config",
		ha.config.Prefix, ha.mqtt.GetPrefix(), util.Slugify(entity.UniqueID()))
}

func (ha *HomeAssistant) DiscoveryConfig(entity *alarm.Entity) map[string]interface{} {
	topics := ha.mqtt.Topics()
	uid := entity.UniqueID()
	device := entity.DeviceInfo()

	config := map[string]interface{}{
		"name":                  nil,
		"unique_id":             fmt.Sprintf("%s_%s", ha.mqtt.GetPrefix(), util.Slugify(uid)),
		"state_topic":           topics.Panel(uid),
		"value_template":        "{{ value_json.state }}",
		"json_attributes_topic": topics.Panel(uid),
		"command_topic":         topics.PanelCommand(uid),
		"command_template":      commandTemplate,
		"supported_features":    advertisedFeatures.Names(),
		"availability_topic":    topics.Status(),
		"payload_available":     "online",
		"payload_not_available": "offline",
		"device": map[string]interface{}{
			"identifiers":  device.Identifiers,
			"name":         device.Name,
			"manufacturer": device.Manufacturer,
			"model":        device.Model,
		},
	}

	armRequired, disarmRequired := entity.CodeRequired()
	config["code_arm_required"] = armRequired
	config["code_disarm_required"] = disarmRequired
	if armRequired || disarmRequired {
		config["code"] = remoteCode
	}

	return config
}
