package mqtt

import (
	"fmt"

	"github.com/daemonp/visonic2mqtt/internal/util"
)

type Topics struct {
	prefix string
}

func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

func (t *Topics) Status() string {
	return fmt.Sprintf("%s/status", t.prefix)
}

func (t *Topics) Panel(uniqueID string) string {
	return fmt.Sprintf("%s/panel/%s", t.prefix, util.Slugify(uniqueID))
}

func (t *Topics) PanelCommand(uniqueID string) string {
	return fmt.Sprintf("%s/panel/%s/set", t.prefix, util.Slugify(uniqueID))
}

func (t *Topics) PanelError(uniqueID string) string {
	return fmt.Sprintf("%s/panel/%s/error", t.prefix, util.Slugify(uniqueID))
}
