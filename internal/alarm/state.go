package alarm

import "github.com/daemonp/visonic2mqtt/internal/visonic"

// State is the Home Assistant alarm_control_panel state vocabulary.
type State string

const (
	StateUnknown   State = "unknown"
	StateDisarmed  State = "disarmed"
	StateArmedHome State = "armed_home"
	StateArmedAway State = "armed_away"
)

// CodeFormat tells the frontend whether a code must be entered.
type CodeFormat string

const (
	CodeFormatNone   CodeFormat = ""
	CodeFormatNumber CodeFormat = "number"
)

// Feature mirrors AlarmControlPanelEntityFeature.
type Feature int

const (
	FeatureArmHome         Feature = 1
	FeatureArmAway         Feature = 2
	FeatureArmNight        Feature = 4
	FeatureTrigger         Feature = 8
	FeatureArmCustomBypass Feature = 16
)

// Names returns the discovery names of the features set in f.
func (f Feature) Names() []string {
	names := []string{}
	for _, feat := range []struct {
		bit  Feature
		name string
	}{
		{FeatureArmHome, "arm_home"},
		{FeatureArmAway, "arm_away"},
		{FeatureArmNight, "arm_night"},
		{FeatureTrigger, "trigger"},
		{FeatureArmCustomBypass, "arm_custom_bypass"},
	} {
		if f&feat.bit != 0 {
			names = append(names, feat.name)
		}
	}
	return names
}

// MapState translates a partition state. ok is false for states that have
// no counterpart, which map to StateUnknown.
func MapState(panelState string) (state State, ok bool) {
	switch panelState {
	case visonic.StateDisarm:
		return StateDisarmed, true
	case visonic.StateAway:
		return StateArmedAway, true
	case visonic.StateHome:
		return StateArmedHome, true
	default:
		return StateUnknown, false
	}
}

// CodeFormatFor decides whether a code is needed to leave state.
// Disarmed panels consult the arm policy, anything else the disarm policy.
func CodeFormatFor(state State, codelessArm, codelessDisarm bool) CodeFormat {
	codeless := codelessDisarm
	if state == StateDisarmed {
		codeless = codelessArm
	}
	if codeless {
		return CodeFormatNone
	}
	return CodeFormatNumber
}

// FeaturesFor only offers arming from the disarmed state; the panel does
// not switch directly between armed modes.
func FeaturesFor(state State, connected bool) Feature {
	if connected && state == StateDisarmed {
		return FeatureArmHome | FeatureArmAway
	}
	return 0
}

func (s State) metric() float64 {
	switch s {
	case StateDisarmed:
		return 1
	case StateArmedHome:
		return 2
	case StateArmedAway:
		return 3
	default:
		return 0
	}
}
