package coordinator

import "time"

// State is the lighting state. Exactly one holds at any time.
type State int

const (
	StateNormal State = iota
	StateIdle
	StateCapsActive
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateIdle:
		return "idle"
	case StateCapsActive:
		return "caps_active"
	default:
		return "unknown"
	}
}

// Trigger is the signal being evaluated.
type Trigger int

const (
	TriggerActivity Trigger = iota
	TriggerTick
	TriggerSettingsReload
	TriggerDeviceConnected
	TriggerControlReleased
)

// String returns a human-readable name for the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerActivity:
		return "activity"
	case TriggerTick:
		return "tick"
	case TriggerSettingsReload:
		return "settings_reload"
	case TriggerDeviceConnected:
		return "device_connected"
	case TriggerControlReleased:
		return "control_released"
	default:
		return "unknown"
	}
}

// Action is the sink operation a transition requires.
type Action int

const (
	ActionNone Action = iota
	ActionApplyCaps
	ActionApplyIdle
	ActionRelease
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionApplyCaps:
		return "apply_caps"
	case ActionApplyIdle:
		return "apply_idle"
	case ActionRelease:
		return "release"
	default:
		return "unknown"
	}
}

// Decide is the transition function of the lighting state machine.
// capsOn is only consulted for triggers that re-derive state from Caps Lock.
func Decide(state State, trigger Trigger, capsOn bool, idleFor, timeout time.Duration) (State, Action) {
	switch trigger {
	case TriggerActivity:
		return fromCaps(state, capsOn)

	case TriggerTick:
		// Idle is only entered from Normal; Caps Lock outranks idle
		if state == StateNormal && timeout > 0 && idleFor >= timeout {
			return StateIdle, ActionApplyIdle
		}
		return state, ActionNone

	case TriggerSettingsReload:
		if state == StateCapsActive {
			return StateCapsActive, ActionApplyCaps
		}
		// Drop a possibly stale idle color
		return StateNormal, ActionRelease

	case TriggerDeviceConnected:
		switch state {
		case StateIdle:
			return StateIdle, ActionApplyIdle
		case StateCapsActive:
			return StateCapsActive, ActionApplyCaps
		}
		return state, ActionNone

	case TriggerControlReleased:
		// Whatever the preview left on the devices must be overwritten
		if capsOn {
			return StateCapsActive, ActionApplyCaps
		}
		return StateNormal, ActionRelease
	}

	return state, ActionNone
}

// fromCaps derives the target state from Caps Lock truth and acts only on change.
func fromCaps(state State, capsOn bool) (State, Action) {
	target, action := StateNormal, ActionRelease
	if capsOn {
		target, action = StateCapsActive, ActionApplyCaps
	}
	if target == state {
		return state, ActionNone
	}
	return target, action
}
