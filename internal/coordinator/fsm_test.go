package coordinator

import (
	"testing"
	"time"
)

func TestDecide(t *testing.T) {
	const timeout = 5 * time.Second

	tests := []struct {
		name       string
		state      State
		trigger    Trigger
		capsOn     bool
		idleFor    time.Duration
		wantState  State
		wantAction Action
	}{
		// === Activity ===
		{
			name:       "activity/normal_caps_off",
			state:      StateNormal,
			trigger:    TriggerActivity,
			wantState:  StateNormal,
			wantAction: ActionNone,
		},
		{
			name:       "activity/normal_caps_on",
			state:      StateNormal,
			trigger:    TriggerActivity,
			capsOn:     true,
			wantState:  StateCapsActive,
			wantAction: ActionApplyCaps,
		},
		{
			name:       "activity/idle_caps_off",
			state:      StateIdle,
			trigger:    TriggerActivity,
			wantState:  StateNormal,
			wantAction: ActionRelease,
		},
		{
			name:       "activity/idle_caps_on",
			state:      StateIdle,
			trigger:    TriggerActivity,
			capsOn:     true,
			wantState:  StateCapsActive,
			wantAction: ActionApplyCaps,
		},
		{
			name:       "activity/caps_active_still_on",
			state:      StateCapsActive,
			trigger:    TriggerActivity,
			capsOn:     true,
			wantState:  StateCapsActive,
			wantAction: ActionNone,
		},
		{
			name:       "activity/caps_active_turned_off",
			state:      StateCapsActive,
			trigger:    TriggerActivity,
			wantState:  StateNormal,
			wantAction: ActionRelease,
		},

		// === Tick ===
		{
			name:       "tick/normal_before_timeout",
			state:      StateNormal,
			trigger:    TriggerTick,
			idleFor:    4 * time.Second,
			wantState:  StateNormal,
			wantAction: ActionNone,
		},
		{
			name:       "tick/normal_at_timeout",
			state:      StateNormal,
			trigger:    TriggerTick,
			idleFor:    timeout,
			wantState:  StateIdle,
			wantAction: ActionApplyIdle,
		},
		{
			name:       "tick/normal_after_timeout",
			state:      StateNormal,
			trigger:    TriggerTick,
			idleFor:    6 * time.Second,
			wantState:  StateIdle,
			wantAction: ActionApplyIdle,
		},
		{
			name:       "tick/already_idle",
			state:      StateIdle,
			trigger:    TriggerTick,
			idleFor:    time.Hour,
			wantState:  StateIdle,
			wantAction: ActionNone,
		},
		{
			name:       "tick/caps_active_never_idles",
			state:      StateCapsActive,
			trigger:    TriggerTick,
			idleFor:    time.Hour,
			wantState:  StateCapsActive,
			wantAction: ActionNone,
		},

		// === Settings reload ===
		{
			name:       "reload/caps_active_reapplies",
			state:      StateCapsActive,
			trigger:    TriggerSettingsReload,
			capsOn:     true,
			wantState:  StateCapsActive,
			wantAction: ActionApplyCaps,
		},
		{
			name:       "reload/idle_releases",
			state:      StateIdle,
			trigger:    TriggerSettingsReload,
			wantState:  StateNormal,
			wantAction: ActionRelease,
		},
		{
			name:       "reload/normal_releases",
			state:      StateNormal,
			trigger:    TriggerSettingsReload,
			wantState:  StateNormal,
			wantAction: ActionRelease,
		},

		// === Device connected ===
		{
			name:       "device/normal_noop",
			state:      StateNormal,
			trigger:    TriggerDeviceConnected,
			wantState:  StateNormal,
			wantAction: ActionNone,
		},
		{
			name:       "device/idle_reapplies",
			state:      StateIdle,
			trigger:    TriggerDeviceConnected,
			wantState:  StateIdle,
			wantAction: ActionApplyIdle,
		},
		{
			name:       "device/caps_reapplies",
			state:      StateCapsActive,
			trigger:    TriggerDeviceConnected,
			capsOn:     true,
			wantState:  StateCapsActive,
			wantAction: ActionApplyCaps,
		},

		// === Control released ===
		{
			name:       "released/caps_on_applies_even_if_unchanged",
			state:      StateCapsActive,
			trigger:    TriggerControlReleased,
			capsOn:     true,
			wantState:  StateCapsActive,
			wantAction: ActionApplyCaps,
		},
		{
			name:       "released/caps_off_releases",
			state:      StateNormal,
			trigger:    TriggerControlReleased,
			wantState:  StateNormal,
			wantAction: ActionRelease,
		},
		{
			name:       "released/idle_caps_off",
			state:      StateIdle,
			trigger:    TriggerControlReleased,
			wantState:  StateNormal,
			wantAction: ActionRelease,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotState, gotAction := Decide(tt.state, tt.trigger, tt.capsOn, tt.idleFor, timeout)
			if gotState != tt.wantState || gotAction != tt.wantAction {
				t.Errorf("Decide() = (%v, %v), want (%v, %v)", gotState, gotAction, tt.wantState, tt.wantAction)
			}
		})
	}
}

func TestDecide_ZeroTimeoutNeverIdles(t *testing.T) {
	state, action := Decide(StateNormal, TriggerTick, false, time.Hour, 0)
	if state != StateNormal || action != ActionNone {
		t.Errorf("Decide() = (%v, %v), want (normal, none)", state, action)
	}
}

// Caps Lock truth always wins over idle, whatever the path into Idle was.
func TestDecide_ActivityNeverStaysIdle(t *testing.T) {
	for _, caps := range []bool{false, true} {
		state, _ := Decide(StateIdle, TriggerActivity, caps, 0, time.Second)
		if state == StateIdle {
			t.Errorf("activity with caps=%v left state idle", caps)
		}
	}
}

func TestStringers(t *testing.T) {
	if StateCapsActive.String() != "caps_active" {
		t.Errorf("unexpected state name %q", StateCapsActive.String())
	}
	if TriggerControlReleased.String() != "control_released" {
		t.Errorf("unexpected trigger name %q", TriggerControlReleased.String())
	}
	if ActionApplyIdle.String() != "apply_idle" {
		t.Errorf("unexpected action name %q", ActionApplyIdle.String())
	}
}
