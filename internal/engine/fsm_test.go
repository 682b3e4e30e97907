package engine_test

import (
	"testing"

	"github.com/dantte-lp/gotgen/internal/engine"
)

func TestApplyEventTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		state   engine.State
		event   engine.Event
		want    engine.State
		actions []engine.Action
	}{
		{
			name:  "enable from idle",
			state: engine.StateIdle, event: engine.EventEnable,
			want:    engine.StateStarting,
			actions: []engine.Action{engine.ActionResetCounters, engine.ActionBuildPipeline},
		},
		{
			name:  "start success",
			state: engine.StateStarting, event: engine.EventStarted,
			want: engine.StateRunning,
		},
		{
			name:  "start failure",
			state: engine.StateStarting, event: engine.EventStartFailed,
			want:    engine.StateFailed,
			actions: []engine.Action{engine.ActionRecordCause},
		},
		{
			name:  "hot update",
			state: engine.StateRunning, event: engine.EventUpdate,
			want:    engine.StateUpdating,
			actions: []engine.Action{engine.ActionApplyUpdate},
		},
		{
			name:  "update applied",
			state: engine.StateUpdating, event: engine.EventUpdated,
			want: engine.StateRunning,
		},
		{
			name:  "disable while running",
			state: engine.StateRunning, event: engine.EventDisable,
			want:    engine.StateStopping,
			actions: []engine.Action{engine.ActionDrain},
		},
		{
			name:  "disable while updating",
			state: engine.StateUpdating, event: engine.EventDisable,
			want:    engine.StateStopping,
			actions: []engine.Action{engine.ActionDrain},
		},
		{
			name:  "fatal while running",
			state: engine.StateRunning, event: engine.EventFatal,
			want:    engine.StateFailed,
			actions: []engine.Action{engine.ActionRecordCause},
		},
		{
			name:  "drained",
			state: engine.StateStopping, event: engine.EventDrained,
			want: engine.StateIdle,
		},
		{
			name:  "re-enable from failed",
			state: engine.StateFailed, event: engine.EventEnable,
			want:    engine.StateStarting,
			actions: []engine.Action{engine.ActionResetCounters, engine.ActionBuildPipeline},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := engine.ApplyEvent(tt.state, tt.event)

			if res.NewState != tt.want {
				t.Errorf("NewState = %s, want %s", res.NewState, tt.want)
			}
			if !res.Changed {
				t.Error("Changed = false, want true")
			}
			if len(res.Actions) != len(tt.actions) {
				t.Fatalf("actions = %v, want %v", res.Actions, tt.actions)
			}
			for i, a := range tt.actions {
				if res.Actions[i] != a {
					t.Errorf("action[%d] = %s, want %s", i, res.Actions[i], a)
				}
			}
		})
	}
}

func TestApplyEventIgnoresUnlistedPairs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state engine.State
		event engine.Event
	}{
		{engine.StateIdle, engine.EventDisable},
		{engine.StateIdle, engine.EventDrained},
		{engine.StateFailed, engine.EventDisable},
		{engine.StateStopping, engine.EventFatal},
		{engine.StateStopping, engine.EventEnable},
		{engine.StateRunning, engine.EventEnable},
		{engine.StateRunning, engine.EventStarted},
	}

	for _, tt := range tests {
		res := engine.ApplyEvent(tt.state, tt.event)

		if res.Changed {
			t.Errorf("%s + %s changed state to %s, want ignored", tt.state, tt.event, res.NewState)
		}
		if res.NewState != tt.state {
			t.Errorf("%s + %s: NewState = %s, want unchanged", tt.state, tt.event, res.NewState)
		}
		if len(res.Actions) != 0 {
			t.Errorf("%s + %s: actions = %v, want none", tt.state, tt.event, res.Actions)
		}
	}
}

func TestStateRemovable(t *testing.T) {
	t.Parallel()

	removable := map[engine.State]bool{
		engine.StateIdle:     true,
		engine.StateFailed:   true,
		engine.StateStarting: false,
		engine.StateRunning:  false,
		engine.StateUpdating: false,
		engine.StateStopping: false,
	}

	for state, want := range removable {
		if got := state.Removable(); got != want {
			t.Errorf("%s.Removable() = %v, want %v", state, got, want)
		}
	}
}
