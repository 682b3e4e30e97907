package engine

// This file implements the profile runner state machine as a pure function
// over a transition table -- no side effects, no Runner dependency. The
// runner executes the returned actions; the table stays trivially testable.
//
// State diagram:
//
//	           enable                started
//	  idle ------------> starting ------------> running <-----+
//	   ^                    |                   |  |          | updated
//	   |                    | start failed      |  +--> updating
//	   |                    v            fatal  |
//	   |                  failed <--------------+
//	   |                    ^  \                |
//	   |                    |   +--- enable     | disable
//	   |       drained      |                   v
//	   +----------------- stopping <------------+

// State is the lifecycle state of a profile runner.
type State uint8

const (
	// StateIdle: created, not enabled. Removable.
	StateIdle State = iota

	// StateStarting: resolving ports and building the pipeline.
	StateStarting

	// StateRunning: emitting frames.
	StateRunning

	// StateUpdating: applying a live bandwidth/frame-size/impairment change.
	StateUpdating

	// StateStopping: draining the shaper pipeline.
	StateStopping

	// StateFailed: pipeline halted, cause recorded. Removable.
	StateFailed
)

// String returns the wire-facing name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateUpdating:
		return "updating"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Removable reports whether a profile in this state may be deleted
// without a disable cycle.
func (s State) Removable() bool {
	return s == StateIdle || s == StateFailed
}

// Event represents a runner lifecycle event.
type Event uint8

const (
	// EventEnable is the operator enabling the profile.
	EventEnable Event = iota

	// EventStarted signals the pipeline came up successfully.
	EventStarted

	// EventStartFailed signals a resolution or construction error.
	EventStartFailed

	// EventUpdate is a hot configuration change while running.
	EventUpdate

	// EventUpdated signals the live change was applied.
	EventUpdated

	// EventDisable is the operator disabling the profile.
	EventDisable

	// EventDrained signals the shaper pipeline finished draining.
	EventDrained

	// EventFatal is an unrecoverable pipeline error (encode failure).
	EventFatal
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventEnable:
		return "Enable"
	case EventStarted:
		return "Started"
	case EventStartFailed:
		return "StartFailed"
	case EventUpdate:
		return "Update"
	case EventUpdated:
		return "Updated"
	case EventDisable:
		return "Disable"
	case EventDrained:
		return "Drained"
	case EventFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Action represents a side-effect the runner executes after a transition.
type Action uint8

const (
	// ActionBuildPipeline resolves ports and constructs pacer, builder
	// binding and shaper. Its outcome feeds EventStarted/EventStartFailed.
	ActionBuildPipeline Action = iota + 1

	// ActionResetCounters zeroes the profile counters (disable + enable
	// resets them; port counters are untouched).
	ActionResetCounters

	// ActionApplyUpdate rebases the pacer and swaps the shaper and frame
	// spec in place.
	ActionApplyUpdate

	// ActionDrain stops the pacer and lets the shaper drain within the
	// grace window, then releases the transmitter subscription.
	ActionDrain

	// ActionRecordCause stores the failure cause on the descriptor.
	ActionRecordCause
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionBuildPipeline:
		return "BuildPipeline"
	case ActionResetCounters:
		return "ResetCounters"
	case ActionApplyUpdate:
		return "ApplyUpdate"
	case ActionDrain:
		return "Drain"
	case ActionRecordCause:
		return "RecordCause"
	default:
		return "Unknown"
	}
}

// stateEvent is the transition table key: current state + incoming event.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and side-effects for one edge.
type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event.
type FSMResult struct {
	// OldState is the state before the event was applied.
	OldState State

	// NewState is the state after the event was applied. Equal to
	// OldState when the event is ignored in this state.
	NewState State

	// Actions lists the side-effects the runner must execute.
	Actions []Action

	// Changed is true when NewState differs from OldState.
	Changed bool
}

// fsmTable is the complete runner transition table. Unlisted
// (state, event) pairs are ignored: the event is dropped and the state
// holds. Notably EventFatal in stopping is ignored (the drain already
// ends the run) and EventDisable in idle/failed is a no-op.
//
//nolint:gochecknoglobals // transition table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	// idle + enable -> starting: reset counters, build the pipeline.
	{StateIdle, EventEnable}: {
		newState: StateStarting,
		actions:  []Action{ActionResetCounters, ActionBuildPipeline},
	},

	// starting + started -> running.
	{StateStarting, EventStarted}: {
		newState: StateRunning,
		actions:  nil,
	},

	// starting + start failed -> failed, cause recorded.
	{StateStarting, EventStartFailed}: {
		newState: StateFailed,
		actions:  []Action{ActionRecordCause},
	},

	// running + update -> updating. Only bandwidth, frame size and the
	// impairment block are eligible; the registry rejects anything else
	// before this event is raised.
	{StateRunning, EventUpdate}: {
		newState: StateUpdating,
		actions:  []Action{ActionApplyUpdate},
	},

	// updating + updated -> running.
	{StateUpdating, EventUpdated}: {
		newState: StateRunning,
		actions:  nil,
	},

	// running + disable -> stopping: drain within the grace window.
	{StateRunning, EventDisable}: {
		newState: StateStopping,
		actions:  []Action{ActionDrain},
	},

	// running + fatal -> failed (encode errors; PortUnavailable is soft
	// and never raises this event).
	{StateRunning, EventFatal}: {
		newState: StateFailed,
		actions:  []Action{ActionRecordCause},
	},

	// updating + fatal -> failed. A hot update can surface an encode
	// error on the first rebuilt frame.
	{StateUpdating, EventFatal}: {
		newState: StateFailed,
		actions:  []Action{ActionRecordCause},
	},

	// updating + disable -> stopping. Disable must not be lost because
	// an update is mid-flight.
	{StateUpdating, EventDisable}: {
		newState: StateStopping,
		actions:  []Action{ActionDrain},
	},

	// stopping + drained -> idle.
	{StateStopping, EventDrained}: {
		newState: StateIdle,
		actions:  nil,
	},

	// failed + enable -> starting (operator fixed the descriptor).
	{StateFailed, EventEnable}: {
		newState: StateStarting,
		actions:  []Action{ActionResetCounters, ActionBuildPipeline},
	},
}

// ApplyEvent applies a lifecycle event to the given state and returns the
// result. Pure function: the caller executes the returned actions. If the
// (state, event) pair has no table entry the event is ignored and Changed
// is false with an empty action list.
func ApplyEvent(currentState State, event Event) FSMResult {
	key := stateEvent{state: currentState, event: event}

	tr, ok := fsmTable[key]
	if !ok {
		return FSMResult{
			OldState: currentState,
			NewState: currentState,
			Actions:  nil,
			Changed:  false,
		}
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
