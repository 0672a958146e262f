package domain

import "time"

// ExecutionState is the current position of one decision inside the
// execution state machine.
type ExecutionState string

const (
	StateReady          ExecutionState = "READY"
	StateEntryZoneBuilt ExecutionState = "ENTRY_ZONE_BUILT"
	StateSubmittedMaker ExecutionState = "SUBMITTED_MAKER"
	StateFilled         ExecutionState = "FILLED"
	StatePartial        ExecutionState = "PARTIAL"
	StateTimeout        ExecutionState = "TIMEOUT"
	StateAttachTPSL     ExecutionState = "ATTACH_TP_SL"
	StateOpened         ExecutionState = "OPENED"
	StateMonitoring     ExecutionState = "MONITORING"
	StateFailed         ExecutionState = "FAILED"
)

// Terminal reports whether the state has no outgoing transitions.
func (s ExecutionState) Terminal() bool {
	return s == StateMonitoring || s == StateFailed
}

// legalTransitions maps each state to the set of states it may move to.
// Every state except the terminal two may additionally fail.
var legalTransitions = map[ExecutionState][]ExecutionState{
	StateReady:          {StateEntryZoneBuilt, StateFailed},
	StateEntryZoneBuilt: {StateSubmittedMaker, StateFailed},
	StateSubmittedMaker: {StateFilled, StatePartial, StateTimeout, StateFailed},
	StateTimeout:        {StateFilled, StateFailed},
	StateFilled:         {StateAttachTPSL, StateFailed},
	StatePartial:        {StateAttachTPSL, StateFailed},
	StateAttachTPSL:     {StateOpened, StateFailed},
	StateOpened:         {StateMonitoring, StateFailed},
	StateMonitoring:     nil,
	StateFailed:         nil,
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to ExecutionState) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ExecutionAction identifies the side-effecting step that drives a
// transition. Dispatch is by switch over this enum, never by string lookup.
type ExecutionAction int

const (
	ActionBuildEntryZone ExecutionAction = iota
	ActionSubmitMaker
	ActionWaitFill
	ActionCancelMaker
	ActionSubmitTaker
	ActionAttachProtection
	ActionOpenPosition
	ActionStartMonitoring
	ActionFail
)

// actionNames is used for logging and the audit transition log.
var actionNames = map[ExecutionAction]string{
	ActionBuildEntryZone:   "build_entry_zone",
	ActionSubmitMaker:      "submit_maker",
	ActionWaitFill:         "wait_fill",
	ActionCancelMaker:      "cancel_maker",
	ActionSubmitTaker:      "submit_taker",
	ActionAttachProtection: "attach_protection",
	ActionOpenPosition:     "open_position",
	ActionStartMonitoring:  "start_monitoring",
	ActionFail:             "fail",
}

// String returns the audit-log name of the action.
func (a ExecutionAction) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return "unknown"
}

// Transition is one recorded state change in the append-only audit log.
type Transition struct {
	From   ExecutionState
	To     ExecutionState
	Action ExecutionAction
	At     time.Time
	Detail string
}
