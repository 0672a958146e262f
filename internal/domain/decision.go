package domain

import "time"

// DecisionOutcome is the result of one pipeline run.
type DecisionOutcome string

const (
	DecisionOpen DecisionOutcome = "OPEN"
	DecisionSkip DecisionOutcome = "SKIP"
)

// Decision is the immutable return value of a pipeline run: OPEN with a
// full plan and transition log, or SKIP with an itemized reason. Created
// exactly once per run.
type Decision struct {
	Outcome DecisionOutcome
	Reason  string

	Symbol      string
	Timeframe   string
	DecisionKey string

	Zone   *EntryZone // nil on SKIP before zone construction
	Plan   *OrderPlan // nil on SKIP before planning
	Guards *GuardReport

	Transitions []Transition
	Evidence    map[string]any

	DryRun    bool
	CreatedAt time.Time
}

// Opened reports whether the decision resulted in an open position.
func (d Decision) Opened() bool {
	return d.Outcome == DecisionOpen
}
