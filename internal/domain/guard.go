package domain

import "strings"

// Guard names, in evaluation order.
const (
	GuardStaleData    = "stale_data"
	GuardSlippage     = "slippage"
	GuardLiquidity    = "liquidity"
	GuardRiskLimits   = "risk_limits"
	GuardFundingSpike = "funding_spike"
	GuardMarkIndexGap = "mark_index_gap"
)

// GuardResult is the outcome of one pre-execution check.
type GuardResult struct {
	Name      string
	Passed    bool
	Observed  float64
	Threshold float64
	Message   string
}

// GuardReport aggregates the six pre-execution checks. AllPassed is the
// logical AND over every check.
type GuardReport struct {
	Results   []GuardResult
	AllPassed bool
}

// FailedNames returns the names of the checks that did not pass, in
// evaluation order.
func (r GuardReport) FailedNames() []string {
	var names []string
	for _, res := range r.Results {
		if !res.Passed {
			names = append(names, res.Name)
		}
	}
	return names
}

// FailureSummary renders the failed check names as a single comma-joined
// string for decision reasons.
func (r GuardReport) FailureSummary() string {
	return strings.Join(r.FailedNames(), ", ")
}
