package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/pivox/tradingV3-sub003/internal/domain"
)

// Event names emitted for decision outcomes. Operators subscribe per event
// via the notify.events config key.
const (
	EventDecisionOpen   = "decision_open"
	EventDecisionSkip   = "decision_skip"
	EventDecisionFailed = "decision_failed"
)

// NotifyDecision renders one decision as an operator alert and dispatches it
// under the matching event type. Execution failures get their own event so
// they can be routed more aggressively than routine skips.
func (n *Notifier) NotifyDecision(ctx context.Context, d domain.Decision) error {
	event := EventDecisionSkip
	if d.Opened() {
		event = EventDecisionOpen
	} else if strings.HasPrefix(d.Reason, "execution failed") {
		event = EventDecisionFailed
	}

	title := fmt.Sprintf("%s %s %s", d.Outcome, d.Symbol, d.Timeframe)
	if d.DryRun {
		title += " (dry-run)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "key: %s\n", d.DecisionKey)
	fmt.Fprintf(&b, "reason: %s\n", d.Reason)
	if d.Plan != nil {
		fmt.Fprintf(&b, "qty: %g @ %g, lev %gx, notional %.2f\n",
			d.Plan.Quantity, d.Plan.EntryPrice, d.Plan.Leverage, d.Plan.Risk.NotionalUSD)
	}
	if d.Guards != nil && !d.Guards.AllPassed {
		fmt.Fprintf(&b, "guards: %s\n", d.Guards.FailureSummary())
	}

	return n.Notify(ctx, event, title, strings.TrimRight(b.String(), "\n"))
}
