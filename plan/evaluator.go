package plan

import (
	"fmt"

	"github.com/web3guy0/tradesentry/types"
)

// Evaluate checks every condition on the plan against one snapshot.
// All conditions are ANDed: the plan is satisfied only when each predicate
// holds simultaneously against the same snapshot.
//
// A condition whose required data is missing (degraded upstream feed)
// evaluates to not-satisfied with a reason, never to an error - the plan
// simply waits another cycle. This keeps a transient feed gap from pushing
// plans into FAILED.
func Evaluate(p *TradePlan, snap *types.Snapshot) (satisfied bool, reasons []string) {
	if snap == nil {
		return false, []string{"no snapshot"}
	}

	satisfied = true
	for _, c := range p.Conditions {
		met, known := c.Evaluate(snap)
		switch {
		case !known:
			satisfied = false
			reasons = append(reasons, fmt.Sprintf("%s: data unavailable", c.Name()))
		case !met:
			satisfied = false
			reasons = append(reasons, fmt.Sprintf("%s: not met", c.Name()))
		default:
			reasons = append(reasons, fmt.Sprintf("%s: met", c.Name()))
		}
	}
	return satisfied, reasons
}
