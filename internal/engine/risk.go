package engine

import (
	"fmt"

	"palisade/internal/domain"
)

// RiskError reports which gate rejected an action. The action demotes to
// none with a warning; it is never retried.
type RiskError struct {
	Symbol string
	Reason string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk limit for %s: %s", e.Symbol, e.Reason)
}

// RiskManager enforces the hard caps applied before an action is finalized:
// order value, actions per run, and minimum stop price. A zero limit
// disables its gate.
type RiskManager struct {
	maxPositionSize float64
	maxDailyTrades  int
	minPrice        float64
	actions         int
}

// NewRiskManager creates a RiskManager with the given limits.
//
//   - maxPositionSize: cap on quantity times stop price per order, in dollars.
//   - maxDailyTrades: cap on create/replace actions per run.
//   - minPrice: lowest stop price worth placing.
func NewRiskManager(maxPositionSize float64, maxDailyTrades int, minPrice float64) *RiskManager {
	return &RiskManager{
		maxPositionSize: maxPositionSize,
		maxDailyTrades:  maxDailyTrades,
		minPrice:        minPrice,
	}
}

// Allow checks the decision against the gates. Passing create/replace
// actions count toward the per-run budget; none actions always pass.
func (rm *RiskManager) Allow(d domain.Decision) error {
	if d.Action == domain.ActionNone {
		return nil
	}

	if rm.maxPositionSize > 0 {
		if value := d.Qty * d.TargetStop; value > rm.maxPositionSize {
			return &RiskError{
				Symbol: d.Symbol,
				Reason: fmt.Sprintf("order value %.2f exceeds max position size %.2f", value, rm.maxPositionSize),
			}
		}
	}
	if rm.maxDailyTrades > 0 && rm.actions >= rm.maxDailyTrades {
		return &RiskError{
			Symbol: d.Symbol,
			Reason: fmt.Sprintf("max daily trades %d reached", rm.maxDailyTrades),
		}
	}
	if rm.minPrice > 0 && d.TargetStop < rm.minPrice {
		return &RiskError{
			Symbol: d.Symbol,
			Reason: fmt.Sprintf("stop %.2f below min price %.2f", d.TargetStop, rm.minPrice),
		}
	}

	rm.actions++
	return nil
}

// Reset clears the per-run action count.
func (rm *RiskManager) Reset() { rm.actions = 0 }
