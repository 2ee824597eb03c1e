package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"palisade/internal/domain"
	"palisade/internal/indicator"
	"palisade/internal/snapshot"
)

// stopDecimals is the price increment stops are rounded to.
const stopDecimals = 2

// AdaptiveParams tunes the optional cost-basis stop refinement. Disabled by
// default; when off, the chandelier value is the only candidate.
type AdaptiveParams struct {
	Enabled            bool
	BreakevenEMAPeriod int
	ProfitThreshold    float64
	LossThreshold      float64
	MaxLossPercent     float64
	BreakevenBuffer    float64
}

// Decider turns one symbol's view, history, and indicators into a Decision.
// Stops only ratchet up: the decision is create when no managed stop exists,
// replace when the new target beats the working stop, none otherwise.
type Decider struct {
	adaptive AdaptiveParams
	log      *zap.Logger
}

// NewDecider creates a Decider.
func NewDecider(adaptive AdaptiveParams, log *zap.Logger) *Decider {
	return &Decider{adaptive: adaptive, log: log.Named("decide")}
}

// Decide computes the action for one held symbol. It never touches the
// broker; risk gates and execution happen downstream.
func (d *Decider) Decide(view snapshot.View, bars []domain.Bar, ind indicator.Set) domain.Decision {
	dec := domain.Decision{
		Symbol: view.Position.Symbol,
		Action: domain.ActionNone,
		Qty:    view.Position.Qty,
	}

	if view.Anomaly {
		dec.Reason = fmt.Sprintf("%d managed stops open, expected at most one", len(view.Stops))
		return dec
	}
	if len(bars) == 0 {
		dec.Reason = "no price history"
		return dec
	}
	if ind.Chandelier.IsNone() {
		dec.Reason = "chandelier stop undefined"
		return dec
	}

	lastClose := bars[len(bars)-1].Close
	candidate := d.refine(view.Position, bars, lastClose, ind.Chandelier.TakeOr(0))

	target, _ := decimal.NewFromFloat(candidate).Round(stopDecimals).Float64()

	// A stop at or above the close would trigger immediately; leave the
	// symbol alone for this bar.
	if target >= lastClose {
		dec.Reason = fmt.Sprintf("target %.2f not below close %.2f", target, lastClose)
		return dec
	}
	dec.TargetStop = target

	stop, ok := view.PrimaryStop()
	if !ok {
		dec.Action = domain.ActionCreate
		dec.Reason = "no managed stop open"
		return dec
	}

	dec.ExistingOrderID = stop.ID
	dec.ExistingStop = stop.StopPrice
	if target > stop.StopPrice {
		dec.Action = domain.ActionReplace
		dec.Reason = fmt.Sprintf("raising stop %.2f -> %.2f", stop.StopPrice, target)
		return dec
	}
	dec.Reason = fmt.Sprintf("existing stop %.2f already at or above target %.2f", stop.StopPrice, target)
	return dec
}

// refine applies the adaptive cost-basis rules. It can only raise the
// candidate; the same-bar guard and ratchet still apply afterwards.
func (d *Decider) refine(pos domain.Position, bars []domain.Bar, lastClose, candidate float64) float64 {
	if !d.adaptive.Enabled || pos.AvgCost <= 0 {
		return candidate
	}

	gain := (lastClose - pos.AvgCost) / pos.AvgCost
	refined := candidate

	switch {
	case gain >= d.adaptive.ProfitThreshold:
		// In profit: lock in at least breakeven, or the recent floor of the
		// lows if that sits higher.
		if ema, err := indicator.EMA(indicator.Lows(bars), d.adaptive.BreakevenEMAPeriod); err == nil && ema > refined {
			refined = ema
		}
		if breakeven := pos.AvgCost * (1 + d.adaptive.BreakevenBuffer); breakeven > refined {
			refined = breakeven
		}
	case gain <= d.adaptive.LossThreshold:
		// Under water: cap the loss at the configured fraction of cost.
		if floor := pos.AvgCost * (1 - d.adaptive.MaxLossPercent); floor > refined {
			refined = floor
		}
	}

	if refined > candidate {
		d.log.Debug("adaptive refinement raised stop",
			zap.String("symbol", pos.Symbol),
			zap.Float64("gain", gain),
			zap.Float64("from", candidate),
			zap.Float64("to", refined),
		)
	}
	return refined
}
